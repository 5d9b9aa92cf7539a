package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"clashdash/internal/app"
	"clashdash/internal/metrics"
	"clashdash/internal/poller"
	"clashdash/internal/service/web"
	"clashdash/internal/shared/logger"
	"clashdash/internal/storage"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web API, the websocket hub and the status poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.WebConf.Port = servePort
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		var wg sync.WaitGroup

		collector := metrics.NewCollector(nil)
		s.state.AddObserver(collector)
		collector.SetServers(s.state.Servers())

		hub := web.NewHub()
		go hub.Run(ctx)
		s.state.Subscribe(hub.BroadcastEvent)
		s.state.Subscribe(func(app.Event) { collector.SetServers(s.state.Servers()) })
		go hub.RelayTraffic(ctx, s.state, 5*time.Second)

		p := poller.New(cfg.PollConf.Schedule, func(ctx context.Context) { s.state.CheckAll(ctx) })
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer p.Stop()

		if fkv, ok := s.kv.(*storage.FileKV); ok && cfg.StoreConf.Watch {
			w, err := storage.NewWatcher(fkv, 200*time.Millisecond)
			if err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Watch(ctx, s.state.Reload); err != nil {
					logger.Error().Err(err).Msg("Store watcher stopped.")
				}
			}()
		}

		handler := web.NewHandler(s.state, p.NextRun)
		mux := web.NewMux(cfg.WebConf, handler, hub, collector)
		if err := web.StartServer(ctx, &wg, cfg.WebConf, mux); err != nil {
			return err
		}

		if srv, ok := s.state.Launch(); ok {
			logger.Info().Str("server", srv.DisplayName()).Msg("Launch server restored.")
		}
		go s.state.CheckAll(ctx)

		<-ctx.Done()
		logger.Info().Msg("Shutting down...")
		wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "override [web] port")
	rootCmd.AddCommand(serveCmd)
}
