package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"clashdash/internal/metrics"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("[WebServer] Connection accepted.")
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux wires the API routes. collector may be nil, in which case /metrics is not served.
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub, collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.Handler {
		return basicAuthMiddleware(h, cfg.User, cfg.Password)
	}

	// --- 认证保护的 API ---
	mux.Handle("/api/servers", auth(handler.HandleServers))
	mux.Handle("/api/servers/", auth(handler.HandleServerActions))
	mux.Handle("/api/check", auth(handler.HandleCheckAll))
	mux.Handle("/api/current", auth(handler.HandleCurrent))
	mux.Handle("/api/current/", auth(handler.HandleCurrent))

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)

	if collector != nil {
		mux.Handle("/metrics", collector.Handler())
	}
	return mux
}

// StartServer listens on cfg.Port and serves handler until ctx is cancelled.
// A port <= 0 disables the web API.
func StartServer(ctx context.Context, wg *sync.WaitGroup, cfg types.WebConf, handler http.Handler) error {
	if cfg.Port <= 0 {
		logger.Info().Msg("[WebServer] Web API is disabled (port is 0 or not set).")
		return nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web API on %s: %w", addr, err)
	}
	logger.Info().Msgf("SUCCESS: Web API is listening on http://%s", addr)

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error.")
		}
		logger.Info().Msg("Web server stopped.")
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return nil
}
