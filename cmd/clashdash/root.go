package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"clashdash/internal/app"
	"clashdash/internal/clashapi"
	"clashdash/internal/servers"
	"clashdash/internal/shared/config"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
	"clashdash/internal/storage"
)

var (
	// Global flags
	cfgFile    string
	logLevel   string
	serverFlag string
	jsonOutput bool

	cfg *types.Config
)

var rootCmd = &cobra.Command{
	Use:   "clashdash",
	Short: "Dashboard core for Clash-compatible control servers",
	Long: `clashdash keeps a list of Clash, Clash Premium, Clash.Meta and sing-box
control servers, checks their status and reads rules, proxies and providers
from the selected one.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadIni(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config file %q: %w", cfgFile, err)
		}
		if logLevel != "" {
			loaded.LogConf.Level = logLevel
		}
		if err := logger.Init(loaded.LogConf); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "clashdash.ini", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override [log] level")
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "server ID or name (default: selected server)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
}

// session bundles what most commands need.
type session struct {
	kv    storage.KV
	state *app.State
}

func (r *session) Close() error { return r.kv.Close() }

func openSession() (*session, error) {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	kv, err := storage.Open(cfg.StoreConf)
	if err != nil {
		return nil, err
	}
	client, err := clashapi.New(clashapi.OptionsFromConfig(cfg.ClientConf))
	if err != nil {
		kv.Close()
		return nil, err
	}
	state := app.New(servers.NewStore(kv), client, app.Options{Concurrency: cfg.PollConf.Concurrency})
	return &session{kv: kv, state: state}, nil
}

// resolveServer finds a server by exact ID, then by case-insensitive name.
func resolveServer(state *app.State, ref string) (types.ServerConfig, error) {
	list := state.Servers()
	for _, srv := range list {
		if srv.ID == ref {
			return srv, nil
		}
	}
	var found []types.ServerConfig
	for _, srv := range list {
		if strings.EqualFold(srv.Name, ref) {
			found = append(found, srv)
		}
	}
	switch len(found) {
	case 0:
		return types.ServerConfig{}, fmt.Errorf("%q: %w", ref, app.ErrServerNotFound)
	case 1:
		return found[0], nil
	default:
		return types.ServerConfig{}, fmt.Errorf("%q matches %d servers, use the ID", ref, len(found))
	}
}

// targetServer is the --server flag, or the current selection.
func targetServer(state *app.State) (types.ServerConfig, error) {
	if serverFlag != "" {
		return resolveServer(state, serverFlag)
	}
	cur, ok := state.Current()
	if !ok {
		return types.ServerConfig{}, errors.New("no server selected, use --server or `clashdash servers select`")
	}
	return cur, nil
}
