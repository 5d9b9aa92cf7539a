package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clashdash/internal/clashapi"
)

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func humanRate(n int64) string { return humanBytes(n) + "/s" }

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Stream live traffic rates of the current server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		srv, err := targetServer(s.state)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		out := cmd.OutOrStdout()
		return s.state.Client().StreamTraffic(ctx, srv, func(t clashapi.Traffic) {
			if jsonOutput {
				printJSON(out, t)
				return
			}
			fmt.Fprintf(out, "up %-12s down %s\n", humanRate(t.Up), humanRate(t.Down))
		})
	},
}

// memory 只有 Meta 内核提供; 其他内核会返回 404 ("API path does not exist")。
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Stream memory usage of the current server (Meta cores)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		srv, err := targetServer(s.state)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		out := cmd.OutOrStdout()
		return s.state.Client().StreamMemory(ctx, srv, func(m clashapi.Memory) {
			if jsonOutput {
				printJSON(out, m)
				return
			}
			if m.OSLimit > 0 {
				fmt.Fprintf(out, "inuse %-12s limit %s\n", humanBytes(m.Inuse), humanBytes(m.OSLimit))
				return
			}
			fmt.Fprintf(out, "inuse %s\n", humanBytes(m.Inuse))
		})
	},
}

var logsLevel string

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Stream core logs of the current server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		srv, err := targetServer(s.state)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		out := cmd.OutOrStdout()
		return s.state.Client().StreamLogs(ctx, srv, logsLevel, func(e clashapi.LogEntry) {
			if jsonOutput {
				printJSON(out, e)
				return
			}
			fmt.Fprintf(out, "[%s] %s\n", e.Type, e.Payload)
		})
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsLevel, "level", "info", "debug, info, warning, error or silent")
	rootCmd.AddCommand(trafficCmd, memoryCmd, logsCmd)
}
