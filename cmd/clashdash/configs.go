package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clashdash/internal/clashapi"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the runtime configuration of the current server",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show GET /configs",
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

		rc, err := s.state.Client().Configs(cmd.Context(), srv)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), rc, []string{"KEY", "VALUE"}, func() [][]string {
			rows := [][]string{
				{"mode", rc.Mode},
				{"log-level", rc.LogLevel},
				{"port", strconv.Itoa(rc.Port)},
				{"socks-port", strconv.Itoa(rc.SocksPort)},
				{"mixed-port", strconv.Itoa(rc.MixedPort)},
				{"redir-port", strconv.Itoa(rc.RedirPort)},
				{"tproxy-port", strconv.Itoa(rc.TProxyPort)},
				{"allow-lan", strconv.FormatBool(rc.AllowLan)},
				{"ipv6", strconv.FormatBool(rc.IPv6)},
			}
			if rc.Tun != nil {
				rows = append(rows, []string{"tun.enable", strconv.FormatBool(rc.Tun.Enable)},
					[]string{"tun.stack", orDash(rc.Tun.Stack)})
			}
			return rows
		})
	},
}

// parseConfigValue turns the CLI string into the JSON type the core expects.
func parseConfigValue(key, raw string) interface{} {
	switch key {
	case "allow-lan", "ipv6", "tun.enable", "tun.auto-route", "tun.auto-detect-interface":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "PATCH /configs with a single key",
	Example: `  clashdash config set mode global
  clashdash config set mixed-port 7890
  clashdash config set tun.enable true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], parseConfigValue(args[0], args[1])
		// validate before opening the store
		if _, err := clashapi.ConfigPatch(key, value); err != nil {
			return err
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		srv, err := targetServer(s.state)
		if err != nil {
			return err
		}
		if err := s.state.Client().PatchConfig(cmd.Context(), srv, key, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
