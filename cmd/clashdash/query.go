package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"clashdash/internal/clashapi"
	"clashdash/internal/normalize"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rules of the current server",
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

		rules, err := s.state.Client().Rules(cmd.Context(), srv)
		if err != nil {
			return err
		}
		if dups := normalize.DuplicateRuleKeys(rules); len(dups) > 0 && !jsonOutput {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d duplicate rules\n", len(dups))
		}
		return render(cmd.OutOrStdout(), rules, []string{"TYPE", "PAYLOAD", "PROXY", "SIZE"}, func() [][]string {
			rows := make([][]string, 0, len(rules))
			for _, r := range rules {
				size := "-"
				if r.Size != nil && *r.Size >= 0 {
					size = strconv.Itoa(*r.Size)
				}
				rows = append(rows, []string{r.Type, orDash(r.Payload), r.Proxy, size})
			}
			return rows
		})
	},
}

func proxyRows(nodes []normalize.ProxyNode) [][]string {
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		delay := "-"
		if d := n.Delay(); d > 0 {
			delay = fmt.Sprintf("%dms (%s)", d, normalize.BucketOf(d))
		}
		rows = append(rows, []string{n.Name, n.Type, orDash(n.Now), delay})
	}
	return rows
}

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "List all proxies of the current server",
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

		nodes, err := s.state.Client().Proxies(cmd.Context(), srv)
		if err != nil {
			return err
		}
		if err := render(cmd.OutOrStdout(), nodes, []string{"NAME", "TYPE", "NOW", "DELAY"},
			func() [][]string { return proxyRows(nodes) }); err != nil {
			return err
		}
		if !jsonOutput {
			st := normalize.CountDelays(nodes)
			fmt.Fprintf(cmd.OutOrStdout(), "\nlow %d  medium %d  high %d  unreachable %d\n",
				st.Low, st.Medium, st.High, st.Unreachable)
		}
		return nil
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List proxy groups and their current member",
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

		nodes, err := s.state.Client().Proxies(cmd.Context(), srv)
		if err != nil {
			return err
		}
		groups := normalize.Groups(nodes)
		return render(cmd.OutOrStdout(), groups, []string{"GROUP", "TYPE", "NOW", "DELAY", "MEMBERS"}, func() [][]string {
			rows := make([][]string, 0, len(groups))
			for _, g := range groups {
				delay := "-"
				if d := normalize.CurrentDelay(g, nodes); d > 0 {
					delay = strconv.Itoa(d) + "ms"
				}
				rows = append(rows, []string{g.Name, g.Type, orDash(g.Now), delay, strconv.Itoa(len(g.All))})
			}
			return rows
		})
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List proxy and rule providers of the current server",
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

		ctx := cmd.Context()
		proxyProviders, err := s.state.Client().ProxyProviders(ctx, srv)
		if err != nil {
			return err
		}
		ruleProviders, err := s.state.Client().RuleProviders(ctx, srv)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"proxies": proxyProviders, "rules": ruleProviders,
			})
		}

		rows := make([][]string, 0, len(proxyProviders)+len(ruleProviders))
		for _, p := range proxyProviders {
			usage := "-"
			if info := p.SubscriptionInfo; info != nil {
				usage = fmt.Sprintf("%.1f%%", info.Percentage())
				if exp := info.ExpiresAt(); !exp.IsZero() {
					usage += " until " + exp.Format("2006-01-02")
				}
			}
			rows = append(rows, []string{"proxy", p.Name, p.VehicleType, strconv.Itoa(len(p.Proxies)), usage})
		}
		for _, p := range ruleProviders {
			rows = append(rows, []string{"rule", p.Name, p.VehicleType, strconv.Itoa(p.RuleCount), orDash(p.Behavior)})
		}
		return printTable(cmd.OutOrStdout(), []string{"KIND", "NAME", "VEHICLE", "COUNT", "INFO"}, rows)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <rules|proxies> <provider>",
	Short: "Ask the current server to update a provider",
	Args:  cobra.ExactArgs(2),
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

		switch strings.ToLower(args[0]) {
		case "rules", "rule":
			err = s.state.Client().RefreshRuleProvider(cmd.Context(), srv, args[1])
		case "proxies", "proxy":
			err = s.state.Client().RefreshProxyProvider(cmd.Context(), srv, args[1])
		default:
			return fmt.Errorf("unknown provider kind %q, want rules or proxies", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s provider %s\n", args[0], args[1])
		return nil
	},
}

var useCmd = &cobra.Command{
	Use:   "use <group> <proxy>",
	Short: "Switch a selector group to one of its members",
	Args:  cobra.ExactArgs(2),
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
		if err := s.state.Client().SelectProxy(cmd.Context(), srv, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
		return nil
	},
}

var delayFlags struct {
	url     string
	timeout int
}

var delayCmd = &cobra.Command{
	Use:   "delay <proxy>",
	Short: "Run a delay test on one proxy",
	Args:  cobra.ExactArgs(1),
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
		d, err := s.state.Client().ProxyDelay(cmd.Context(), srv, args[0], delayFlags.url, delayFlags.timeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %dms (%s)\n", args[0], d, normalize.BucketOf(d))
		return nil
	},
}

func init() {
	delayCmd.Flags().StringVar(&delayFlags.url, "url", "", "test URL (default "+clashapi.DefaultDelayTestURL+")")
	delayCmd.Flags().IntVar(&delayFlags.timeout, "timeout", 5000, "timeout in milliseconds")

	rootCmd.AddCommand(rulesCmd, proxiesCmd, groupsCmd, providersCmd, refreshCmd, useCmd, delayCmd)
}
