package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clashdash/internal/servers"
	"clashdash/internal/shared/config"
	"clashdash/internal/shared/types"
)

var serversCmd = &cobra.Command{
	Use:     "servers",
	Aliases: []string{"server"},
	Short:   "Manage saved control servers",
}

func serverRows(list []types.ServerConfig, currentID string) [][]string {
	rows := make([][]string, 0, len(list))
	for _, srv := range list {
		mark := ""
		if srv.ID == currentID {
			mark = "*"
		}
		if srv.IsQuickLaunch {
			mark += "Q"
		}
		rows = append(rows, []string{
			orDash(mark), srv.ID, srv.DisplayName(), srv.Host + ":" + srv.Port,
			srv.Status.Text(), orDash(string(srv.ServerType)), orDash(srv.Version), orDash(srv.ErrorMessage),
		})
	}
	return rows
}

var serversListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List servers with their last known status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		list := s.state.Servers()
		cur, _ := s.state.Current()
		return render(cmd.OutOrStdout(), list,
			[]string{"", "ID", "NAME", "ADDRESS", "STATUS", "TYPE", "VERSION", "ERROR"},
			func() [][]string { return serverRows(list, cur.ID) })
	},
}

var addFlags struct {
	name, host, port, secret string
	ssl, insecure, noCheck   bool
}

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a server and check it",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		srv := types.ServerConfig{
			Name: addFlags.name, Host: addFlags.host, Port: addFlags.port, Secret: addFlags.secret,
			UseSSL: addFlags.ssl, InsecureSkipVerify: addFlags.insecure,
		}
		var added types.ServerConfig
		if addFlags.noCheck {
			added, err = s.state.Store().Add(srv)
		} else {
			added, err = s.state.AddServer(cmd.Context(), srv)
		}
		var verr *servers.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", verr)
		} else if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), added,
			[]string{"", "ID", "NAME", "ADDRESS", "STATUS", "TYPE", "VERSION", "ERROR"},
			func() [][]string { return serverRows([]types.ServerConfig{added}, "") })
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:     "rm <id|name>",
	Aliases: []string{"remove", "delete"},
	Short:   "Remove a server",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		srv, err := resolveServer(s.state, args[0])
		if err != nil {
			return err
		}
		if err := s.state.DeleteServer(srv.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)\n", srv.DisplayName(), srv.ID)
		return nil
	},
}

var serversSelectCmd = &cobra.Command{
	Use:   "select <id|name>",
	Short: "Make a server the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		srv, err := resolveServer(s.state, args[0])
		if err != nil {
			return err
		}
		if _, err := s.state.Select(srv.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", srv.DisplayName())
		return nil
	},
}

var serversQuickLaunchCmd = &cobra.Command{
	Use:   "quicklaunch <id|name>",
	Short: "Toggle the quick-launch flag (at most one server holds it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		srv, err := resolveServer(s.state, args[0])
		if err != nil {
			return err
		}
		updated, err := s.state.ToggleQuickLaunch(srv.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s quick launch: %s\n", updated.DisplayName(), strconv.FormatBool(updated.IsQuickLaunch))
		return nil
	},
}

var serversImportCmd = &cobra.Command{
	Use:   "import <servers.yaml>",
	Short: "Import servers from a YAML file",
	Long: `Import servers from a YAML file of the form:

  servers:
    - name: home
      host: 192.168.1.1
      port: 9090
      secret: s3cret
      tls: false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := config.LoadServersYAML(args[0])
		if err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		for _, srv := range list {
			added, err := s.state.Store().Add(srv)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v\n", added.DisplayName(), err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d servers\n", len(list))
		return nil
	},
}

func init() {
	serversAddCmd.Flags().StringVar(&addFlags.name, "name", "", "display name")
	serversAddCmd.Flags().StringVar(&addFlags.host, "host", "", "controller host")
	serversAddCmd.Flags().StringVar(&addFlags.port, "port", "9090", "controller port")
	serversAddCmd.Flags().StringVar(&addFlags.secret, "secret", "", "controller secret")
	serversAddCmd.Flags().BoolVar(&addFlags.ssl, "tls", false, "use https")
	serversAddCmd.Flags().BoolVar(&addFlags.insecure, "insecure", false, "skip certificate verification for this server")
	serversAddCmd.Flags().BoolVar(&addFlags.noCheck, "no-check", false, "save without checking")

	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRemoveCmd, serversSelectCmd,
		serversQuickLaunchCmd, serversImportCmd)
	rootCmd.AddCommand(serversCmd)
}
