package main

import (
	"github.com/spf13/cobra"

	"clashdash/internal/shared/types"
)

var checkCmd = &cobra.Command{
	Use:   "check [id|name]",
	Short: "Check one server, or all servers when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		var list []types.ServerConfig
		if len(args) == 1 {
			srv, err := resolveServer(s.state, args[0])
			if err != nil {
				return err
			}
			checked, err := s.state.CheckServer(cmd.Context(), srv.ID)
			if err != nil {
				return err
			}
			list = []types.ServerConfig{checked}
		} else {
			list = s.state.CheckAll(cmd.Context())
		}

		cur, _ := s.state.Current()
		return render(cmd.OutOrStdout(), list,
			[]string{"", "ID", "NAME", "ADDRESS", "STATUS", "TYPE", "VERSION", "ERROR"},
			func() [][]string { return serverRows(list, cur.ID) })
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
