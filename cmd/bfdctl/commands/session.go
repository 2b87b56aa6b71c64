package commands

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/netrange/bfdd/internal/bfd"
)

// sessionsResponse is the /v1/sessions payload.
type sessionsResponse struct {
	Sessions []bfd.SessionSnapshot `json:"sessions"`
}

func newSessionCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect BFD sessions",
	}

	var jsonOut bool

	list := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp sessionsResponse
			if err := client(cmd.Context(), *addr, "/v1/sessions", &resp); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(resp.Sessions)
			}
			printSessionTable(resp.Sessions)
			return nil
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "output raw JSON")

	show := &cobra.Command{
		Use:   "show <discriminator>",
		Short: "Show one session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 32); err != nil {
				return fmt.Errorf("discriminator %q: %w", args[0], err)
			}
			var snap bfd.SessionSnapshot
			if err := client(cmd.Context(), *addr, "/v1/sessions/"+args[0], &snap); err != nil {
				return err
			}
			return printJSON(snap)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// printSessionTable renders sessions as an aligned terminal table.
func printSessionTable(sessions []bfd.SessionSnapshot) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LocalDiscriminator < sessions[j].LocalDiscriminator
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{
		"Discr", "Peer", "State", "Remote State", "Diag", "Detect Time", "TX Interval",
	})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)

	for _, s := range sessions {
		table.Append([]string{
			strconv.FormatUint(uint64(s.LocalDiscriminator), 10),
			fmt.Sprintf("%s:%d", s.PeerAddr, s.PeerPort),
			s.LocalState.String(),
			s.RemoteState.String(),
			s.LocalDiag.String(),
			s.DetectionTime.String(),
			s.TxInterval.String(),
		})
	}
	table.Render()
}
