package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netrange/bfdd/internal/version"
)

func newVersionCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("client: %s (%s)\n", version.Version, version.Commit)

			var remote map[string]string
			if err := client(cmd.Context(), *addr, "/v1/version", &remote); err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}
			fmt.Printf("daemon: %s (%s)\n", remote["version"], remote["commit"])
			return nil
		},
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
