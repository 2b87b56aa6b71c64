// Package commands implements the bfdctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// defaultAddr matches the daemon's default monitor listen address.
const defaultAddr = "127.0.0.1:5780"

// requestTimeout bounds every API call.
const requestTimeout = 10 * time.Second

// NewRoot builds the bfdctl command tree.
func NewRoot() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:           "bfdctl",
		Short:         "Query a running bfdd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "bfdd monitor address")

	root.AddCommand(
		newSessionCmd(&addr),
		newVersionCmd(&addr),
	)
	return root
}

// client performs one GET against the daemon's monitor API and decodes
// the JSON response into out.
func client(ctx context.Context, addr, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("query %s: %s: %s", url, resp.Status, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
