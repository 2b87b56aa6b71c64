// Command bfdctl queries a running bfdd daemon over its monitoring API.
package main

import (
	"fmt"
	"os"

	"github.com/netrange/bfdd/cmd/bfdctl/commands"
)

func main() {
	if err := commands.NewRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
