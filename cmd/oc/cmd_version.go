package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Version information. Overridden at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse --short HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// newVersionCmd creates the version subcommand.
func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print oc version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(stdout, "oc %s (commit: %s, built: %s)\n", version, commit, date) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
}
