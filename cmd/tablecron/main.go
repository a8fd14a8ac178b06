// cmd/tablecron/main.go
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	commit    = "unknown"
)

// main is the CLI entry point for tablecron. It delegates flag parsing and
// subcommand dispatch to cobra, replacing the teacher's raw pflag-based
// cli.ParseFlags with a proper command tree (cobra embeds pflag, so no
// dependency is lost).
func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatalf("tablecron: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tablecron",
		Short: "Scheduled fetch, transform, and email delivery engine",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tablecron v%s\nBuilt: %s\nCommit: %s\n", version, buildTime, commit)
			return nil
		},
	}
}

