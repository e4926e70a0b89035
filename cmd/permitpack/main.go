// CLAUDE:SUMMARY CLI entry point for permitpack: assemble, locate, serve, mcp, project and runs subcommands.
// Command permitpack builds solar permit packages.
//
// Usage:
//
//	permitpack assemble --bom bom.csv --base permit.pdf --out package.pdf
//	permitpack locate --bom bom.csv
//	permitpack serve --config permitpack.yaml
//	permitpack mcp                     # MCP tools over stdio
//	permitpack project add --id p1 --name "12 Oak Ave"
//	permitpack runs --project p1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "permitpack:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "permitpack",
		Short:         "Assemble solar permit packages from a BOM and a base permit document",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("PERMITPACK_CONFIG"), "path to permitpack.yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newAssembleCmd(g),
		newLocateCmd(g),
		newServeCmd(g),
		newMCPCmd(g),
		newProjectCmd(g),
		newRunsCmd(g),
	)
	return root
}
