// Askd answers natural-language questions over indexed documents, holding
// answers that touch sensitive material until a human approves them.
//
// Usage:
//
//	# Start the HTTP API (and the approval worker when temporal is enabled)
//	askd serve
//
//	# Index documents from a JSONL file
//	askd ingest docs.jsonl
//
//	# Serve the MCP tools over stdio
//	askd mcp
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every subcommand.
var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "askd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "askd",
		Short: "Permission-aware question answering over indexed documents",
		Long: `askd runs questions through understand, embed, search, filter, rerank,
synthesize, log and gap detection. Results above the requester's clearance
suspend the conversation until an approver resumes it.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/askd/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newMCPCmd())
	return root
}
