package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/askd/internal/mcp"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the query tools over MCP stdio",
		Long: `Runs an in-process orchestrator and exposes it to an MCP client on
stdin/stdout. Logs go to stderr. Use the sqlite snapshot provider to share
suspended conversations with a running "askd serve".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStdio(cmd.Context())
		},
	}
}

func runStdio(ctx context.Context) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, _, err := a.pipeline()
	if err != nil {
		return err
	}
	store, err := openSnapshots(ctx, a)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(orchestratorConfig(a.cfg), pipeline, store, a.logger)
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(&mcp.Config{Name: "askd", Version: version}, orch, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Run(ctx)
}
