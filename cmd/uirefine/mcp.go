package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the uirefine tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := root.logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol: sinks write to stderr.
			a, err := newApp(ctx, cfg, logger, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			jobsCtx, cancelJobs := context.WithCancel(ctx)
			waitJobs := a.startJobs(jobsCtx)
			defer func() {
				cancelJobs()
				waitJobs()
			}()

			srv := mcp.NewServer(&mcp.Implementation{
				Name:    "uirefine",
				Version: version,
			}, nil)
			a.engine.RegisterMCP(srv)
			logger.Info("uirefine: mcp server on stdio")
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
