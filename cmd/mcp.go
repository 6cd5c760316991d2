package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joescharf/qmt/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the agent over MCP",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients drive qmt sessions natively. Configure with:

  {
    "mcpServers": {
      "qmt": { "command": "qmt", "args": ["mcp", "serve"] }
    }
  }

Available tools: qmt_prompt, qmt_new_session, qmt_list_sessions,
qmt_list_messages, qmt_cancel, qmt_read_file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := getRunner()
		if err != nil {
			return err
		}
		defer r.Agent.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := mcp.NewServer(r.Agent)
		return srv.ServeStdio(ctx)
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
