package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"plexflow/internal/loader"
	"plexflow/internal/server"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP (Model Context Protocol) server on stdin/stdout",
	Long:  "Exposes all flows as MCP tools. AI agents can discover and call flows via the MCP protocol.",
	Args:  cobra.NoArgs,
	RunE:  serveMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func serveMCP(cmd *cobra.Command, args []string) error {
	flows, err := loader.LoadFlows(flowsDir)
	if err != nil {
		return fmt.Errorf("loading flows: %w", err)
	}

	eng, err := newEngine(defaultRegistry())
	if err != nil {
		return err
	}

	return server.NewMCPServer(eng, flows, log).ServeStdio()
}
