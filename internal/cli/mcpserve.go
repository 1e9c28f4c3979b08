package cli

import (
	"github.com/spf13/cobra"

	"github.com/toolforge/mcpcore/internal/mcpserver"
	"github.com/toolforge/mcpcore/pkg/version"
)

// newMCPServeCmd runs the bundled demo MCP server over stdio. It exists
// so this binary can act as its own external tool-server fixture for
// manual trials (`toolcore serve -- toolcore mcp-serve`). The package tests
// do not go through this command: they re-exec their own test binary with
// GO_WANT_HELPER_PROCESS=1, which calls mcpserver.ServeStdio directly.
func newMCPServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "mcp-serve",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcpserver.ServeStdio("toolcore-demo", version.Version)
		},
	}
	return cmd
}
