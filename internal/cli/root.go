// Package cli is the demo host binary's command surface: a terminal
// illustration of driving the orchestration core directly, following the
// teacher's internal/cli root-command wiring style.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/toolforge/mcpcore/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "toolcore",
	Short: "toolcore - standalone driver for the MCP tool orchestration core",
	Long: `toolcore exercises the tool orchestration core outside of any
conversational model: register one or more MCP tool servers, initialize
them, list their merged catalog, and dispatch calls from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Hidden internal command: re-exec this binary as the demo MCP
	// server child process (used for manual trials; the integration tests
	// re-exec their own test binary instead).
	rootCmd.AddCommand(newMCPServeCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("toolcore version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
