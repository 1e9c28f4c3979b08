package cli

import (
	"context"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleHeader  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status -- <command> [args...]",
		Short: "Spawn, initialize, and print the status of one external MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := splitArgs(cmd.Flags(), args)
			o, err := newOrchestrator("server-1", argv)
			if err != nil {
				return err
			}
			o.Initialize(cmd.Context())
			defer o.Shutdown(context.Background())

			cmd.Println(styleHeader.Render("Servers"))
			summary := o.Status()
			for id, s := range summary.Details {
				cmd.Printf("%s %s\n", id, styledState(string(s.State)))
			}
			cmd.Printf("\n%d running, %d stopped, %d error, %d tools total\n",
				summary.Running, summary.Stopped, summary.Error, summary.TotalToolCount)
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func styledState(state string) string {
	switch state {
	case "running":
		return styleRunning.Render(state)
	case "error":
		return styleError.Render(state)
	default:
		return styleStopped.Render(state)
	}
}
