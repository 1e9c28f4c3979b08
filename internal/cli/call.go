package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	var toolName string
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call --tool <name> --args '<json>' -- <command> [args...]",
		Short: "Spawn one external MCP server and dispatch a single tool call",
		RunE: func(cmd *cobra.Command, args []string) error {
			if toolName == "" {
				return fmt.Errorf("--tool is required")
			}
			arguments := map[string]any{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
					return fmt.Errorf("--args: invalid JSON: %w", err)
				}
			}

			argv := splitArgs(cmd.Flags(), args)
			o, err := newOrchestrator("server-1", argv)
			if err != nil {
				return err
			}
			o.Initialize(cmd.Context())
			defer o.Shutdown(context.Background())

			result := o.CallToolByName(cmd.Context(), toolName, arguments, 0)
			if !result.Success {
				return fmt.Errorf("%s", result.ErrorMessage)
			}
			cmd.Println(result.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&toolName, "tool", "", "tool name to invoke")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON object of arguments")
	cmd.Flags().SetInterspersed(false)
	return cmd
}
