package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve -- <command> [args...]",
		Short: "Register one external MCP server and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := splitArgs(cmd.Flags(), args)
			if len(argv) == 0 {
				return fmt.Errorf("serve requires a command after --, e.g. toolcore serve -- ./my-mcp-server")
			}

			o, err := newOrchestrator("server-1", argv)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results := o.Initialize(ctx)
			for id, ok := range results {
				cmd.Printf("%s: initialized=%v\n", id, ok)
			}
			for _, t := range o.Tools() {
				cmd.Printf("tool: %s (%s)\n", t.Name, t.PermissionLevel)
			}

			<-ctx.Done()
			o.Shutdown(context.Background())
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}
