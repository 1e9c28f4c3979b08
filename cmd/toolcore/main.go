// Command toolcore is a standalone driver for the tool orchestration
// core: it registers one external MCP server, initializes it, and
// exposes its catalog and dispatch from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/toolforge/mcpcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
