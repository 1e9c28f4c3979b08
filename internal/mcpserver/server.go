// Package mcpserver is a small demo/self-test MCP server exposing a
// handful of tools over stdio, used by this module's own integration
// tests to exercise the External Provider end-to-end without depending
// on a real third-party tool-server binary. Grounded on the teacher's
// internal/colony/mcp.Server (server-side mcp-go wiring), repurposed here
// for test fixtures rather than a colony-observability surface.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New builds the demo server: "add" (sums two numbers), "slow" (answers
// only after 10s or on cancellation, for timeout tests), and "write_file"
// (reports the byte count of its content argument and its path argument,
// for security-gate scenarios).
func New(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(true))

	addTool := mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("first addend")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("second addend")),
	)
	s.AddTool(addTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := req.GetFloat("a", 0)
		b := req.GetFloat("b", 0)
		return mcp.NewToolResultText(fmt.Sprintf("%g", a+b)), nil
	})

	slowTool := mcp.NewTool("slow", mcp.WithDescription("Never responds in time"))
	s.AddTool(slowTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
		}
		return mcp.NewToolResultText("too late"), nil
	})

	writeFileTool := mcp.NewTool("write_file",
		mcp.WithDescription("Write content to a path"),
		mcp.WithString("path", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
	)
	s.AddTool(writeFileTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")
		return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(req.GetString("content", "")), path)), nil
	})

	return s
}

// ServeStdio runs the demo server over the process's stdio; used as the
// child-process entry point by the helper-process test binary.
func ServeStdio(name, version string) error {
	return server.ServeStdio(New(name, version))
}
