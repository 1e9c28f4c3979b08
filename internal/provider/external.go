package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/toolforge/mcpcore/internal/errors"
	"github.com/toolforge/mcpcore/internal/transport"
	"github.com/toolforge/mcpcore/internal/types"
)

// ExternalConfig describes one subprocess tool server.
type ExternalConfig struct {
	ServerID string
	Command  string
	Args     []string
	Env      []string

	// ListToolsTimeout/CallTimeout bound the respective RPCs; zero means a
	// generous implementation default.
	ListToolsTimeout time.Duration
	CallTimeout      time.Duration
}

// External adapts one Stdio RPC Client to the Provider interface (§4.2).
type External struct {
	cfg    ExternalConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	client  *transport.Client
	tools   []types.Tool
	started bool
}

// NewExternal constructs a provider that has not yet spawned its child;
// spawning happens in Initialize so registration never blocks on I/O.
func NewExternal(cfg ExternalConfig, logger zerolog.Logger) *External {
	if cfg.ListToolsTimeout == 0 {
		cfg.ListToolsTimeout = 10 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &External{cfg: cfg, logger: logger.With().Str("server_id", cfg.ServerID).Logger()}
}

func (e *External) ServerID() string { return e.cfg.ServerID }

func (e *External) Tools() []types.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Tool, len(e.tools))
	copy(out, e.tools)
	return out
}

// Initialize spawns the child, performs the MCP handshake, and — if the
// server advertises the tools capability — fetches and translates the
// catalog. Idempotent.
func (e *External) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	client, err := transport.Connect(transport.Config{
		Command: e.cfg.Command,
		Args:    e.cfg.Args,
		Env:     e.cfg.Env,
	}, e.logger)
	if err != nil {
		return fmt.Errorf("external provider %s: %w", e.cfg.ServerID, err)
	}

	caps, err := client.Initialize(ctx)
	if err != nil {
		errors.DeferClose(e.logger, client, "closing child after failed initialize")
		return fmt.Errorf("external provider %s: %w", e.cfg.ServerID, err)
	}

	var tools []types.Tool
	if caps.Tools != nil {
		mcpTools, err := client.ListTools(ctx, e.cfg.ListToolsTimeout)
		if err != nil {
			errors.DeferClose(e.logger, client, "closing child after failed list tools")
			return fmt.Errorf("external provider %s: list tools: %w", e.cfg.ServerID, err)
		}
		tools = make([]types.Tool, 0, len(mcpTools))
		for _, t := range mcpTools {
			tools = append(tools, translateTool(t, e.cfg.ServerID))
		}
	}

	e.client = client
	e.tools = tools
	e.started = true
	return nil
}

// Shutdown closes the RPC client (and thus terminates the child).
// Idempotent.
func (e *External) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	client := e.client
	e.client = nil
	e.tools = nil
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("external provider %s: shutdown: %w", e.cfg.ServerID, err)
	}
	return nil
}

// Call invokes tools/call and translates the MCP result into a ToolResult.
// Every failure mode is captured in the result; this method never returns
// a bare error to the caller (§4.2).
func (e *External) Call(ctx context.Context, name string, arguments map[string]any) types.ToolResult {
	e.mu.RLock()
	client := e.client
	timeout := e.cfg.CallTimeout
	e.mu.RUnlock()

	if client == nil {
		return types.ErrorResult(fmt.Sprintf("server %q is not running", e.cfg.ServerID))
	}

	res, err := client.CallTool(ctx, name, arguments, timeout)
	if err != nil {
		if err == context.DeadlineExceeded {
			return types.ErrorResult(fmt.Sprintf("tool %q timed out after %s", name, timeout))
		}
		return types.ErrorResult(err.Error())
	}

	if res.IsError {
		return types.ErrorResult(concatText(res.Content))
	}
	if len(res.Content) == 0 {
		return types.SuccessResult("Success")
	}
	return types.ToolResult{Success: true, Content: translateContent(res.Content)}
}

// HealthCheck pings the child; an unreachable or unresponsive child is
// unhealthy.
func (e *External) HealthCheck(ctx context.Context) bool {
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()
	if client == nil {
		return false
	}
	return client.Ping(ctx) == nil
}

func concatText(items []mcp.Content) string {
	var out string
	for _, item := range items {
		if tc, ok := mcp.AsTextContent(item); ok {
			out += tc.Text
		}
	}
	return out
}

func translateContent(items []mcp.Content) []types.ToolContent {
	out := make([]types.ToolContent, 0, len(items))
	for _, item := range items {
		if tc, ok := mcp.AsTextContent(item); ok {
			out = append(out, types.ToolContent{Kind: types.ContentText, Text: tc.Text})
			continue
		}
		if ic, ok := mcp.AsImageContent(item); ok {
			out = append(out, types.ToolContent{Kind: types.ContentImage, MimeType: ic.MIMEType, Data: ic.Data})
			continue
		}
		if rc, ok := mcp.AsEmbeddedResource(item); ok {
			out = append(out, types.ToolContent{Kind: types.ContentResource, Text: fmt.Sprintf("%v", rc.Resource)})
			continue
		}
	}
	return out
}

// translateTool maps one mcp.Tool's JSON-schema input into the shared
// Tool/ToolParameter shape of §3, per the mapping rules of §4.2.
func translateTool(t mcp.Tool, serverID string) types.Tool {
	schema := t.InputSchema
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	params := make([]types.ToolParameter, 0, len(schema.Properties))
	for name, raw := range schema.Properties {
		params = append(params, propertyToParameter(name, raw, required[name]))
	}

	return types.Tool{
		Name:            t.Name,
		Description:     t.Description,
		Parameters:      params,
		ServerID:        serverID,
		PermissionLevel: types.PermissionRead,
	}
}

func propertyToParameter(name string, raw any, required bool) types.ToolParameter {
	p := types.ToolParameter{Name: name, Type: types.ParamString, Required: required}
	m, ok := raw.(map[string]any)
	if !ok {
		return p
	}
	if t, ok := m["type"].(string); ok {
		switch types.ParameterType(t) {
		case types.ParamString, types.ParamNumber, types.ParamInteger,
			types.ParamBoolean, types.ParamArray, types.ParamObject:
			p.Type = types.ParameterType(t)
		}
	}
	if desc, ok := m["description"].(string); ok {
		p.Description = desc
	}
	if def, ok := m["default"]; ok {
		p.Default = def
	}
	if enum, ok := m["enum"].([]any); ok {
		p.Enum = enum
	}
	if items, ok := m["items"].(map[string]any); ok {
		itemParam := propertyToParameter(name+"[]", items, false)
		p.Items = &itemParam
	}
	return p
}
