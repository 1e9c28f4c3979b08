package provider

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/toolforge/mcpcore/internal/types"
)

// Handler is an in-process tool implementation. It receives already
// schema-validated arguments.
type Handler func(ctx context.Context, arguments map[string]any) types.ToolResult

// InternalTool pairs a catalog entry with its handler.
type InternalTool struct {
	Tool    types.Tool
	Handler Handler
}

// Internal exposes a fixed set of in-process handler functions through
// the Provider interface (§4.3). initialize/shutdown only flip state;
// there is no child process to manage.
type Internal struct {
	serverID string
	logger   zerolog.Logger

	mu      sync.RWMutex
	tools   map[string]InternalTool
	running bool
}

// NewInternal constructs an internal provider with the given handler set.
func NewInternal(serverID string, tools []InternalTool, logger zerolog.Logger) *Internal {
	index := make(map[string]InternalTool, len(tools))
	for _, t := range tools {
		t.Tool.ServerID = serverID
		index[t.Tool.Name] = t
	}
	return &Internal{
		serverID: serverID,
		tools:    index,
		logger:   logger.With().Str("server_id", serverID).Logger(),
	}
}

func (p *Internal) ServerID() string { return p.serverID }

func (p *Internal) Tools() []types.Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil
	}
	out := make([]types.Tool, 0, len(p.tools))
	for _, t := range p.tools {
		out = append(out, t.Tool)
	}
	return out
}

func (p *Internal) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	return nil
}

func (p *Internal) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// Call validates arguments against the tool's parameter schema before
// dispatch, per §4.3: a type or enum mismatch short-circuits into an
// error result without ever invoking the handler.
func (p *Internal) Call(ctx context.Context, name string, arguments map[string]any) types.ToolResult {
	p.mu.RLock()
	entry, ok := p.tools[name]
	running := p.running
	p.mu.RUnlock()

	if !ok {
		return types.ErrorResult(fmt.Sprintf("tool %q not found", name))
	}
	if !running {
		return types.ErrorResult(fmt.Sprintf("server %q is not running", p.serverID))
	}
	if err := validateArguments(entry.Tool, arguments); err != nil {
		return types.ErrorResult(fmt.Sprintf("Invalid arguments: %s", err))
	}
	return entry.Handler(ctx, arguments)
}

func (p *Internal) HealthCheck(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// validateArguments checks required parameters are present and, for each
// supplied value, that it matches the parameter's declared type and (if
// any) its Enum. Nothing upstream of this call validates a freely
// constructed map[string]any — Call is the only gate, per §4.3.
func validateArguments(tool types.Tool, arguments map[string]any) error {
	for _, param := range tool.Parameters {
		val, present := arguments[param.Name]
		if !present {
			if param.Required {
				return fmt.Errorf("missing required parameter %q", param.Name)
			}
			continue
		}
		if !matchesType(param.Type, val) {
			return fmt.Errorf("parameter %q must be of type %s", param.Name, param.Type)
		}
		if len(param.Enum) > 0 && !enumContains(param.Enum, val) {
			return fmt.Errorf("parameter %q must be one of %v", param.Name, param.Enum)
		}
	}
	return nil
}

// matchesType reports whether val satisfies expected. Unknown parameter
// types (should not occur given ParameterType's closed set) pass through.
func matchesType(expected types.ParameterType, val any) bool {
	switch expected {
	case types.ParamString:
		_, ok := val.(string)
		return ok
	case types.ParamBoolean:
		_, ok := val.(bool)
		return ok
	case types.ParamNumber:
		return isNumeric(val)
	case types.ParamInteger:
		return isNumeric(val) && isWholeNumber(val)
	case types.ParamArray:
		_, ok := val.([]any)
		return ok
	case types.ParamObject:
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func isNumeric(val any) bool {
	switch val.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// isWholeNumber reports whether a numeric value has no fractional part,
// i.e. it is a valid "integer" despite JSON decoding all numbers as
// float64.
func isWholeNumber(val any) bool {
	switch v := val.(type) {
	case float64:
		return math.Trunc(v) == v
	case float32:
		f := float64(v)
		return math.Trunc(f) == f
	default:
		return true // already a Go integer type
	}
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", val) {
			return true
		}
	}
	return false
}
