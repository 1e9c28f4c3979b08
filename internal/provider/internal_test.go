package provider_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/types"
)

func echoTool() provider.InternalTool {
	return provider.InternalTool{
		Tool: types.Tool{
			Name:            "echo",
			Parameters:      []types.ToolParameter{{Name: "message", Type: types.ParamString, Required: true}},
			PermissionLevel: types.PermissionRead,
		},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			msg, _ := arguments["message"].(string)
			return types.SuccessResult(msg)
		},
	}
}

func TestInternal_ToolsEmptyUntilInitialized(t *testing.T) {
	p := provider.NewInternal("builtin", []provider.InternalTool{echoTool()}, zerolog.Nop())
	assert.Empty(t, p.Tools())

	require.NoError(t, p.Initialize(context.Background()))
	assert.Len(t, p.Tools(), 1)
}

func TestInternal_CallDispatchesToHandler(t *testing.T) {
	p := provider.NewInternal("builtin", []provider.InternalTool{echoTool()}, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background()))

	result := p.Call(context.Background(), "echo", map[string]any{"message": "hi"})
	require.True(t, result.Success)
	assert.Equal(t, "hi", result.Text())
}

func TestInternal_CallRejectsMissingRequiredArgumentWithoutInvokingHandler(t *testing.T) {
	called := false
	tool := provider.InternalTool{
		Tool: types.Tool{
			Name:       "echo",
			Parameters: []types.ToolParameter{{Name: "message", Type: types.ParamString, Required: true}},
		},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			called = true
			return types.SuccessResult("")
		},
	}
	p := provider.NewInternal("builtin", []provider.InternalTool{tool}, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background()))

	result := p.Call(context.Background(), "echo", nil)
	assert.False(t, result.Success)
	assert.False(t, called, "handler must not run when required arguments are missing")
}

func TestInternal_CallRejectsValueOutsideEnum(t *testing.T) {
	tool := provider.InternalTool{
		Tool: types.Tool{
			Name: "set_mode",
			Parameters: []types.ToolParameter{
				{Name: "mode", Type: types.ParamString, Enum: []any{"fast", "slow"}},
			},
		},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			return types.SuccessResult("ok")
		},
	}
	p := provider.NewInternal("builtin", []provider.InternalTool{tool}, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background()))

	result := p.Call(context.Background(), "set_mode", map[string]any{"mode": "turbo"})
	assert.False(t, result.Success)
}

func TestInternal_CallRejectsArgumentOfWrongType(t *testing.T) {
	called := false
	tool := provider.InternalTool{
		Tool: types.Tool{
			Name:       "add",
			Parameters: []types.ToolParameter{{Name: "count", Type: types.ParamNumber, Required: true}},
		},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			called = true
			return types.SuccessResult("")
		},
	}
	p := provider.NewInternal("builtin", []provider.InternalTool{tool}, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background()))

	result := p.Call(context.Background(), "add", map[string]any{"count": "three"})
	assert.False(t, result.Success)
	assert.False(t, called, "handler must not run when an argument's type mismatches")
}

func TestInternal_CallRejectsNonWholeValueForIntegerParameter(t *testing.T) {
	tool := provider.InternalTool{
		Tool: types.Tool{
			Name:       "repeat",
			Parameters: []types.ToolParameter{{Name: "times", Type: types.ParamInteger, Required: true}},
		},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			return types.SuccessResult("ok")
		},
	}
	p := provider.NewInternal("builtin", []provider.InternalTool{tool}, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background()))

	result := p.Call(context.Background(), "repeat", map[string]any{"times": 2.5})
	assert.False(t, result.Success)
}

func TestInternal_CallUnknownToolReportsNotFound(t *testing.T) {
	p := provider.NewInternal("builtin", nil, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background()))

	result := p.Call(context.Background(), "missing", nil)
	assert.False(t, result.Success)
}

func TestInternal_HealthCheckTracksRunningState(t *testing.T) {
	p := provider.NewInternal("builtin", []provider.InternalTool{echoTool()}, zerolog.Nop())
	assert.False(t, p.HealthCheck(context.Background()))

	require.NoError(t, p.Initialize(context.Background()))
	assert.True(t, p.HealthCheck(context.Background()))

	require.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.HealthCheck(context.Background()))
}
