package orchestrator

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/mcpcore/internal/mcpserver"
	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/types"
)

// TestMain re-execs this test binary as the demo MCP server when
// GO_WANT_HELPER_PROCESS is set, the same self-re-exec idiom the provider
// package's own tests use, so these end-to-end scenarios exercise a real
// subprocess rather than a stub.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		if err := mcpserver.ServeStdio("mcpcore-test-server", "test"); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func demoExternalConfig(serverID string) provider.ExternalConfig {
	return provider.ExternalConfig{
		ServerID:    serverID,
		Command:     os.Args[0],
		Args:        []string{"-test.run=^TestMain$"},
		Env:         append(os.Environ(), "GO_WANT_HELPER_PROCESS=1"),
		CallTimeout: 5 * time.Second,
	}
}

func newTestOrchestrator(t *testing.T, cfg types.OrchestratorConfig) *Orchestrator {
	t.Helper()
	return New(cfg, zerolog.Nop())
}

// Scenario 1 (§8): happy path — register, initialize, execute, get a
// successful result back.
func TestOrchestrator_HappyPathExecutesRegisteredTool(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(provider.NewExternal(demoExternalConfig("demo"), zerolog.Nop())))

	results := o.Initialize(context.Background())
	assert.Equal(t, map[string]bool{"demo": true}, results)
	defer o.Shutdown(context.Background())

	result := o.ExecuteTool(context.Background(), types.ToolCall{
		ID: "c1", Name: "add", Arguments: map[string]any{"a": 2.0, "b": 3.0},
	}, 0)
	require.True(t, result.Success)
	assert.Equal(t, "5", result.Text())
}

// writeFileInternalProvider builds an internal "write_file" tool at the
// write permission level, since external MCP servers carry no native
// permission-level field (translateTool defaults every external tool to
// read, grounded on the original's external_server.py) and the literal
// scenarios of §8 specifically exercise a write-level tool.
func writeFileInternalProvider(serverID string) *provider.Internal {
	tool := provider.InternalTool{
		Tool: types.Tool{Name: "write_file", PermissionLevel: types.PermissionWrite},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			return types.SuccessResult(fmt.Sprintf("wrote to %v", arguments["path"]))
		},
	}
	return provider.NewInternal(serverID, []provider.InternalTool{tool}, zerolog.Nop())
}

// Scenario 2 (§8): a blocked path denies without invoking confirmation.
func TestOrchestrator_DenialBlocksPathWithoutConfirmation(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	cfg.Policy.SandboxEnabled = true
	cfg.Policy.SandboxBlockedPaths = []string{"/etc"}
	cfg.Policy.RequireConfirmationWrite = true
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(writeFileInternalProvider("fs")))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	confirmCalls := 0
	o.SetConfirmationHandler(func(ctx context.Context, title, message string) bool {
		confirmCalls++
		return true
	})

	result := o.ExecuteTool(context.Background(), types.ToolCall{
		ID: "c2", Name: "write_file", Arguments: map[string]any{"path": "/etc/passwd", "content": "x"},
	}, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "permission denied")
	assert.Equal(t, 0, confirmCalls)
}

// Scenario 3 (§8): confirm once, then remember the decision.
func TestOrchestrator_ConfirmationIsMemoizedAcrossIdenticalCalls(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	cfg.Policy.RequireConfirmationWrite = true
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(writeFileInternalProvider("fs")))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	var messages []string
	o.SetConfirmationHandler(func(ctx context.Context, title, message string) bool {
		messages = append(messages, message)
		return true
	})

	call := types.ToolCall{ID: "c3", Name: "write_file", Arguments: map[string]any{"path": "/tmp/a", "content": "x"}}
	first := o.ExecuteTool(context.Background(), call, 0)
	require.True(t, first.Success)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "write_file")
	assert.Contains(t, messages[0], "/tmp/a")

	second := o.ExecuteTool(context.Background(), call, 0)
	assert.True(t, second.Success)
	assert.Len(t, messages, 1, "second identical call must not re-invoke the confirmation handler")
}

// Scenario 4 (§8): a per-call timeout surfaces as a named, bounded error.
func TestOrchestrator_TimeoutNamesToolAndLimit(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(provider.NewExternal(demoExternalConfig("demo"), zerolog.Nop())))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	start := time.Now()
	result := o.ExecuteTool(context.Background(), types.ToolCall{ID: "c4", Name: "slow"}, time.Second)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "slow")
	assert.Contains(t, result.ErrorMessage, "timed out")
	assert.Less(t, elapsed, 1200*time.Millisecond)
}

// Scenario 6 (§8): external-over-internal precedence on a name collision.
func TestOrchestrator_ExternalProviderWinsToolNameCollision(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	o := newTestOrchestrator(t, cfg)

	internalTool := provider.InternalTool{
		Tool: types.Tool{Name: "add", PermissionLevel: types.PermissionRead},
		Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
			return types.SuccessResult("internal")
		},
	}
	require.NoError(t, o.RegisterProvider(provider.NewInternal("internal-demo", []provider.InternalTool{internalTool}, zerolog.Nop())))
	require.NoError(t, o.RegisterProvider(provider.NewExternal(demoExternalConfig("external-demo"), zerolog.Nop())))

	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	var addTools []types.Tool
	for _, tl := range o.Tools() {
		if tl.Name == "add" {
			addTools = append(addTools, tl)
		}
	}
	require.Len(t, addTools, 1)
	assert.Equal(t, "external-demo", addTools[0].ServerID)

	result := o.ExecuteTool(context.Background(), types.ToolCall{ID: "c6", Name: "add", Arguments: map[string]any{"a": 1.0, "b": 1.0}}, 0)
	require.True(t, result.Success)
	assert.Equal(t, "2", result.Text())
}

func TestOrchestrator_UnknownToolReturnsNotFound(t *testing.T) {
	o := newTestOrchestrator(t, types.DefaultOrchestratorConfig())
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	result := o.ExecuteTool(context.Background(), types.ToolCall{ID: "c7", Name: "ghost"}, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not found")
}

func TestOrchestrator_ToolsForModelProducesValidJSONSchema(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(provider.NewExternal(demoExternalConfig("demo"), zerolog.Nop())))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	schemas := o.ToolsForModel()
	assert.NotEmpty(t, schemas)
	for _, raw := range schemas {
		assert.Contains(t, string(raw), `"type":"object"`)
	}
}

func TestOrchestrator_ShutdownIsIdempotentAndResetsSecurityContext(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	cfg.Policy.RequireConfirmationWrite = true
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(writeFileInternalProvider("fs")))
	o.Initialize(context.Background())

	confirmed := 0
	o.SetConfirmationHandler(func(ctx context.Context, title, message string) bool {
		confirmed++
		return true
	})
	call := types.ToolCall{ID: "c8", Name: "write_file", Arguments: map[string]any{"path": "/tmp/x", "content": "y"}}
	o.ExecuteTool(context.Background(), call, 0)
	assert.Equal(t, 1, confirmed)

	o.Shutdown(context.Background())
	o.Shutdown(context.Background())

	// Re-initialize and confirm again: a fresh session no longer
	// remembers the prior confirmation.
	require.NoError(t, o.RegisterProvider(writeFileInternalProvider("fs2")))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())
	o.ExecuteTool(context.Background(), call, 0)
	assert.Equal(t, 2, confirmed, "a reset security context must re-prompt for a previously confirmed fingerprint")
}

func TestOrchestrator_RestartServerRefreshesRouterIndex(t *testing.T) {
	cfg := types.DefaultOrchestratorConfig()
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.RegisterProvider(provider.NewExternal(demoExternalConfig("demo"), zerolog.Nop())))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	require.NoError(t, o.RestartServer(context.Background(), "demo"))

	result := o.ExecuteTool(context.Background(), types.ToolCall{ID: "c9", Name: "add", Arguments: map[string]any{"a": 4.0, "b": 5.0}}, 0)
	require.True(t, result.Success)
	assert.Equal(t, "9", result.Text())
}

func TestOrchestrator_HealthReportReflectsNoErrorServers(t *testing.T) {
	o := newTestOrchestrator(t, types.DefaultOrchestratorConfig())
	require.NoError(t, o.RegisterProvider(provider.NewExternal(demoExternalConfig("demo"), zerolog.Nop())))
	o.Initialize(context.Background())
	defer o.Shutdown(context.Background())

	health := o.HealthReport()
	assert.True(t, health.Healthy)
	assert.Equal(t, 0, health.ErrorServers)
}
