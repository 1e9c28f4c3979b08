// Package orchestrator implements the Orchestrator Facade (C7): the
// single public entry point that owns initialization/shutdown ordering
// and delegates to the Server Manager, Security Gate, and Tool Router.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/toolforge/mcpcore/internal/metrics"
	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/router"
	"github.com/toolforge/mcpcore/internal/security"
	"github.com/toolforge/mcpcore/internal/supervisor"
	"github.com/toolforge/mcpcore/internal/types"
)

// Orchestrator is the facade described in §4.7. Construct with New.
type Orchestrator struct {
	cfg    types.OrchestratorConfig
	logger zerolog.Logger

	mu          sync.Mutex
	manager     *supervisor.Manager
	gate        *security.Gate
	sessCtx     *security.Context
	router      *router.Router
	initialized bool
}

// New constructs an Orchestrator. Providers are registered afterwards via
// RegisterProvider/RegisterBuiltins/RegisterExternalServers, then
// Initialize brings everything up.
func New(cfg types.OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	l := logger.With().Str("component", "orchestrator").Logger()
	sessCtx := security.NewContext(security.TrustUntrusted)
	gate := security.NewGate(cfg.Policy, l)
	rec := metrics.NewRecorder(sdkmetric.NewMeterProvider())
	manager := supervisor.New(supervisor.Config{
		HealthCheckInterval: cfg.HealthCheckInterval,
		AutoRestart:         cfg.AutoRestart,
		MaxRestartAttempts:  cfg.MaxRestartAttempts,
	}, rec, l)
	r := router.New(router.Config{
		MaxConcurrentTools: cfg.MaxConcurrentTools,
		DefaultTimeout:     cfg.DefaultTimeout,
		EnableCaching:      cfg.EnableCaching,
		CacheTTL:           cfg.CacheTTL,
	}, gate, sessCtx, rec, l)

	return &Orchestrator{cfg: cfg, logger: l, manager: manager, gate: gate, sessCtx: sessCtx, router: r}
}

// RegisterProvider adds one provider to the Server Manager.
func (o *Orchestrator) RegisterProvider(p provider.Provider) error {
	return o.manager.Register(p)
}

// RegisterBuiltins registers the worked-example internal tools ("echo",
// "time", "read_file", "copy_file") named in cfg.InternalTools, if present. The core ships
// no filesystem/git handlers (excluded collaborator, §1); callers wire
// their own internal providers via RegisterProvider for anything beyond
// this example set.
func (o *Orchestrator) RegisterBuiltins() error {
	if len(o.cfg.InternalTools) == 0 {
		return nil
	}
	tools := builtinTools(o.cfg.InternalTools)
	if len(tools) == 0 {
		return nil
	}
	return o.RegisterProvider(provider.NewInternal("builtin", tools, o.logger))
}

// RegisterExternalServers registers one External provider per config
// entry. Spawning is deferred to Initialize.
func (o *Orchestrator) RegisterExternalServers(configs []provider.ExternalConfig) error {
	for _, cfg := range configs {
		if err := o.RegisterProvider(provider.NewExternal(cfg, o.logger)); err != nil {
			return err
		}
	}
	return nil
}

// Initialize brings every registered provider up (in parallel) and
// refreshes the router index.
func (o *Orchestrator) Initialize(ctx context.Context) map[string]bool {
	o.mu.Lock()
	o.initialized = true
	o.mu.Unlock()

	results := o.manager.InitializeAll(ctx)
	o.router.RefreshIndex(o.manager.RunningProviders())
	return results
}

// Shutdown shuts down the Server Manager, empties the router's tool index,
// and resets the security context. The router's result cache is not
// cleared; cached entries expire only by TTL or eviction. The audit log
// survives until process exit.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.manager.ShutdownAll(ctx)
	o.router.RefreshIndex(nil)
	o.sessCtx.Reset()

	o.mu.Lock()
	o.initialized = false
	o.mu.Unlock()
}

// Tools returns the merged catalog, external-over-internal (I1).
func (o *Orchestrator) Tools() []types.Tool {
	return o.router.Tools()
}

// modelTool is the JSON shape tools_for_model() produces for a model
// driver, per §6.
type modelTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema modelInputSchema `json:"inputSchema"`
}

type modelInputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]map[string]any `json:"properties"`
	Required   []string                  `json:"required"`
}

// ToolsForModel converts the catalog into the model-ready schema shape.
func (o *Orchestrator) ToolsForModel() []json.RawMessage {
	tools := o.Tools()
	out := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]map[string]any, len(t.Parameters))
		var required []string
		for _, p := range t.Parameters {
			entry := map[string]any{"type": string(p.Type)}
			if p.Description != "" {
				entry["description"] = p.Description
			}
			if p.Default != nil {
				entry["default"] = p.Default
			}
			if len(p.Enum) > 0 {
				entry["enum"] = p.Enum
			}
			props[p.Name] = entry
			if p.Required {
				required = append(required, p.Name)
			}
		}
		mt := modelTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: modelInputSchema{Type: "object", Properties: props, Required: required},
		}
		b, err := json.Marshal(mt)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ToolDescriptions renders a human-readable tool listing for prompt
// assembly (supplemented feature, grounded on the original's
// ToolDispatcher.get_tool_descriptions).
func (o *Orchestrator) ToolDescriptions() string {
	var b strings.Builder
	for _, t := range o.Tools() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}

// ExecuteTool delegates a single call to the router. timeout<=0 uses the
// configured default.
func (o *Orchestrator) ExecuteTool(ctx context.Context, call types.ToolCall, timeout time.Duration) types.ToolResult {
	return o.router.Execute(ctx, call, timeout, o.manager.Provider)
}

// ExecuteTools delegates a batch to the router.
func (o *Orchestrator) ExecuteTools(ctx context.Context, calls []types.ToolCall, parallel bool, timeout time.Duration) map[string]types.ToolResult {
	return o.router.ExecuteMany(ctx, calls, parallel, timeout, o.manager.Provider)
}

// CallToolByName is a convenience wrapper over ExecuteTool.
func (o *Orchestrator) CallToolByName(ctx context.Context, name string, arguments map[string]any, timeout time.Duration) types.ToolResult {
	return o.router.ExecuteByName(ctx, name, arguments, timeout, o.manager.Provider)
}

// RestartServer delegates to the Server Manager and refreshes the router
// index.
func (o *Orchestrator) RestartServer(ctx context.Context, serverID string) error {
	if err := o.manager.Restart(ctx, serverID); err != nil {
		return err
	}
	o.router.RefreshIndex(o.manager.RunningProviders())
	return nil
}

// SetConfirmationHandler installs the confirmation handler used by the
// Security Gate.
func (o *Orchestrator) SetConfirmationHandler(h security.ConfirmationHandler) {
	o.gate.SetConfirmationHandler(h)
}

// SetTrustLevel raises (or lowers) the session's trust level, e.g. after
// verifying a caller-presented JWT.
func (o *Orchestrator) SetTrustLevel(level security.TrustLevel) {
	o.sessCtx.TrustLevel = level
}

// AuthenticateTrustLevel verifies a bearer token via verifier and, on
// success, applies the trust level it grants to the session. The session's
// trust level is left untouched on failure.
func (o *Orchestrator) AuthenticateTrustLevel(verifier *security.TrustVerifier, token string) error {
	level, err := verifier.Resolve(token)
	if err != nil {
		return err
	}
	o.SetTrustLevel(level)
	return nil
}

// Status aggregates Server Manager counters.
func (o *Orchestrator) Status() supervisor.Summary {
	return o.manager.Summary()
}

// Health reports a simple boolean plus the same aggregate counters
// status() does; healthy means no provider is stuck in ERROR.
type Health struct {
	Healthy      bool
	ErrorServers int
	Summary      supervisor.Summary
}

func (o *Orchestrator) HealthReport() Health {
	s := o.manager.Summary()
	return Health{Healthy: s.Error == 0, ErrorServers: s.Error, Summary: s}
}

// AuditLog exposes the Security Gate's audit trail.
func (o *Orchestrator) AuditLog(limit int, statusFilter types.AuditStatus) []types.AuditEntry {
	return o.gate.AuditLog(limit, statusFilter)
}

// History exposes the Router's bounded execution history.
func (o *Orchestrator) History(limit int, toolName string, successOnly *bool) []types.ExecutionRecord {
	return o.router.History(limit, toolName, successOnly)
}

// Stats exposes the Router's on-demand execution statistics.
func (o *Orchestrator) Stats() router.Stats {
	return o.router.Stats()
}
