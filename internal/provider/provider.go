// Package provider defines the Provider interface that unifies external
// subprocess tool servers (ExternalProvider) and in-process handler
// functions (InternalProvider) behind one contract, per §4.2/§4.3.
package provider

import (
	"context"

	"github.com/toolforge/mcpcore/internal/types"
)

// Provider is the single interface the rest of the core depends on. Both
// implementations in this package satisfy it; no duck-typing, no tagged
// union — callers hold a Provider and never switch on its concrete type.
type Provider interface {
	// ServerID returns a stable identifier for this provider.
	ServerID() string

	// Tools returns the current catalog. Empty unless initialized.
	Tools() []types.Tool

	// Initialize brings the provider to a ready state. Idempotent.
	Initialize(ctx context.Context) error

	// Shutdown stops the provider and releases resources. Idempotent.
	Shutdown(ctx context.Context) error

	// Call executes one tool. It never returns an error across this
	// boundary — every failure (including calling before Initialize) is
	// encoded in the returned ToolResult with Success=false (§4.2).
	Call(ctx context.Context, name string, arguments map[string]any) types.ToolResult

	// HealthCheck is a cheap liveness probe.
	HealthCheck(ctx context.Context) bool
}
