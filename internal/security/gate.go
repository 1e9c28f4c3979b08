// Package security implements the Security Gate (C5): the check pipeline
// over (Tool, arguments), confirmation round-trips, and the audit log.
// Semantics (exact regex families, audit truncation, confirmation-message
// format) are grounded on the original Python orchestrator's security.py,
// since spec.md leaves these details to the implementation.
package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolforge/mcpcore/internal/types"
)

const (
	auditCapacity  = 1000
	auditTruncated = 500
)

// ConfirmationHandler asks the excluded UI collaborator to approve or
// deny one pending invocation. Absence (nil) means "deny all CONFIRMs"
// (§6).
type ConfirmationHandler func(ctx context.Context, title, message string) bool

// Executor is the operation the Gate runs once a call clears the
// pipeline — ordinarily Provider.Call.
type Executor func(ctx context.Context, name string, arguments map[string]any) types.ToolResult

// Gate evaluates and executes tool invocations under a SecurityPolicy.
type Gate struct {
	policy types.SecurityPolicy
	cel    *celPolicy
	logger zerolog.Logger

	confirmMu sync.RWMutex
	confirm   ConfirmationHandler

	auditMu sync.Mutex
	audit   []types.AuditEntry
}

// NewGate constructs a Gate under the given policy.
func NewGate(policy types.SecurityPolicy, logger zerolog.Logger) *Gate {
	l := logger.With().Str("component", "security").Logger()
	return &Gate{
		policy: policy,
		cel:    newCELPolicy(policy.CELRules, l),
		logger: l,
	}
}

// SetConfirmationHandler installs (or clears, with nil) the confirmation
// handler.
func (g *Gate) SetConfirmationHandler(h ConfirmationHandler) {
	g.confirmMu.Lock()
	defer g.confirmMu.Unlock()
	g.confirm = h
}

func (g *Gate) confirmationHandler() ConfirmationHandler {
	g.confirmMu.RLock()
	defer g.confirmMu.RUnlock()
	return g.confirm
}

// Check runs the first-match-wins pipeline of §4.5 and returns the
// verdict without executing anything.
func (g *Gate) Check(tool types.Tool, arguments map[string]any, sessCtx *Context) types.SecurityCheckResult {
	fp := Fingerprint(tool.Name, arguments)

	// 1. Memoized deny.
	if sessCtx.IsDenied(fp) {
		return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "previously denied"}
	}

	// 1b. Session rate limit (SecurityPolicy.MaxOpsPerMinute, §3). Checked
	// ahead of permission/argument inspection: a session over budget is
	// throttled regardless of what it's attempting.
	if !sessCtx.AllowOperation(g.policy.MaxOpsPerMinute) {
		return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "rate limit exceeded"}
	}

	// 2. Permission level vs trust level: DENY is conclusive here, but a
	// CONFIRM requirement is only noted and deferred — argument inspection
	// (step 3) still gets a chance to DENY outright, matching the
	// original's check_tool_permission (permission DENY, then argument
	// DENY, and only then does a pending confirmation get acted on).
	res, needsConfirm := g.checkPermissionLevel(tool, sessCtx)
	if res.Action == types.ActionDeny {
		return res
	}

	// 3. Argument inspection.
	if res, denied := g.checkArguments(tool, arguments); denied {
		return res
	}

	// 3b. Composable CEL policy rules.
	if g.cel.matches(tool.Name, string(tool.PermissionLevel), arguments) {
		return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "policy rule matched"}
	}

	// 4. Per-tool confirmation flag, or a permission-level confirmation
	// deferred from step 2.
	if needsConfirm || tool.RequiresConfirmation {
		return g.resolveConfirm(tool, arguments, sessCtx, fp)
	}

	// 5. Default allow.
	return types.SecurityCheckResult{Action: types.ActionAllow}
}

// checkPermissionLevel implements the permission-vs-trust half of step 2.
// The bool return reports whether a CONFIRM is required for this
// permission level once argument inspection clears; a DENY in the result
// is conclusive immediately, checked by the caller before step 3 runs.
func (g *Gate) checkPermissionLevel(tool types.Tool, sessCtx *Context) (types.SecurityCheckResult, bool) {
	switch tool.PermissionLevel {
	case types.PermissionDangerous:
		if sessCtx.TrustLevel < TrustAdmin {
			return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "insufficient trust level for dangerous operation"}, false
		}
		if g.policy.RequireConfirmationDangerous {
			return types.SecurityCheckResult{}, true
		}
	case types.PermissionSystem:
		if sessCtx.TrustLevel < TrustOperator {
			return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "insufficient trust level for system operation"}, false
		}
		if g.policy.RequireConfirmationSystem {
			return types.SecurityCheckResult{}, true
		}
	case types.PermissionExecute:
		if g.policy.RequireConfirmationExecute {
			return types.SecurityCheckResult{}, true
		}
	case types.PermissionWrite:
		if g.policy.RequireConfirmationWrite {
			return types.SecurityCheckResult{}, true
		}
	}
	return types.SecurityCheckResult{}, false
}

// checkArguments implements step 3: path sandboxing, command blocking,
// and the generic injection heuristic.
func (g *Gate) checkArguments(tool types.Tool, arguments map[string]any) (types.SecurityCheckResult, bool) {
	// Blocked paths deny unconditionally; only the allow-list restriction
	// is gated behind SandboxEnabled — forgetting to flip that flag must
	// not silently turn off a deny-list.
	sandbox := Sandbox{BlockedPaths: g.policy.SandboxBlockedPaths}
	if g.policy.SandboxEnabled {
		sandbox.AllowedPaths = g.policy.SandboxAllowedPaths
	}

	for name, raw := range arguments {
		s, ok := raw.(string)
		if !ok {
			continue
		}

		if pathArgNames[strings.ToLower(name)] {
			resolved, allowed := sandbox.Validate(s)
			if !allowed {
				return types.SecurityCheckResult{Action: types.ActionDeny, Reason: fmt.Sprintf("path not permitted: %s", resolved)}, true
			}
			if hasBlockedExtension(s, g.policy.BlockedExtensions) {
				return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "file extension not allowed"}, true
			}
		}

		if commandArgNames[strings.ToLower(name)] {
			if isBlockedCommand(s, g.policy.BlockedCommands) {
				return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "blocked command"}, true
			}
		}

		if countDistinctMatches(injectionPatterns, s) >= 2 {
			return types.SecurityCheckResult{Action: types.ActionDeny, Reason: "potential command injection"}, true
		}
	}
	return types.SecurityCheckResult{}, false
}

func isBlockedCommand(cmd string, blockedSubstrings []string) bool {
	lower := strings.ToLower(cmd)
	for _, b := range blockedSubstrings {
		if strings.Contains(lower, strings.ToLower(b)) {
			return true
		}
	}
	return matchesAny(commandPatterns, cmd)
}

// resolveConfirm implements the CONFIRM semantics of §4.5: memoized
// confirm short-circuits to ALLOW; otherwise the handler is invoked.
func (g *Gate) resolveConfirm(tool types.Tool, arguments map[string]any, sessCtx *Context, fp string) types.SecurityCheckResult {
	if sessCtx.IsConfirmed(fp) {
		return types.SecurityCheckResult{Action: types.ActionAllow}
	}
	return types.SecurityCheckResult{
		Action:               types.ActionConfirm,
		RequiresConfirmation: true,
		ConfirmationMessage:  buildConfirmationMessage(tool, arguments),
	}
}

func buildConfirmationMessage(tool types.Tool, arguments map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", tool.Name)
	fmt.Fprintf(&b, "Permission Level: %s\n", tool.PermissionLevel)

	names := make([]string, 0, len(arguments))
	for name := range arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		val := fmt.Sprintf("%v", arguments[name])
		if len(val) > 100 {
			val = val[:100] + "..."
		}
		fmt.Fprintf(&b, "  %s: %s\n", name, val)
	}
	b.WriteString("Do you want to proceed?")
	return b.String()
}

// ExecuteWithSecurity runs the check pipeline and, if it clears, invokes
// executor; every outcome — denial, cancellation, success, failure — is
// both audited and returned as a ToolResult, never as a bare error.
func (g *Gate) ExecuteWithSecurity(ctx context.Context, tool types.Tool, arguments map[string]any, sessCtx *Context, executor Executor) types.ToolResult {
	check := g.Check(tool, arguments, sessCtx)
	fp := Fingerprint(tool.Name, arguments)

	switch check.Action {
	case types.ActionDeny:
		g.appendAudit(tool, arguments, types.AuditDenied, check.Reason)
		return types.ErrorResult(fmt.Sprintf("permission denied: %s", check.Reason))

	case types.ActionConfirm:
		handler := g.confirmationHandler()
		if handler == nil {
			g.appendAudit(tool, arguments, types.AuditDenied, "confirmation required, no handler")
			return types.ErrorResult("permission denied: confirmation required, no handler")
		}
		approved := handler(ctx, tool.Name, check.ConfirmationMessage)
		if !approved {
			sessCtx.Deny(fp)
			g.appendAudit(tool, arguments, types.AuditUserDenied, "cancelled by user")
			return types.ErrorResult("cancelled by user")
		}
		sessCtx.Confirm(fp)
	}

	if check.ModifiedArguments != nil {
		arguments = check.ModifiedArguments
	}

	g.appendAudit(tool, arguments, types.AuditExecuting, "")
	result := executor(ctx, tool.Name, arguments)

	if result.Success {
		g.appendAudit(tool, arguments, types.AuditSuccess, "")
	} else {
		g.appendAudit(tool, arguments, types.AuditFailed, result.ErrorMessage)
	}
	return result
}

// appendAudit records one decision/outcome row, ring-buffered at 1000
// entries with drop-oldest-half overflow (§4.5).
func (g *Gate) appendAudit(tool types.Tool, arguments map[string]any, status types.AuditStatus, details string) {
	g.auditMu.Lock()
	defer g.auditMu.Unlock()

	g.audit = append(g.audit, types.AuditEntry{
		Timestamp:       time.Now(),
		ToolName:        tool.Name,
		ServerID:        tool.ServerID,
		PermissionLevel: tool.PermissionLevel,
		Arguments:       arguments,
		Status:          status,
		Details:         details,
	})
	if len(g.audit) > auditCapacity {
		g.audit = append([]types.AuditEntry(nil), g.audit[len(g.audit)-auditTruncated:]...)
	}
}

// AuditLog returns up to limit most recent audit entries, optionally
// filtered by status. limit<=0 means no limit.
func (g *Gate) AuditLog(limit int, statusFilter types.AuditStatus) []types.AuditEntry {
	g.auditMu.Lock()
	defer g.auditMu.Unlock()

	var filtered []types.AuditEntry
	for _, e := range g.audit {
		if statusFilter != "" && e.Status != statusFilter {
			continue
		}
		filtered = append(filtered, e)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}
