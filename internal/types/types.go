// Package types holds the data model shared across every component of the
// tool orchestration core: the wire-level envelopes that cross the
// Provider boundary, the catalog and policy shapes, and the bookkeeping
// records kept by the supervisor, router, and security gate.
package types

import "time"

// PermissionLevel classifies how dangerous a tool's effects are, and
// therefore how much scrutiny the security gate applies before dispatch.
type PermissionLevel string

const (
	PermissionRead      PermissionLevel = "read"
	PermissionWrite     PermissionLevel = "write"
	PermissionExecute   PermissionLevel = "execute"
	PermissionSystem    PermissionLevel = "system"
	PermissionDangerous PermissionLevel = "dangerous"
)

// ParameterType enumerates the JSON-schema primitive types a ToolParameter
// may declare.
type ParameterType string

const (
	ParamString  ParameterType = "string"
	ParamNumber  ParameterType = "number"
	ParamInteger ParameterType = "integer"
	ParamBoolean ParameterType = "boolean"
	ParamArray   ParameterType = "array"
	ParamObject  ParameterType = "object"
)

// ToolParameter describes one named input of a Tool.
type ToolParameter struct {
	Name        string
	Type        ParameterType
	Description string
	Required    bool
	Default     any
	Enum        []any
	Items       *ToolParameter
}

// Tool is a catalog entry: a named, schema-described operation exposed by
// a Provider.
type Tool struct {
	Name                 string
	Description          string
	Parameters           []ToolParameter
	ServerID             string
	RequiresConfirmation bool
	PermissionLevel      PermissionLevel
}

// ParameterByName returns the parameter with the given name, or nil.
func (t Tool) ParameterByName(name string) *ToolParameter {
	for i := range t.Parameters {
		if t.Parameters[i].Name == name {
			return &t.Parameters[i]
		}
	}
	return nil
}

// ContentKind tags one item of a ToolResult's content sequence.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentResource ContentKind = "resource"
	ContentError    ContentKind = "error"
)

// ToolContent is one tagged payload item of a ToolResult.
type ToolContent struct {
	Kind ContentKind
	Text string
	// MimeType and Data carry image/resource payloads; empty for text/error.
	MimeType string
	Data     string
}

// ToolCall is the request envelope the model driver sends into the
// orchestrator. Never mutated after dispatch.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult is the response envelope returned for every dispatched
// ToolCall (I6): it is always produced, never silently dropped.
type ToolResult struct {
	Success      bool
	Content      []ToolContent
	ErrorMessage string
	Metadata     map[string]any
}

// Text concatenates every text content item, the common case for simple
// tool results.
func (r ToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Kind == ContentText {
			out += c.Text
		}
	}
	return out
}

// SuccessResult builds a successful ToolResult out of a single text item.
func SuccessResult(text string) ToolResult {
	return ToolResult{
		Success: true,
		Content: []ToolContent{{Kind: ContentText, Text: text}},
	}
}

// ErrorResult builds a failed ToolResult carrying a human-readable message.
func ErrorResult(msg string) ToolResult {
	return ToolResult{
		Success:      false,
		ErrorMessage: msg,
		Content:      []ToolContent{{Kind: ContentError, Text: msg}},
	}
}

// ServerState is one state of the provider lifecycle state machine (§4.4).
type ServerState string

const (
	StateStopped  ServerState = "stopped"
	StateStarting ServerState = "starting"
	StateRunning  ServerState = "running"
	StateStopping ServerState = "stopping"
	StateError    ServerState = "error"
)

// ServerStatus is the supervisor's record for one registered provider.
type ServerStatus struct {
	ServerID      string
	State         ServerState
	StartedAt     time.Time
	LastHeartbeat time.Time
	ToolCount     int
	ErrorCount    int
	LastError     string
	RestartCount  int

	// RSSBytes and CPUPercent are per-provider enrichment fields. Nothing in
	// the core populates them (the stdio transport exposes no child PID), so
	// they stay zero.
	RSSBytes   uint64
	CPUPercent float64
}

// ServerCapabilities records what an MCP server advertised during
// initialize; the core only consumes Tools.
type ServerCapabilities struct {
	Tools     bool
	Resources bool
	Prompts   bool
	Logging   bool
}

// SecurityPolicy is immutable configuration for the security gate.
type SecurityPolicy struct {
	RequireConfirmationRead      bool
	RequireConfirmationWrite     bool
	RequireConfirmationExecute   bool
	RequireConfirmationSystem    bool
	RequireConfirmationDangerous bool

	SandboxEnabled      bool
	SandboxAllowedPaths []string
	SandboxBlockedPaths []string

	BlockedCommands    []string
	BlockedExtensions  []string
	MaxOpsPerMinute    int

	// CELRules are additional deny expressions evaluated over
	// (tool_name, permission_level, args); any expression evaluating to
	// true denies the call with "policy rule matched". Composable
	// policy on top of the fixed rules above.
	CELRules []string
}

// DefaultSecurityPolicy mirrors the original implementation's defaults.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		RequireConfirmationWrite:     true,
		RequireConfirmationExecute:   true,
		RequireConfirmationSystem:    true,
		RequireConfirmationDangerous: true,
		SandboxEnabled:               true,
		SandboxBlockedPaths: []string{
			"/etc/passwd", "/etc/shadow", "/etc/sudoers",
			"/root", "/boot", "/sys", "/proc/kcore",
		},
		BlockedCommands: []string{
			"rm -rf /", "dd if=/dev/zero", "mkfs",
			":(){:|:&};:", "chmod -R 777 /", "wget * | sh", "curl * | sh",
		},
		BlockedExtensions: []string{".exe", ".dll", ".bat", ".cmd", ".vbs", ".ps1"},
		MaxOpsPerMinute:   60,
	}
}

// SecurityAction is the verdict of one check-pipeline evaluation.
type SecurityAction string

const (
	ActionAllow   SecurityAction = "allow"
	ActionDeny    SecurityAction = "deny"
	ActionConfirm SecurityAction = "confirm"
)

// SecurityCheckResult is the outcome of evaluating one (Tool, arguments)
// pair against the policy and the session's security context.
type SecurityCheckResult struct {
	Action               SecurityAction
	Reason               string
	RequiresConfirmation bool
	ConfirmationMessage  string
	ModifiedArguments    map[string]any
}

// ExecutionRecord is one audit/history row produced by the router.
type ExecutionRecord struct {
	ToolCallID string
	ToolName   string
	ServerID   string
	Arguments  map[string]any
	Result     ToolResult
	StartedAt  time.Time
	CompletedAt time.Time
	DurationMS int64
}

// AuditStatus is the lifecycle status recorded in one audit entry.
type AuditStatus string

const (
	AuditDenied     AuditStatus = "denied"
	AuditUserDenied AuditStatus = "user_denied"
	AuditExecuting  AuditStatus = "executing"
	AuditSuccess    AuditStatus = "success"
	AuditFailed     AuditStatus = "failed"
	AuditError      AuditStatus = "error"
)

// AuditEntry is one append-only audit-log row.
type AuditEntry struct {
	Timestamp       time.Time
	ToolName        string
	ServerID        string
	PermissionLevel PermissionLevel
	Arguments       map[string]any
	Status          AuditStatus
	Details         string
}

// OrchestratorConfig is caller-owned configuration for the facade and its
// subsystems; the loader that produces one from a file is out of scope.
type OrchestratorConfig struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	AutoRestart         bool          `yaml:"auto_restart"`
	MaxRestartAttempts  int           `yaml:"max_restart_attempts"`

	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
	EnableCaching      bool          `yaml:"enable_caching"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`

	Policy SecurityPolicy `yaml:"security_policy"`

	// InternalTools names which internal handlers RegisterBuiltins should
	// wire up; the core ships no filesystem/git handlers itself (see
	// SPEC_FULL.md open-question resolution).
	InternalTools []string `yaml:"internal_tools"`
}

// DefaultOrchestratorConfig mirrors the original implementation's defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		HealthCheckInterval: 30 * time.Second,
		AutoRestart:         true,
		MaxRestartAttempts:  3,
		MaxConcurrentTools:  5,
		DefaultTimeout:      60 * time.Second,
		EnableCaching:       false,
		CacheTTL:            300 * time.Second,
		Policy:              DefaultSecurityPolicy(),
	}
}
