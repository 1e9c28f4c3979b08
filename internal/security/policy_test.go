package security

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCELPolicy_MatchesOnToolName(t *testing.T) {
	p := newCELPolicy([]string{`tool_name == "shell_exec"`}, zerolog.Nop())
	assert.True(t, p.matches("shell_exec", "execute", nil))
	assert.False(t, p.matches("read_file", "read", nil))
}

func TestCELPolicy_MatchesOnArgumentValue(t *testing.T) {
	p := newCELPolicy([]string{`"path" in args && args["path"] == "/etc/shadow"`}, zerolog.Nop())
	assert.True(t, p.matches("read_file", "read", map[string]any{"path": "/etc/shadow"}))
	assert.False(t, p.matches("read_file", "read", map[string]any{"path": "/tmp/ok"}))
}

func TestCELPolicy_SkipsUnparseableRuleWithoutPanicking(t *testing.T) {
	p := newCELPolicy([]string{`this is not valid CEL (((`, `permission_level == "dangerous"`}, zerolog.Nop())
	assert.False(t, p.matches("x", "read", nil))
	assert.True(t, p.matches("x", "dangerous", nil))
}

func TestCELPolicy_NilPolicyNeverMatches(t *testing.T) {
	var p *celPolicy
	assert.False(t, p.matches("anything", "dangerous", nil))
}

func TestCELPolicy_EmptyRulesNeverMatch(t *testing.T) {
	p := newCELPolicy(nil, zerolog.Nop())
	assert.False(t, p.matches("x", "read", map[string]any{"a": 1}))
}
