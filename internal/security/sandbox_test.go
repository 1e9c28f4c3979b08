package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_ValidateAllowedPrefix(t *testing.T) {
	s := Sandbox{AllowedPaths: []string{"/srv/data"}}
	resolved, ok := s.Validate("/srv/data/reports/q1.csv")
	require.True(t, ok)
	assert.Equal(t, "/srv/data/reports/q1.csv", resolved)
}

func TestSandbox_ValidateRejectsOutsideAllowed(t *testing.T) {
	s := Sandbox{AllowedPaths: []string{"/srv/data"}}
	_, ok := s.Validate("/etc/passwd")
	assert.False(t, ok)
}

func TestSandbox_BlockedWinsEvenInsideAllowed(t *testing.T) {
	s := Sandbox{AllowedPaths: []string{"/srv"}, BlockedPaths: []string{"/srv/secrets"}}
	_, ok := s.Validate("/srv/secrets/key.pem")
	assert.False(t, ok, "a blocked prefix must win even when nested under an allowed one")
}

func TestSandbox_NoAllowedListMeansAnyNonBlockedPathPasses(t *testing.T) {
	s := Sandbox{BlockedPaths: []string{"/etc"}}
	_, ok := s.Validate("/home/user/notes.txt")
	assert.True(t, ok)
}

func TestSandbox_ExactPrefixBoundary(t *testing.T) {
	// "/srv/datadog" must not be treated as under allowed prefix "/srv/data".
	s := Sandbox{AllowedPaths: []string{"/srv/data"}}
	_, ok := s.Validate("/srv/datadog/x")
	assert.False(t, ok, "prefix match must respect path segment boundaries")
}

func TestNewSandbox_AlwaysIncludesHome(t *testing.T) {
	s := NewSandbox(nil, nil)
	assert.NotEmpty(t, s.AllowedPaths, "home directory should be appended even with no configured allow list")
}
