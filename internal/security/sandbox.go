package security

import (
	"os"
	"path/filepath"
	"strings"
)

// Sandbox is a standalone path-resolution helper, usable independently of
// the full Gate pipeline by Internal Provider handlers that want to
// pre-validate a path argument. Grounded on the original's PathSandbox
// (supplemented feature, see SPEC_FULL.md).
type Sandbox struct {
	AllowedPaths []string
	BlockedPaths []string
}

// NewSandbox returns a Sandbox that always includes the user's home
// directory among the allowed paths, matching the original's behavior.
func NewSandbox(allowed, blocked []string) Sandbox {
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		allowed = append(append([]string(nil), allowed...), home)
	}
	return Sandbox{AllowedPaths: allowed, BlockedPaths: blocked}
}

// Resolve expands ~ and resolves path to an absolute, cleaned form.
func (s Sandbox) Resolve(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Validate resolves path and checks it against the blocked prefixes
// unconditionally, then — if any allowed prefixes are configured —
// requires it to fall under one of them.
func (s Sandbox) Validate(path string) (resolved string, ok bool) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", false
	}
	if hasPrefixAny(resolved, s.BlockedPaths) {
		return resolved, false
	}
	if len(s.AllowedPaths) > 0 && !hasPrefixAny(resolved, s.AllowedPaths) {
		return resolved, false
	}
	return resolved, true
}

func hasPrefixAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimRight(p, "/")+"/") {
			return true
		}
	}
	return false
}
