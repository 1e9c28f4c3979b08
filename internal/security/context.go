package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// TrustLevel mirrors the original's 0=untrusted..3=admin scale. The core
// makes no assumption about a caller's level: the zero value is 0, and a
// session stays untrusted until something — the JWT verifier wired in at
// the orchestrator boundary, or a caller's own code — raises it
// explicitly (see SPEC_FULL.md's open-question resolution).
type TrustLevel int

const (
	TrustUntrusted TrustLevel = 0
	TrustElevated  TrustLevel = 1
	TrustOperator  TrustLevel = 2
	TrustAdmin     TrustLevel = 3
)

// Context is mutable per-session security state: the confirm/deny memo
// tables and the session's trust level (§3 SecurityContext).
type Context struct {
	mu         sync.Mutex
	TrustLevel TrustLevel
	confirmed  map[string]struct{}
	denied     map[string]struct{}
	opTimes    []time.Time
}

// NewContext returns a Context at the given trust level with empty memo
// tables.
func NewContext(trust TrustLevel) *Context {
	return &Context{
		TrustLevel: trust,
		confirmed:  make(map[string]struct{}),
		denied:     make(map[string]struct{}),
	}
}

// AllowOperation implements SecurityPolicy.MaxOpsPerMinute (§3) as a
// sliding one-minute window: it records the current attempt and reports
// whether the session is still under the ceiling. maxPerMinute<=0 means
// unlimited. Denied and cancelled attempts still count as an operation —
// the limit bounds gate throughput, not just successful calls.
func (c *Context) AllowOperation(maxPerMinute int) bool {
	if maxPerMinute <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.opTimes[:0]
	for _, t := range c.opTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.opTimes = kept

	if len(c.opTimes) >= maxPerMinute {
		return false
	}
	c.opTimes = append(c.opTimes, now)
	return true
}

// IsDenied reports whether fingerprint was previously denied (I4).
func (c *Context) IsDenied(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.denied[fingerprint]
	return ok
}

// IsConfirmed reports whether fingerprint was previously confirmed.
func (c *Context) IsConfirmed(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.confirmed[fingerprint]
	return ok
}

// Confirm memoizes fingerprint as confirmed for the remainder of the
// session.
func (c *Context) Confirm(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed[fingerprint] = struct{}{}
}

// Deny memoizes fingerprint as denied. Per I4, once denied it cannot be
// executed for the rest of the session without an explicit Reset.
func (c *Context) Deny(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied[fingerprint] = struct{}{}
}

// Reset clears both memo tables, leaving TrustLevel untouched.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = make(map[string]struct{})
	c.denied = make(map[string]struct{})
}

// Fingerprint returns hash(name, canonical(arguments)) as a hex string.
// Canonicalization sorts map keys so argument reordering yields the same
// fingerprint (§8 round-trip law).
func Fingerprint(name string, arguments map[string]any) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(canonicalize(arguments)))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalizeForCacheKey exposes the same stable encoding Fingerprint
// uses, for the router's independent cache-key algorithm (§4.6).
func CanonicalizeForCacheKey(arguments map[string]any) string {
	return canonicalize(arguments)
}

// canonicalize produces a stable JSON encoding of arguments: keys sorted,
// no whitespace.
func canonicalize(arguments map[string]any) string {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 64)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(arguments[k])
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return string(ordered)
}
