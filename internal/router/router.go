// Package router implements the Tool Router (C6): a refreshable
// name -> provider index, a bounded-concurrency dispatcher with per-call
// timeout and optional result caching, and bounded execution history.
// Cache-key algorithm, eviction policy, and on-demand stats computation
// are grounded on the original tool_router.py, since spec.md §4.6 leaves
// the exact constants to the implementation.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/toolforge/mcpcore/internal/metrics"
	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/security"
	"github.com/toolforge/mcpcore/internal/types"
)

const (
	historyCapacity  = 1000
	historyTruncated = 500
	cacheCapacity    = 100
	cacheEvictCount  = 20
)

// Config tunes the router's concurrency, timeout, and caching behavior.
type Config struct {
	MaxConcurrentTools int
	DefaultTimeout     time.Duration
	EnableCaching      bool
	CacheTTL           time.Duration
}

// DefaultConfig mirrors the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTools: 5,
		DefaultTimeout:     60 * time.Second,
		EnableCaching:      false,
		CacheTTL:           300 * time.Second,
	}
}

type indexEntry struct {
	providerID string
	tool       types.Tool
	external   bool
}

type cacheEntry struct {
	result   types.ToolResult
	cachedAt time.Time
}

// Router is the Tool Router. Construct with New.
type Router struct {
	cfg     Config
	logger  zerolog.Logger
	sem     *semaphore.Weighted
	gate    *security.Gate
	sessCtx *security.Context
	metrics *metrics.Recorder

	indexMu sync.RWMutex
	index   map[string]indexEntry

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	historyMu sync.Mutex
	history   []types.ExecutionRecord
}

// New constructs a Router bound to a Security Gate and session context.
func New(cfg Config, gate *security.Gate, sessCtx *security.Context, rec *metrics.Recorder, logger zerolog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		logger:  logger.With().Str("component", "router").Logger(),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentTools)),
		gate:    gate,
		sessCtx: sessCtx,
		metrics: rec,
		index:   make(map[string]indexEntry),
		cache:   make(map[string]cacheEntry),
	}
}

// RefreshIndex rebuilds name -> provider from the given set of currently
// running providers. External providers take precedence over internal
// ones on a name collision (I1).
func (r *Router) RefreshIndex(providers []provider.Provider) {
	next := make(map[string]indexEntry)
	for _, p := range providers {
		isExt := isExternalProvider(p)
		for _, tool := range p.Tools() {
			existing, collided := next[tool.Name]
			if collided && existing.external && !isExt {
				continue // external already claimed this name, internal loses
			}
			next[tool.Name] = indexEntry{providerID: p.ServerID(), tool: tool, external: isExt}
		}
	}

	r.indexMu.Lock()
	r.index = next
	r.indexMu.Unlock()
}

// Tools returns the merged catalog from the current index.
func (r *Router) Tools() []types.Tool {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	out := make([]types.Tool, 0, len(r.index))
	for _, e := range r.index {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Router) lookup(name string) (indexEntry, bool) {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	e, ok := r.index[name]
	return e, ok
}

// Execute dispatches one ToolCall under the concurrency ceiling, the
// Security Gate, per-call timeout, and optional caching.
func (r *Router) Execute(ctx context.Context, call types.ToolCall, timeout time.Duration, resolve func(serverID string) (provider.Provider, error)) types.ToolResult {
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	entry, ok := r.lookup(call.Name)
	if !ok {
		// Per §8 boundary behavior: unknown tool does not consult security.
		return types.ErrorResult(fmt.Sprintf("tool %q not found", call.Name))
	}

	cacheKey := makeCacheKey(call.Name, call.Arguments)
	if r.cfg.EnableCaching {
		if cached, ok := r.getCached(cacheKey); ok {
			r.metrics.RecordToolCall(ctx, call.Name, cached.Success, 0)
			return cached
		}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return types.ErrorResult(fmt.Sprintf("tool %q: %s", call.Name, err))
	}
	defer r.sem.Release(1)

	p, err := resolve(entry.providerID)
	if err != nil {
		return types.ErrorResult(fmt.Sprintf("server %q not available", entry.providerID))
	}

	// The per-call timeout (§4.6) scopes only the provider invocation, not
	// the gate's own confirmation round-trip (§5): apply it inside the
	// executor callback rather than around the whole ExecuteWithSecurity
	// call, so a human taking their time to answer a CONFIRM prompt never
	// gets cut off as a timeout.
	executor := func(execCtx context.Context, name string, arguments map[string]any) types.ToolResult {
		callCtx, cancel := context.WithTimeout(execCtx, timeout)
		defer cancel()
		result := p.Call(callCtx, name, arguments)
		if callCtx.Err() == context.DeadlineExceeded && !result.Success {
			return types.ErrorResult(fmt.Sprintf("tool %q timed out after %s", name, timeout))
		}
		return result
	}

	started := time.Now()
	result := r.gate.ExecuteWithSecurity(ctx, entry.tool, call.Arguments, r.sessCtx, executor)
	completed := time.Now()

	r.recordHistory(types.ExecutionRecord{
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		ServerID:    entry.providerID,
		Arguments:   call.Arguments,
		Result:      result,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	})

	if r.cfg.EnableCaching && result.Success {
		r.setCached(cacheKey, result)
	}
	r.metrics.RecordToolCall(ctx, call.Name, result.Success, float64(completed.Sub(started).Milliseconds()))
	return result
}

// ExecuteMany dispatches a batch, either in parallel (within the global
// semaphore) or strictly sequentially.
func (r *Router) ExecuteMany(ctx context.Context, calls []types.ToolCall, parallel bool, timeout time.Duration, resolve func(serverID string) (provider.Provider, error)) map[string]types.ToolResult {
	results := make(map[string]types.ToolResult, len(calls))

	if !parallel {
		for _, c := range calls {
			results[c.ID] = r.Execute(ctx, c, timeout, resolve)
		}
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range calls {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.Execute(ctx, c, timeout, resolve)
			mu.Lock()
			results[c.ID] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// ExecuteByName is a convenience wrapper constructing a synthetic call id.
func (r *Router) ExecuteByName(ctx context.Context, name string, arguments map[string]any, timeout time.Duration, resolve func(serverID string) (provider.Provider, error)) types.ToolResult {
	call := types.ToolCall{ID: "call_" + name + "_" + uuid.NewString(), Name: name, Arguments: arguments}
	return r.Execute(ctx, call, timeout, resolve)
}

func makeCacheKey(name string, arguments map[string]any) string {
	h := sha256.Sum256([]byte(name + ":" + security.CanonicalizeForCacheKey(arguments)))
	return hex.EncodeToString(h[:])[:16]
}

func (r *Router) getCached(key string) (types.ToolResult, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return types.ToolResult{}, false
	}
	if time.Since(entry.cachedAt) > r.cfg.CacheTTL {
		delete(r.cache, key)
		return types.ToolResult{}, false
	}
	return entry.result, true
}

func (r *Router) setCached(key string, result types.ToolResult) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[key] = cacheEntry{result: result, cachedAt: time.Now()}
	if len(r.cache) <= cacheCapacity {
		return
	}
	type keyTime struct {
		key string
		at  time.Time
	}
	entries := make([]keyTime, 0, len(r.cache))
	for k, e := range r.cache {
		entries = append(entries, keyTime{k, e.cachedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for i := 0; i < cacheEvictCount && i < len(entries); i++ {
		delete(r.cache, entries[i].key)
	}
}

func (r *Router) recordHistory(rec types.ExecutionRecord) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	r.history = append(r.history, rec)
	if len(r.history) > historyCapacity {
		r.history = append([]types.ExecutionRecord(nil), r.history[len(r.history)-historyTruncated:]...)
	}
}

// History returns up to limit most recent records, optionally filtered by
// tool name and/or success. limit<=0 means no limit.
func (r *Router) History(limit int, toolName string, successOnly *bool) []types.ExecutionRecord {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()

	var filtered []types.ExecutionRecord
	for _, rec := range r.history {
		if toolName != "" && rec.ToolName != toolName {
			continue
		}
		if successOnly != nil && rec.Result.Success != *successOnly {
			continue
		}
		filtered = append(filtered, rec)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Stats is the on-demand execution-statistics view (§4.6): computed fresh
// from history every call, never from precomputed counters.
type Stats struct {
	TotalCalls        int
	SuccessRate       float64
	AverageDurationMS float64
	ByTool            map[string]ToolStats
}

// ToolStats is the per-tool slice of Stats.
type ToolStats struct {
	TotalCalls        int
	SuccessRate       float64
	AverageDurationMS float64
}

// Stats computes the execution-stats view over the current history.
func (r *Router) Stats() Stats {
	r.historyMu.Lock()
	history := append([]types.ExecutionRecord(nil), r.history...)
	r.historyMu.Unlock()

	s := Stats{ByTool: make(map[string]ToolStats)}
	if len(history) == 0 {
		return s
	}

	type acc struct {
		count, success int
		totalMS        int64
	}
	accs := make(map[string]*acc)
	var overall acc

	for _, rec := range history {
		overall.count++
		overall.totalMS += rec.DurationMS
		if rec.Result.Success {
			overall.success++
		}

		a, ok := accs[rec.ToolName]
		if !ok {
			a = &acc{}
			accs[rec.ToolName] = a
		}
		a.count++
		a.totalMS += rec.DurationMS
		if rec.Result.Success {
			a.success++
		}
	}

	s.TotalCalls = overall.count
	s.SuccessRate = float64(overall.success) / float64(overall.count)
	s.AverageDurationMS = float64(overall.totalMS) / float64(overall.count)

	for name, a := range accs {
		s.ByTool[name] = ToolStats{
			TotalCalls:        a.count,
			SuccessRate:       float64(a.success) / float64(a.count),
			AverageDurationMS: float64(a.totalMS) / float64(a.count),
		}
	}
	return s
}

// isExternalProvider distinguishes external from internal providers for
// I1 precedence without widening the shared Provider interface beyond
// §4.2's five methods.
func isExternalProvider(p provider.Provider) bool {
	_, ok := p.(*provider.External)
	return ok
}
