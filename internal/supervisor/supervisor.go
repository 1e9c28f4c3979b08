// Package supervisor implements the Server Manager (C4): registration,
// lifecycle transitions, and a periodic health-monitor loop with a
// capped restart budget. Its ticker-driven loop with cancellation and a
// panic-recovered body is adapted from the teacher's
// internal/colony/poller.BasePoller; each health-triggered restart runs
// through internal/retry.Do as a single attempt, without backoff.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"github.com/toolforge/mcpcore/internal/metrics"
	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/retry"
	"github.com/toolforge/mcpcore/internal/safe"
	"github.com/toolforge/mcpcore/internal/types"
)

// Config tunes the health-monitor loop and restart policy.
type Config struct {
	HealthCheckInterval time.Duration
	AutoRestart         bool
	MaxRestartAttempts  int
}

// DefaultConfig mirrors the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 30 * time.Second,
		AutoRestart:         true,
		MaxRestartAttempts:  3,
	}
}

// entry is one registered provider plus its mutable supervisor state.
// Per §5, each server_id owns its own lock; bulk operations across
// distinct entries run in parallel.
type entry struct {
	mu       sync.Mutex
	provider provider.Provider
	status   types.ServerStatus
}

// Manager is the Server Manager. The zero value is not usable; construct
// with New.
type Manager struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
	self    *process.Process

	mapMu    sync.RWMutex
	entries  map[string]*entry

	healthCancel context.CancelFunc
	healthDone   chan struct{}
	healthOnce   sync.Once
}

// New constructs a Server Manager with no providers registered. It opens a
// gopsutil handle on its own process for the fleet-wide resource gauge
// Summary reports; per-child RSS/CPU enrichment would require the child's
// PID, which mark3labs/mcp-go's stdio client does not expose through its
// public API, so ServerStatus.RSSBytes/CPUPercent stay zero per server.
func New(cfg Config, rec *metrics.Recorder, logger zerolog.Logger) *Manager {
	l := logger.With().Str("component", "supervisor").Logger()
	pid, _ := safe.IntToInt32(os.Getpid())
	self, err := process.NewProcess(pid)
	if err != nil {
		l.Warn().Err(err).Msg("gopsutil process handle unavailable, resource gauge disabled")
	}
	return &Manager{
		cfg:     cfg,
		logger:  l,
		metrics: rec,
		self:    self,
		entries: make(map[string]*entry),
	}
}

// ErrAlreadyRegistered is returned by Register for a duplicate server id.
type ErrAlreadyRegistered struct{ ServerID string }

func (e ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("supervisor: server %q already registered", e.ServerID)
}

// ErrNotFound is returned when a server id has no registered provider.
type ErrNotFound struct{ ServerID string }

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("supervisor: server %q not found", e.ServerID)
}

// ErrTransitioning is returned when a transition is attempted on a
// provider already mid-transition (§4.4 concurrency rule).
type ErrTransitioning struct{ ServerID string }

func (e ErrTransitioning) Error() string {
	return fmt.Sprintf("supervisor: server %q is transitioning", e.ServerID)
}

// Register adds a provider under its own server id. Rejects duplicates.
func (m *Manager) Register(p provider.Provider) error {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	id := p.ServerID()
	if _, exists := m.entries[id]; exists {
		return ErrAlreadyRegistered{ServerID: id}
	}
	m.entries[id] = &entry{
		provider: p,
		status:   types.ServerStatus{ServerID: id, State: types.StateStopped},
	}
	return nil
}

// Unregister removes a provider. Refuses while it is RUNNING.
func (m *Manager) Unregister(serverID string) error {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	e, ok := m.entries[serverID]
	if !ok {
		return ErrNotFound{ServerID: serverID}
	}
	e.mu.Lock()
	state := e.status.State
	e.mu.Unlock()
	if state == types.StateRunning {
		return fmt.Errorf("supervisor: cannot unregister %q while running", serverID)
	}
	delete(m.entries, serverID)
	return nil
}

func (m *Manager) lookup(serverID string) (*entry, error) {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()
	e, ok := m.entries[serverID]
	if !ok {
		return nil, ErrNotFound{ServerID: serverID}
	}
	return e, nil
}

// InitializeAll transitions every registered provider from STOPPED
// through STARTING to RUNNING (or ERROR), in parallel, and starts the
// health monitor on first success. Returns per-server success flags.
func (m *Manager) InitializeAll(ctx context.Context) map[string]bool {
	ids := m.snapshotIDs()
	results := make(map[string]bool, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ok := m.initializeOne(gctx, id) == nil
			mu.Lock()
			results[id] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	anySuccess := false
	for _, ok := range results {
		if ok {
			anySuccess = true
			break
		}
	}
	if anySuccess {
		m.startHealthMonitor()
	}
	return results
}

// initializeOne performs one STOPPED -> STARTING -> RUNNING transition.
func (m *Manager) initializeOne(ctx context.Context, serverID string) error {
	e, err := m.lookup(serverID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	switch e.status.State {
	case types.StateRunning:
		e.mu.Unlock()
		return nil
	case types.StateStarting, types.StateStopping:
		e.mu.Unlock()
		return ErrTransitioning{ServerID: serverID}
	}
	e.status.State = types.StateStarting
	e.mu.Unlock()

	initErr := e.provider.Initialize(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if initErr != nil {
		e.status.State = types.StateError
		e.status.ErrorCount++
		e.status.LastError = initErr.Error()
		return fmt.Errorf("supervisor: initialize %q: %w", serverID, initErr)
	}
	now := timeNow()
	e.status.State = types.StateRunning
	e.status.StartedAt = now
	e.status.LastHeartbeat = now
	e.status.ToolCount = len(e.provider.Tools())
	e.status.RestartCount = 0
	return nil
}

// ShutdownAll cancels the health monitor, then transitions every RUNNING
// provider through STOPPING to STOPPED, in parallel.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.stopHealthMonitor()

	ids := m.snapshotRunningIDs()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_ = m.shutdownOne(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) shutdownOne(ctx context.Context, serverID string) error {
	e, err := m.lookup(serverID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.status.State != types.StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.status.State = types.StateStopping
	e.mu.Unlock()

	shutErr := e.provider.Shutdown(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if shutErr != nil {
		e.status.State = types.StateError
		e.status.ErrorCount++
		e.status.LastError = shutErr.Error()
		return fmt.Errorf("supervisor: shutdown %q: %w", serverID, shutErr)
	}
	e.status.State = types.StateStopped
	return nil
}

// Restart shuts a provider down, waits a 500ms quiet period, and
// re-initializes it, resetting the restart counter on success.
func (m *Manager) Restart(ctx context.Context, serverID string) error {
	if err := m.shutdownOne(ctx, serverID); err != nil {
		return err
	}
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	err := m.initializeOne(ctx, serverID)
	m.metrics.RecordRestart(ctx, serverID)
	return err
}

// RunningServers returns the ids of providers currently in RUNNING.
func (m *Manager) RunningServers() []string {
	return m.snapshotRunningIDs()
}

// RunningProviders returns the Provider handles of every provider
// currently in RUNNING, for the Router to rebuild its tool index from.
func (m *Manager) RunningProviders() []provider.Provider {
	ids := m.snapshotRunningIDs()
	out := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		e, err := m.lookup(id)
		if err != nil {
			continue
		}
		out = append(out, e.provider)
	}
	return out
}

// Provider resolves a server id to its registered Provider, regardless of
// its current state.
func (m *Manager) Provider(serverID string) (provider.Provider, error) {
	e, err := m.lookup(serverID)
	if err != nil {
		return nil, err
	}
	return e.provider, nil
}

// Status returns a copy of one provider's status record.
func (m *Manager) Status(serverID string) (types.ServerStatus, error) {
	e, err := m.lookup(serverID)
	if err != nil {
		return types.ServerStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

// Summary aggregates per-state counts and total tool count across every
// registered provider (supplemented feature, grounded on the original's
// get_status_summary).
type Summary struct {
	Total          int
	Running        int
	Stopped        int
	Error          int
	TotalToolCount int
	Details        map[string]types.ServerStatus

	// ProcessRSSBytes/ProcessCPUPercent are the orchestrator process's own
	// resource usage, sampled via gopsutil; zero if the handle could not
	// be opened.
	ProcessRSSBytes   uint64
	ProcessCPUPercent float64
}

func (m *Manager) Summary() Summary {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()

	s := Summary{Details: make(map[string]types.ServerStatus, len(m.entries))}
	if m.self != nil {
		if mi, err := m.self.MemoryInfo(); err == nil && mi != nil {
			s.ProcessRSSBytes = mi.RSS
		}
		if cpu, err := m.self.CPUPercent(); err == nil {
			s.ProcessCPUPercent = cpu
		}
	}
	for id, e := range m.entries {
		e.mu.Lock()
		status := e.status
		e.mu.Unlock()

		s.Total++
		switch status.State {
		case types.StateRunning:
			s.Running++
		case types.StateStopped:
			s.Stopped++
		case types.StateError:
			s.Error++
		}
		s.TotalToolCount += status.ToolCount
		s.Details[id] = status
	}
	return s
}

func (m *Manager) snapshotIDs() []string {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) snapshotRunningIDs() []string {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id, e := range m.entries {
		e.mu.Lock()
		running := e.status.State == types.StateRunning
		e.mu.Unlock()
		if running {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// startHealthMonitor launches the loop unless one is already running, so
// at most one loop runs at a time; a fresh InitializeAll after a full
// ShutdownAll starts a fresh one.
func (m *Manager) startHealthMonitor() {
	m.mapMu.Lock()
	if m.healthCancel != nil {
		m.mapMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.healthCancel = cancel
	m.healthDone = make(chan struct{})
	m.mapMu.Unlock()

	go m.healthMonitorLoop(ctx)
}

func (m *Manager) stopHealthMonitor() {
	m.mapMu.Lock()
	cancel := m.healthCancel
	done := m.healthDone
	m.healthCancel = nil
	m.healthDone = nil
	m.mapMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// healthMonitorLoop runs on a fixed interval, snapshotting running ids
// before checking each one so it never holds a lock across a restart
// (§4.4).
func (m *Manager) healthMonitorLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("health monitor loop recovered from panic")
		}
		m.mapMu.RLock()
		done := m.healthDone
		m.mapMu.RUnlock()
		if done != nil {
			close(done)
		}
	}()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runHealthPass(ctx)
		}
	}
}

func (m *Manager) runHealthPass(ctx context.Context) {
	for _, id := range m.snapshotRunningIDs() {
		e, err := m.lookup(id)
		if err != nil {
			continue
		}
		healthy := e.provider.HealthCheck(ctx)

		e.mu.Lock()
		if healthy {
			e.status.LastHeartbeat = timeNow()
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		if !m.cfg.AutoRestart {
			continue
		}
		m.handleUnhealthy(ctx, id, e)
	}
}

func (m *Manager) handleUnhealthy(ctx context.Context, id string, e *entry) {
	e.mu.Lock()
	restartCount := e.status.RestartCount
	e.mu.Unlock()

	if restartCount >= m.cfg.MaxRestartAttempts {
		e.mu.Lock()
		e.status.State = types.StateError
		e.status.LastError = "restart budget exhausted"
		e.mu.Unlock()
		m.logger.Error().Str("server_id", id).Msg("restart budget exhausted, pinning to error")
		return
	}

	backoffCfg := retry.Config{MaxRetries: 1, InitialBackoff: 0}
	err := retry.Do(ctx, backoffCfg, func() error {
		return m.Restart(ctx, id)
	}, nil)

	e.mu.Lock()
	e.status.RestartCount = restartCount + 1
	if err != nil {
		e.status.LastError = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		m.logger.Warn().Str("server_id", id).Err(err).Msg("health-triggered restart failed")
	}
}

// timeNow is a seam so tests can observe deterministic timestamps if
// needed; production always uses wall-clock time.
var timeNow = time.Now
