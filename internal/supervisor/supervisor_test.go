package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/mcpcore/internal/metrics"
	"github.com/toolforge/mcpcore/internal/types"
)

// fakeProvider is a minimal provider.Provider that lets tests script
// Initialize/HealthCheck outcomes without a real child process.
type fakeProvider struct {
	id string

	mu        sync.Mutex
	initErr   error
	healthy   bool
	tools     []types.Tool
	initCalls int
	shutCalls int
}

func (f *fakeProvider) ServerID() string { return f.id }

func (f *fakeProvider) Tools() []types.Tool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools
}

func (f *fakeProvider) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeProvider) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutCalls++
	return nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeProvider) Call(ctx context.Context, name string, arguments map[string]any) types.ToolResult {
	return types.SuccessResult("ok")
}

func (f *fakeProvider) setHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

func newTestManager(cfg Config) *Manager {
	return New(cfg, metrics.NewRecorder(nil), zerolog.Nop())
}

func TestManager_RegisterRejectsDuplicateServerID(t *testing.T) {
	m := newTestManager(DefaultConfig())
	require.NoError(t, m.Register(&fakeProvider{id: "a"}))
	err := m.Register(&fakeProvider{id: "a"})
	var dup ErrAlreadyRegistered
	assert.ErrorAs(t, err, &dup)
}

func TestManager_InitializeAllTransitionsToRunning(t *testing.T) {
	m := newTestManager(DefaultConfig())
	p := &fakeProvider{id: "a", healthy: true, tools: []types.Tool{{Name: "t"}}}
	require.NoError(t, m.Register(p))

	results := m.InitializeAll(context.Background())
	assert.Equal(t, map[string]bool{"a": true}, results)

	status, err := m.Status("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, status.State)
	assert.Equal(t, 1, status.ToolCount)

	m.ShutdownAll(context.Background())
	status, err = m.Status("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateStopped, status.State)
}

func TestManager_InitializeFailureTransitionsToError(t *testing.T) {
	m := newTestManager(DefaultConfig())
	p := &fakeProvider{id: "a", initErr: assert.AnError}
	require.NoError(t, m.Register(p))

	results := m.InitializeAll(context.Background())
	assert.Equal(t, map[string]bool{"a": false}, results)

	status, err := m.Status("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateError, status.State)
	assert.Equal(t, 1, status.ErrorCount)
	assert.NotEmpty(t, status.LastError)
}

func TestManager_RestartResetsCounterOnSuccess(t *testing.T) {
	m := newTestManager(DefaultConfig())
	p := &fakeProvider{id: "a", healthy: true, tools: []types.Tool{{Name: "t"}, {Name: "u"}}}
	require.NoError(t, m.Register(p))
	m.InitializeAll(context.Background())

	err := m.Restart(context.Background(), "a")
	require.NoError(t, err)

	status, err := m.Status("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, status.State)
	assert.Equal(t, 0, status.RestartCount)
	assert.Equal(t, 2, status.ToolCount)
}

func TestManager_RunningProvidersReflectsOnlyRunningState(t *testing.T) {
	m := newTestManager(DefaultConfig())
	ok := &fakeProvider{id: "ok", healthy: true}
	bad := &fakeProvider{id: "bad", initErr: assert.AnError}
	require.NoError(t, m.Register(ok))
	require.NoError(t, m.Register(bad))

	m.InitializeAll(context.Background())
	running := m.RunningServers()
	require.Len(t, running, 1)
	assert.Equal(t, "ok", running[0])
}

func TestManager_HealthMonitorRestartsUnhealthyProviderUntilBudgetExhausted(t *testing.T) {
	m := newTestManager(Config{
		HealthCheckInterval: 20 * time.Millisecond,
		AutoRestart:         true,
		MaxRestartAttempts:  2,
	})
	p := &fakeProvider{id: "a", healthy: false, tools: []types.Tool{{Name: "t"}}}
	require.NoError(t, m.Register(p))
	m.InitializeAll(context.Background())
	defer m.ShutdownAll(context.Background())

	require.Eventually(t, func() bool {
		status, err := m.Status("a")
		return err == nil && status.State == types.StateError
	}, 4*time.Second, 10*time.Millisecond, "provider should pin to ERROR once restart budget is exhausted")

	status, err := m.Status("a")
	require.NoError(t, err)
	assert.Equal(t, "restart budget exhausted", status.LastError)

	assert.NotContains(t, m.RunningServers(), "a")
}

func TestManager_HealthMonitorSkipsHealthyProviders(t *testing.T) {
	m := newTestManager(Config{
		HealthCheckInterval: 20 * time.Millisecond,
		AutoRestart:         true,
		MaxRestartAttempts:  2,
	})
	p := &fakeProvider{id: "a", healthy: true, tools: []types.Tool{{Name: "t"}}}
	require.NoError(t, m.Register(p))
	m.InitializeAll(context.Background())
	defer m.ShutdownAll(context.Background())

	time.Sleep(100 * time.Millisecond)
	status, err := m.Status("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, status.State)
	assert.Equal(t, 0, status.RestartCount)
}

func TestManager_SummaryAggregatesCountsAcrossProviders(t *testing.T) {
	m := newTestManager(DefaultConfig())
	ok := &fakeProvider{id: "ok", healthy: true, tools: []types.Tool{{Name: "t"}, {Name: "u"}}}
	bad := &fakeProvider{id: "bad", initErr: assert.AnError}
	require.NoError(t, m.Register(ok))
	require.NoError(t, m.Register(bad))
	m.InitializeAll(context.Background())

	summary := m.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Running)
	assert.Equal(t, 1, summary.Error)
	assert.Equal(t, 2, summary.TotalToolCount)
}

func TestManager_UnregisterRefusesWhileRunning(t *testing.T) {
	m := newTestManager(DefaultConfig())
	p := &fakeProvider{id: "a", healthy: true}
	require.NoError(t, m.Register(p))
	m.InitializeAll(context.Background())

	err := m.Unregister("a")
	assert.Error(t, err)

	m.ShutdownAll(context.Background())
	assert.NoError(t, m.Unregister("a"))
}

func TestManager_InitializeAllIsIdempotent(t *testing.T) {
	m := newTestManager(DefaultConfig())
	p := &fakeProvider{id: "a", healthy: true}
	require.NoError(t, m.Register(p))

	m.InitializeAll(context.Background())
	m.InitializeAll(context.Background())

	p.mu.Lock()
	calls := p.initCalls
	p.mu.Unlock()
	assert.Equal(t, 1, calls, "a provider already RUNNING should not be re-initialized")
}
