package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockChecker implements Checker for testing.
type mockChecker struct {
	mu         sync.Mutex
	name       string
	status     Status
	err        error
	checkCount int
}

func newMockChecker(name string) *mockChecker {
	return &mockChecker{name: name, status: StatusHealthy}
}

func (m *mockChecker) Check(ctx context.Context) (*HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCount++

	if m.err != nil {
		return nil, m.err
	}
	return &HealthStatus{
		Component: m.name,
		Status:    m.status,
		LastCheck: time.Now(),
	}, nil
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockChecker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkCount
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Interval:      50 * time.Millisecond,
		Timeout:       time.Second,
		RetryAttempts: 1,
		RetryDelay:    10 * time.Millisecond,
	}
}

func TestMonitorRegisterValidation(t *testing.T) {
	monitor := NewMonitor(testConfig())

	if err := monitor.Register(nil); err == nil {
		t.Error("expected error registering nil checker")
	}
	if err := monitor.Register(newMockChecker("")); err == nil {
		t.Error("expected error registering checker with empty name")
	}
	if err := monitor.Register(newMockChecker("bridge")); err != nil {
		t.Errorf("failed to register valid checker: %v", err)
	}
}

func TestMonitorStatusBeforeAnyCheck(t *testing.T) {
	monitor := NewMonitor(testConfig())
	if err := monitor.Register(newMockChecker("bridge")); err != nil {
		t.Fatalf("failed to register checker: %v", err)
	}

	if _, err := monitor.Status("bridge"); err == nil {
		t.Error("expected error for status before any check")
	}
	if monitor.IsHealthy("bridge") {
		t.Error("unprobed component should not be healthy")
	}
}

func TestMonitorCheckAll(t *testing.T) {
	monitor := NewMonitor(testConfig())
	bridge := newMockChecker("bridge")
	provider := newMockChecker("provider")
	provider.status = StatusDegraded

	if err := monitor.Register(bridge); err != nil {
		t.Fatalf("failed to register bridge checker: %v", err)
	}
	if err := monitor.Register(provider); err != nil {
		t.Fatalf("failed to register provider checker: %v", err)
	}

	monitor.CheckAll(context.Background())

	if !monitor.IsHealthy("bridge") {
		t.Error("bridge should be healthy after check")
	}
	if monitor.IsHealthy("provider") {
		t.Error("degraded provider should not count as healthy")
	}

	status, err := monitor.Status("provider")
	if err != nil {
		t.Fatalf("failed to get provider status: %v", err)
	}
	if status.Status != StatusDegraded {
		t.Errorf("expected degraded status, got %s", status.Status)
	}
}

func TestMonitorRetryThenUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RetryAttempts = 2
	monitor := NewMonitor(cfg)

	checker := newMockChecker("bridge")
	checker.setError(errors.New("connection refused"))
	if err := monitor.Register(checker); err != nil {
		t.Fatalf("failed to register checker: %v", err)
	}

	monitor.CheckAll(context.Background())

	// Initial attempt plus two retries.
	if got := checker.count(); got != 3 {
		t.Errorf("expected 3 probe attempts, got %d", got)
	}

	status, err := monitor.Status("bridge")
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status.Status != StatusUnavailable {
		t.Errorf("expected unavailable, got %s", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Error("expected error message on unavailable status")
	}
}

func TestMonitorCheckNow(t *testing.T) {
	monitor := NewMonitor(testConfig())
	checker := newMockChecker("provider")
	if err := monitor.Register(checker); err != nil {
		t.Fatalf("failed to register checker: %v", err)
	}

	status, err := monitor.CheckNow(context.Background(), "provider")
	if err != nil {
		t.Fatalf("CheckNow failed: %v", err)
	}
	if status.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", status.Status)
	}

	if _, err := monitor.CheckNow(context.Background(), "missing"); err == nil {
		t.Error("expected error for unregistered component")
	}
}

func TestMonitorStartStop(t *testing.T) {
	monitor := NewMonitor(testConfig())
	checker := newMockChecker("bridge")
	if err := monitor.Register(checker); err != nil {
		t.Fatalf("failed to register checker: %v", err)
	}

	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("failed to start monitor: %v", err)
	}
	if err := monitor.Start(context.Background()); err == nil {
		t.Error("expected error starting monitor twice")
	}

	// The first cycle runs synchronously inside Start.
	if !monitor.IsHealthy("bridge") {
		t.Error("bridge should be healthy right after start")
	}

	time.Sleep(120 * time.Millisecond)
	monitor.Stop()

	if checker.count() < 2 {
		t.Errorf("expected periodic probes after start, got %d", checker.count())
	}

	// Stop again is a no-op.
	monitor.Stop()
}

func TestMonitorDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	monitor := NewMonitor(cfg)

	if err := monitor.Start(context.Background()); err == nil {
		t.Error("expected error starting disabled monitor")
	}
}

func TestGateProbesOnFirstConsult(t *testing.T) {
	monitor := NewMonitor(testConfig())
	checker := newMockChecker("bridge")
	if err := monitor.Register(checker); err != nil {
		t.Fatalf("failed to register checker: %v", err)
	}

	gate := GateFor(monitor, "bridge")

	if !gate.Healthy(context.Background()) {
		t.Error("gate should report healthy after on-demand probe")
	}
	if checker.count() != 1 {
		t.Errorf("expected exactly one probe, got %d", checker.count())
	}

	// Second consult answers from the cached status.
	if !gate.Healthy(context.Background()) {
		t.Error("gate should stay healthy from cached status")
	}
	if checker.count() != 1 {
		t.Errorf("expected cached answer without a second probe, got %d probes", checker.count())
	}
}

func TestGateUnknownComponent(t *testing.T) {
	monitor := NewMonitor(testConfig())
	gate := GateFor(monitor, "missing")

	if gate.Healthy(context.Background()) {
		t.Error("gate for unregistered component should be unhealthy")
	}
}
