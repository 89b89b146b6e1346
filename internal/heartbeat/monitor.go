package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Monitor runs background reachability probes and keeps the last known status
// per component. On-demand checks are also available for the pre-solve gate.
type Monitor struct {
	cfg Config

	mu       sync.RWMutex
	checkers map[string]Checker
	statuses map[string]*HealthStatus
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
	done   chan struct{}
}

// NewMonitor creates a monitor with the given configuration.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Monitor{
		cfg:      cfg,
		checkers: make(map[string]Checker),
		statuses: make(map[string]*HealthStatus),
		done:     make(chan struct{}),
	}
}

// Register adds a component checker.
func (m *Monitor) Register(checker Checker) error {
	if checker == nil {
		return fmt.Errorf("checker cannot be nil")
	}
	if checker.Name() == "" {
		return fmt.Errorf("checker must have a non-empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[checker.Name()] = checker
	return nil
}

// Start begins the background probe loop and performs an immediate first
// cycle so the pipeline has a verdict at startup.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.cfg.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("heartbeat monitoring is disabled")
	}
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("heartbeat monitor is already running")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.ticker = time.NewTicker(m.cfg.Interval)
	m.running = true
	m.mu.Unlock()

	go m.loop()

	m.CheckAll(m.ctx)
	return nil
}

// Stop shuts the background loop down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.ticker.Stop()
	m.running = false
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-time.After(5 * time.Second):
		log.Warn("heartbeat monitor stop timed out waiting for loop")
	}
}

func (m *Monitor) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.ticker.C:
			m.CheckAll(m.ctx)
		}
	}
}

// CheckAll probes every registered component once, with the configured retry
// budget per component.
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			m.checkWithRetry(ctx, c)
		}(checker)
	}
	wg.Wait()
}

// CheckNow probes one component immediately and returns its fresh status.
func (m *Monitor) CheckNow(ctx context.Context, component string) (*HealthStatus, error) {
	m.mu.RLock()
	checker, ok := m.checkers[component]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("component %s not registered", component)
	}

	m.checkWithRetry(ctx, checker)
	return m.Status(component)
}

func (m *Monitor) checkWithRetry(ctx context.Context, checker Checker) {
	var lastErr error

	for attempt := 0; attempt <= m.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.RetryDelay):
			}
		}

		checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		status, err := checker.Check(checkCtx)
		cancel()

		if err != nil {
			lastErr = err
			log.Debugf("health check for %s failed (attempt %d): %v", checker.Name(), attempt+1, err)
			continue
		}

		m.record(status)
		return
	}

	m.record(&HealthStatus{
		Component:    checker.Name(),
		Status:       StatusUnavailable,
		LastCheck:    time.Now(),
		ErrorMessage: fmt.Sprintf("probe failed after %d attempts: %v", m.cfg.RetryAttempts+1, lastErr),
	})
}

func (m *Monitor) record(status *HealthStatus) {
	m.mu.Lock()
	previous := m.statuses[status.Component]
	m.statuses[status.Component] = status
	m.mu.Unlock()

	if previous == nil || previous.Status != status.Status {
		log.WithFields(log.Fields{
			"component": status.Component,
			"status":    string(status.Status),
		}).Info("component health changed")
	}
}

// Status returns the last recorded status for a component.
func (m *Monitor) Status(component string) (*HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[component]
	if !ok {
		return nil, fmt.Errorf("no status available for component %s", component)
	}
	statusCopy := *status
	return &statusCopy, nil
}

// IsHealthy reports whether the component's last probe succeeded. Unknown
// components are unhealthy.
func (m *Monitor) IsHealthy(component string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[component]
	return ok && status.Status == StatusHealthy
}
