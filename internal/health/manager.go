package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers, caches their latest results, and
// aggregates them into an overall status.
type Manager struct {
	checkers map[string]Checker
	results  map[string]CheckResult
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		checkers: make(map[string]Checker),
		results:  make(map[string]CheckResult),
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a checker. Duplicate names are an error.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()))
	return nil
}

// Start begins periodic background checking.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("Health manager started",
		zap.Duration("interval", m.interval),
		zap.Int("checkers", len(m.checkers)))
}

func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	m.runAll(context.Background())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runAll(context.Background())
		}
	}
}

// runAll executes every checker concurrently with its own timeout and
// caches the results.
func (m *Manager) runAll(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	results := make([]CheckResult, len(checkers))
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.runOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	m.mu.Lock()
	for _, r := range results {
		m.results[r.Component] = r
	}
	m.mu.Unlock()
}

func (m *Manager) runOne(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	result := c.Check(checkCtx)
	result.Component = c.Name()
	result.Critical = c.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	if result.Status == StatusUnhealthy && result.Critical {
		m.logger.Warn("Critical health check failing",
			zap.String("checker", result.Component),
			zap.String("error", result.Error))
	}
	return result
}

// Snapshot returns the cached results without running new checks.
func (m *Manager) Snapshot() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.results))
	for name, r := range m.results {
		out[name] = r
	}
	return out
}

// Detailed runs every check now and returns the aggregate with components.
func (m *Manager) Detailed(ctx context.Context) DetailedHealth {
	m.runAll(ctx)
	components := m.Snapshot()
	return DetailedHealth{
		Overall:    aggregate(components),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// Overall aggregates the cached results. Probe endpoints use this so they
// stay cheap under load.
func (m *Manager) Overall() OverallHealth {
	return aggregate(m.Snapshot())
}

// IsReady reports whether every critical component is serving.
func (m *Manager) IsReady() bool { return m.Overall().Ready }

func aggregate(components map[string]CheckResult) OverallHealth {
	if len(components) == 0 {
		return OverallHealth{
			Status:    StatusUnknown,
			Message:   "no health checks registered",
			Timestamp: time.Now(),
			Ready:     false,
			Live:      true,
		}
	}

	criticalFailures := 0
	degraded := 0
	for _, r := range components {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				criticalFailures++
			} else {
				degraded++
			}
		case StatusDegraded:
			degraded++
		}
	}

	overall := OverallHealth{Timestamp: time.Now(), Live: true}
	switch {
	case criticalFailures > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		overall.Ready = false
	case degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded", degraded)
		overall.Ready = true
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("all %d components healthy", len(components))
		overall.Ready = true
	}
	return overall
}
