// Package workers contains background workers for stackup.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ldvinh/stackup/internal/core/domain"
	"github.com/ldvinh/stackup/internal/core/monitoring"
	"github.com/ldvinh/stackup/internal/shell/docker"
	"github.com/ldvinh/stackup/internal/shell/store"
)

// MonitorConfig configures the stack monitor worker.
type MonitorConfig struct {
	// Interval is the time between monitoring cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// MaxConcurrent is the maximum number of stacks to check concurrently.
	// Default: 5.
	MaxConcurrent int
}

// DefaultMonitorConfig returns the default configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:      30 * time.Second,
		MaxConcurrent: 5,
	}
}

// Monitor periodically reconciles the recorded state of running stacks
// against live daemon state. It records container events and flips
// stack status when containers die or health checks change.
type Monitor struct {
	store        store.Store
	orchestrator *docker.Orchestrator
	config       MonitorConfig
	logger       *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a new stack monitor worker.
func NewMonitor(s store.Store, orch *docker.Orchestrator, config MonitorConfig, logger *slog.Logger) *Monitor {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 5
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		store:        s,
		orchestrator: orch,
		config:       config,
		logger:       logger.With("component", "monitor"),
	}
}

// Start begins the monitor background goroutine.
func (m *Monitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.run()

	m.logger.Info("stack monitor started",
		"interval", m.config.Interval,
		"max_concurrent", m.config.MaxConcurrent,
	)
}

// Stop gracefully stops the monitor.
// It waits for any in-progress cycle to complete.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("stack monitor stopped")
}

// run is the main loop that reconciles stacks periodically.
func (m *Monitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.runCycle()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

// runCycle reconciles every running stack once.
func (m *Monitor) runCycle() {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.Interval)
	defer cancel()

	stacks, err := m.store.ListStacksByStatus(ctx, domain.StatusRunning)
	if err != nil {
		m.logger.Error("failed to list running stacks", "error", err)
		return
	}

	if len(stacks) == 0 {
		m.logger.Debug("no running stacks to check")
		return
	}

	m.logger.Debug("starting monitoring cycle", "stack_count", len(stacks))

	// Use a semaphore to limit concurrent checks
	sem := make(chan struct{}, m.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range stacks {
		st := &stacks[i]

		wg.Add(1)
		go func(s *domain.Stack) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			m.checkStack(ctx, s)
		}(st)
	}

	wg.Wait()
	m.logger.Debug("completed monitoring cycle", "stack_count", len(stacks))
}

// checkStack reconciles one stack's recorded containers against the
// daemon's view of them.
func (m *Monitor) checkStack(ctx context.Context, st *domain.Stack) {
	logger := m.logger.With("stack_id", st.ID, "stack_name", st.Name)

	live, err := m.orchestrator.RefreshContainerInfo(ctx, st)
	if err != nil {
		logger.Warn("failed to refresh container info", "error", err)
		return
	}

	previous := make(map[string]domain.ContainerInfo, len(st.Containers))
	for _, c := range st.Containers {
		previous[c.ServiceName] = c
	}

	failed := false
	seen := make(map[string]bool, len(live))
	for _, c := range live {
		seen[c.ServiceName] = true

		prev, known := previous[c.ServiceName]
		if !known {
			continue
		}

		if event := m.detectChange(prev, c); event != nil {
			event.StackID = st.ID
			if createErr := m.store.CreateContainerEvent(ctx, event); createErr != nil {
				logger.Error("failed to record container event", "error", createErr)
			}
			logger.Info("container state changed",
				"service", c.ServiceName,
				"event", string(event.EventType),
			)
		}

		if c.Status == string(docker.ContainerStatusExited) || c.Status == string(docker.ContainerStatusDead) {
			failed = true
		}
	}

	// A recorded container missing from the live list was removed
	// outside our control; that is a death, not a silent drop.
	for _, prev := range previous {
		if seen[prev.ServiceName] {
			continue
		}
		failed = true

		event := domain.NewContainerEvent(st.ID, prev.ServiceName, prev.ID, domain.EventContainerDied,
			monitoring.EventMessage(domain.EventContainerDied, prev.ServiceName))
		if createErr := m.store.CreateContainerEvent(ctx, event); createErr != nil {
			logger.Error("failed to record container event", "error", createErr)
		}
		logger.Warn("container disappeared", "service", prev.ServiceName)
	}

	st.Containers = live

	if failed {
		st.TransitionToFailed("one or more containers exited")
		logger.Warn("stack marked failed")
	}

	if err := m.store.UpdateStack(ctx, st); err != nil {
		logger.Error("failed to update stack", "error", err)
	}
}

// detectChange compares a recorded container snapshot with live state
// and returns the event worth recording, if any.
func (m *Monitor) detectChange(prev, curr domain.ContainerInfo) *domain.ContainerEvent {
	running := string(docker.ContainerStatusRunning)
	exited := string(docker.ContainerStatusExited)
	dead := string(docker.ContainerStatusDead)

	var eventType domain.EventType
	switch {
	case prev.Status != curr.Status && curr.Status == running:
		eventType = domain.EventContainerStarted

	case prev.Status == running && (curr.Status == exited || curr.Status == dead):
		eventType = domain.EventContainerDied

	case prev.Health != docker.HealthUnhealthy && curr.Health == docker.HealthUnhealthy:
		eventType = domain.EventContainerUnhealthy

	case prev.Health == docker.HealthUnhealthy && curr.Health == docker.HealthHealthy:
		eventType = domain.EventContainerHealthy

	default:
		return nil
	}

	return domain.NewContainerEvent("", curr.ServiceName, curr.ID, eventType,
		monitoring.EventMessage(eventType, curr.ServiceName))
}

// CheckStackNow runs an immediate reconciliation of one stack.
// Useful right after a lifecycle operation completes.
func (m *Monitor) CheckStackNow(ctx context.Context, stackID string) error {
	st, err := m.store.GetStack(ctx, stackID)
	if err != nil {
		return err
	}

	if st.Status != domain.StatusRunning {
		return nil
	}

	m.checkStack(ctx, st)
	return nil
}
