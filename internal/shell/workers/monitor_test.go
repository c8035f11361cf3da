package workers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldvinh/stackup/internal/core/domain"
	"github.com/ldvinh/stackup/internal/shell/docker"
	"github.com/ldvinh/stackup/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

// listClient is a docker.Client whose container listing is scripted.
type listClient struct {
	containers []docker.ContainerInfo
}

func (c *listClient) CreateContainer(spec docker.ContainerSpec) (string, error) { return "", nil }
func (c *listClient) StartContainer(containerID string) error                   { return nil }
func (c *listClient) StopContainer(containerID string, timeout *time.Duration) error {
	return nil
}
func (c *listClient) RemoveContainer(containerID string, opts docker.RemoveOptions) error {
	return nil
}
func (c *listClient) InspectContainer(containerID string) (*docker.ContainerInfo, error) {
	return nil, docker.ErrContainerNotFound
}
func (c *listClient) ListContainers(opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	return c.containers, nil
}
func (c *listClient) ContainerLogs(containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	return nil, docker.ErrContainerNotFound
}
func (c *listClient) CreateNetwork(spec docker.NetworkSpec) (string, error) { return "", nil }
func (c *listClient) RemoveNetwork(networkID string) error                  { return nil }
func (c *listClient) CreateVolume(spec docker.VolumeSpec) (string, error)   { return "", nil }
func (c *listClient) RemoveVolume(volumeName string, force bool) error      { return nil }
func (c *listClient) PullImage(image string, opts docker.PullOptions) error { return nil }
func (c *listClient) BuildImage(spec docker.BuildSpec) error                { return nil }
func (c *listClient) ImageExists(image string) (bool, error)                { return false, nil }
func (c *listClient) Ping() error                                           { return nil }
func (c *listClient) Close() error                                          { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupMonitor(t *testing.T, client *listClient) (*Monitor, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})

	orch := docker.NewOrchestrator(client, testLogger())
	m := NewMonitor(s, orch, MonitorConfig{Interval: time.Second}, testLogger())
	return m, s
}

func createRunningStack(t *testing.T, s store.Store, containers []domain.ContainerInfo) *domain.Stack {
	t.Helper()
	st, err := domain.NewStack("agent-stack", "services:\n  db:\n    image: postgres:16\n", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateStack(context.Background(), st))

	require.NoError(t, st.Transition(domain.StatusStarting))
	require.NoError(t, st.Transition(domain.StatusRunning))
	st.Containers = containers
	require.NoError(t, s.UpdateStack(context.Background(), st))
	return st
}

func serviceContainer(id, service, status, health string) docker.ContainerInfo {
	return docker.ContainerInfo{
		ID:     id,
		Name:   "stackup_x_" + service,
		Image:  "postgres:16",
		Status: docker.ContainerStatus(status),
		Health: health,
		Labels: map[string]string{
			"com.stackup.service": service,
		},
	}
}

// =============================================================================
// Configuration Tests
// =============================================================================

func TestDefaultMonitorConfig(t *testing.T) {
	config := DefaultMonitorConfig()

	assert.Equal(t, 30*time.Second, config.Interval)
	assert.Equal(t, 5, config.MaxConcurrent)
}

func TestNewMonitor_DefaultConfig(t *testing.T) {
	m, _ := setupMonitor(t, &listClient{})
	assert.NotNil(t, m)

	defaulted := NewMonitor(nil, nil, MonitorConfig{}, nil)
	assert.Equal(t, 30*time.Second, defaulted.config.Interval)
	assert.Equal(t, 5, defaulted.config.MaxConcurrent)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestMonitor_StartStop(t *testing.T) {
	m, _ := setupMonitor(t, &listClient{})

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	// Should be able to start again
	m.Start()
	m.Stop()
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(nil, nil, MonitorConfig{}, nil)

	// Stop without start should not panic
	m.Stop()
}

// =============================================================================
// Reconciliation Tests
// =============================================================================

func TestMonitor_DiedContainerMarksStackFailed(t *testing.T) {
	client := &listClient{
		containers: []docker.ContainerInfo{
			serviceContainer("ctr-1", "db", "exited", ""),
		},
	}
	m, s := setupMonitor(t, client)

	st := createRunningStack(t, s, []domain.ContainerInfo{
		{ID: "ctr-1", ServiceName: "db", Status: "running"},
	})

	require.NoError(t, m.CheckStackNow(context.Background(), st.ID))

	updated, err := s.GetStack(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, updated.Status)

	events, err := s.GetContainerEvents(context.Background(), st.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContainerDied, events[0].EventType)
}

func TestMonitor_RemovedContainerMarksStackFailed(t *testing.T) {
	// The daemon no longer knows the recorded container at all, as after
	// an external `docker rm -f`.
	m, s := setupMonitor(t, &listClient{})

	st := createRunningStack(t, s, []domain.ContainerInfo{
		{ID: "ctr-1", ServiceName: "db", Status: "running"},
	})

	require.NoError(t, m.CheckStackNow(context.Background(), st.ID))

	updated, err := s.GetStack(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, updated.Status)

	events, err := s.GetContainerEvents(context.Background(), st.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContainerDied, events[0].EventType)
	assert.Equal(t, "db", events[0].ServiceName)
}

func TestMonitor_UnhealthyContainerRecordsEvent(t *testing.T) {
	client := &listClient{
		containers: []docker.ContainerInfo{
			serviceContainer("ctr-1", "db", "running", "unhealthy"),
		},
	}
	m, s := setupMonitor(t, client)

	st := createRunningStack(t, s, []domain.ContainerInfo{
		{ID: "ctr-1", ServiceName: "db", Status: "running", Health: "healthy"},
	})

	require.NoError(t, m.CheckStackNow(context.Background(), st.ID))

	// Unhealthy alone does not fail the stack.
	updated, err := s.GetStack(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, updated.Status)

	events, err := s.GetContainerEvents(context.Background(), st.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContainerUnhealthy, events[0].EventType)
}

func TestMonitor_RecoveryRecordsHealthyEvent(t *testing.T) {
	client := &listClient{
		containers: []docker.ContainerInfo{
			serviceContainer("ctr-1", "db", "running", "healthy"),
		},
	}
	m, s := setupMonitor(t, client)

	st := createRunningStack(t, s, []domain.ContainerInfo{
		{ID: "ctr-1", ServiceName: "db", Status: "running", Health: "unhealthy"},
	})

	require.NoError(t, m.CheckStackNow(context.Background(), st.ID))

	events, err := s.GetContainerEvents(context.Background(), st.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventContainerHealthy, events[0].EventType)
}

func TestMonitor_NoChangeNoEvents(t *testing.T) {
	client := &listClient{
		containers: []docker.ContainerInfo{
			serviceContainer("ctr-1", "db", "running", "healthy"),
		},
	}
	m, s := setupMonitor(t, client)

	st := createRunningStack(t, s, []domain.ContainerInfo{
		{ID: "ctr-1", ServiceName: "db", Status: "running", Health: "healthy"},
	})

	require.NoError(t, m.CheckStackNow(context.Background(), st.ID))

	events, err := s.GetContainerEvents(context.Background(), st.ID, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMonitor_SkipsNonRunningStacks(t *testing.T) {
	m, s := setupMonitor(t, &listClient{})

	st, err := domain.NewStack("pending-stack", "services:\n  db:\n    image: postgres:16\n", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateStack(context.Background(), st))

	require.NoError(t, m.CheckStackNow(context.Background(), st.ID))

	updated, err := s.GetStack(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, updated.Status)
}

// =============================================================================
// Change Detection Tests
// =============================================================================

func TestDetectChange(t *testing.T) {
	m := NewMonitor(nil, nil, MonitorConfig{}, nil)

	tests := []struct {
		name     string
		prev     domain.ContainerInfo
		curr     domain.ContainerInfo
		expected *domain.EventType
	}{
		{
			name:     "started",
			prev:     domain.ContainerInfo{ServiceName: "db", Status: "created"},
			curr:     domain.ContainerInfo{ServiceName: "db", Status: "running"},
			expected: eventTypePtr(domain.EventContainerStarted),
		},
		{
			name:     "died",
			prev:     domain.ContainerInfo{ServiceName: "db", Status: "running"},
			curr:     domain.ContainerInfo{ServiceName: "db", Status: "exited"},
			expected: eventTypePtr(domain.EventContainerDied),
		},
		{
			name:     "went unhealthy",
			prev:     domain.ContainerInfo{ServiceName: "db", Status: "running", Health: "healthy"},
			curr:     domain.ContainerInfo{ServiceName: "db", Status: "running", Health: "unhealthy"},
			expected: eventTypePtr(domain.EventContainerUnhealthy),
		},
		{
			name:     "recovered",
			prev:     domain.ContainerInfo{ServiceName: "db", Status: "running", Health: "unhealthy"},
			curr:     domain.ContainerInfo{ServiceName: "db", Status: "running", Health: "healthy"},
			expected: eventTypePtr(domain.EventContainerHealthy),
		},
		{
			name:     "steady state",
			prev:     domain.ContainerInfo{ServiceName: "db", Status: "running", Health: "healthy"},
			curr:     domain.ContainerInfo{ServiceName: "db", Status: "running", Health: "healthy"},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := m.detectChange(tt.prev, tt.curr)
			if tt.expected == nil {
				assert.Nil(t, event)
			} else {
				require.NotNil(t, event)
				assert.Equal(t, *tt.expected, event.EventType)
			}
		})
	}
}

func eventTypePtr(et domain.EventType) *domain.EventType {
	return &et
}
