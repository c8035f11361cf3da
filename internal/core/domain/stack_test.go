package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Stack Creation Tests
// =============================================================================

func TestNewStack(t *testing.T) {
	st, err := NewStack("agent-stack", "services: {}", map[string]string{"DB_USER": "agent"})
	require.NoError(t, err)

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "agent-stack", st.Name)
	assert.Equal(t, "services: {}", st.Descriptor)
	assert.Equal(t, "agent", st.Variables["DB_USER"])
	assert.Equal(t, StatusPending, st.Status)
	assert.WithinDuration(t, time.Now().UTC(), st.CreatedAt, time.Second)
	assert.Equal(t, st.CreatedAt, st.UpdatedAt)
	assert.Nil(t, st.StartedAt)
	assert.Nil(t, st.StoppedAt)
}

func TestNewStack_UniqueIDs(t *testing.T) {
	a, err := NewStack("stack-a", "services: {}", nil)
	require.NoError(t, err)
	b, err := NewStack("stack-b", "services: {}", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewStack_InvalidName(t *testing.T) {
	_, err := NewStack("Not Valid!", "services: {}", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStackName)
}

func TestValidateStackName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "agent-stack", wantErr: false},
		{name: "digits", input: "stack01", wantErr: false},
		{name: "starts with digit", input: "1stack", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "AgentStack", wantErr: true},
		{name: "underscore", input: "agent_stack", wantErr: true},
		{name: "starts with hyphen", input: "-stack", wantErr: true},
		{name: "spaces", input: "agent stack", wantErr: true},
		{name: "too long", input: "a23456789012345678901234567890123456789012345678901234567890123456", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStackName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStackName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// State Machine Tests
// =============================================================================

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    StackStatus
		to      StackStatus
		wantErr bool
	}{
		{name: "pending to starting", from: StatusPending, to: StatusStarting, wantErr: false},
		{name: "pending to removing", from: StatusPending, to: StatusRemoving, wantErr: false},
		{name: "starting to running", from: StatusStarting, to: StatusRunning, wantErr: false},
		{name: "starting to failed", from: StatusStarting, to: StatusFailed, wantErr: false},
		{name: "running to stopping", from: StatusRunning, to: StatusStopping, wantErr: false},
		{name: "stopping to stopped", from: StatusStopping, to: StatusStopped, wantErr: false},
		{name: "stopped to starting", from: StatusStopped, to: StatusStarting, wantErr: false},
		{name: "failed to starting", from: StatusFailed, to: StatusStarting, wantErr: false},
		{name: "failed to removing", from: StatusFailed, to: StatusRemoving, wantErr: false},
		{name: "removing to removed", from: StatusRemoving, to: StatusRemoved, wantErr: false},
		{name: "pending to running skips starting", from: StatusPending, to: StatusRunning, wantErr: true},
		{name: "running to removed", from: StatusRunning, to: StatusRemoved, wantErr: true},
		{name: "removed is terminal", from: StatusRemoved, to: StatusStarting, wantErr: true},
		{name: "unknown status", from: StackStatus("bogus"), to: StatusStarting, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStack_Transition_StampsTimestamps(t *testing.T) {
	st, err := NewStack("agent-stack", "services: {}", nil)
	require.NoError(t, err)

	require.NoError(t, st.Transition(StatusStarting))
	require.NoError(t, st.Transition(StatusRunning))
	require.NotNil(t, st.StartedAt)
	assert.WithinDuration(t, time.Now().UTC(), *st.StartedAt, time.Second)

	require.NoError(t, st.Transition(StatusStopping))
	require.NoError(t, st.Transition(StatusStopped))
	require.NotNil(t, st.StoppedAt)
}

func TestStack_Transition_ClearsErrorOnRestart(t *testing.T) {
	st, err := NewStack("agent-stack", "services: {}", nil)
	require.NoError(t, err)

	require.NoError(t, st.Transition(StatusStarting))
	require.NoError(t, st.TransitionToFailed("image pull failed"))
	assert.Equal(t, "image pull failed", st.ErrorMessage)

	require.NoError(t, st.Transition(StatusStarting))
	assert.Empty(t, st.ErrorMessage)
}

func TestStack_Transition_Invalid(t *testing.T) {
	st, err := NewStack("agent-stack", "services: {}", nil)
	require.NoError(t, err)

	err = st.Transition(StatusStopped)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, st.Status)
}

func TestStack_TransitionToFailed(t *testing.T) {
	tests := []struct {
		name    string
		from    StackStatus
		wantErr bool
	}{
		{name: "from starting", from: StatusStarting, wantErr: false},
		{name: "from running", from: StatusRunning, wantErr: false},
		{name: "from stopping", from: StatusStopping, wantErr: false},
		{name: "from pending", from: StatusPending, wantErr: true},
		{name: "from stopped", from: StatusStopped, wantErr: true},
		{name: "from removed", from: StatusRemoved, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &Stack{Status: tt.from}
			err := st.TransitionToFailed("boom")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, st.Status)
			} else {
				require.NoError(t, err)
				assert.Equal(t, StatusFailed, st.Status)
				assert.Equal(t, "boom", st.ErrorMessage)
			}
		})
	}
}

func TestCanStop(t *testing.T) {
	ok, _ := CanStop(StatusRunning)
	assert.True(t, ok)

	for _, status := range []StackStatus{StatusPending, StatusStarting, StatusStopping, StatusStopped, StatusFailed, StatusRemoving, StatusRemoved} {
		ok, reason := CanStop(status)
		assert.False(t, ok, "status %s", status)
		assert.NotEmpty(t, reason)
	}
}

func TestCanStart(t *testing.T) {
	for _, status := range []StackStatus{StatusPending, StatusStopped, StatusFailed} {
		ok, _ := CanStart(status)
		assert.True(t, ok, "status %s", status)
	}

	for _, status := range []StackStatus{StatusStarting, StatusRunning, StatusStopping, StatusRemoving, StatusRemoved} {
		ok, reason := CanStart(status)
		assert.False(t, ok, "status %s", status)
		assert.NotEmpty(t, reason)
	}
}

// =============================================================================
// Container Event Tests
// =============================================================================

func TestNewContainerEvent(t *testing.T) {
	ev := NewContainerEvent("stack-1", "db", "abc123def456", EventContainerStarted, "container started")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "stack-1", ev.StackID)
	assert.Equal(t, "db", ev.ServiceName)
	assert.Equal(t, "abc123def456", ev.ContainerID)
	assert.Equal(t, EventContainerStarted, ev.EventType)
	assert.Equal(t, "container started", ev.Message)
	assert.Nil(t, ev.ExitCode)
	assert.WithinDuration(t, time.Now().UTC(), ev.Timestamp, time.Second)
}
