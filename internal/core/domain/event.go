package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Container Events
// =============================================================================

// EventType classifies a recorded container event.
type EventType string

const (
	// EventContainerStarted is recorded when a container starts.
	EventContainerStarted EventType = "container.started"

	// EventContainerStopped is recorded when a container stops cleanly.
	EventContainerStopped EventType = "container.stopped"

	// EventContainerDied is recorded when a container exits unexpectedly.
	EventContainerDied EventType = "container.died"

	// EventContainerHealthy is recorded when a health check flips to healthy.
	EventContainerHealthy EventType = "container.healthy"

	// EventContainerUnhealthy is recorded when a health check flips to unhealthy.
	EventContainerUnhealthy EventType = "container.unhealthy"
)

// ContainerEvent is a recorded observation about one container of a
// stack. The monitor worker writes these; the status API reads them.
type ContainerEvent struct {
	ID          string    `json:"id"`
	StackID     string    `json:"stack_id"`
	ServiceName string    `json:"service_name"`
	ContainerID string    `json:"container_id"`
	EventType   EventType `json:"event_type"`
	Message     string    `json:"message,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewContainerEvent creates a container event stamped with the current time.
func NewContainerEvent(stackID, serviceName, containerID string, eventType EventType, message string) *ContainerEvent {
	return &ContainerEvent{
		ID:          uuid.New().String(),
		StackID:     stackID,
		ServiceName: serviceName,
		ContainerID: containerID,
		EventType:   eventType,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
}
