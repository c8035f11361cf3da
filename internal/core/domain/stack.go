// Package domain defines core domain types for stackup.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stack Errors
// =============================================================================

var (
	ErrInvalidStackName  = errors.New("invalid stack name")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Stack Status
// =============================================================================

type StackStatus string

const (
	StatusPending  StackStatus = "pending"
	StatusStarting StackStatus = "starting"
	StatusRunning  StackStatus = "running"
	StatusStopping StackStatus = "stopping"
	StatusStopped  StackStatus = "stopped"
	StatusRemoving StackStatus = "removing"
	StatusRemoved  StackStatus = "removed"
	StatusFailed   StackStatus = "failed"
)

// =============================================================================
// Container Info
// =============================================================================

// PortMapping is a realized port mapping on a running container.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"` // tcp, udp
}

// ContainerInfo is a snapshot of one container belonging to a stack.
type ContainerInfo struct {
	ID          string        `json:"id"`
	ServiceName string        `json:"service_name"`
	Image       string        `json:"image"`
	Status      string        `json:"status"`
	Health      string        `json:"health,omitempty"`
	Ports       []PortMapping `json:"ports,omitempty"`
}

// =============================================================================
// Stack
// =============================================================================

// Stack is the persistent record of one deployed descriptor.
type Stack struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Descriptor   string            `json:"descriptor"` // raw YAML as deployed
	Variables    map[string]string `json:"variables,omitempty"`
	Status       StackStatus       `json:"status"`
	Containers   []ContainerInfo   `json:"containers,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	StoppedAt    *time.Time        `json:"stopped_at,omitempty"`
}

// NewStack creates a pending stack record for a descriptor.
func NewStack(name, descriptor string, variables map[string]string) (*Stack, error) {
	if err := ValidateStackName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Stack{
		ID:         uuid.New().String(),
		Name:       name,
		Descriptor: descriptor,
		Variables:  variables,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Transition attempts to move the stack to a new status.
func (s *Stack) Transition(to StackStatus) error {
	if err := ValidateTransition(s.Status, to); err != nil {
		return err
	}

	s.Status = to
	s.UpdatedAt = time.Now().UTC()

	// Clear error on retry
	if to == StatusStarting {
		s.ErrorMessage = ""
	}

	if to == StatusRunning {
		now := time.Now().UTC()
		s.StartedAt = &now
	}
	if to == StatusStopped {
		now := time.Now().UTC()
		s.StoppedAt = &now
	}

	return nil
}

// TransitionToFailed moves the stack to failed with an error message.
func (s *Stack) TransitionToFailed(errorMessage string) error {
	switch s.Status {
	case StatusStarting, StatusRunning, StatusStopping:
		s.Status = StatusFailed
		s.ErrorMessage = errorMessage
		s.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed status transitions.
var validTransitions = map[StackStatus][]StackStatus{
	StatusPending:  {StatusStarting, StatusRemoving},
	StatusStarting: {StatusRunning, StatusFailed},
	StatusRunning:  {StatusStopping, StatusFailed},
	StatusStopping: {StatusStopped, StatusFailed},
	StatusStopped:  {StatusStarting, StatusRemoving},
	StatusFailed:   {StatusStarting, StatusRemoving},
	StatusRemoving: {StatusRemoved},
	StatusRemoved:  {}, // terminal
}

// ValidateTransition checks whether a status transition is allowed.
func ValidateTransition(from, to StackStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanStop reports whether a stack can be stopped from its current
// status, with a reason when it cannot.
func CanStop(status StackStatus) (bool, string) {
	if status != StatusRunning {
		return false, "stack is not running"
	}
	return true, ""
}

// CanStart reports whether a stack can be (re)started.
func CanStart(status StackStatus) (bool, string) {
	switch status {
	case StatusPending, StatusStopped, StatusFailed:
		return true, ""
	case StatusRunning:
		return false, "stack is already running"
	case StatusStarting:
		return false, "stack is already starting"
	case StatusStopping:
		return false, "stack is currently stopping"
	case StatusRemoving, StatusRemoved:
		return false, "stack is removed"
	default:
		return false, "stack cannot start in its current state"
	}
}

// =============================================================================
// Name Validation
// =============================================================================

// stackNameRegex matches DNS-label-style names: lowercase alphanumerics
// and hyphens, starting with a letter or digit.
var stackNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidateStackName checks a stack name. Names become part of container
// and network names, so the runtime's naming rules apply.
func ValidateStackName(name string) error {
	if !stackNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q (want lowercase alphanumerics and hyphens, max 63 chars)", ErrInvalidStackName, name)
	}
	return nil
}
