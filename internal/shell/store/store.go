package store

import (
	"context"

	"github.com/ldvinh/stackup/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for stackup entities.
type Store interface {
	// Stack operations
	CreateStack(ctx context.Context, st *domain.Stack) error
	GetStack(ctx context.Context, id string) (*domain.Stack, error)
	GetStackByName(ctx context.Context, name string) (*domain.Stack, error)
	UpdateStack(ctx context.Context, st *domain.Stack) error
	DeleteStack(ctx context.Context, id string) error
	ListStacks(ctx context.Context, opts ListOptions) ([]domain.Stack, error)
	ListStacksByStatus(ctx context.Context, status domain.StackStatus) ([]domain.Stack, error)

	// Container event operations
	CreateContainerEvent(ctx context.Context, event *domain.ContainerEvent) error
	GetContainerEvents(ctx context.Context, stackID string, limit int, eventType *string) ([]domain.ContainerEvent, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
