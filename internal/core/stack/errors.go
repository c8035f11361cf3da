// Package stack contains pure functions for parsing and validating
// stack descriptors. No I/O happens here; the shell hands in raw YAML
// and receives values back.
package stack

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyDescriptor = errors.New("descriptor is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Descriptor structure errors
	ErrNoServices = errors.New("descriptor must declare at least one service")

	// Service validation errors
	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrInvalidPort        = errors.New("invalid port mapping")
	ErrUnknownDependency  = errors.New("depends_on references unknown service")
	ErrDependencyCycle    = errors.New("dependency cycle detected")
	ErrUnknownNetwork     = errors.New("service references undeclared network")
	ErrUnknownVolume      = errors.New("service mounts undeclared volume")
	ErrEmptyEnvironment   = errors.New("environment variable has empty value")
	ErrUnsupportedFeature = errors.New("unsupported descriptor feature")
)

// DescriptorError wraps errors with the descriptor path where parsing
// or validation failed.
type DescriptorError struct {
	Field   string // e.g. "services.api.ports[0]"
	Message string
	Err     error
}

func (e *DescriptorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// NewDescriptorError creates a new DescriptorError.
func NewDescriptorError(field, message string, err error) *DescriptorError {
	return &DescriptorError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
