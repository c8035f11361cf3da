package domain

// =============================================================================
// Health Status
// =============================================================================

// HealthStatus is the aggregate health of a stack or one of its
// containers, as seen by the monitor.
type HealthStatus string

const (
	// HealthStatusHealthy means every probe passes.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusDegraded means the stack works but some container is
	// unhealthy, still starting, or in an unknown state.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUnhealthy means the stack is not serving.
	HealthStatusUnhealthy HealthStatus = "unhealthy"

	// HealthStatusUnknown means no health information is available.
	HealthStatusUnknown HealthStatus = "unknown"
)
