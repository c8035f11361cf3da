// Package monitoring provides pure functions for stack health logic.
// No I/O happens here; the monitor worker and the API feed in container
// snapshots and get health values back.
package monitoring

import "github.com/ldvinh/stackup/internal/core/domain"

// =============================================================================
// Health Aggregation
// =============================================================================

// AggregateHealth determines overall stack health from its container
// snapshots.
func AggregateHealth(containers []domain.ContainerInfo) domain.HealthStatus {
	if len(containers) == 0 {
		return domain.HealthStatusUnknown
	}

	unhealthy := 0
	degraded := 0

	for _, c := range containers {
		switch ContainerHealth(c) {
		case domain.HealthStatusUnhealthy:
			unhealthy++
		case domain.HealthStatusDegraded, domain.HealthStatusUnknown:
			degraded++
		}
	}

	if unhealthy == len(containers) {
		return domain.HealthStatusUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return domain.HealthStatusDegraded
	}
	return domain.HealthStatusHealthy
}

// ContainerHealth maps one container snapshot to a health status.
//
// Containers without a health probe count as healthy while running:
// a missing probe is a descriptor choice, not a failure.
func ContainerHealth(c domain.ContainerInfo) domain.HealthStatus {
	if c.Status != "running" {
		return domain.HealthStatusUnhealthy
	}

	switch c.Health {
	case "unhealthy":
		return domain.HealthStatusUnhealthy
	case "starting":
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusHealthy
	}
}

// =============================================================================
// Event Message Generation
// =============================================================================

// EventMessage generates a human-readable message for a container event.
func EventMessage(eventType domain.EventType, serviceName string) string {
	switch eventType {
	case domain.EventContainerStarted:
		return "Container for service " + serviceName + " started"
	case domain.EventContainerStopped:
		return "Container for service " + serviceName + " stopped"
	case domain.EventContainerDied:
		return "Container for service " + serviceName + " exited unexpectedly"
	case domain.EventContainerHealthy:
		return "Container for service " + serviceName + " passed its health check"
	case domain.EventContainerUnhealthy:
		return "Container for service " + serviceName + " failed its health check"
	default:
		return "Container for service " + serviceName + " event: " + string(eventType)
	}
}
