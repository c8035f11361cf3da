package plan

import (
	"time"

	"github.com/ldvinh/stackup/internal/core/stack"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan is the planned configuration for one container, ready
// for the shell to execute.
type ContainerPlan struct {
	ServiceName    string
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortPlan
	Volumes        []VolumePlan
	Networks       []string
	NetworkAliases []string
	RestartPolicy  RestartPolicyPlan
	HealthCheck    *HealthCheckPlan
	WaitFor        []stack.Dependency // satisfied before this container starts
}

// PortPlan is a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan is a planned volume mount.
type VolumePlan struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan is a restart policy in runtime terms.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// HealthCheckPlan is a health check with parsed durations.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// ImageBuildPlan describes an image that must be built before its
// service container can be created.
type ImageBuildPlan struct {
	ServiceName string
	Tag         string
	Context     string
	Dockerfile  string
	Args        map[string]string
}

// =============================================================================
// Builder Parameters
// =============================================================================

// BuildContainerPlanParams are the inputs for building a container plan.
type BuildContainerPlanParams struct {
	StackID   string
	StackName string
	Service   stack.Service
	Variables map[string]string

	// Networks maps descriptor network names to runtime network names.
	Networks map[string]string

	// DefaultNetwork is the runtime network used when the service
	// declares no network membership.
	DefaultNetwork string
}

// =============================================================================
// Stack Labels
// =============================================================================

// Label keys stamped on every managed runtime resource.
const (
	LabelManaged = "com.stackup.managed"
	LabelStack   = "com.stackup.stack"
	LabelService = "com.stackup.service"
)
