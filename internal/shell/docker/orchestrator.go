package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ldvinh/stackup/internal/core/domain"
	"github.com/ldvinh/stackup/internal/core/plan"
	"github.com/ldvinh/stackup/internal/core/stack"
)

// =============================================================================
// Orchestrator - Stack Lifecycle
// =============================================================================

// Orchestrator realizes stack descriptors against a Docker daemon.
type Orchestrator struct {
	docker       Client
	logger       *slog.Logger
	startTimeout time.Duration // per-dependency wait budget
	stopTimeout  time.Duration // per-container stop grace
	pollInterval time.Duration
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(docker Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docker:       docker,
		logger:       logger,
		startTimeout: 2 * time.Minute,
		stopTimeout:  10 * time.Second,
		pollInterval: 2 * time.Second,
	}
}

// =============================================================================
// Up
// =============================================================================

// Up creates and starts every resource a stack declares: networks,
// volumes, images (built or pulled), then containers in dependency
// order. depends_on conditions gate each start; service_healthy blocks
// until the dependency's health check reports healthy.
func (o *Orchestrator) Up(ctx context.Context, st *domain.Stack, spec *stack.Spec) ([]domain.ContainerInfo, error) {
	o.logger.Info("starting stack",
		"stack_id", st.ID,
		"stack_name", st.Name,
		"services", len(spec.Services),
	)

	// 1. Networks
	networkNames, err := o.createNetworks(ctx, st.ID, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create networks: %w", err)
	}

	defaultNetwork := ""
	if needsDefaultNetwork(spec) {
		defaultNetwork = plan.NetworkName(st.ID, "default")
		if _, err := o.createNetwork(ctx, st.ID, NetworkSpec{Name: defaultNetwork, Driver: "bridge"}); err != nil {
			return nil, fmt.Errorf("failed to create default network: %w", err)
		}
	}

	// 2. Named volumes
	for _, vol := range spec.Volumes {
		if vol.External {
			continue
		}
		volumeName := plan.VolumeName(st.ID, vol.Name)
		if err := o.createVolume(ctx, st.ID, volumeName, vol.Driver); err != nil {
			o.removeNetworks(st.ID, spec, defaultNetwork)
			return nil, fmt.Errorf("failed to create volume %s: %w", vol.Name, err)
		}
		o.logger.Debug("created volume", "volume_name", volumeName)
	}

	// 3. Build images declared with a build context
	for _, bp := range plan.BuildImagePlans(spec, st.Name) {
		o.logger.Info("building image", "service", bp.ServiceName, "tag", bp.Tag, "context", bp.Context)
		if err := o.docker.BuildImage(BuildSpec{
			Tag:        bp.Tag,
			ContextDir: bp.Context,
			Dockerfile: bp.Dockerfile,
			Args:       bp.Args,
		}); err != nil {
			o.removeNetworks(st.ID, spec, defaultNetwork)
			return nil, fmt.Errorf("failed to build image for %s: %w", bp.ServiceName, err)
		}
	}

	// 4. Pull referenced images that are not present
	for _, svc := range spec.Services {
		if svc.Image == "" {
			continue
		}
		exists, _ := o.docker.ImageExists(svc.Image)
		if !exists {
			o.logger.Info("pulling image", "image", svc.Image)
			if err := o.docker.PullImage(svc.Image, PullOptions{}); err != nil {
				o.logger.Warn("failed to pull image, trying anyway", "image", svc.Image, "error", err)
			}
		}
	}

	// 5. Existing containers (restart case)
	existing, _ := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, st.ID),
		},
	})
	existingByService := make(map[string]ContainerInfo)
	for _, c := range existing {
		if svc, ok := c.Labels[plan.LabelService]; ok {
			existingByService[svc] = c
		}
	}

	// 6. Create and start containers in dependency order
	var containers []domain.ContainerInfo
	started := make(map[string]string) // service name → container ID

	for _, svc := range plan.StartOrder(spec.Services) {
		cp := plan.BuildContainerPlan(plan.BuildContainerPlanParams{
			StackID:        st.ID,
			StackName:      st.Name,
			Service:        svc,
			Variables:      st.Variables,
			Networks:       networkNames,
			DefaultNetwork: defaultNetwork,
		})

		// Gate on depends_on conditions before starting this service.
		if err := o.waitForDependencies(ctx, started, cp.WaitFor); err != nil {
			o.cleanupStartedContainers(started)
			o.removeNetworks(st.ID, spec, defaultNetwork)
			return nil, fmt.Errorf("dependency wait for %s: %w", svc.Name, err)
		}

		var containerID string
		if existing, found := existingByService[svc.Name]; found {
			containerID = existing.ID
			o.logger.Debug("using existing container", "service", svc.Name, "container_id", shortID(containerID))
		} else {
			containerID, err = o.docker.CreateContainer(toContainerSpec(cp))
			if err != nil {
				o.cleanupStartedContainers(started)
				o.removeNetworks(st.ID, spec, defaultNetwork)
				return nil, fmt.Errorf("failed to create container %s: %w", svc.Name, err)
			}
			o.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))
		}

		started[svc.Name] = containerID

		if err := o.docker.StartContainer(containerID); err != nil {
			if !strings.Contains(err.Error(), "already started") && !strings.Contains(err.Error(), "is already running") {
				o.cleanupStartedContainers(started)
				o.removeNetworks(st.ID, spec, defaultNetwork)
				return nil, fmt.Errorf("failed to start container %s: %w", svc.Name, err)
			}
		}
		o.logger.Debug("started container", "service", svc.Name, "container_id", shortID(containerID))

		info, err := o.docker.InspectContainer(containerID)
		if err != nil {
			o.cleanupStartedContainers(started)
			o.removeNetworks(st.ID, spec, defaultNetwork)
			return nil, fmt.Errorf("failed to inspect container %s: %w", svc.Name, err)
		}

		containers = append(containers, domain.ContainerInfo{
			ID:          info.ID,
			ServiceName: svc.Name,
			Image:       info.Image,
			Status:      string(info.Status),
			Health:      info.Health,
			Ports:       convertPorts(info.Ports),
		})
	}

	o.logger.Info("stack started",
		"stack_id", st.ID,
		"containers", len(containers),
	)

	return containers, nil
}

// =============================================================================
// Dependency Gating
// =============================================================================

// waitForDependencies blocks until every depends_on condition holds.
func (o *Orchestrator) waitForDependencies(ctx context.Context, started map[string]string, deps []stack.Dependency) error {
	for _, dep := range deps {
		containerID, ok := started[dep.Service]
		if !ok {
			// StartOrder guarantees dependencies come first; a missing
			// entry means the dependency itself failed to start.
			return fmt.Errorf("%w: %s was not started", ErrDependencyTimeout, dep.Service)
		}
		if err := o.waitForCondition(ctx, dep, containerID); err != nil {
			return err
		}
	}
	return nil
}

// waitForCondition polls a dependency container until its condition is
// satisfied or the start timeout elapses.
func (o *Orchestrator) waitForCondition(ctx context.Context, dep stack.Dependency, containerID string) error {
	if dep.Condition == stack.ConditionStarted {
		// StartContainer already returned; nothing to poll.
		return nil
	}

	o.logger.Debug("waiting for dependency",
		"service", dep.Service,
		"condition", string(dep.Condition),
	)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(o.startTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := o.docker.InspectContainer(containerID)
			if err != nil {
				return err
			}

			switch dep.Condition {
			case stack.ConditionHealthy:
				if info.Health == HealthHealthy {
					return nil
				}
				if info.Health == HealthUnhealthy {
					return fmt.Errorf("%w: %s", ErrDependencyUnhealthy, dep.Service)
				}
				// No health check on the dependency: fall back to running.
				if info.Health == "" && info.Status == ContainerStatusRunning {
					return nil
				}
			case stack.ConditionCompleted:
				if info.Status == ContainerStatusExited {
					if info.ExitCode == 0 {
						return nil
					}
					return fmt.Errorf("%w: %s exited with code %d", ErrDependencyUnhealthy, dep.Service, info.ExitCode)
				}
			}

			if time.Now().After(deadline) {
				return fmt.Errorf("%w: %s (%s)", ErrDependencyTimeout, dep.Service, dep.Condition)
			}
		}
	}
}

// =============================================================================
// Wait for Healthy
// =============================================================================

// WaitForHealthy polls a stack's containers until all are healthy (or
// running, for services without a check) or the timeout elapses.
func (o *Orchestrator) WaitForHealthy(ctx context.Context, st *domain.Stack, timeout time.Duration) error {
	o.logger.Info("waiting for containers to be healthy",
		"stack_id", st.ID,
		"timeout", timeout,
	)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			allHealthy, err := o.allContainersHealthy(st)
			if err != nil {
				return err
			}
			if allHealthy {
				o.logger.Info("all containers healthy", "stack_id", st.ID)
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for containers to become healthy")
			}
			o.logger.Debug("containers not yet healthy, waiting", "stack_id", st.ID)
		}
	}
}

func (o *Orchestrator) allContainersHealthy(st *domain.Stack) (bool, error) {
	for _, c := range st.Containers {
		info, err := o.docker.InspectContainer(c.ID)
		if err != nil {
			return false, fmt.Errorf("failed to inspect container %s: %w", c.ServiceName, err)
		}

		if info.Health != "" {
			if info.Health == HealthUnhealthy {
				return false, fmt.Errorf("container %s is unhealthy", c.ServiceName)
			}
			if info.Health != HealthHealthy {
				return false, nil
			}
		} else if info.Status != ContainerStatusRunning {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// Down
// =============================================================================

// Down stops all containers of a stack, dependents before their
// dependencies.
func (o *Orchestrator) Down(ctx context.Context, st *domain.Stack, spec *stack.Spec) error {
	o.logger.Info("stopping stack", "stack_id", st.ID)

	containers, err := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, st.ID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	byService := make(map[string]ContainerInfo, len(containers))
	for _, c := range containers {
		if svc, ok := c.Labels[plan.LabelService]; ok {
			byService[svc] = c
		}
	}

	stopped := 0
	for _, svc := range plan.StopOrder(spec.Services) {
		c, ok := byService[svc.Name]
		if !ok || c.Status != ContainerStatusRunning {
			continue
		}
		o.logger.Debug("stopping container", "container_id", shortID(c.ID), "service", svc.Name)
		timeout := o.stopTimeout
		if err := o.docker.StopContainer(c.ID, &timeout); err != nil {
			o.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			continue
		}
		stopped++
	}

	o.logger.Info("stack stopped", "stack_id", st.ID, "containers_stopped", stopped)
	return nil
}

// =============================================================================
// Remove
// =============================================================================

// Remove deletes every runtime resource of a stack.
// Order: containers → networks → volumes. Volumes survive when
// keepVolumes is set.
func (o *Orchestrator) Remove(ctx context.Context, st *domain.Stack, spec *stack.Spec, keepVolumes bool) error {
	o.logger.Info("removing stack", "stack_id", st.ID, "keep_volumes", keepVolumes)

	containers, err := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, st.ID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			timeout := o.stopTimeout
			_ = o.docker.StopContainer(c.ID, &timeout)
		}
		if err := o.docker.RemoveContainer(c.ID, RemoveOptions{Force: true, RemoveVolumes: false}); err != nil {
			o.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
		} else {
			o.logger.Debug("removed container", "container_id", shortID(c.ID))
		}
	}

	o.removeNetworks(st.ID, spec, defaultNetworkName(st.ID, spec))

	if !keepVolumes {
		for _, vol := range spec.Volumes {
			if vol.External {
				continue
			}
			volumeName := plan.VolumeName(st.ID, vol.Name)
			if err := o.docker.RemoveVolume(volumeName, false); err != nil {
				o.logger.Warn("failed to remove volume", "volume", volumeName, "error", err)
			} else {
				o.logger.Debug("removed volume", "volume", volumeName)
			}
		}
	}

	o.logger.Info("stack removed", "stack_id", st.ID)
	return nil
}

// =============================================================================
// Logs
// =============================================================================

// ServiceLogs returns logs for one service of a stack.
func (o *Orchestrator) ServiceLogs(ctx context.Context, st *domain.Stack, serviceName, tail string) (string, error) {
	containerID := ""
	for _, c := range st.Containers {
		if c.ServiceName == serviceName {
			containerID = c.ID
			break
		}
	}
	if containerID == "" {
		return "", fmt.Errorf("no container recorded for service %s", serviceName)
	}

	reader, err := o.docker.ContainerLogs(containerID, LogOptions{
		Tail:       tail,
		Timestamps: true,
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, 1<<20)) // cap at 1MB
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// Refresh Container Info
// =============================================================================

// RefreshContainerInfo re-reads live container state for a stack.
func (o *Orchestrator) RefreshContainerInfo(ctx context.Context, st *domain.Stack) ([]domain.ContainerInfo, error) {
	containers, err := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelStack, st.ID),
		},
	})
	if err != nil {
		return nil, err
	}

	var result []domain.ContainerInfo
	for _, c := range containers {
		serviceName := c.Labels[plan.LabelService]
		if serviceName == "" {
			parts := strings.Split(c.Name, "_")
			if len(parts) >= 3 {
				serviceName = parts[len(parts)-1]
			}
		}

		// The list API carries no health field; inspect for it.
		health := c.Health
		if health == "" {
			if info, err := o.docker.InspectContainer(c.ID); err == nil {
				health = info.Health
			}
		}

		result = append(result, domain.ContainerInfo{
			ID:          c.ID,
			ServiceName: serviceName,
			Image:       c.Image,
			Status:      string(c.Status),
			Health:      health,
			Ports:       convertPorts(c.Ports),
		})
	}

	return result, nil
}

// =============================================================================
// Helpers
// =============================================================================

// createNetworks creates every declared network and returns the
// descriptor-name → runtime-name mapping.
func (o *Orchestrator) createNetworks(ctx context.Context, stackID string, spec *stack.Spec) (map[string]string, error) {
	names := make(map[string]string, len(spec.Networks))
	for _, net := range spec.Networks {
		if net.External {
			// External networks are referenced by their literal name.
			names[net.Name] = net.Name
			continue
		}
		runtimeName := plan.NetworkName(stackID, net.Name)
		if _, err := o.createNetwork(ctx, stackID, NetworkSpec{
			Name:     runtimeName,
			Driver:   net.Driver,
			Internal: net.Internal,
		}); err != nil {
			return nil, err
		}
		names[net.Name] = runtimeName
		o.logger.Debug("created network", "network_name", runtimeName)
	}
	return names, nil
}

// createNetwork creates a network or reuses an existing one.
func (o *Orchestrator) createNetwork(ctx context.Context, stackID string, spec NetworkSpec) (string, error) {
	if spec.Labels == nil {
		spec.Labels = map[string]string{}
	}
	spec.Labels[plan.LabelManaged] = "true"
	spec.Labels[plan.LabelStack] = stackID

	networkID, err := o.docker.CreateNetwork(spec)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("network already exists, reusing", "network_name", spec.Name)
			return spec.Name, nil
		}
		return "", err
	}
	return networkID, nil
}

// createVolume creates a volume or reuses an existing one.
func (o *Orchestrator) createVolume(ctx context.Context, stackID, volumeName, driver string) error {
	_, err := o.docker.CreateVolume(VolumeSpec{
		Name:   volumeName,
		Driver: driver,
		Labels: map[string]string{
			plan.LabelManaged: "true",
			plan.LabelStack:   stackID,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("volume already exists, reusing", "volume_name", volumeName)
			return nil
		}
		return err
	}
	return nil
}

// removeNetworks removes the stack-owned networks, leaving external
// ones alone.
func (o *Orchestrator) removeNetworks(stackID string, spec *stack.Spec, defaultNetwork string) {
	for _, net := range spec.Networks {
		if net.External {
			continue
		}
		name := plan.NetworkName(stackID, net.Name)
		if err := o.docker.RemoveNetwork(name); err != nil {
			o.logger.Warn("failed to remove network", "network", name, "error", err)
		} else {
			o.logger.Debug("removed network", "network", name)
		}
	}
	if defaultNetwork != "" {
		if err := o.docker.RemoveNetwork(defaultNetwork); err != nil {
			o.logger.Warn("failed to remove network", "network", defaultNetwork, "error", err)
		}
	}
}

// cleanupStartedContainers stops and removes containers created during
// a failed Up.
func (o *Orchestrator) cleanupStartedContainers(containers map[string]string) {
	timeout := 5 * time.Second
	for name, id := range containers {
		_ = o.docker.StopContainer(id, &timeout)
		_ = o.docker.RemoveContainer(id, RemoveOptions{Force: true})
		o.logger.Debug("cleaned up container", "service", name, "container_id", shortID(id))
	}
}

// needsDefaultNetwork reports whether any service declares no network
// membership and therefore needs the implicit default network.
func needsDefaultNetwork(spec *stack.Spec) bool {
	for _, svc := range spec.Services {
		if len(svc.Networks) == 0 {
			return true
		}
	}
	return false
}

// defaultNetworkName returns the implicit network's runtime name, or
// empty when no service needs it.
func defaultNetworkName(stackID string, spec *stack.Spec) string {
	if needsDefaultNetwork(spec) {
		return plan.NetworkName(stackID, "default")
	}
	return ""
}

// toContainerSpec translates a container plan into a Docker spec.
func toContainerSpec(cp plan.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:       cp.Name,
		Image:      cp.Image,
		Command:    cp.Command,
		Entrypoint: cp.Entrypoint,
		Env:        cp.Env,
		Labels:     cp.Labels,
		Networks:   cp.Networks,
		RestartPolicy: RestartPolicy{
			Name:              cp.RestartPolicy.Name,
			MaximumRetryCount: cp.RestartPolicy.MaximumRetryCount,
		},
	}

	if len(cp.NetworkAliases) > 0 {
		spec.NetworkAliases = make(map[string][]string, len(cp.Networks))
		for _, n := range cp.Networks {
			spec.NetworkAliases[n] = cp.NetworkAliases
		}
	}

	for _, p := range cp.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range cp.Volumes {
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if cp.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        cp.HealthCheck.Test,
			Interval:    cp.HealthCheck.Interval,
			Timeout:     cp.HealthCheck.Timeout,
			Retries:     cp.HealthCheck.Retries,
			StartPeriod: cp.HealthCheck.StartPeriod,
		}
	}

	return spec
}

// convertPorts converts runtime port bindings to domain mappings.
func convertPorts(ports []PortBinding) []domain.PortMapping {
	var result []domain.PortMapping
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		result = append(result, domain.PortMapping{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      proto,
		})
	}
	return result
}

// shortID truncates a container ID for log output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
