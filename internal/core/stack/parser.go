package stack

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser
// =============================================================================

// Parse parses a stack descriptor (compose-style YAML) into a Spec.
// This is a pure function: raw YAML in, Spec or error out.
func Parse(yamlContent string) (*Spec, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyDescriptor
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &Spec{
		Name:     project.Name,
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		spec.Services = append(spec.Services, converted)
	}
	// compose-go iterates services in map order; keep output deterministic.
	sort.Slice(spec.Services, func(i, j int) bool {
		return spec.Services[i].Name < spec.Services[j].Name
	})

	for name, net := range project.Networks {
		spec.Networks = append(spec.Networks, convertNetwork(name, net))
	}
	sort.Slice(spec.Networks, func(i, j int) bool {
		return spec.Networks[i].Name < spec.Networks[j].Name
	})

	for name, vol := range project.Volumes {
		spec.Volumes = append(spec.Volumes, convertVolume(name, vol))
	}
	sort.Slice(spec.Volumes, func(i, j int) bool {
		return spec.Volumes[i].Name < spec.Volumes[j].Name
	})

	if err := validateReferences(spec); err != nil {
		return nil, err
	}
	if err := detectDependencyCycles(spec.Services); err != nil {
		return nil, err
	}
	if err := validatePorts(spec.Services); err != nil {
		return nil, err
	}

	return spec, nil
}

// loadProject loads the descriptor through compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewDescriptorError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewDescriptorError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stackup", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = true // interpolation is ours, at plan time
		// In-memory load: nothing to normalize or extend from disk.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewDescriptorError("", "dependency cycle detected", ErrDependencyCycle)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewDescriptorError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewDescriptorError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects descriptor features stackup does not
// pass through to the runtime.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewDescriptorError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewDescriptorError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewDescriptorError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service to a stack Service.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
		if len(svc.Build.Args) > 0 {
			service.Build.Args = make(map[string]string, len(svc.Build.Args))
			for k, v := range svc.Build.Args {
				if v != nil {
					service.Build.Args[k] = *v
				}
			}
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewDescriptorError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			if pub, err := strconv.ParseUint(p.Published, 10, 32); err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		} else {
			// "KEY" with no value: passed through from the deploy-time
			// variable set, represented as a bare placeholder.
			service.Environment[k] = fmt.Sprintf("${%s}", k)
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	for name, dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, Dependency{
			Service:   name,
			Condition: convertCondition(dep.Condition),
		})
	}
	sort.Slice(service.DependsOn, func(i, j int) bool {
		return service.DependsOn[i].Service < service.DependsOn[j].Service
	})

	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	return service, nil
}

// convertCondition maps a compose depends_on condition string.
// An absent condition means service_started.
func convertCondition(condition string) DependencyCondition {
	switch condition {
	case string(ConditionHealthy):
		return ConditionHealthy
	case string(ConditionCompleted):
		return ConditionCompleted
	default:
		return ConditionStarted
	}
}

func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:     name,
		Driver:   net.Driver,
		External: bool(net.External),
		Internal: net.Internal,
		Labels:   net.Labels,
	}
}

func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// =============================================================================
// Structural Validation
// =============================================================================

// validateReferences checks that every depends_on edge, network
// membership, and named volume mount resolves to a declaration.
func validateReferences(spec *Spec) error {
	serviceNames := make(map[string]bool, len(spec.Services))
	for _, svc := range spec.Services {
		serviceNames[svc.Name] = true
	}
	networkNames := make(map[string]bool, len(spec.Networks))
	for _, net := range spec.Networks {
		networkNames[net.Name] = true
	}
	volumeNames := make(map[string]bool, len(spec.Volumes))
	for _, vol := range spec.Volumes {
		volumeNames[vol.Name] = true
	}

	for _, svc := range spec.Services {
		for _, dep := range svc.DependsOn {
			if !serviceNames[dep.Service] {
				return NewDescriptorError(
					"services."+svc.Name+".depends_on",
					fmt.Sprintf("unknown service %q", dep.Service),
					ErrUnknownDependency,
				)
			}
			if dep.Condition == ConditionHealthy {
				target := spec.Service(dep.Service)
				if target != nil && target.HealthCheck == nil {
					return NewDescriptorError(
						"services."+svc.Name+".depends_on."+dep.Service,
						"condition service_healthy requires the dependency to declare a healthcheck",
						ErrUnknownDependency,
					)
				}
			}
		}
		for _, net := range svc.Networks {
			if !networkNames[net] {
				return NewDescriptorError(
					"services."+svc.Name+".networks",
					fmt.Sprintf("undeclared network %q", net),
					ErrUnknownNetwork,
				)
			}
		}
		for _, mount := range svc.Volumes {
			if mount.Type == VolumeMountTypeVolume && !volumeNames[mount.Source] {
				return NewDescriptorError(
					"services."+svc.Name+".volumes",
					fmt.Sprintf("undeclared volume %q", mount.Source),
					ErrUnknownVolume,
				)
			}
		}
	}

	return nil
}

// detectDependencyCycles runs a DFS over the depends_on graph.
func detectDependencyCycles(services []Service) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependencyNames()
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrDependencyCycle
			}
		}
	}

	return nil
}

// validatePorts checks every port mapping for range violations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewDescriptorError(field, "target port cannot be 0", ErrInvalidPort)
			}
			if port.Target > 65535 {
				return NewDescriptorError(field, "target port must be <= 65535", ErrInvalidPort)
			}
			if port.Published > 65535 {
				return NewDescriptorError(field, "published port must be <= 65535", ErrInvalidPort)
			}
		}
	}
	return nil
}
