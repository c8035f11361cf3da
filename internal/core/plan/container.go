package plan

import (
	"time"

	"github.com/ldvinh/stackup/internal/core/stack"
)

// =============================================================================
// Container Plan Building
// =============================================================================

// BuildContainerPlan builds a ContainerPlan from a service declaration
// and deploy-time parameters.
//
// The function:
//   - generates the container name with ContainerName
//   - resolves the image (built services get their ImageTag)
//   - substitutes ${VAR} placeholders in environment values
//   - prefixes named volume sources with the stack ID
//   - parses health check durations
//   - maps the restart policy to runtime terms
//   - stamps management labels and merges service labels
//   - carries the depends_on conditions for the shell to gate on
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	svc := params.Service

	p := ContainerPlan{
		ServiceName: svc.Name,
		Name:        ContainerName(params.StackID, svc.Name),
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Env:         make(map[string]string),
		Labels: map[string]string{
			LabelManaged: "true",
			LabelStack:   params.StackID,
			LabelService: svc.Name,
		},
		NetworkAliases: []string{svc.Name},
		WaitFor:        svc.DependsOn,
	}

	if len(svc.Networks) > 0 {
		for _, net := range svc.Networks {
			if runtime, ok := params.Networks[net]; ok {
				p.Networks = append(p.Networks, runtime)
			}
		}
	} else if params.DefaultNetwork != "" {
		p.Networks = []string{params.DefaultNetwork}
	}

	if svc.Build != nil && p.Image == "" {
		p.Image = ImageTag(params.StackName, svc.Name)
	}

	for k, v := range svc.Environment {
		p.Env[k] = stack.Substitute(v, params.Variables)
	}

	for _, port := range svc.Ports {
		p.Ports = append(p.Ports, PortPlan{
			ContainerPort: int(port.Target),
			HostPort:      int(port.Published),
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == stack.VolumeMountTypeVolume {
			source = VolumeName(params.StackID, v.Source)
		}
		p.Volumes = append(p.Volumes, VolumePlan{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		p.HealthCheck = buildHealthCheckPlan(svc.HealthCheck)
	}

	p.RestartPolicy = mapRestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		p.Labels[k] = v
	}

	return p
}

// BuildImagePlans returns the image builds a spec requires, in service
// name order (Parse sorts services).
func BuildImagePlans(spec *stack.Spec, stackName string) []ImageBuildPlan {
	var plans []ImageBuildPlan
	for _, svc := range spec.Services {
		if svc.Build == nil {
			continue
		}
		tag := svc.Image
		if tag == "" {
			tag = ImageTag(stackName, svc.Name)
		}
		plans = append(plans, ImageBuildPlan{
			ServiceName: svc.Name,
			Tag:         tag,
			Context:     svc.Build.Context,
			Dockerfile:  svc.Build.Dockerfile,
			Args:        svc.Build.Args,
		})
	}
	return plans
}

// buildHealthCheckPlan parses the string durations of a descriptor
// health check. Unparseable durations are left at zero and the runtime
// applies its defaults.
func buildHealthCheckPlan(hc *stack.HealthCheck) *HealthCheckPlan {
	p := &HealthCheckPlan{
		Test:    hc.Test,
		Retries: hc.Retries,
	}
	if hc.Interval != "" {
		if d, err := time.ParseDuration(hc.Interval); err == nil {
			p.Interval = d
		}
	}
	if hc.Timeout != "" {
		if d, err := time.ParseDuration(hc.Timeout); err == nil {
			p.Timeout = d
		}
	}
	if hc.StartPeriod != "" {
		if d, err := time.ParseDuration(hc.StartPeriod); err == nil {
			p.StartPeriod = d
		}
	}
	return p
}

// mapRestartPolicy maps a descriptor restart policy to the runtime name.
func mapRestartPolicy(policy stack.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case stack.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case stack.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case stack.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
