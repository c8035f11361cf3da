package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldvinh/stackup/internal/core/stack"
)

func dbService() stack.Service {
	return stack.Service{
		Name:  "db",
		Image: "postgres:16",
		Environment: map[string]string{
			"POSTGRES_USER":     "${DB_USER}",
			"POSTGRES_PASSWORD": "${DB_PASSWORD}",
			"POSTGRES_DB":       "${DB_NAME:-agent}",
		},
		Volumes: []stack.VolumeMount{
			{Type: stack.VolumeMountTypeVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
		},
		Networks: []string{"backend"},
		HealthCheck: &stack.HealthCheck{
			Test:        []string{"CMD-SHELL", "pg_isready -U $DB_USER"},
			Interval:    "5s",
			Timeout:     "3s",
			Retries:     5,
			StartPeriod: "10s",
		},
		Restart: stack.RestartUnlessStopped,
	}
}

func TestBuildContainerPlan_Basic(t *testing.T) {
	p := BuildContainerPlan(BuildContainerPlanParams{
		StackID:   "abc123",
		StackName: "agent-stack",
		Service:   dbService(),
		Variables: map[string]string{"DB_USER": "agent", "DB_PASSWORD": "s3cret"},
		Networks:  map[string]string{"backend": "stackup_abc123_backend"},
	})

	assert.Equal(t, "db", p.ServiceName)
	assert.Equal(t, "stackup_abc123_db", p.Name)
	assert.Equal(t, "postgres:16", p.Image)
	assert.Equal(t, []string{"stackup_abc123_backend"}, p.Networks)
	assert.Equal(t, []string{"db"}, p.NetworkAliases)
}

func TestBuildContainerPlan_EnvironmentSubstitution(t *testing.T) {
	p := BuildContainerPlan(BuildContainerPlanParams{
		StackID:   "abc123",
		StackName: "agent-stack",
		Service:   dbService(),
		Variables: map[string]string{"DB_USER": "agent", "DB_PASSWORD": "s3cret"},
	})

	assert.Equal(t, "agent", p.Env["POSTGRES_USER"])
	assert.Equal(t, "s3cret", p.Env["POSTGRES_PASSWORD"])
	assert.Equal(t, "agent", p.Env["POSTGRES_DB"]) // default applied
}

func TestBuildContainerPlan_NamedVolumePrefixed(t *testing.T) {
	p := BuildContainerPlan(BuildContainerPlanParams{
		StackID: "abc123",
		Service: dbService(),
	})

	require.Len(t, p.Volumes, 1)
	assert.Equal(t, "stackup_abc123_pgdata", p.Volumes[0].Source)
	assert.Equal(t, "/var/lib/postgresql/data", p.Volumes[0].Target)
}

func TestBuildContainerPlan_BindMountUnprefixed(t *testing.T) {
	svc := stack.Service{
		Name:  "app",
		Image: "app:1.0",
		Volumes: []stack.VolumeMount{
			{Type: stack.VolumeMountTypeBind, Source: "/etc/conf", Target: "/conf", ReadOnly: true},
		},
	}

	p := BuildContainerPlan(BuildContainerPlanParams{StackID: "abc123", Service: svc})
	require.Len(t, p.Volumes, 1)
	assert.Equal(t, "/etc/conf", p.Volumes[0].Source)
	assert.True(t, p.Volumes[0].ReadOnly)
}

func TestBuildContainerPlan_HealthCheckDurations(t *testing.T) {
	p := BuildContainerPlan(BuildContainerPlanParams{StackID: "abc123", Service: dbService()})

	require.NotNil(t, p.HealthCheck)
	assert.Equal(t, 5*time.Second, p.HealthCheck.Interval)
	assert.Equal(t, 3*time.Second, p.HealthCheck.Timeout)
	assert.Equal(t, 5, p.HealthCheck.Retries)
	assert.Equal(t, 10*time.Second, p.HealthCheck.StartPeriod)
}

func TestBuildContainerPlan_BuiltServiceGetsImageTag(t *testing.T) {
	svc := stack.Service{
		Name:  "app",
		Build: &stack.BuildConfig{Context: "ai-agent-service"},
	}

	p := BuildContainerPlan(BuildContainerPlanParams{
		StackID:   "abc123",
		StackName: "agent-stack",
		Service:   svc,
	})

	assert.Equal(t, "stackup/agent-stack_app:latest", p.Image)
}

func TestBuildContainerPlan_ExplicitImageWinsOverBuild(t *testing.T) {
	svc := stack.Service{
		Name:  "app",
		Image: "app:pinned",
		Build: &stack.BuildConfig{Context: "app-src"},
	}

	p := BuildContainerPlan(BuildContainerPlanParams{StackID: "abc123", StackName: "s", Service: svc})
	assert.Equal(t, "app:pinned", p.Image)
}

func TestBuildContainerPlan_DefaultNetwork(t *testing.T) {
	svc := stack.Service{Name: "app", Image: "app:1.0"}

	p := BuildContainerPlan(BuildContainerPlanParams{
		StackID:        "abc123",
		Service:        svc,
		DefaultNetwork: "stackup_abc123_default",
	})

	assert.Equal(t, []string{"stackup_abc123_default"}, p.Networks)
}

func TestBuildContainerPlan_ManagementLabels(t *testing.T) {
	svc := dbService()
	svc.Labels = map[string]string{"team": "platform"}

	p := BuildContainerPlan(BuildContainerPlanParams{StackID: "abc123", Service: svc})

	assert.Equal(t, "true", p.Labels[LabelManaged])
	assert.Equal(t, "abc123", p.Labels[LabelStack])
	assert.Equal(t, "db", p.Labels[LabelService])
	assert.Equal(t, "platform", p.Labels["team"])
}

func TestBuildContainerPlan_Ports(t *testing.T) {
	svc := stack.Service{
		Name:  "app",
		Image: "app:1.0",
		Ports: []stack.Port{
			{Target: 8000, Published: 8000, Protocol: "tcp"},
			{Target: 9000},
		},
	}

	p := BuildContainerPlan(BuildContainerPlanParams{StackID: "abc123", Service: svc})
	require.Len(t, p.Ports, 2)
	assert.Equal(t, PortPlan{ContainerPort: 8000, HostPort: 8000, Protocol: "tcp"}, p.Ports[0])
	assert.Equal(t, PortPlan{ContainerPort: 9000}, p.Ports[1])
}

func TestBuildContainerPlan_WaitForCarriesConditions(t *testing.T) {
	svc := stack.Service{
		Name:  "app",
		Image: "app:1.0",
		DependsOn: []stack.Dependency{
			{Service: "db", Condition: stack.ConditionHealthy},
		},
	}

	p := BuildContainerPlan(BuildContainerPlanParams{StackID: "abc123", Service: svc})
	require.Len(t, p.WaitFor, 1)
	assert.Equal(t, "db", p.WaitFor[0].Service)
	assert.Equal(t, stack.ConditionHealthy, p.WaitFor[0].Condition)
}

func TestMapRestartPolicy(t *testing.T) {
	tests := []struct {
		policy stack.RestartPolicy
		want   string
	}{
		{stack.RestartAlways, "always"},
		{stack.RestartOnFailure, "on-failure"},
		{stack.RestartUnlessStopped, "unless-stopped"},
		{stack.RestartNo, "no"},
		{stack.RestartPolicy(""), "no"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, mapRestartPolicy(tt.policy).Name)
		})
	}
}

func TestBuildImagePlans(t *testing.T) {
	spec := &stack.Spec{
		Name: "agent-stack",
		Services: []stack.Service{
			{
				Name: "app",
				Build: &stack.BuildConfig{
					Context:    "ai-agent-service",
					Dockerfile: "Dockerfile",
					Args:       map[string]string{"VERSION": "1.0"},
				},
			},
			{Name: "db", Image: "postgres:16"},
		},
	}

	plans := BuildImagePlans(spec, "agent-stack")
	require.Len(t, plans, 1)
	assert.Equal(t, "app", plans[0].ServiceName)
	assert.Equal(t, "stackup/agent-stack_app:latest", plans[0].Tag)
	assert.Equal(t, "ai-agent-service", plans[0].Context)
	assert.Equal(t, "Dockerfile", plans[0].Dockerfile)
	assert.Equal(t, "1.0", plans[0].Args["VERSION"])
}

func TestBuildImagePlans_ExplicitTagKept(t *testing.T) {
	spec := &stack.Spec{
		Services: []stack.Service{
			{Name: "app", Image: "app:pinned", Build: &stack.BuildConfig{Context: "app-src"}},
		},
	}

	plans := BuildImagePlans(spec, "s")
	require.Len(t, plans, 1)
	assert.Equal(t, "app:pinned", plans[0].Tag)
}
