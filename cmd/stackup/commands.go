package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ldvinh/stackup/internal/core/domain"
	"github.com/ldvinh/stackup/internal/core/plan"
	"github.com/ldvinh/stackup/internal/core/stack"
	"github.com/ldvinh/stackup/internal/shell/docker"
	"github.com/ldvinh/stackup/internal/shell/store"
)

// =============================================================================
// Flag Helpers
// =============================================================================

// envFlags collects repeated -e KEY=VALUE flags.
type envFlags map[string]string

func (e envFlags) String() string {
	pairs := make([]string, 0, len(e))
	for k, v := range e {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (e envFlags) Set(value string) error {
	key, val, found := strings.Cut(value, "=")
	if !found || key == "" {
		return fmt.Errorf("expected KEY=VALUE, got %q", value)
	}
	e[key] = val
	return nil
}

// =============================================================================
// Runtime Wiring
// =============================================================================

// runtime bundles the store, daemon client, and orchestrator a
// lifecycle command needs.
type runtime struct {
	cfg    *Config
	store  store.Store
	orch   *docker.Orchestrator
	docker docker.Client
}

func (rt *runtime) Close() {
	rt.docker.Close()
	rt.store.Close()
}

// openRuntime loads config and connects to the database and daemon.
func openRuntime(configPath string) (*runtime, int, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, ExitConfigError, err
	}

	logger := SetupLogger(cfg)

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, ExitDatabaseError, err
	}

	d, err := docker.NewEngineClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, ExitDockerError, err
	}
	if err := d.Ping(); err != nil {
		s.Close()
		d.Close()
		return nil, ExitDockerError, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		store:  s,
		orch:   docker.NewOrchestrator(d, logger),
		docker: d,
	}, ExitSuccess, nil
}

// =============================================================================
// up
// =============================================================================

func cmdUp(args []string) int {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("f", "stack.yaml", "Path to descriptor file")
	name := fs.String("name", "", "Stack name (defaults to the descriptor's name)")
	wait := fs.Bool("wait", false, "Block until all containers report healthy")
	waitTimeout := fs.Duration("wait-timeout", 5*time.Minute, "How long to wait with -wait")
	vars := envFlags{}
	fs.Var(vars, "e", "Set a KEY=VALUE variable (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	spec, descriptor, err := loadDescriptor(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitValidationError
	}

	variables := collectVariables(descriptor, vars)
	if errs := stack.ValidateEnvironment(spec, variables); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
		return ExitValidationError
	}

	stackName := *name
	if stackName == "" {
		stackName = spec.Name
	}

	rt, code, err := openRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.Close()

	ctx := context.Background()

	st, err := rt.store.GetStackByName(ctx, stackName)
	switch {
	case err == nil:
		if ok, reason := domain.CanStart(st.Status); !ok {
			fmt.Fprintf(os.Stderr, "error: cannot start stack %s: %s\n", stackName, reason)
			return ExitStackError
		}
		st.Descriptor = descriptor
		st.Variables = variables
	case errors.Is(err, store.ErrNotFound):
		st, err = domain.NewStack(stackName, descriptor, variables)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return ExitValidationError
		}
		if err := rt.store.CreateStack(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return ExitDatabaseError
		}
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}

	if err := st.Transition(domain.StatusStarting); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}
	if err := rt.store.UpdateStack(ctx, st); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}

	containers, err := rt.orch.Up(ctx, st, spec)
	if err != nil {
		st.TransitionToFailed(err.Error())
		rt.store.UpdateStack(ctx, st)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	st.Containers = containers
	if err := st.Transition(domain.StatusRunning); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}
	if err := rt.store.UpdateStack(ctx, st); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}

	if *wait {
		if err := rt.orch.WaitForHealthy(ctx, st, *waitTimeout); err != nil {
			st.TransitionToFailed(err.Error())
			rt.store.UpdateStack(ctx, st)
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return ExitStackError
		}
	}

	fmt.Printf("stack %s is up (%d containers)\n", stackName, len(containers))
	return ExitSuccess
}

// =============================================================================
// down
// =============================================================================

func cmdDown(args []string) int {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Stack name")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: -name is required")
		return ExitUsageError
	}

	rt, code, err := openRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.Close()

	ctx := context.Background()

	st, err := rt.store.GetStackByName(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	if ok, reason := domain.CanStop(st.Status); !ok {
		fmt.Fprintf(os.Stderr, "error: cannot stop stack %s: %s\n", *name, reason)
		return ExitStackError
	}

	spec, err := stack.Parse(st.Descriptor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: stored descriptor invalid: %v\n", err)
		return ExitStackError
	}

	if err := st.Transition(domain.StatusStopping); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}
	rt.store.UpdateStack(ctx, st)

	if err := rt.orch.Down(ctx, st, spec); err != nil {
		st.TransitionToFailed(err.Error())
		rt.store.UpdateStack(ctx, st)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	if err := st.Transition(domain.StatusStopped); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}
	if err := rt.store.UpdateStack(ctx, st); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}

	fmt.Printf("stack %s stopped\n", *name)
	return ExitSuccess
}

// =============================================================================
// rm
// =============================================================================

func cmdRm(args []string) int {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Stack name")
	keepVolumes := fs.Bool("keep-volumes", false, "Keep named volumes")
	force := fs.Bool("force", false, "Stop the stack first if it is running")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: -name is required")
		return ExitUsageError
	}

	rt, code, err := openRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.Close()

	ctx := context.Background()

	st, err := rt.store.GetStackByName(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	spec, err := stack.Parse(st.Descriptor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: stored descriptor invalid: %v\n", err)
		return ExitStackError
	}

	if st.Status == domain.StatusRunning {
		if !*force {
			fmt.Fprintf(os.Stderr, "error: stack %s is running, stop it first or use -force\n", *name)
			return ExitStackError
		}
		if err := st.Transition(domain.StatusStopping); err == nil {
			if downErr := rt.orch.Down(ctx, st, spec); downErr != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", downErr)
			}
			st.Transition(domain.StatusStopped)
			rt.store.UpdateStack(ctx, st)
		}
	}

	if err := st.Transition(domain.StatusRemoving); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}
	rt.store.UpdateStack(ctx, st)

	if err := rt.orch.Remove(ctx, st, spec, *keepVolumes); err != nil {
		st.TransitionToFailed(err.Error())
		rt.store.UpdateStack(ctx, st)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	if err := rt.store.DeleteStack(ctx, st.ID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}

	fmt.Printf("stack %s removed\n", *name)
	return ExitSuccess
}

// =============================================================================
// ps
// =============================================================================

func cmdPs(args []string) int {
	fs := flag.NewFlagSet("ps", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitConfigError
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}
	defer s.Close()

	stacks, err := s.ListStacks(context.Background(), store.DefaultListOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitDatabaseError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCONTAINERS\tCREATED\tERROR")
	for _, st := range stacks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			st.Name,
			st.Status,
			len(st.Containers),
			st.CreatedAt.Format(time.RFC3339),
			st.ErrorMessage,
		)
	}
	w.Flush()

	return ExitSuccess
}

// =============================================================================
// logs
// =============================================================================

func cmdLogs(args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Stack name")
	service := fs.String("service", "", "Service name")
	tail := fs.String("tail", "100", "Number of trailing log lines")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if *name == "" || *service == "" {
		fmt.Fprintln(os.Stderr, "error: -name and -service are required")
		return ExitUsageError
	}

	rt, code, err := openRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.Close()

	ctx := context.Background()

	st, err := rt.store.GetStackByName(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	logs, err := rt.orch.ServiceLogs(ctx, st, *service, *tail)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitStackError
	}

	fmt.Print(logs)
	return ExitSuccess
}

// =============================================================================
// validate
// =============================================================================

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	file := fs.String("f", "stack.yaml", "Path to descriptor file")
	watch := fs.Bool("watch", false, "Re-validate whenever the file changes")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	code := validateFile(*file)
	if !*watch {
		return code
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitConfigError
	}
	defer watcher.Close()

	if err := watcher.Add(*file); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitConfigError
	}

	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", *file)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			return code
		case event, ok := <-watcher.Events:
			if !ok {
				return code
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				code = validateFile(*file)
				// Editors that replace the file drop the watch.
				watcher.Add(*file)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return code
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func validateFile(path string) int {
	spec, descriptor, err := loadDescriptor(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid: %v\n", path, err)
		return ExitValidationError
	}

	fmt.Printf("%s: valid (%d services, %d networks, %d volumes)\n",
		path, len(spec.Services), len(spec.Networks), len(spec.Volumes))

	if required := stack.RequiredVariables(descriptor); len(required) > 0 {
		fmt.Printf("required variables: %s\n", strings.Join(required, ", "))
	}
	return ExitSuccess
}

// =============================================================================
// render
// =============================================================================

// renderOutput is the document printed by the render command.
type renderOutput struct {
	Stack      string                `yaml:"stack"`
	Images     []plan.ImageBuildPlan `yaml:"images,omitempty"`
	Containers []plan.ContainerPlan  `yaml:"containers"`
}

func cmdRender(args []string) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	file := fs.String("f", "stack.yaml", "Path to descriptor file")
	name := fs.String("name", "", "Stack name (defaults to the descriptor's name)")
	vars := envFlags{}
	fs.Var(vars, "e", "Set a KEY=VALUE variable (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	spec, descriptor, err := loadDescriptor(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitValidationError
	}

	stackName := *name
	if stackName == "" {
		stackName = spec.Name
	}

	variables := collectVariables(descriptor, vars)

	// A fixed placeholder ID keeps render output stable across runs.
	const previewID = "preview"

	networks := make(map[string]string, len(spec.Networks))
	for _, net := range spec.Networks {
		if net.External {
			networks[net.Name] = net.Name
		} else {
			networks[net.Name] = plan.NetworkName(previewID, net.Name)
		}
	}

	out := renderOutput{
		Stack:  stackName,
		Images: plan.BuildImagePlans(spec, stackName),
	}
	for _, svc := range plan.StartOrder(spec.Services) {
		out.Containers = append(out.Containers, plan.BuildContainerPlan(plan.BuildContainerPlanParams{
			StackID:        previewID,
			StackName:      stackName,
			Service:        svc,
			Variables:      variables,
			Networks:       networks,
			DefaultNetwork: plan.NetworkName(previewID, "default"),
		}))
	}

	encoded, err := yaml.Marshal(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitValidationError
	}
	os.Stdout.Write(encoded)
	return ExitSuccess
}

// =============================================================================
// Shared Helpers
// =============================================================================

// loadDescriptor reads and parses a descriptor file. Relative build
// contexts are resolved against the descriptor's directory, not the
// process working directory.
func loadDescriptor(path string) (*stack.Spec, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	spec, err := stack.Parse(string(data))
	if err != nil {
		return nil, "", err
	}

	resolveBuildContexts(spec, filepath.Dir(path))
	return spec, string(data), nil
}

// resolveBuildContexts anchors relative build contexts at baseDir.
func resolveBuildContexts(spec *stack.Spec, baseDir string) {
	for i := range spec.Services {
		build := spec.Services[i].Build
		if build == nil || build.Context == "" || filepath.IsAbs(build.Context) {
			continue
		}
		build.Context = filepath.Join(baseDir, build.Context)
	}
}

// collectVariables resolves descriptor variables from the process
// environment, overridden by explicit -e flags.
func collectVariables(descriptor string, overrides envFlags) map[string]string {
	variables := make(map[string]string)
	for _, name := range stack.Variables(descriptor) {
		if value, ok := os.LookupEnv(name); ok {
			variables[name] = value
		}
	}
	for k, v := range overrides {
		variables[k] = v
	}
	return variables
}
