package plan

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultStepTimeout bounds a single install or build step.
	DefaultStepTimeout = 10 * time.Minute
	// DefaultProbeTimeout bounds a single health probe.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultLaunchTimeout bounds the wait for compose containers to reach
	// the running state after launch.
	DefaultLaunchTimeout = 2 * time.Minute
	// DefaultPathEnvVar is the environment variable the resolved source
	// paths are joined into for child processes.
	DefaultPathEnvVar = "PYTHONPATH"
)

const (
	// DefaultMinStatus and DefaultMaxStatus define the acceptable HTTP
	// status range for a health target when none is configured.
	DefaultMinStatus = 200
	DefaultMaxStatus = 399
)

// =============================================================================
// Plan Types
// =============================================================================

// Step is one discrete, orderable unit of installation or build work.
// Steps execute strictly in plan order; a required step that fails aborts
// the remaining sequence.
type Step struct {
	Name     string        `yaml:"name" json:"name"`
	Command  string        `yaml:"command" json:"command"`
	Args     []string      `yaml:"args,omitempty" json:"args,omitempty"`
	Dir      string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Required bool          `yaml:"required" json:"required"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EffectiveTimeout returns the step timeout, falling back to the default.
func (s Step) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultStepTimeout
}

// HealthTarget is an HTTP endpoint whose reachability indicates a deployed
// service is live. A target is reachable when the response status falls in
// [MinStatus, MaxStatus] within the timeout.
type HealthTarget struct {
	Name      string        `yaml:"name" json:"name"`
	URL       string        `yaml:"url" json:"url"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MinStatus int           `yaml:"min_status,omitempty" json:"min_status,omitempty"`
	MaxStatus int           `yaml:"max_status,omitempty" json:"max_status,omitempty"`

	// Required marks a target whose unreachability fails the run.
	// By default an unreachable target is recorded but non-fatal.
	Required bool `yaml:"required" json:"required"`
}

// EffectiveTimeout returns the probe timeout, falling back to the default.
func (t HealthTarget) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultProbeTimeout
}

// StatusRange returns the acceptable status range with defaults applied.
func (t HealthTarget) StatusRange() (int, int) {
	min, max := t.MinStatus, t.MaxStatus
	if min == 0 {
		min = DefaultMinStatus
	}
	if max == 0 {
		max = DefaultMaxStatus
	}
	return min, max
}

// Accepts reports whether the given HTTP status falls in the target's range.
func (t HealthTarget) Accepts(status int) bool {
	min, max := t.StatusRange()
	return status >= min && status <= max
}

// Plan is the declarative description of one bootstrap-and-deploy run.
// It replaces the per-host script variants with a single parameterized
// document.
type Plan struct {
	// SourcePaths are relative directory candidates resolved against the
	// project root. Overlapping and non-existent entries are allowed; the
	// resolver deduplicates and existence-filters them.
	SourcePaths []string `yaml:"source_paths"`

	// PathEnvVar names the environment variable the resolved paths are
	// joined into for child processes. Defaults to PYTHONPATH.
	PathEnvVar string `yaml:"path_env_var,omitempty"`

	InstallSteps []Step `yaml:"install_steps,omitempty"`
	BuildSteps   []Step `yaml:"build_steps,omitempty"`

	// ComposeFile is the compose file launched after a successful build,
	// relative to the project root. Empty means no container launch.
	ComposeFile string `yaml:"compose_file,omitempty"`

	// ComposeProject is the compose project name. Defaults to the plan
	// name used by the orchestrator.
	ComposeProject string `yaml:"compose_project,omitempty"`

	// LaunchTimeout bounds the wait for launched containers to reach the
	// running state.
	LaunchTimeout time.Duration `yaml:"launch_timeout,omitempty"`

	HealthTargets []HealthTarget `yaml:"health_targets,omitempty"`
}

// EffectiveLaunchTimeout returns the launch timeout with the default applied.
func (p *Plan) EffectiveLaunchTimeout() time.Duration {
	if p.LaunchTimeout > 0 {
		return p.LaunchTimeout
	}
	return DefaultLaunchTimeout
}

// EffectivePathEnvVar returns the path env var name with the default applied.
func (p *Plan) EffectivePathEnvVar() string {
	if p.PathEnvVar != "" {
		return p.PathEnvVar
	}
	return DefaultPathEnvVar
}

// =============================================================================
// Loading
// =============================================================================

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(string(data))
}

// Parse parses plan YAML and validates it.
func Parse(yamlContent string) (*Plan, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyPlan
	}

	var p Plan
	if err := yaml.Unmarshal([]byte(yamlContent), &p); err != nil {
		return nil, NewPlanError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// Validate performs semantic validation on a plan. The first violation is
// returned as a PlanError.
func (p *Plan) Validate() error {
	if len(p.InstallSteps) == 0 && len(p.BuildSteps) == 0 &&
		p.ComposeFile == "" && len(p.HealthTargets) == 0 {
		return NewPlanError("", "plan defines no work", ErrNothingToOrchestrate)
	}

	if err := validateSteps("install_steps", p.InstallSteps); err != nil {
		return err
	}
	if err := validateSteps("build_steps", p.BuildSteps); err != nil {
		return err
	}

	for i, t := range p.HealthTargets {
		field := fmt.Sprintf("health_targets[%d]", i)
		if t.URL == "" {
			return NewPlanError(field+".url", "health target must have a URL", ErrTargetNoURL)
		}
		min, max := t.StatusRange()
		if min > max || min < 100 || max > 599 {
			return NewPlanError(field, fmt.Sprintf("status range %d-%d is invalid", min, max), ErrInvalidStatusRange)
		}
	}

	return nil
}

func validateSteps(field string, steps []Step) error {
	for i, s := range steps {
		if s.Name == "" {
			return NewPlanError(fmt.Sprintf("%s[%d].name", field, i), "step must have a name", ErrStepNoName)
		}
		if s.Command == "" {
			return NewPlanError(fmt.Sprintf("%s[%d].command", field, i), "step must have a command", ErrStepNoCommand)
		}
	}
	return nil
}

// =============================================================================
// Default Plan
// =============================================================================

// Default returns the built-in plan. It mirrors the historical bootstrap
// scripts: upgrade pip, install the pinned requirements plus the extra
// packages the scripts listed by name, build the native bindings in release
// mode, bring the compose stack up, and probe the frontend and backend.
//
// Source path candidates cover both directory layouts the scripts disagreed
// on (lib/... vs dynamo/lib/..., deploy/sdk/... vs dynamo/deploy/sdk/...);
// existence filtering decides which layout is present at run time.
func Default() *Plan {
	return &Plan{
		SourcePaths: []string{
			"deploy/sdk/src",
			"deploy/sdk/src/dynamo/sdk",
			"lib/bindings/python",
			"lib/llm",
			"lib/runtime",
			"dynamo/deploy/sdk/src",
			"dynamo/deploy/sdk/src/dynamo/sdk",
			"dynamo/lib/bindings/python",
			"dynamo/lib/llm",
			"dynamo/lib/runtime",
		},
		PathEnvVar: DefaultPathEnvVar,
		InstallSteps: []Step{
			{
				Name:     "upgrade pip",
				Command:  "python",
				Args:     []string{"-m", "pip", "install", "--upgrade", "pip"},
				Required: true,
			},
			{
				Name:     "install requirements",
				Command:  "python",
				Args:     []string{"-m", "pip", "install", "-r", "requirements.txt"},
				Required: true,
			},
			{
				Name:     "install extras",
				Command:  "python",
				Args:     []string{"-m", "pip", "install", "pytest", "httpx", "uvloop"},
				Required: false,
			},
		},
		BuildSteps: []Step{
			{
				Name:     "build native bindings",
				Command:  "cargo",
				Args:     []string{"build", "--release"},
				Required: true,
				Timeout:  30 * time.Minute,
			},
		},
		ComposeFile:    "deploy/docker-compose.yml",
		ComposeProject: "rampup",
		HealthTargets: []HealthTarget{
			{Name: "backend", URL: "http://localhost:8000/health"},
			{Name: "frontend", URL: "http://localhost:3000/"},
		},
	}
}
