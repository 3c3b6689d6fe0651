// Package orchestrator sequences one bootstrap-and-deploy run: resolve
// source paths, install dependencies, build artifacts, launch containers,
// health-check the deployed services, and report a single terminal outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/artpar/rampup/internal/core/compose"
	"github.com/artpar/rampup/internal/core/paths"
	"github.com/artpar/rampup/internal/core/plan"
	"github.com/artpar/rampup/internal/shell/docker"
	"github.com/artpar/rampup/internal/shell/health"
	"github.com/artpar/rampup/internal/shell/installer"
	"github.com/artpar/rampup/internal/shell/runner"
	"github.com/artpar/rampup/internal/shell/store"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrRequiredTargetUnreachable marks a run whose required health
	// targets did not come up.
	ErrRequiredTargetUnreachable = errors.New("required health target unreachable")
)

// =============================================================================
// Orchestrator
// =============================================================================

// Config parameterizes a single run.
type Config struct {
	// Root is the project checkout the run operates on.
	Root string

	// Plan describes the work. Required.
	Plan *plan.Plan

	// SkipBuild passes through the build phase without running its steps.
	SkipBuild bool

	// SkipHealthCheck passes through the health-check phase without
	// probing.
	SkipHealthCheck bool
}

// Orchestrator composes the path resolver, installer, container engine, and
// health checker into one sequential run. Install, build, and launch steps
// have real ordering dependencies and execute strictly in sequence; only the
// health probes fan out.
type Orchestrator struct {
	installer *installer.Installer
	checker   *health.Checker

	// engine is nil when launch verification is disabled; compose up still
	// runs, but the orchestrator does not wait for containers or derive
	// health targets from port bindings.
	engine docker.Client

	// history is nil when run persistence is disabled.
	history store.Store

	logger *slog.Logger
}

// New creates an orchestrator. engine and history may be nil.
func New(r runner.CommandRunner, checker *health.Checker, engine docker.Client, history store.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		installer: installer.New(r, logger),
		checker:   checker,
		engine:    engine,
		history:   history,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Run executes one orchestrated run. The returned RunResult is always
// non-nil and terminal; the error is non-nil exactly when the run failed,
// and the result's FailedPhase names the phase that was active.
//
// Install and build steps mutate the host (installed packages, compiled
// binaries); the orchestrator cannot roll those back. A failed run leaves
// the host in whatever state the completed steps produced.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*plan.RunResult, error) {
	p := cfg.Plan
	result := plan.NewRunResult(cfg.Root)

	o.logger.Info("starting run",
		"run_id", result.ID,
		"root", cfg.Root,
		"skip_build", cfg.SkipBuild,
		"skip_health_check", cfg.SkipHealthCheck,
	)

	// 1. Resolve source paths
	if err := result.Transition(plan.PhaseResolvingPaths); err != nil {
		return o.fail(ctx, result, err)
	}

	var childEnv []string
	if len(p.SourcePaths) > 0 {
		resolved, err := paths.Resolve(cfg.Root, p.SourcePaths, o.logger)
		if err != nil {
			return o.fail(ctx, result, err)
		}
		result.SourcePaths = resolved.Paths
		result.SkippedPaths = resolved.Skipped
		childEnv = []string{p.EffectivePathEnvVar() + "=" + resolved.Join()}

		o.logger.Info("resolved source paths",
			"paths", len(resolved.Paths),
			"skipped", len(resolved.Skipped),
		)
	}

	// 2. Install dependencies
	if err := result.Transition(plan.PhaseInstalling); err != nil {
		return o.fail(ctx, result, err)
	}
	outcomes, err := o.installer.Run(ctx, plan.PhaseInstalling, p.InstallSteps, cfg.Root, childEnv)
	result.Steps = append(result.Steps, outcomes...)
	if err != nil {
		return o.fail(ctx, result, err)
	}

	// 3. Build artifacts
	if err := result.Transition(plan.PhaseBuilding); err != nil {
		return o.fail(ctx, result, err)
	}
	if cfg.SkipBuild {
		result.Steps = append(result.Steps, skippedOutcomes(plan.PhaseBuilding, p.BuildSteps)...)
		o.logger.Info("build phase skipped")
	} else {
		outcomes, err := o.installer.Run(ctx, plan.PhaseBuilding, p.BuildSteps, cfg.Root, childEnv)
		result.Steps = append(result.Steps, outcomes...)
		if err != nil {
			return o.fail(ctx, result, err)
		}
	}

	// 4. Launch containers
	if err := result.Transition(plan.PhaseLaunching); err != nil {
		return o.fail(ctx, result, err)
	}
	var project *compose.Project
	if p.ComposeFile != "" {
		project, err = o.launch(ctx, result, cfg, childEnv)
		if err != nil {
			return o.fail(ctx, result, err)
		}
	}

	// 5. Health checks
	if err := result.Transition(plan.PhaseHealthChecking); err != nil {
		return o.fail(ctx, result, err)
	}
	if cfg.SkipHealthCheck {
		o.logger.Info("health-check phase skipped")
	} else {
		targets := p.HealthTargets
		if len(targets) == 0 && project != nil {
			targets = o.deriveTargets(ctx, composeProject(p))
		}
		result.Probes = o.checker.CheckAll(ctx, targets)

		if failed := health.RequiredFailures(result.Probes); len(failed) > 0 {
			return o.fail(ctx, result, fmt.Errorf("%w: %s",
				ErrRequiredTargetUnreachable, strings.Join(failed, ", ")))
		}
	}

	// 6. Done
	if err := result.Transition(plan.PhaseSucceeded); err != nil {
		return o.fail(ctx, result, err)
	}
	o.persist(ctx, result)

	o.logger.Info("run succeeded",
		"run_id", result.ID,
		"duration", result.Duration(),
		"steps", len(result.Steps),
		"probes", len(result.Probes),
	)
	return result, nil
}

// launch parses the compose file, brings the project up, and waits for its
// service containers to reach the running state.
func (o *Orchestrator) launch(ctx context.Context, result *plan.RunResult, cfg Config, childEnv []string) (*compose.Project, error) {
	p := cfg.Plan
	composePath := p.ComposeFile
	if !filepath.IsAbs(composePath) {
		composePath = filepath.Join(cfg.Root, composePath)
	}

	project, err := compose.ParseFile(composePath)
	if err != nil {
		return nil, fmt.Errorf("parse compose file %s: %w", p.ComposeFile, err)
	}

	projectName := composeProject(p)
	upStep := plan.Step{
		Name:     "compose up",
		Command:  "docker",
		Args:     []string{"compose", "-f", composePath, "-p", projectName, "up", "-d"},
		Required: true,
		Timeout:  p.EffectiveLaunchTimeout(),
	}
	outcomes, err := o.installer.Run(ctx, plan.PhaseLaunching, []plan.Step{upStep}, cfg.Root, childEnv)
	result.Steps = append(result.Steps, outcomes...)
	if err != nil {
		return nil, err
	}

	if o.engine != nil {
		err := o.engine.WaitForRunning(ctx, projectName, project.ServiceNames(), p.EffectiveLaunchTimeout())
		if err != nil {
			return nil, err
		}
		o.logger.Info("containers running",
			"project", projectName,
			"services", len(project.Services),
		)
	}

	return project, nil
}

// deriveTargets builds default health targets from the published port
// bindings of the launched project. Derivation failures are non-fatal; the
// run simply has nothing to probe.
func (o *Orchestrator) deriveTargets(ctx context.Context, projectName string) []plan.HealthTarget {
	if o.engine == nil {
		return nil
	}

	endpoints, err := o.engine.PublishedEndpoints(ctx, projectName)
	if err != nil {
		o.logger.Warn("could not derive health targets from port bindings", "error", err)
		return nil
	}

	targets := make([]plan.HealthTarget, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Protocol != "tcp" {
			continue
		}
		targets = append(targets, plan.HealthTarget{
			Name: fmt.Sprintf("%s:%d", ep.Service, ep.ContainerPort),
			URL:  ep.URL(),
		})
	}
	return targets
}

// fail transitions the run to failed, persists it, and returns the error.
func (o *Orchestrator) fail(ctx context.Context, result *plan.RunResult, err error) (*plan.RunResult, error) {
	result.Fail(err)
	o.persist(ctx, result)

	o.logger.Error("run failed",
		"run_id", result.ID,
		"failed_phase", result.FailedPhase,
		"error", err,
	)
	return result, err
}

// persist records the terminal run in the history store, if configured.
// History failures are logged, never fatal: the run outcome stands on its
// own.
func (o *Orchestrator) persist(ctx context.Context, result *plan.RunResult) {
	if o.history == nil {
		return
	}
	if err := o.history.SaveRun(ctx, result); err != nil {
		o.logger.Error("failed to persist run", "run_id", result.ID, "error", err)
	}
}

// skippedOutcomes marks every step of a skipped phase.
func skippedOutcomes(phase plan.Phase, steps []plan.Step) []plan.StepOutcome {
	outcomes := make([]plan.StepOutcome, 0, len(steps))
	for _, s := range steps {
		outcomes = append(outcomes, plan.StepOutcome{
			Name:     s.Name,
			Phase:    phase,
			Status:   plan.StepSkipped,
			Required: s.Required,
		})
	}
	return outcomes
}

func composeProject(p *plan.Plan) string {
	if p.ComposeProject != "" {
		return p.ComposeProject
	}
	return "rampup"
}
