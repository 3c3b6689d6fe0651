// Package installer executes an ordered sequence of install or build steps,
// short-circuiting on the first required failure.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/artpar/rampup/internal/core/plan"
	"github.com/artpar/rampup/internal/shell/runner"
)

// =============================================================================
// Error Types
// =============================================================================

// StepError reports a required step that failed, carrying the captured
// output so the operator sees the underlying command's message verbatim.
type StepError struct {
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("step %q failed (exit %d): %s", e.Step, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("step %q failed (exit %d)", e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Installer
// =============================================================================

// maxOutputLen bounds how much captured output is kept per step outcome.
const maxOutputLen = 4096

// Installer runs plan steps through a CommandRunner.
type Installer struct {
	runner runner.CommandRunner
	logger *slog.Logger
}

// New creates an installer.
func New(r runner.CommandRunner, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		runner: r,
		logger: logger.With("component", "installer"),
	}
}

// Run executes steps strictly in order. Each step runs in the given working
// directory with extraEnv appended to the runner's base environment. A
// required step that fails aborts the sequence immediately; the remaining
// steps are recorded as skipped, never invoked. An optional step that fails
// is logged and the sequence continues.
//
// The returned outcomes always cover every step. The error is non-nil only
// for a required failure (or timeout), and is a *StepError.
func (i *Installer) Run(ctx context.Context, phase plan.Phase, steps []plan.Step, dir string, extraEnv []string) ([]plan.StepOutcome, error) {
	outcomes := make([]plan.StepOutcome, 0, len(steps))

	for idx, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, step.EffectiveTimeout())
		result, err := i.runner.Run(stepCtx, runner.CommandSpec{
			Name: step.Command,
			Args: step.Args,
			Dir:  stepDir(step, dir),
			Env:  extraEnv,
		})
		cancel()

		outcome := plan.StepOutcome{
			Name:     step.Name,
			Phase:    phase,
			Required: step.Required,
		}
		if result != nil {
			outcome.ExitCode = result.ExitCode
			outcome.Duration = result.Duration
			outcome.Output = truncate(result.Output(), maxOutputLen)
		}

		if err == nil {
			outcome.Status = plan.StepSucceeded
			outcomes = append(outcomes, outcome)
			i.logger.Info("step succeeded",
				"step", step.Name,
				"duration", outcome.Duration,
			)
			continue
		}

		outcome.Status = plan.StepFailed
		outcome.Error = err.Error()
		outcomes = append(outcomes, outcome)

		if !step.Required {
			i.logger.Warn("optional step failed, continuing",
				"step", step.Name,
				"exit_code", outcome.ExitCode,
				"error", err,
			)
			continue
		}

		i.logger.Error("required step failed, aborting sequence",
			"step", step.Name,
			"exit_code", outcome.ExitCode,
			"error", err,
		)

		// Remaining steps are never invoked.
		for _, rest := range steps[idx+1:] {
			outcomes = append(outcomes, plan.StepOutcome{
				Name:     rest.Name,
				Phase:    phase,
				Status:   plan.StepSkipped,
				Required: rest.Required,
			})
		}

		stepErr := &StepError{
			Step:     step.Name,
			ExitCode: outcome.ExitCode,
			Output:   outcome.Output,
			Err:      err,
		}
		if errors.Is(err, runner.ErrTimeout) {
			stepErr.Output = fmt.Sprintf("timed out after %s", step.EffectiveTimeout())
		}
		return outcomes, stepErr
	}

	return outcomes, nil
}

// stepDir resolves the step working directory: an explicit step dir wins
// (relative dirs resolve against the project root), otherwise the run's
// project root.
func stepDir(step plan.Step, root string) string {
	if step.Dir == "" {
		return root
	}
	if filepath.IsAbs(step.Dir) {
		return step.Dir
	}
	return filepath.Join(root, step.Dir)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
