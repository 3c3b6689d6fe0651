// Package runner executes step commands as scoped subprocess invocations,
// locally or on a remote host over SSH.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrTimeout marks a step that exceeded its allotted duration.
	ErrTimeout = errors.New("command timed out")
	// ErrNotStarted marks a command that could not be started at all
	// (not found, permission denied).
	ErrNotStarted = errors.New("command could not be started")
)

// exitCodeNotFound mirrors the shell convention for "command not found".
const exitCodeNotFound = 127

// =============================================================================
// Command Runner
// =============================================================================

// CommandSpec describes one subprocess invocation. Env entries are passed
// explicitly on top of the runner's base environment; the orchestrator's own
// process environment is never mutated.
type CommandSpec struct {
	Name string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE pairs appended to the base environment
}

// Result holds the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns the most useful captured stream for diagnostics: stderr,
// falling back to stdout when stderr is empty.
func (r *Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// CommandRunner abstracts command execution so the installer and
// orchestrator can run against a local host, a remote host, or a fake in
// tests. A non-zero exit is reported via Result.ExitCode together with a
// non-nil error; Result is non-nil whenever the command ran at all.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (*Result, error)
}

// =============================================================================
// Local Execution
// =============================================================================

// ExecRunner executes commands on the local host via os/exec.
type ExecRunner struct {
	// BaseEnv is the environment given to every command before spec.Env
	// is appended. Defaults to a snapshot of the current process
	// environment.
	BaseEnv []string
}

// NewExecRunner creates a local runner with the current process environment
// as its base.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{BaseEnv: os.Environ()}
}

// Run executes the command, capturing stdout and stderr, honoring the
// context deadline as the step timeout.
func (r *ExecRunner) Run(ctx context.Context, spec CommandSpec) (*Result, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir

	base := r.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = append(append([]string{}, base...), spec.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	// Deadline expiry surfaces as a killed process; report it as a timeout.
	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, ErrTimeout
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, err
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		result.ExitCode = exitCodeNotFound
		return result, errors.Join(ErrNotStarted, err)
	}

	result.ExitCode = 1
	return result, err
}
