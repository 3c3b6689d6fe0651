package plan

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Step Outcomes
// =============================================================================

// StepStatus classifies how a single step ended.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepOutcome records one executed (or skipped) step.
type StepOutcome struct {
	Name     string        `json:"name"`
	Phase    Phase         `json:"phase"`
	Status   StepStatus    `json:"status"`
	Required bool          `json:"required"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`

	// Output holds the tail of the step's captured stderr (stdout if stderr
	// was empty) so a failure surfaces the underlying command's message
	// verbatim.
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ProbeOutcome records one health-check probe.
type ProbeOutcome struct {
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Reachable  bool          `json:"reachable"`
	Required   bool          `json:"required"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Diagnostic string        `json:"diagnostic,omitempty"`
}

// =============================================================================
// Run Result
// =============================================================================

// RunResult is the accumulated outcome of one orchestrated run. It is the
// single source for the process exit code, the operator-facing summary, and
// the persisted run history row.
type RunResult struct {
	ID    string `json:"id"`
	Root  string `json:"root"`
	Phase Phase  `json:"phase"`

	// FailedPhase is the phase that was active when the run failed.
	// Empty on success.
	FailedPhase  Phase  `json:"failed_phase,omitempty"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	SourcePaths  []string `json:"source_paths,omitempty"`
	SkippedPaths []string `json:"skipped_paths,omitempty"`

	Steps  []StepOutcome  `json:"steps,omitempty"`
	Probes []ProbeOutcome `json:"probes,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRunResult creates a run result in the init phase.
func NewRunResult(root string) *RunResult {
	return &RunResult{
		ID:        uuid.New().String(),
		Root:      root,
		Phase:     PhaseInit,
		StartedAt: time.Now().UTC(),
	}
}

// Transition advances the run to the next phase, validating against the
// phase state machine.
func (r *RunResult) Transition(to Phase) error {
	if err := ValidateTransition(r.Phase, to); err != nil {
		return err
	}

	if to == PhaseFailed {
		r.FailedPhase = r.Phase
	}
	r.Phase = to

	if r.Phase.Terminal() {
		now := time.Now().UTC()
		r.FinishedAt = &now
		r.Success = r.Phase == PhaseSucceeded
	}

	return nil
}

// Fail transitions the run to failed and records the error message.
func (r *RunResult) Fail(err error) {
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	// Transition from a non-terminal phase to failed is always valid.
	_ = r.Transition(PhaseFailed)
}

// Duration returns the wall-clock duration of the run so far, or total
// duration once finished.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// FirstFailedStep returns the first step outcome that failed, if any.
func (r *RunResult) FirstFailedStep() *StepOutcome {
	for i := range r.Steps {
		if r.Steps[i].Status == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}
