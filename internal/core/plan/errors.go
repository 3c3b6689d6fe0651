// Package plan defines the declarative bootstrap plan: source path
// candidates, install and build steps, container launch settings, and
// health-check targets. This is part of the Functional Core - apart from
// reading the plan file, all functions are pure.
package plan

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyPlan = errors.New("plan is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Step validation errors
	ErrStepNoName    = errors.New("step must have a name")
	ErrStepNoCommand = errors.New("step must have a command")

	// Health target validation errors
	ErrTargetNoURL          = errors.New("health target must have a URL")
	ErrInvalidStatusRange   = errors.New("invalid status range")
	ErrInvalidTransition    = errors.New("invalid phase transition")
	ErrNothingToOrchestrate = errors.New("plan defines no steps, compose file, or health targets")
)

// PlanError wraps errors with context about where plan validation failed.
type PlanError struct {
	Field   string // e.g., "install_steps[2].command"
	Message string
	Err     error
}

func (e *PlanError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// NewPlanError creates a new PlanError.
func NewPlanError(field, message string, err error) *PlanError {
	return &PlanError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
