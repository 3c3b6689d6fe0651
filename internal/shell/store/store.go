// Package store persists run history so past bootstrap runs can be
// inspected after the fact.
package store

import (
	"context"

	"github.com/artpar/rampup/internal/core/plan"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for run results.
type Store interface {
	// SaveRun persists a finished (or failed) run.
	SaveRun(ctx context.Context, result *plan.RunResult) error

	// GetRun returns a run by ID.
	GetRun(ctx context.Context, id string) (*plan.RunResult, error)

	// ListRuns returns runs ordered by start time, newest first.
	ListRuns(ctx context.Context, opts ListOptions) ([]plan.RunResult, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  50,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
