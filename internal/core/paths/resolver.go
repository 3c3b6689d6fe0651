// Package paths resolves the ordered set of source directories that must be
// importable for the target project. Candidate lists may overlap and may
// reference directories that only exist in one of the historical project
// layouts; resolution deduplicates and existence-filters them.
package paths

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrRootNotFound = errors.New("project root does not exist")
	ErrRootNotDir   = errors.New("project root is not a directory")
	ErrNoValidPaths = errors.New("no valid source paths found")
)

// ResolveError wraps errors with the root that resolution ran against.
type ResolveError struct {
	Root    string
	Message string
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve paths in %s: %s", e.Root, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Resolution
// =============================================================================

// Resolved holds the outcome of a path resolution pass.
type Resolved struct {
	// Paths is the ordered, deduplicated list of absolute, existing
	// source directories. First-seen order is preserved: the first match
	// wins when a module resolves against the list.
	Paths []string

	// Skipped lists the candidate entries that did not exist on disk.
	Skipped []string
}

// Resolve resolves each relative candidate against root, deduplicates by
// absolute path while preserving first-seen order, and skips entries that do
// not exist. An empty result after filtering is an explicit error, never an
// empty success.
func Resolve(root string, candidates []string, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ResolveError{Root: root, Message: err.Error(), Err: ErrRootNotFound}
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, &ResolveError{Root: absRoot, Message: "root does not exist", Err: ErrRootNotFound}
	}
	if !info.IsDir() {
		return nil, &ResolveError{Root: absRoot, Message: "root is not a directory", Err: ErrRootNotDir}
	}

	seen := make(map[string]bool)
	result := &Resolved{}

	for _, rel := range candidates {
		abs := filepath.Clean(filepath.Join(absRoot, rel))

		if seen[abs] {
			continue
		}
		seen[abs] = true

		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			result.Skipped = append(result.Skipped, rel)
			logger.Warn("skipping missing source path", "path", rel, "resolved", abs)
			continue
		}

		result.Paths = append(result.Paths, abs)
	}

	if len(result.Paths) == 0 {
		return nil, &ResolveError{
			Root:    absRoot,
			Message: fmt.Sprintf("none of the %d candidate directories exist", len(candidates)),
			Err:     ErrNoValidPaths,
		}
	}

	return result, nil
}

// Join concatenates the resolved paths with the platform path-list
// separator, suitable for a PYTHONPATH-style environment variable.
func (r *Resolved) Join() string {
	return strings.Join(r.Paths, string(os.PathListSeparator))
}
