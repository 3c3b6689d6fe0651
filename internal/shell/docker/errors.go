package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrTimeout          = errors.New("operation timed out")

	// Project errors
	ErrNoContainers = errors.New("no containers found for project")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Project string // Compose project if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.Project != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Project, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, project, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Project: project,
		Message: message,
		Err:     err,
	}
}
