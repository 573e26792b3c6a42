package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the tests directory or a named script
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when a script exceeds its wall-clock bound.
	ErrTimeout = errors.New("execution timed out")

	// ErrCanceled is returned when the batch context is canceled while a
	// script is running.
	ErrCanceled = errors.New("execution canceled")

	// ErrAllFailed is returned when none of a nonempty set of jobs succeeded.
	ErrAllFailed = errors.New("all jobs failed")
)

// ExecutionError describes a script that exited nonzero or could not be
// launched at all (ExitCode -1).
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed: %v", e.Err)
	}
	return fmt.Sprintf("execution failed with exit code %d: %s", e.ExitCode, e.Stderr)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
