package ports

import (
	"context"
	"time"

	"imagegen/internal/core/domain"
)

// Environment prepares process-wide state (display server, env vars) that
// scripts need before any of them run.
type Environment interface {
	Prepare(ctx context.Context) error
}

// Transformer rewrites notebook-style script source into a standalone
// script targeting the requested format. It must not fail.
type Transformer interface {
	Transform(source string, format domain.Format) string
}

// ExecResult holds the captured output of one script execution.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Executor defines the contract for running a script as a child process.
type Executor interface {
	// Execute runs scriptPath with workDir as its working directory.
	// A nonzero exit is reported through ExecResult.ExitCode, not an error.
	// Timeouts return domain.ErrTimeout, cancellation domain.ErrCanceled,
	// and launch failures a *domain.ExecutionError.
	Execute(ctx context.Context, scriptPath, workDir string) (*ExecResult, error)
}

// Storage defines the contract for the per-job output tree.
type Storage interface {
	// InitJob creates the job output directory. It is idempotent.
	InitJob(ctx context.Context, jobName string) error

	// Harvest moves every artifact file directly under srcDir into the job
	// output directory and returns the destination paths.
	Harvest(ctx context.Context, srcDir, jobName string) ([]string, error)

	// GetJobPath returns the filesystem path for a given job name.
	GetJobPath(jobName string) string
}
