package python

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"imagegen/internal/core/domain"
	"imagegen/internal/core/ports"
)

const (
	DefaultInterpreter = "python3"
	DefaultTimeout     = 30 * time.Minute
)

// Executor runs scripts with a local interpreter binary.
type Executor struct {
	Interpreter string
	Timeout     time.Duration

	// Env is appended to the inherited process environment.
	Env []string
}

// NewExecutor creates a new Executor.
func NewExecutor(interpreter string, timeout time.Duration) *Executor {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{Interpreter: interpreter, Timeout: timeout}
}

// Execute runs scriptPath inside workDir, bounded by e.Timeout.
func (e *Executor) Execute(ctx context.Context, scriptPath, workDir string) (*ports.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.Command(e.Interpreter, scriptPath)
	cmd.Dir = workDir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	// own process group, so a timeout also kills whatever the script spawned
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &domain.ExecutionError{
			ExitCode: -1,
			Err:      fmt.Errorf("starting %s: %w", e.Interpreter, err),
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s after %s: %w", scriptPath, e.Timeout, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w: %v", scriptPath, domain.ErrCanceled, ctx.Err())
	case err = <-done:
	}

	result := &ports.ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &domain.ExecutionError{
				ExitCode: -1,
				Stderr:   stderr.String(),
				Err:      fmt.Errorf("waiting for %s: %w", e.Interpreter, err),
			}
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}
