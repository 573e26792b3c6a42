package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"imagegen/internal/core/domain"
	"imagegen/internal/core/ports"
	"imagegen/internal/core/script"
)

// SelectAll is the selector that schedules every script in the tests
// directory.
const SelectAll = "all"

const scriptExt = ".py"

// Orchestrator coordinates the transform, execute and harvest workflow.
type Orchestrator struct {
	env         ports.Environment
	transformer ports.Transformer
	executor    ports.Executor
	storage     ports.Storage
	logger      *log.Entry
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	env ports.Environment,
	transformer ports.Transformer,
	executor ports.Executor,
	storage ports.Storage,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Orchestrator{
		env:         env,
		transformer: transformer,
		executor:    executor,
		storage:     storage,
		logger:      logger,
	}
}

// Run prepares the environment once, resolves the jobs named by selector and
// runs them in order.
func (o *Orchestrator) Run(
	ctx context.Context,
	selector string,
	testsDir string,
	format domain.Format,
) (*domain.Summary, error) {
	if o.env != nil {
		if err := o.env.Prepare(ctx); err != nil {
			o.logger.WithError(err).Warn("environment preparation failed, continuing")
		}
	}

	jobs, err := o.ResolveJobs(selector, testsDir, format)
	if err != nil {
		return nil, err
	}
	return o.RunAll(ctx, jobs)
}

// ResolveJobs returns the job for the named script, or one job per script
// directly under testsDir when selector is SelectAll.
func (o *Orchestrator) ResolveJobs(selector, testsDir string, format domain.Format) ([]domain.Job, error) {
	info, err := os.Stat(testsDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("tests directory %s: %w", testsDir, domain.ErrNotFound)
	}

	absDir, err := filepath.Abs(testsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving tests directory %s: %w", testsDir, err)
	}

	if selector != SelectAll {
		name := strings.TrimSuffix(selector, scriptExt)
		path := filepath.Join(absDir, name+scriptExt)
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			return nil, fmt.Errorf("test script %s: %w", path, domain.ErrNotFound)
		}
		return []domain.Job{o.newJob(name, path, absDir, format)}, nil
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", absDir, err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || filepath.Ext(name) != scriptExt || script.IsFixedPath(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := make([]domain.Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, o.newJob(
			strings.TrimSuffix(name, scriptExt),
			filepath.Join(absDir, name),
			absDir,
			format,
		))
	}
	return jobs, nil
}

func (o *Orchestrator) newJob(name, path, workDir string, format domain.Format) domain.Job {
	return domain.Job{
		Name:       name,
		SourcePath: path,
		WorkDir:    workDir,
		OutputDir:  o.storage.GetJobPath(name),
		Format:     format,
	}
}

// RunAll runs jobs sequentially. A failed job does not stop the batch; the
// batch fails with domain.ErrAllFailed only when none of a nonempty set of
// jobs succeeded. Cancelling ctx skips the remaining jobs.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []domain.Job) (*domain.Summary, error) {
	summary := &domain.Summary{RunID: uuid.New().String(), Total: len(jobs)}
	logger := o.logger.WithField("run_id", summary.RunID)

	if len(jobs) == 0 {
		logger.Warn("no test scripts to run")
		return summary, nil
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			logger.WithError(err).Warn("batch interrupted, skipping remaining jobs")
			return summary, fmt.Errorf("%w: %v", domain.ErrCanceled, err)
		}

		result := o.runJob(ctx, logger, job)
		summary.Results = append(summary.Results, *result)
		if result.Success {
			summary.Succeeded++
		}
	}

	logger.Infof("completed: %s tests successful", summary)
	if err := ctx.Err(); err != nil {
		logger.WithError(err).Warn("batch interrupted during the last job")
		return summary, fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	if summary.Succeeded == 0 {
		return summary, domain.ErrAllFailed
	}
	return summary, nil
}

// RunJob transforms, executes and harvests a single job. Errors never escape;
// they are recorded in the returned result.
func (o *Orchestrator) RunJob(ctx context.Context, job domain.Job) *domain.RunResult {
	return o.runJob(ctx, o.logger, job)
}

func (o *Orchestrator) runJob(ctx context.Context, logger *log.Entry, job domain.Job) *domain.RunResult {
	logger = logger.WithField("job", job.Name)
	result := &domain.RunResult{Job: job, StartedAt: time.Now().UTC()}
	defer func() { result.CompletedAt = time.Now().UTC() }()

	fail := func(msg string, err error) *domain.RunResult {
		result.ErrorMessage = fmt.Sprintf("%s: %v", msg, err)
		logger.Errorf("%s", result.ErrorMessage)
		return result
	}

	logger.WithField("format", job.Format).
		WithField("output_dir", job.OutputDir).
		Info("processing")

	if err := o.storage.InitJob(ctx, job.Name); err != nil {
		return fail("failed to init job", err)
	}

	source, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return fail("failed to read script", err)
	}

	fixedPath := script.FixedPath(job.SourcePath)
	defer o.removeFixed(logger, fixedPath)

	fixed := o.transformer.Transform(string(source), job.Format)
	if err := os.WriteFile(fixedPath, []byte(fixed), 0644); err != nil {
		return fail("failed to write transformed script", err)
	}

	execResult, err := o.executor.Execute(ctx, fixedPath, job.WorkDir)
	if err != nil {
		var execErr *domain.ExecutionError
		switch {
		case errors.Is(err, domain.ErrTimeout):
			result.TimedOut = true
			return fail("script execution timed out", err)
		case errors.As(err, &execErr):
			result.ExitCode = execErr.ExitCode
			return fail("error executing script", err)
		default:
			return fail("error executing script", err)
		}
	}

	result.ExitCode = execResult.ExitCode
	if execResult.ExitCode != 0 {
		stderr := strings.TrimSpace(string(execResult.Stderr))
		result.ErrorMessage = fmt.Sprintf("error running script (exit code %d): %s", execResult.ExitCode, stderr)
		logger.WithField("exit_code", execResult.ExitCode).
			WithField("stderr", stderr).
			Error("error running script")
		return result
	}
	logger.WithField("duration", execResult.Duration.Round(time.Millisecond)).
		WithField("stdout", string(execResult.Stdout)).
		Debug("script finished")

	artifacts, err := o.storage.Harvest(ctx, job.WorkDir, job.Name)
	result.Artifacts = artifacts
	if err != nil {
		return fail("failed to collect artifacts", err)
	}

	result.Success = true
	logger.WithField("artifacts", len(artifacts)).Infof("generated %d files", len(artifacts))
	for _, path := range artifacts {
		logger.Debugf("  - %s", path)
	}
	return result
}

func (o *Orchestrator) removeFixed(logger *log.Entry, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Errorf("cleaning up transformed script %s", path)
	}
}
