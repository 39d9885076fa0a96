// Package runner executes the steps of a single job in order and reports
// the job's conclusion.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/pkg/eventbus"
	"github.com/conveyorci/conveyor/pkg/events"
	"github.com/conveyorci/conveyor/pkg/executor"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/conveyorci/conveyor/pkg/protocol"
	"github.com/conveyorci/conveyor/pkg/registry"
	"github.com/conveyorci/conveyor/pkg/template"
	"github.com/conveyorci/conveyor/pkg/vault"
)

const maxInfraAttempts = 3

// Runner runs one job at a time. Steps execute strictly in order; a failed
// step makes the remaining on_success steps skip through their conditions.
type Runner struct {
	executor       *executor.ShellExecutor
	registry       *registry.Registry
	vault          *vault.Vault
	runs           persistence.RunRepository
	publisher      eventbus.EventPublisher
	logger         *slog.Logger
	workspaceRoot  string
	organizationID string
}

type Config struct {
	Executor       *executor.ShellExecutor
	Registry       *registry.Registry
	Vault          *vault.Vault
	Runs           persistence.RunRepository
	Publisher      eventbus.EventPublisher
	Logger         *slog.Logger
	WorkspaceRoot  string
	OrganizationID string
}

func New(cfg Config) *Runner {
	return &Runner{
		executor:       cfg.Executor,
		registry:       cfg.Registry,
		vault:          cfg.Vault,
		runs:           cfg.Runs,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger,
		workspaceRoot:  cfg.WorkspaceRoot,
		organizationID: cfg.OrganizationID,
	}
}

// RunJob executes the job's steps and returns the job's conclusion. The
// returned error reports infrastructure trouble (persistence, workspace);
// step failures are conclusions, not errors.
func (r *Runner) RunJob(ctx context.Context, run *models.Run, job *models.Job) (models.Conclusion, error) {
	logger := r.logger.With("run_id", run.ID, "job_id", job.JobID)

	now := time.Now().UTC()
	job.Status = models.StatusInProgress
	job.StartedAt = &now

	if err := r.runs.UpdateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to mark job in progress: %w", err)
	}

	r.publishJobStarted(ctx, run, job)
	logger.InfoContext(ctx, "Job started", "steps", len(job.Steps))

	workspace, err := r.prepareWorkspace(run, job)
	if err != nil {
		return "", err
	}

	successSoFar := true
	sawFailure := false
	sawTimeout := false
	cancelled := false
	executedAny := false

	for _, step := range job.Steps {
		if cancelled || ctx.Err() != nil {
			cancelled = true

			r.concludeStep(ctx, run, job, step, models.ConclusionCancelled, nil)

			continue
		}

		conclusion := r.runStep(ctx, run, job, step, workspace, successSoFar, logger)

		switch conclusion {
		case models.ConclusionSkipped:
		case models.ConclusionCancelled:
			cancelled = true
		case models.ConclusionSuccess:
			executedAny = true
		case models.ConclusionTimedOut:
			executedAny = true

			if !step.ContinueOnError {
				successSoFar = false
				sawTimeout = true
			}
		case models.ConclusionFailure:
			executedAny = true

			if !step.ContinueOnError {
				successSoFar = false
				sawFailure = true
			}
		}
	}

	conclusion := jobConclusion(cancelled, sawTimeout, sawFailure, executedAny)

	completed := time.Now().UTC()
	job.Status = terminalStatus(conclusion)
	job.Conclusion = conclusion
	job.CompletedAt = &completed

	if err := r.runs.UpdateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to record job conclusion: %w", err)
	}

	r.publishJobFinished(ctx, run, job)
	logger.InfoContext(ctx, "Job finished", "conclusion", conclusion, "duration", job.Duration())

	return conclusion, nil
}

func jobConclusion(cancelled, sawTimeout, sawFailure, executedAny bool) models.Conclusion {
	switch {
	case cancelled:
		return models.ConclusionCancelled
	case sawTimeout:
		return models.ConclusionTimedOut
	case sawFailure:
		return models.ConclusionFailure
	case !executedAny:
		return models.ConclusionSkipped
	default:
		return models.ConclusionSuccess
	}
}

func terminalStatus(conclusion models.Conclusion) models.Status {
	switch conclusion {
	case models.ConclusionCancelled:
		return models.StatusCancelled
	case models.ConclusionFailure, models.ConclusionTimedOut:
		return models.StatusFailed
	default:
		return models.StatusCompleted
	}
}

func (r *Runner) runStep(ctx context.Context, run *models.Run, job *models.Job, step *models.Step, workspace string, successSoFar bool, logger *slog.Logger) models.Conclusion {
	shouldRun, err := step.Condition.ShouldRun(models.ConditionContext{
		SuccessSoFar: successSoFar,
		Event:        run.Event,
		Matrix:       job.Matrix,
	})
	if err != nil {
		logger.WarnContext(ctx, "Step condition failed to evaluate", "step", step.Number, "error", err)
		r.concludeStep(ctx, run, job, step, models.ConclusionFailure, nil)

		return models.ConclusionFailure
	}

	if !shouldRun {
		r.concludeStep(ctx, run, job, step, models.ConclusionSkipped, nil)

		return models.ConclusionSkipped
	}

	started := time.Now().UTC()
	step.Status = models.StatusInProgress
	step.StartedAt = &started

	if err := r.runs.UpdateStep(ctx, step); err != nil {
		logger.WarnContext(ctx, "Failed to mark step in progress", "step", step.Number, "error", err)
	}

	secrets, err := r.resolveSecrets(ctx, run, step)
	if err != nil {
		logger.ErrorContext(ctx, "Secret resolution failed", "step", step.Number, "error", err)

		step.Stderr = err.Error() + "\n"
		r.concludeStep(ctx, run, job, step, models.ConclusionFailure, nil)

		return models.ConclusionFailure
	}

	rendered, err := renderStep(run, job, step)
	if err != nil {
		logger.ErrorContext(ctx, "Step template failed to render", "step", step.Number, "error", err)

		step.Stderr = err.Error() + "\n"
		r.concludeStep(ctx, run, job, step, models.ConclusionFailure, nil)

		return models.ConclusionFailure
	}

	var execution *executor.Execution

	if step.IsAction() {
		execution, err = r.runAction(ctx, run, job, rendered, workspace, secrets, logger)
	} else {
		// Stream output into the stored step so it is visible while the
		// step is still running. The raw template text stays untouched.
		streamer := r.newStepStreamer(step)
		execution, err = r.runShell(ctx, run, job, rendered, workspace, secrets, streamer.outputFunc(ctx))
	}

	if err != nil {
		logger.ErrorContext(ctx, "Step could not be executed", "step", step.Number, "error", err)

		step.Stderr = err.Error() + "\n"
		r.concludeStep(ctx, run, job, step, models.ConclusionFailure, nil)

		return models.ConclusionFailure
	}

	step.Stdout = execution.Stdout
	step.Stderr = execution.Stderr

	conclusion := executionConclusion(execution)
	r.concludeStep(ctx, run, job, step, conclusion, &execution.ExitCode)

	return conclusion
}

func executionConclusion(execution *executor.Execution) models.Conclusion {
	switch {
	case execution.TimedOut:
		return models.ConclusionTimedOut
	case execution.Cancelled:
		return models.ConclusionCancelled
	case execution.ExitCode == 0:
		return models.ConclusionSuccess
	default:
		return models.ConclusionFailure
	}
}

func (r *Runner) runShell(ctx context.Context, run *models.Run, job *models.Job, step *models.Step, workspace string, secrets map[string]string, onOutput executor.OutputFunc) (*executor.Execution, error) {
	command := executor.Command{
		Script:     step.Run,
		WorkingDir: stepWorkingDir(workspace, step),
		Env:        r.stepEnv(run, job, step, workspace),
		Secrets:    secrets,
		Timeout:    step.Timeout,
	}

	var (
		execution *executor.Execution
		err       error
	)

	for attempt := 1; attempt <= maxInfraAttempts; attempt++ {
		execution, err = r.executor.Run(ctx, command, onOutput)
		if err == nil {
			return execution, nil
		}

		r.logger.WarnContext(ctx, "Step process failed to start",
			"step", step.Number, "attempt", attempt, "error", err)
	}

	return nil, err
}

const streamFlushInterval = time.Second

// stepStreamer accumulates output lines as the process produces them and
// flushes them into the persisted step record, throttled to at most one
// write per streamFlushInterval after the first line.
type stepStreamer struct {
	mu        sync.Mutex
	runs      persistence.RunRepository
	logger    *slog.Logger
	step      *models.Step
	stdout    strings.Builder
	stderr    strings.Builder
	lastFlush time.Time
}

func (r *Runner) newStepStreamer(step *models.Step) *stepStreamer {
	return &stepStreamer{runs: r.runs, logger: r.logger, step: step}
}

func (s *stepStreamer) outputFunc(ctx context.Context) executor.OutputFunc {
	return func(stream, line string) {
		s.append(ctx, stream, line)
	}
}

func (s *stepStreamer) append(ctx context.Context, stream, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stream == "stderr" {
		s.stderr.WriteString(line + "\n")
	} else {
		s.stdout.WriteString(line + "\n")
	}

	if time.Since(s.lastFlush) < streamFlushInterval {
		return
	}

	s.step.Stdout = s.stdout.String()
	s.step.Stderr = s.stderr.String()

	if err := s.runs.UpdateStep(ctx, s.step); err != nil {
		s.logger.WarnContext(ctx, "Failed to flush step output", "step", s.step.Number, "error", err)
	}

	s.lastFlush = time.Now()
}

func (r *Runner) runAction(ctx context.Context, run *models.Run, job *models.Job, step *models.Step, workspace string, secrets map[string]string, logger *slog.Logger) (*executor.Execution, error) {
	action, err := r.registry.CreateAction(step.Uses, step.With)
	if err != nil {
		return nil, err
	}

	env := r.stepEnv(run, job, step, workspace)
	for key, value := range secrets {
		env[key] = value
	}

	timeoutCtx := ctx

	if step.Timeout > 0 {
		var cancel context.CancelFunc

		timeoutCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	result, err := action.Execute(timeoutCtx, protocol.ActionContext{
		RunID:      run.ID,
		JobID:      job.JobID,
		StepNumber: step.Number,
		WorkingDir: stepWorkingDir(workspace, step),
		Env:        env,
		Matrix:     job.Matrix,
	}, logger)
	if err != nil {
		if timeoutCtx.Err() != nil && ctx.Err() == nil {
			return &executor.Execution{TimedOut: true, Stderr: err.Error() + "\n"}, nil
		}

		return nil, err
	}

	return &executor.Execution{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, nil
}

func (r *Runner) resolveSecrets(ctx context.Context, run *models.Run, step *models.Step) (map[string]string, error) {
	if len(step.Secrets) == 0 {
		return nil, nil
	}

	return r.vault.Resolve(ctx, run.ProjectID, r.organizationID, step.Secrets)
}

func (r *Runner) concludeStep(ctx context.Context, run *models.Run, job *models.Job, step *models.Step, conclusion models.Conclusion, exitCode *int) {
	completed := time.Now().UTC()

	step.Status = terminalStatus(conclusion)
	step.Conclusion = conclusion
	step.ExitCode = exitCode
	step.CompletedAt = &completed

	if step.StartedAt == nil {
		step.StartedAt = &completed
	}

	if err := r.runs.UpdateStep(ctx, step); err != nil {
		r.logger.WarnContext(ctx, "Failed to record step conclusion",
			"run_id", run.ID, "job_id", job.JobID, "step", step.Number, "error", err)
	}

	r.publishStepFinished(ctx, run, job, step)
}

func (r *Runner) prepareWorkspace(run *models.Run, job *models.Job) (string, error) {
	dir := filepath.Join(r.workspaceRoot, run.ID, sanitize(job.JobID))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}

	return dir, nil
}

func stepWorkingDir(workspace string, step *models.Step) string {
	if step.WorkingDir == "" {
		return workspace
	}

	return filepath.Join(workspace, step.WorkingDir)
}

// stepEnv builds the injected environment a step can rely on, merged with
// the step's own env block.
func (r *Runner) stepEnv(run *models.Run, job *models.Job, step *models.Step, workspace string) map[string]string {
	env := map[string]string{
		"CONVEYOR_WORKSPACE":  workspace,
		"CONVEYOR_REPOSITORY": run.ProjectID,
		"CONVEYOR_RUN_ID":     run.ID,
		"CONVEYOR_RUN_NUMBER": strconv.FormatInt(run.RunNumber, 10),
		"CONVEYOR_JOB":        job.JobID,
		"CONVEYOR_SHA":        run.CommitSHA,
		"CONVEYOR_REF":        run.Ref,
		"CI":                  "true",
	}

	for key, value := range job.Matrix {
		env["CONVEYOR_MATRIX_"+strings.ToUpper(key)] = value
	}

	for key, value := range step.Env {
		env[key] = value
	}

	return env
}

// renderStep interpolates ${{ ... }} placeholders in the step's script, env
// block and action parameters. The stored step keeps the raw template text.
func renderStep(run *models.Run, job *models.Job, step *models.Step) (*models.Step, error) {
	data := templateData(run, job)

	rendered := *step

	script, err := template.Render(step.Run, data)
	if err != nil {
		return nil, err
	}

	rendered.Run = script

	rendered.Env, err = template.RenderStringMap(step.Env, data)
	if err != nil {
		return nil, err
	}

	rendered.With, err = template.RenderMap(step.With, data)
	if err != nil {
		return nil, err
	}

	return &rendered, nil
}

func templateData(run *models.Run, job *models.Job) map[string]any {
	return map[string]any{
		"matrix": job.Matrix,
		"event":  string(run.Event),
		"run": map[string]any{
			"id":     run.ID,
			"number": run.RunNumber,
			"sha":    run.CommitSHA,
			"ref":    run.Ref,
		},
		"job": map[string]any{
			"id":   job.JobID,
			"name": job.Name,
		},
	}
}

func sanitize(id string) string {
	replacer := strings.NewReplacer("(", "", ")", "", ",", "", " ", "_", "=", "-", "/", "-")

	return replacer.Replace(id)
}

func (r *Runner) publishJobStarted(ctx context.Context, run *models.Run, job *models.Job) {
	r.publish(ctx, run, events.JobStarted{
		BaseEvent: r.baseEvent(run, events.JobStartedEvent),
		JobID:     job.JobID,
	})
}

func (r *Runner) publishJobFinished(ctx context.Context, run *models.Run, job *models.Job) {
	r.publish(ctx, run, events.JobFinished{
		BaseEvent:  r.baseEvent(run, events.JobFinishedEvent),
		JobID:      job.JobID,
		Conclusion: job.Conclusion,
		Duration:   job.Duration(),
	})
}

func (r *Runner) publishStepFinished(ctx context.Context, run *models.Run, job *models.Job, step *models.Step) {
	r.publish(ctx, run, events.StepFinished{
		BaseEvent:  r.baseEvent(run, events.StepFinishedEvent),
		JobID:      job.JobID,
		StepNumber: step.Number,
		Conclusion: step.Conclusion,
		ExitCode:   step.ExitCode,
	})
}

func (r *Runner) baseEvent(run *models.Run, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		ProjectID:    run.ProjectID,
	}
}

func (r *Runner) publish(ctx context.Context, run *models.Run, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, run.ID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event",
			"run_id", run.ID, "event_type", event.GetType(), "error", err)
	}
}
