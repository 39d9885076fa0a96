// Package scheduler turns queued runs into job executions, honoring the
// dependency graph and the worker pool limit.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorci/conveyor/pkg/eventbus"
	"github.com/conveyorci/conveyor/pkg/events"
	"github.com/conveyorci/conveyor/pkg/graph"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/otelhelper"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

const DefaultMaxWorkers = 4

// JobRunner executes one job to completion.
type JobRunner interface {
	RunJob(ctx context.Context, run *models.Run, job *models.Job) (models.Conclusion, error)
}

// Scheduler owns the state machine of each run it executes. All graph state
// lives on the executing goroutine; workers only report conclusions back
// over a channel.
type Scheduler struct {
	runner      JobRunner
	persistence persistence.Persistence
	bus         eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
	maxWorkers  int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

type Config struct {
	Runner      JobRunner
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Logger      *slog.Logger
	Tracer      trace.Tracer
	MaxWorkers  int
}

func New(cfg Config) *Scheduler {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	return &Scheduler{
		runner:      cfg.Runner,
		persistence: cfg.Persistence,
		bus:         cfg.EventBus,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		maxWorkers:  workers,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start subscribes to the run topic and executes runs as they are triggered.
func (s *Scheduler) Start(ctx context.Context) error {
	err := s.bus.Handle(events.RunTriggeredEvent, func(ctx context.Context, event any) error {
		triggered, ok := event.(*events.RunTriggered)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		go func() {
			if err := s.ExecuteRun(ctx, triggered.RunID); err != nil {
				s.logger.ErrorContext(ctx, "Run execution failed", "run_id", triggered.RunID, "error", err)
			}
		}()

		return nil
	})
	if err != nil {
		return err
	}

	err = s.bus.Handle(events.RunCancelRequestedEvent, func(ctx context.Context, event any) error {
		requested, ok := event.(*events.RunCancelRequested)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		if !s.Cancel(requested.RunID) {
			s.logger.InfoContext(ctx, "Cancel requested for run not in flight", "run_id", requested.RunID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return s.bus.Subscribe(ctx)
}

// Cancel requests cancellation of an in-flight run. It reports whether the
// run was actually executing here.
func (s *Scheduler) Cancel(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.cancels[runID]
	if ok {
		cancel()
	}

	return ok
}

type completion struct {
	job        *models.Job
	conclusion models.Conclusion
	err        error
}

// ExecuteRun drives one run from queued to a terminal state. Jobs whose
// needs are satisfied run concurrently up to the worker limit; jobs behind a
// failed dependency are skipped; a graph that can make no progress fails the
// run with a deadlock diagnostic.
func (s *Scheduler) ExecuteRun(ctx context.Context, runID string) error {
	if s.tracer == nil {
		return s.executeRun(ctx, runID)
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.execute_run",
		attribute.String(otelhelper.RunIDKey, runID),
	)
	defer span.End()

	err := s.executeRun(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.RunIDKey, runID))
	}

	return err
}

func (s *Scheduler) executeRun(ctx context.Context, runID string) error {
	run, err := s.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Status != models.StatusQueued {
		s.logger.InfoContext(ctx, "Run is not queued, skipping", "run_id", runID, "status", run.Status)

		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.register(runID, cancel)
	defer s.unregister(runID)

	if err := s.markRunStarted(ctx, run); err != nil {
		return err
	}

	diagnostic, conclusions := s.executeJobs(ctx, runCtx, run)

	return s.finishRun(ctx, runCtx, run, conclusions, diagnostic)
}

// executeJobs runs the dispatch loop. It returns the deadlock diagnostic, if
// any, and the conclusion of every job.
func (s *Scheduler) executeJobs(ctx, runCtx context.Context, run *models.Run) (string, map[string]models.Conclusion) {
	resolver := graph.New(run.Jobs)
	state := graph.State{
		Completed: make(map[string]bool),
		Failed:    make(map[string]bool),
		Skipped:   make(map[string]bool),
		Active:    make(map[string]bool),
	}
	conclusions := make(map[string]models.Conclusion, len(run.Jobs))
	completions := make(chan completion)
	sem := make(chan struct{}, s.maxWorkers)
	active := 0
	diagnostic := ""

	for {
		// Jobs behind a failed dependency can never run.
		for _, id := range resolver.Blocked(state) {
			state.Skipped[id] = true
			conclusions[id] = models.ConclusionSkipped
			s.markJobSkipped(ctx, run, id)
		}

		if runCtx.Err() == nil {
			for _, id := range resolver.Ready(state) {
				job, ok := run.Job(id)
				if !ok {
					continue
				}

				state.Active[id] = true
				active++

				go s.dispatch(runCtx, sem, completions, run, job)
			}
		}

		unresolved := resolver.Unresolved(state)

		if active == 0 {
			if len(unresolved) == 0 {
				break
			}

			if runCtx.Err() != nil {
				for _, id := range unresolved {
					state.Failed[id] = true
					conclusions[id] = models.ConclusionCancelled
					s.markJobCancelled(ctx, run, id)
				}

				break
			}

			// Nothing runs, nothing is ready, yet jobs remain: the
			// graph cannot make progress.
			diagnostic = fmt.Sprintf("dependency deadlock detected: unresolved jobs [%s]", strings.Join(unresolved, ", "))
			s.logger.ErrorContext(ctx, "Run deadlocked", "run_id", run.ID, "unresolved", unresolved)

			for _, id := range unresolved {
				state.Failed[id] = true
				conclusions[id] = models.ConclusionSkipped
				s.markJobSkipped(ctx, run, id)
			}

			break
		}

		c := <-completions
		active--

		delete(state.Active, c.job.JobID)

		conclusion := c.conclusion
		if c.err != nil {
			s.logger.ErrorContext(ctx, "Job runner failed", "run_id", run.ID, "job_id", c.job.JobID, "error", c.err)

			conclusion = models.ConclusionFailure
		}

		conclusions[c.job.JobID] = conclusion

		switch conclusion {
		case models.ConclusionSuccess:
			state.Completed[c.job.JobID] = true
		case models.ConclusionSkipped:
			state.Skipped[c.job.JobID] = true
		default:
			state.Failed[c.job.JobID] = true
		}
	}

	return diagnostic, conclusions
}

func (s *Scheduler) dispatch(runCtx context.Context, sem chan struct{}, completions chan<- completion, run *models.Run, job *models.Job) {
	sem <- struct{}{}
	defer func() { <-sem }()

	conclusion, err := s.runner.RunJob(runCtx, run, job)
	completions <- completion{job: job, conclusion: conclusion, err: err}
}

func (s *Scheduler) markRunStarted(ctx context.Context, run *models.Run) error {
	now := time.Now().UTC()
	run.Status = models.StatusInProgress
	run.StartedAt = &now

	if err := s.persistence.Runs().UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run started: %w", err)
	}

	s.publish(ctx, run, events.RunStarted{
		BaseEvent: s.baseEvent(run, events.RunStartedEvent),
		RunNumber: run.RunNumber,
	})
	s.logger.InfoContext(ctx, "Run started", "run_id", run.ID, "run_number", run.RunNumber, "jobs", len(run.Jobs))

	return nil
}

func (s *Scheduler) finishRun(ctx, runCtx context.Context, run *models.Run, conclusions map[string]models.Conclusion, diagnostic string) error {
	conclusion := runConclusion(runCtx, conclusions, diagnostic)

	now := time.Now().UTC()
	run.Conclusion = conclusion
	run.Diagnostic = diagnostic
	run.CompletedAt = &now

	switch conclusion {
	case models.ConclusionCancelled:
		run.Status = models.StatusCancelled
	case models.ConclusionFailure, models.ConclusionTimedOut:
		run.Status = models.StatusFailed
	default:
		run.Status = models.StatusCompleted
	}

	if err := s.persistence.Runs().UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run conclusion: %w", err)
	}

	if err := s.persistence.Definitions().RecordRunResult(ctx, run.DefinitionID, conclusion); err != nil {
		s.logger.WarnContext(ctx, "Failed to update definition statistics", "run_id", run.ID, "error", err)
	}

	s.publish(ctx, run, events.RunFinished{
		BaseEvent:  s.baseEvent(run, events.RunFinishedEvent),
		RunNumber:  run.RunNumber,
		Status:     run.Status,
		Conclusion: conclusion,
		Diagnostic: diagnostic,
		Duration:   run.Duration(),
	})
	s.logger.InfoContext(ctx, "Run finished", "run_id", run.ID, "conclusion", conclusion, "duration", run.Duration())

	return nil
}

func runConclusion(runCtx context.Context, conclusions map[string]models.Conclusion, diagnostic string) models.Conclusion {
	if runCtx.Err() != nil {
		return models.ConclusionCancelled
	}

	if diagnostic != "" {
		return models.ConclusionFailure
	}

	sawTimeout := false
	sawFailure := false

	for _, c := range conclusions {
		switch c {
		case models.ConclusionCancelled:
			return models.ConclusionCancelled
		case models.ConclusionTimedOut:
			sawTimeout = true
		case models.ConclusionFailure:
			sawFailure = true
		}
	}

	switch {
	case sawTimeout:
		return models.ConclusionTimedOut
	case sawFailure:
		return models.ConclusionFailure
	default:
		return models.ConclusionSuccess
	}
}

func (s *Scheduler) markJobSkipped(ctx context.Context, run *models.Run, jobID string) {
	s.concludeJobWithoutRunning(ctx, run, jobID, models.StatusCompleted, models.ConclusionSkipped)
}

func (s *Scheduler) markJobCancelled(ctx context.Context, run *models.Run, jobID string) {
	s.concludeJobWithoutRunning(ctx, run, jobID, models.StatusCancelled, models.ConclusionCancelled)
}

func (s *Scheduler) concludeJobWithoutRunning(ctx context.Context, run *models.Run, jobID string, status models.Status, conclusion models.Conclusion) {
	job, ok := run.Job(jobID)
	if !ok {
		return
	}

	now := time.Now().UTC()
	job.Status = status
	job.Conclusion = conclusion
	job.CompletedAt = &now

	if err := s.persistence.Runs().UpdateJob(ctx, job); err != nil {
		s.logger.WarnContext(ctx, "Failed to record job conclusion", "run_id", run.ID, "job_id", jobID, "error", err)
	}

	for _, step := range job.Steps {
		step.Status = status
		step.Conclusion = conclusion
		step.CompletedAt = &now

		if err := s.persistence.Runs().UpdateStep(ctx, step); err != nil {
			s.logger.WarnContext(ctx, "Failed to record step conclusion", "run_id", run.ID, "job_id", jobID, "step", step.Number, "error", err)
		}
	}

	s.publish(ctx, run, events.JobFinished{
		BaseEvent:  s.baseEvent(run, events.JobFinishedEvent),
		JobID:      jobID,
		Conclusion: conclusion,
	})
}

func (s *Scheduler) register(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancels[runID] = cancel
}

func (s *Scheduler) unregister(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancels, runID)
}

func (s *Scheduler) baseEvent(run *models.Run, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		ProjectID:    run.ProjectID,
	}
}

func (s *Scheduler) publish(ctx context.Context, run *models.Run, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	if err := s.bus.Publish(ctx, run.ID, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "run_id", run.ID, "event_type", event.GetType(), "error", err)
	}
}
