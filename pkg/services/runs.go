package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/pkg/definition"
	"github.com/conveyorci/conveyor/pkg/eventbus"
	"github.com/conveyorci/conveyor/pkg/events"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

var ErrRunNotFound = persistence.ErrRunNotFound

const defaultStepTimeout = 30 * time.Minute

// Runs materializes and manages run instances. Matrix expansion happens
// here, once, at submission time; the scheduler only ever sees concrete job
// rows.
type Runs struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
}

func NewRuns(p persistence.Persistence, publisher eventbus.EventPublisher) *Runs {
	return &Runs{persistence: p, publisher: publisher}
}

// SubmitRequest triggers a run of a definition.
type SubmitRequest struct {
	DefinitionID string
	Event        models.TriggerEvent
	Actor        string
	CommitSHA    string
	Ref          string
	Payload      map[string]any
}

// Submit creates a queued run from the definition's current spec and
// announces it on the bus. The run number is assigned by the persistence
// layer and never reused.
func (s *Runs) Submit(ctx context.Context, req SubmitRequest) (*models.Run, error) {
	def, err := s.persistence.Definitions().GetByID(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}

	if !def.Enabled {
		return nil, ErrDefinitionDisabled
	}

	if !def.AllowsEvent(req.Event) {
		return nil, fmt.Errorf("event %q: %w", req.Event, ErrEventNotAllowed)
	}

	run := &models.Run{
		DefinitionID: def.ID,
		ProjectID:    def.ProjectID,
		Event:        req.Event,
		Actor:        req.Actor,
		CommitSHA:    req.CommitSHA,
		Ref:          req.Ref,
		Payload:      req.Payload,
		Status:       models.StatusQueued,
		Jobs:         materializeJobs(def.Spec),
	}

	if err := s.persistence.Runs().Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.publishTriggered(ctx, run)

	return run, nil
}

// materializeJobs expands every job template into concrete job rows, one per
// matrix cell. Needs that reference a matrix template fan out to all of its
// cells, so a dependent waits for the whole matrix.
func materializeJobs(spec models.WorkflowSpec) []*models.Job {
	cellIDs := make(map[string][]string, len(spec.Jobs))

	for _, tpl := range spec.Jobs {
		for _, cell := range models.ExpandMatrix(tpl.Matrix) {
			cellIDs[tpl.ID] = append(cellIDs[tpl.ID], models.MatrixJobID(tpl.ID, cell))
		}
	}

	jobs := make([]*models.Job, 0, len(spec.Jobs))

	for i := range spec.Jobs {
		tpl := &spec.Jobs[i]

		for _, cell := range models.ExpandMatrix(tpl.Matrix) {
			jobs = append(jobs, materializeJob(tpl, cell, cellIDs))
		}
	}

	return jobs
}

func materializeJob(tpl *models.JobTemplate, cell map[string]string, cellIDs map[string][]string) *models.Job {
	var needs []string
	for _, need := range tpl.Needs {
		needs = append(needs, cellIDs[need]...)
	}

	job := &models.Job{
		JobID:      models.MatrixJobID(tpl.ID, cell),
		TemplateID: tpl.ID,
		Name:       tpl.Name,
		RunsOn:     tpl.RunsOn,
		Needs:      needs,
		Matrix:     cell,
		Status:     models.StatusQueued,
	}

	for i, stepTpl := range tpl.Steps {
		job.Steps = append(job.Steps, &models.Step{
			Number:          i + 1,
			Name:            stepTpl.Name,
			Run:             stepTpl.Run,
			Uses:            stepTpl.Uses,
			With:            stepTpl.With,
			WorkingDir:      stepTpl.WorkingDir,
			Env:             stepTpl.Env,
			Condition:       models.ParseCondition(stepTpl.If),
			ContinueOnError: stepTpl.ContinueOnError,
			Timeout:         definition.StepTimeout(stepTpl, defaultStepTimeout),
			Secrets:         stepTpl.Secrets,
			Status:          models.StatusQueued,
		})
	}

	return job
}

func (s *Runs) Get(ctx context.Context, id string) (*models.Run, error) {
	return s.persistence.Runs().GetByID(ctx, id)
}

func (s *Runs) ListByDefinition(ctx context.Context, definitionID string) ([]*models.Run, error) {
	return s.persistence.Runs().ListByDefinition(ctx, definitionID)
}

// Cancel requests cancellation of a queued or in-progress run. Terminal runs
// reject the request.
func (s *Runs) Cancel(ctx context.Context, id, actor string) error {
	run, err := s.persistence.Runs().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return fmt.Errorf("run %s is %s: %w", id, run.Status, ErrRunNotCancellable)
	}

	if s.publisher == nil {
		return nil
	}

	return s.publisher.Publish(ctx, run.ID, events.RunCancelRequested{
		BaseEvent: events.BaseEvent{
			ID:           uuid.NewString(),
			Type:         events.RunCancelRequestedEvent,
			Timestamp:    time.Now().UTC(),
			RunID:        run.ID,
			DefinitionID: run.DefinitionID,
			ProjectID:    run.ProjectID,
		},
		Actor: actor,
	})
}

func (s *Runs) publishTriggered(ctx context.Context, run *models.Run) {
	if s.publisher == nil {
		return
	}

	event := events.RunTriggered{
		BaseEvent: events.BaseEvent{
			ID:           uuid.NewString(),
			Type:         events.RunTriggeredEvent,
			Timestamp:    time.Now().UTC(),
			RunID:        run.ID,
			DefinitionID: run.DefinitionID,
			ProjectID:    run.ProjectID,
		},
		RunNumber: run.RunNumber,
		Event:     run.Event,
		Actor:     run.Actor,
		CommitSHA: run.CommitSHA,
	}

	// Failure to announce is not failure to create: the run stays queued
	// and can be picked up by a later reconciliation.
	_ = s.publisher.Publish(ctx, run.ID, event)
}
