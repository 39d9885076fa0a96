// Package events defines event types for run lifecycle notifications.
package events

import (
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
)

type EventType string

// Topic carries all run lifecycle events.
const Topic = "conveyor.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunTriggeredEvent       EventType = "run.triggered"
	RunStartedEvent         EventType = "run.started"
	RunFinishedEvent        EventType = "run.finished"
	RunCancelRequestedEvent EventType = "run.cancel_requested"

	JobStartedEvent  EventType = "job.started"
	JobFinishedEvent EventType = "job.finished"

	StepFinishedEvent EventType = "step.finished"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"run_id"`
	DefinitionID string    `json:"definition_id,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
}

// RunTriggered is published when a run has been materialized and queued.
// The scheduler consumes it and starts executing the run.
type RunTriggered struct {
	BaseEvent

	RunNumber int64               `json:"run_number"`
	Event     models.TriggerEvent `json:"event"`
	Actor     string              `json:"actor,omitempty"`
	CommitSHA string              `json:"commit_sha,omitempty"`
}

func (e RunTriggered) GetType() EventType {
	return RunTriggeredEvent
}

// RunStarted marks the queued to in_progress transition.
type RunStarted struct {
	BaseEvent

	RunNumber int64 `json:"run_number"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// RunFinished marks a terminal run. Conclusion is always set; Diagnostic
// carries the deadlock explanation when the run failed without running jobs.
type RunFinished struct {
	BaseEvent

	RunNumber  int64             `json:"run_number"`
	Status     models.Status     `json:"status"`
	Conclusion models.Conclusion `json:"conclusion"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// RunCancelRequested asks the scheduler to cancel an in-flight run.
type RunCancelRequested struct {
	BaseEvent

	Actor string `json:"actor,omitempty"`
}

func (e RunCancelRequested) GetType() EventType {
	return RunCancelRequestedEvent
}

type JobStarted struct {
	BaseEvent

	JobID string `json:"job_id"`
}

func (e JobStarted) GetType() EventType {
	return JobStartedEvent
}

type JobFinished struct {
	BaseEvent

	JobID      string            `json:"job_id"`
	Conclusion models.Conclusion `json:"conclusion"`
	Duration   time.Duration     `json:"duration"`
}

func (e JobFinished) GetType() EventType {
	return JobFinishedEvent
}

type StepFinished struct {
	BaseEvent

	JobID      string            `json:"job_id"`
	StepNumber int               `json:"step_number"`
	Conclusion models.Conclusion `json:"conclusion"`
	ExitCode   *int              `json:"exit_code,omitempty"`
}

func (e StepFinished) GetType() EventType {
	return StepFinishedEvent
}
