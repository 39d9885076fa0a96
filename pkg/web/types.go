// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/conveyorci/conveyor/pkg/models"

// CreateWorkflowRequest represents the request body for registering a new
// workflow definition. The document is the raw YAML text.
type CreateWorkflowRequest struct {
	ProjectID string `json:"project_id" validate:"required,min=1"`
	Document  string `json:"document"   validate:"required"`
}

// UpdateWorkflowRequest replaces the document of an existing definition.
type UpdateWorkflowRequest struct {
	Document string `json:"document" validate:"required"`
}

// DispatchRequest represents the request body for triggering a run. Event
// defaults to manual when omitted.
type DispatchRequest struct {
	Event     string         `json:"event"      validate:"omitempty,oneof=push pull_request schedule manual"`
	Actor     string         `json:"actor"`
	CommitSHA string         `json:"commit_sha"`
	Ref       string         `json:"ref"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// CancelRunRequest represents the request body for cancelling a run.
type CancelRunRequest struct {
	Actor string `json:"actor"`
}

// RecordArtifactRequest represents the request body for recording a run
// artifact. The bytes themselves live in an external object store. A zero
// retention uses the server's configured default.
type RecordArtifactRequest struct {
	Name          string `json:"name"           validate:"required,min=1"`
	SizeBytes     int64  `json:"size_bytes"     validate:"gte=0"`
	RetentionDays int    `json:"retention_days" validate:"gte=0"`
}

// WorkflowResponse is the API shape of a definition, with the per-workflow
// run statistics flattened in.
type WorkflowResponse struct {
	ID             string                `json:"id"`
	ProjectID      string                `json:"project_id"`
	Name           string                `json:"name"`
	Events         []models.TriggerEvent `json:"events"`
	Schedule       string                `json:"schedule,omitempty"`
	Enabled        bool                  `json:"enabled"`
	JobCount       int                   `json:"job_count"`
	TotalRuns      int64                 `json:"total_runs"`
	SuccessfulRuns int64                 `json:"successful_runs"`
	FailedRuns     int64                 `json:"failed_runs"`
	LastRunStatus  models.Conclusion     `json:"last_run_status,omitempty"`
}

// TransformWorkflowResponse maps a stored definition to its API shape.
func TransformWorkflowResponse(def *models.WorkflowDefinition) WorkflowResponse {
	return WorkflowResponse{
		ID:             def.ID,
		ProjectID:      def.ProjectID,
		Name:           def.Name,
		Events:         def.Events,
		Schedule:       def.Schedule,
		Enabled:        def.Enabled,
		JobCount:       len(def.Spec.Jobs),
		TotalRuns:      def.TotalRuns,
		SuccessfulRuns: def.SuccessfulRuns,
		FailedRuns:     def.FailedRuns,
		LastRunStatus:  def.LastRunStatus,
	}
}

// RunSummaryResponse is the list shape of a run: identity and outcome without
// the job rows.
type RunSummaryResponse struct {
	ID         string              `json:"id"`
	RunNumber  int64               `json:"run_number"`
	Event      models.TriggerEvent `json:"event"`
	Actor      string              `json:"actor,omitempty"`
	CommitSHA  string              `json:"commit_sha,omitempty"`
	Status     models.Status       `json:"status"`
	Conclusion models.Conclusion   `json:"conclusion,omitempty"`
	CreatedAt  string              `json:"created_at"`
}

// TransformRunSummary maps a run to its list shape.
func TransformRunSummary(run *models.Run) RunSummaryResponse {
	return RunSummaryResponse{
		ID:         run.ID,
		RunNumber:  run.RunNumber,
		Event:      run.Event,
		Actor:      run.Actor,
		CommitSHA:  run.CommitSHA,
		Status:     run.Status,
		Conclusion: run.Conclusion,
		CreatedAt:  run.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
