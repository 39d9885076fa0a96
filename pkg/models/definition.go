package models

import "time"

// TriggerEvent identifies the repository event that starts a run.
type TriggerEvent string

const (
	EventPush        TriggerEvent = "push"
	EventPullRequest TriggerEvent = "pull_request"
	EventSchedule    TriggerEvent = "schedule"
	EventManual      TriggerEvent = "manual"
)

// WorkflowDefinition is the reusable specification of a workflow's jobs and
// steps, scoped to a project. (project_id, name) is unique. The cumulative
// counters are mutated only by the scheduler when a run reaches a terminal
// state.
type WorkflowDefinition struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"      validate:"required"`
	Name           string         `json:"name"            validate:"required,min=1"`
	Spec           WorkflowSpec   `json:"spec"`
	Events         []TriggerEvent `json:"events"`
	Schedule       string         `json:"schedule,omitempty"`
	Enabled        bool           `json:"enabled"`
	TotalRuns      int64          `json:"total_runs"`
	SuccessfulRuns int64          `json:"successful_runs"`
	FailedRuns     int64          `json:"failed_runs"`
	LastRunStatus  Conclusion     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AllowsEvent reports whether event may trigger runs of this definition.
// Manual dispatch is always allowed.
func (d *WorkflowDefinition) AllowsEvent(event TriggerEvent) bool {
	if event == EventManual {
		return true
	}

	for _, e := range d.Events {
		if e == event {
			return true
		}
	}

	return false
}

// WorkflowSpec is the structured job/step specification of a definition.
// Jobs keep their document order.
type WorkflowSpec struct {
	Jobs []JobTemplate `json:"jobs"`
}

// JobTemplate declares one job of a workflow. A template with a matrix is
// instantiated once per matrix cell at run creation time.
type JobTemplate struct {
	ID     string              `json:"id"      validate:"required"`
	Name   string              `json:"name,omitempty"`
	RunsOn string              `json:"runs_on,omitempty"`
	Needs  []string            `json:"needs,omitempty"`
	Matrix map[string][]string `json:"matrix,omitempty"`
	Steps  []StepTemplate      `json:"steps"   validate:"required,min=1"`
}

// StepTemplate declares one ordered step of a job. Exactly one of Run and
// Uses is set: Run is a shell command, Uses references a registered action.
type StepTemplate struct {
	Name            string         `json:"name,omitempty"`
	Run             string         `json:"run,omitempty"`
	Uses            string         `json:"uses,omitempty"`
	With            map[string]any `json:"with,omitempty"`
	WorkingDir      string         `json:"working_dir,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	If              string         `json:"if,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
	TimeoutMinutes  int            `json:"timeout_minutes,omitempty"`
	Secrets         []string       `json:"secrets,omitempty"`
}

// JobTemplate lookup by id.
func (s *WorkflowSpec) Job(id string) (*JobTemplate, bool) {
	for i := range s.Jobs {
		if s.Jobs[i].ID == id {
			return &s.Jobs[i], true
		}
	}

	return nil, false
}
