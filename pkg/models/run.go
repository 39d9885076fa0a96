package models

import "time"

// Run is one triggered execution instance of a definition. RunNumber is a
// gap-free, per-definition sequence assigned transactionally at creation and
// never reused, even after runs are deleted.
type Run struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	ProjectID    string         `json:"project_id"`
	RunNumber    int64          `json:"run_number"`
	Event        TriggerEvent   `json:"event"`
	Actor        string         `json:"actor,omitempty"`
	CommitSHA    string         `json:"commit_sha,omitempty"`
	Ref          string         `json:"ref,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       Status         `json:"status"`
	Conclusion   Conclusion     `json:"conclusion,omitempty"`
	Diagnostic   string         `json:"diagnostic,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Jobs         []*Job         `json:"jobs,omitempty"`
}

// Duration returns the elapsed wall-clock time of the run. It is zero until
// the run has started and never negative.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}

	end := time.Now().UTC()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}

	d := end.Sub(*r.StartedAt)
	if d < 0 {
		return 0
	}

	return d
}

// Job returns the job with the given definition-level id, if present.
func (r *Run) Job(jobID string) (*Job, bool) {
	for _, j := range r.Jobs {
		if j.JobID == jobID {
			return j, true
		}
	}

	return nil, false
}
