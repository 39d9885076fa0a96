package models

import "time"

// Job is an independently schedulable unit within a run. JobID is the
// definition-level key; matrix cells are expanded into separate Job rows
// whose JobID carries the cell suffix while TemplateID keeps the plain key.
// Needs must reference only JobIDs of the same run, and the needs graph
// restricted to one run must be acyclic.
type Job struct {
	ID          string            `json:"id"`
	RunID       string            `json:"run_id"`
	JobID       string            `json:"job_id"`
	TemplateID  string            `json:"template_id"`
	Name        string            `json:"name"`
	RunsOn      string            `json:"runs_on,omitempty"`
	Needs       []string          `json:"needs,omitempty"`
	Matrix      map[string]string `json:"matrix,omitempty"`
	Status      Status            `json:"status"`
	Conclusion  Conclusion        `json:"conclusion,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Steps       []*Step           `json:"steps,omitempty"`
}

// Duration returns the elapsed wall-clock time of the job, never negative.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}

	end := time.Now().UTC()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}

	d := end.Sub(*j.StartedAt)
	if d < 0 {
		return 0
	}

	return d
}
