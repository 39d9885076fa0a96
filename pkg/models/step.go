package models

import "time"

// Step is a single ordered unit of work within a job. Number starts at 1 and
// defines the total execution order of the job: steps never run in parallel
// with each other. Once Status is terminal, ExitCode and Conclusion are set
// and immutable.
type Step struct {
	ID              string            `json:"id"`
	JobID           string            `json:"job_id"`
	Number          int               `json:"number"`
	Name            string            `json:"name"`
	Run             string            `json:"run,omitempty"`
	Uses            string            `json:"uses,omitempty"`
	With            map[string]any    `json:"with,omitempty"`
	WorkingDir      string            `json:"working_dir,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Condition       Condition         `json:"condition"`
	ContinueOnError bool              `json:"continue_on_error,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	Secrets         []string          `json:"secrets,omitempty"`
	Stdout          string            `json:"stdout,omitempty"`
	Stderr          string            `json:"stderr,omitempty"`
	ExitCode        *int              `json:"exit_code,omitempty"`
	Status          Status            `json:"status"`
	Conclusion      Conclusion        `json:"conclusion,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// IsAction reports whether the step resolves through the action registry
// instead of spawning a shell command.
func (s *Step) IsAction() bool {
	return s.Uses != ""
}

// Duration returns the elapsed wall-clock time of the step, never negative.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}

	end := time.Now().UTC()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}

	d := end.Sub(*s.StartedAt)
	if d < 0 {
		return 0
	}

	return d
}
