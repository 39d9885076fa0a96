package definition

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conveyorci/conveyor/pkg/graph"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

func newStrictDecoder(data []byte) *yaml.Decoder {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	return decoder
}

// ValidationErrors aggregates every problem found in a document so callers
// can reject it with the full list instead of the first failure.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, err.Error())
	}

	return strings.Join(msgs, "; ")
}

var knownEvents = map[string]bool{
	string(models.EventPush):        true,
	string(models.EventPullRequest): true,
	string(models.EventSchedule):    true,
	string(models.EventManual):      true,
}

// Validate checks the document structurally. A non-nil result means the
// document must be rejected before any run is created.
func (d *Document) Validate() error {
	var errs ValidationErrors

	if d.Name == "" {
		errs = append(errs, errors.New("workflow `name` is required"))
	}

	for _, event := range d.On {
		if !knownEvents[event] {
			errs = append(errs, fmt.Errorf("unknown trigger event %q", event))
		}
	}

	if d.Schedule != "" {
		if _, err := cron.ParseStandard(d.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid cron schedule %q: %w", d.Schedule, err))
		}
	}

	for _, named := range d.Jobs {
		errs = append(errs, named.validate()...)
	}

	errs = append(errs, graph.ValidateSpec(d.Spec())...)

	if len(errs) == 0 {
		return nil
	}

	return errs
}

func (n NamedJob) validate() []error {
	var errs []error

	if len(n.Job.Steps) == 0 {
		errs = append(errs, fmt.Errorf("job %q: missing `steps`", n.ID))
	}

	if n.Job.Strategy != nil {
		for axis, values := range n.Job.Strategy.Matrix {
			if len(values) == 0 {
				errs = append(errs, fmt.Errorf("job %q: matrix axis %q has no values", n.ID, axis))
			}
		}
	}

	for i, step := range n.Job.Steps {
		switch {
		case step.Run == "" && step.Uses == "":
			errs = append(errs, fmt.Errorf("job %q step %d: one of `run` or `uses` is required", n.ID, i+1))
		case step.Run != "" && step.Uses != "":
			errs = append(errs, fmt.Errorf("job %q step %d: `run` and `uses` are mutually exclusive", n.ID, i+1))
		}

		if step.TimeoutMinutes < 0 {
			errs = append(errs, fmt.Errorf("job %q step %d: `timeout-minutes` cannot be negative", n.ID, i+1))
		}

		if step.With != nil && step.Uses == "" {
			errs = append(errs, fmt.Errorf("job %q step %d: `with` is only valid together with `uses`", n.ID, i+1))
		}
	}

	return errs
}

// Spec converts the document into the structured specification stored on the
// definition. Job and step order follow the document.
func (d *Document) Spec() models.WorkflowSpec {
	spec := models.WorkflowSpec{Jobs: make([]models.JobTemplate, 0, len(d.Jobs))}

	for _, named := range d.Jobs {
		job := models.JobTemplate{
			ID:     named.ID,
			Name:   named.Job.Name,
			RunsOn: named.Job.RunsOn,
			Needs:  named.Job.Needs,
		}

		if named.Job.Strategy != nil {
			job.Matrix = named.Job.Strategy.Matrix
		}

		for _, step := range named.Job.Steps {
			job.Steps = append(job.Steps, models.StepTemplate{
				Name:            step.Name,
				Run:             step.Run,
				Uses:            step.Uses,
				With:            step.With,
				WorkingDir:      step.WorkingDirectory,
				Env:             step.Env,
				If:              step.If,
				ContinueOnError: step.ContinueOnError,
				TimeoutMinutes:  step.TimeoutMinutes,
				Secrets:         step.Secrets,
			})
		}

		spec.Jobs = append(spec.Jobs, job)
	}

	return spec
}

// Events returns the trigger event set of the document.
func (d *Document) Events() []models.TriggerEvent {
	events := make([]models.TriggerEvent, 0, len(d.On))
	for _, e := range d.On {
		events = append(events, models.TriggerEvent(e))
	}

	return events
}

// StepTimeout converts a template's timeout to a duration, falling back to
// the given default when unset.
func StepTimeout(tpl models.StepTemplate, fallback time.Duration) time.Duration {
	if tpl.TimeoutMinutes > 0 {
		return time.Duration(tpl.TimeoutMinutes) * time.Minute
	}

	return fallback
}
