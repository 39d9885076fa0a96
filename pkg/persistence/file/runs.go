package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/google/uuid"
)

// RunRepository stores each run as a single JSON document embedding its jobs
// and steps.
type RunRepository struct {
	p *Persistence
}

// Create persists the run and assigns its run number under the process
// mutex, so concurrent submissions of the same definition still observe
// strictly increasing, gap-free numbers.
func (r *RunRepository) Create(_ context.Context, run *models.Run) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	number, err := r.p.definitions.nextRunNumber(run.DefinitionID)
	if err != nil {
		return err
	}

	run.RunNumber = number

	for _, job := range run.Jobs {
		if job.ID == "" {
			jobID, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate job ID: %w", err)
			}

			job.ID = jobID.String()
		}

		job.RunID = run.ID

		for _, step := range job.Steps {
			if step.ID == "" {
				stepID, err := uuid.NewV7()
				if err != nil {
					return fmt.Errorf("failed to generate step ID: %w", err)
				}

				step.ID = stepID.String()
			}

			step.JobID = job.ID
		}
	}

	return r.p.write("runs", run.ID, run)
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	var run models.Run

	found, err := r.p.read("runs", id, &run)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrRunNotFound
	}

	return &run, nil
}

func (r *RunRepository) ListByDefinition(_ context.Context, definitionID string) ([]*models.Run, error) {
	ids, err := r.p.list("runs")
	if err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0)

	for _, id := range ids {
		var run models.Run
		if found, err := r.p.read("runs", id, &run); err == nil && found && run.DefinitionID == definitionID {
			runs = append(runs, &run)
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].RunNumber > runs[j].RunNumber })

	return runs, nil
}

func (r *RunRepository) UpdateRun(_ context.Context, run *models.Run) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var stored models.Run

	found, err := r.p.read("runs", run.ID, &stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrRunNotFound
	}

	stored.Status = run.Status
	stored.Conclusion = run.Conclusion
	stored.Diagnostic = run.Diagnostic
	stored.StartedAt = run.StartedAt
	stored.CompletedAt = run.CompletedAt

	return r.p.write("runs", stored.ID, &stored)
}

func (r *RunRepository) UpdateJob(_ context.Context, job *models.Job) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var run models.Run

	found, err := r.p.read("runs", job.RunID, &run)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrRunNotFound
	}

	for i, stored := range run.Jobs {
		if stored.ID == job.ID {
			updated := *job
			updated.Steps = stored.Steps
			run.Jobs[i] = &updated

			return r.p.write("runs", run.ID, &run)
		}
	}

	return persistence.ErrJobNotFound
}

func (r *RunRepository) UpdateStep(_ context.Context, step *models.Step) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	ids, err := r.p.list("runs")
	if err != nil {
		return err
	}

	for _, id := range ids {
		var run models.Run

		found, err := r.p.read("runs", id, &run)
		if err != nil || !found {
			continue
		}

		for _, job := range run.Jobs {
			if job.ID != step.JobID {
				continue
			}

			for i, stored := range job.Steps {
				if stored.Number == step.Number {
					updated := *step
					job.Steps[i] = &updated

					return r.p.write("runs", run.ID, &run)
				}
			}
		}
	}

	return persistence.ErrStepNotFound
}
