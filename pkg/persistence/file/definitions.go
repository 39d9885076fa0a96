package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/google/uuid"
)

// DefinitionRepository stores workflow definitions as JSON documents.
type DefinitionRepository struct {
	p *Persistence
}

func (r *DefinitionRepository) List(_ context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := r.p.list("definitions")
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		var def models.WorkflowDefinition

		found, err := r.p.read("definitions", id, &def)
		if err != nil {
			return nil, err
		}

		if found {
			definitions = append(definitions, &def)
		}
	}

	return definitions, nil
}

func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	found, err := r.p.read("definitions", id, &def)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrDefinitionNotFound
	}

	return &def, nil
}

func (r *DefinitionRepository) GetByName(ctx context.Context, projectID, name string) (*models.WorkflowDefinition, error) {
	definitions, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, def := range definitions {
		if def.ProjectID == projectID && def.Name == name {
			return def, nil
		}
	}

	return nil, persistence.ErrDefinitionNotFound
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		if existing, err := r.getByNameLocked(ctx, definition.ProjectID, definition.Name); err == nil && existing != nil {
			return persistence.ErrDefinitionExists
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	return r.p.write("definitions", definition.ID, definition)
}

func (r *DefinitionRepository) getByNameLocked(_ context.Context, projectID, name string) (*models.WorkflowDefinition, error) {
	ids, err := r.p.list("definitions")
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		var def models.WorkflowDefinition
		if found, err := r.p.read("definitions", id, &def); err == nil && found {
			if def.ProjectID == projectID && def.Name == name {
				return &def, nil
			}
		}
	}

	return nil, nil //nolint:nilnil // internal lookup helper
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	// Cascade: runs referencing the definition go with it.
	runIDs, err := r.p.list("runs")
	if err != nil {
		return err
	}

	for _, runID := range runIDs {
		var run models.Run
		if found, err := r.p.read("runs", runID, &run); err == nil && found && run.DefinitionID == id {
			if err := r.p.remove("runs", runID); err != nil {
				return err
			}
		}
	}

	return r.p.remove("definitions", id)
}

// RecordRunResult applies the run outcome to the definition counters under
// the write lock, making the read-modify-write atomic within the process.
func (r *DefinitionRepository) RecordRunResult(_ context.Context, definitionID string, conclusion models.Conclusion) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var def models.WorkflowDefinition

	found, err := r.p.read("definitions", definitionID, &def)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrDefinitionNotFound
	}

	def.TotalRuns++

	switch conclusion {
	case models.ConclusionSuccess:
		def.SuccessfulRuns++
	case models.ConclusionFailure, models.ConclusionTimedOut:
		def.FailedRuns++
	}

	def.LastRunStatus = conclusion
	def.UpdatedAt = time.Now().UTC()

	return r.p.write("definitions", def.ID, &def)
}

// nextRunNumber increments the per-definition counter file. Counters only
// ever grow, so numbers are never reused even after runs are deleted.
func (r *DefinitionRepository) nextRunNumber(definitionID string) (int64, error) {
	var counter struct {
		Next int64 `json:"next"`
	}

	if _, err := r.p.read("counters", definitionID, &counter); err != nil {
		return 0, err
	}

	counter.Next++

	data, err := json.Marshal(counter)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal run counter: %w", err)
	}

	if err := os.WriteFile(r.p.path("counters", definitionID), data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write run counter: %w", err)
	}

	return counter.Next, nil
}
