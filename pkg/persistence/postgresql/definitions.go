package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

const uniqueViolation = "23505"

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const definitionColumns = `
		id
	  , project_id
	  , name
	  , spec
	  , events
	  , schedule
	  , enabled
	  , total_runs
	  , successful_runs
	  , failed_runs
	  , last_run_status
	  , created_at
	  , updated_at
`

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `FROM workflow_definitions ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `FROM workflow_definitions WHERE id = $1`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, err
	}

	return definition, nil
}

func (r *DefinitionRepository) GetByName(ctx context.Context, projectID, name string) (*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `FROM workflow_definitions WHERE project_id = $1 AND name = $2`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, projectID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, err
	}

	return definition, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	spec, err := json.Marshal(definition.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	events, err := json.Marshal(definition.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, project_id, name, spec, events, schedule, enabled,
			total_runs, successful_runs, failed_runs, last_run_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			spec = EXCLUDED.spec,
			events = EXCLUDED.events,
			schedule = EXCLUDED.schedule,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.ProjectID,
		definition.Name,
		spec,
		events,
		nullString(definition.Schedule),
		definition.Enabled,
		definition.TotalRuns,
		definition.SuccessfulRuns,
		definition.FailedRuns,
		nullString(string(definition.LastRunStatus)),
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.ErrDefinitionExists
		}

		return fmt.Errorf("failed to save definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	return nil
}

// RecordRunResult applies the run outcome to the definition counters in a
// single UPDATE so concurrent terminal runs never lose increments.
func (r *DefinitionRepository) RecordRunResult(ctx context.Context, definitionID string, conclusion models.Conclusion) error {
	success := 0
	failed := 0

	switch conclusion {
	case models.ConclusionSuccess:
		success = 1
	case models.ConclusionFailure, models.ConclusionTimedOut:
		failed = 1
	}

	query := `
		UPDATE workflow_definitions
		SET total_runs = total_runs + 1,
			successful_runs = successful_runs + $2,
			failed_runs = failed_runs + $3,
			last_run_status = $4,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, definitionID, success, failed, string(conclusion))
	if err != nil {
		return fmt.Errorf("failed to record run result: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDefinitionNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition    models.WorkflowDefinition
		spec          []byte
		events        []byte
		schedule      sql.NullString
		lastRunStatus sql.NullString
	)

	err := row.Scan(
		&definition.ID,
		&definition.ProjectID,
		&definition.Name,
		&spec,
		&events,
		&schedule,
		&definition.Enabled,
		&definition.TotalRuns,
		&definition.SuccessfulRuns,
		&definition.FailedRuns,
		&lastRunStatus,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	if err := json.Unmarshal(spec, &definition.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
	}

	if err := json.Unmarshal(events, &definition.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}

	definition.Schedule = schedule.String
	definition.LastRunStatus = models.Conclusion(lastRunStatus.String)

	return &definition, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}
