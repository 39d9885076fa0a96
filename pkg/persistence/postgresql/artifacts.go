package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

// ArtifactRepository handles artifact database operations.
type ArtifactRepository struct {
	db *sql.DB
}

func (r *ArtifactRepository) Save(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate artifact ID: %w", err)
		}

		artifact.ID = id.String()
	}

	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifacts (id, run_id, name, size_bytes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		artifact.ID,
		artifact.RunID,
		artifact.Name,
		artifact.SizeBytes,
		artifact.ExpiresAt,
		artifact.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.ErrArtifactExists
		}

		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

func (r *ArtifactRepository) ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error) {
	query := `
		SELECT id, run_id, name, size_bytes, expires_at, created_at
		FROM artifacts
		WHERE run_id = $1
		ORDER BY name
	`

	return r.queryArtifacts(ctx, query, runID)
}

func (r *ArtifactRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Artifact, error) {
	query := `
		SELECT id, run_id, name, size_bytes, expires_at, created_at
		FROM artifacts
		WHERE expires_at < $1
		ORDER BY expires_at
	`

	return r.queryArtifacts(ctx, query, now)
}

func (r *ArtifactRepository) queryArtifacts(ctx context.Context, query string, args ...any) ([]*models.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	artifacts := make([]*models.Artifact, 0)

	for rows.Next() {
		var artifact models.Artifact

		err := rows.Scan(
			&artifact.ID, &artifact.RunID, &artifact.Name,
			&artifact.SizeBytes, &artifact.ExpiresAt, &artifact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}

		artifacts = append(artifacts, &artifact)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}
