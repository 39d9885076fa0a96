package file

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/google/uuid"
)

// ArtifactRepository records run artifacts as JSON documents.
type ArtifactRepository struct {
	p *Persistence
}

func (r *ArtifactRepository) Save(ctx context.Context, artifact *models.Artifact) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	existing, err := r.listByRunLocked(artifact.RunID)
	if err != nil {
		return err
	}

	for _, other := range existing {
		if other.Name == artifact.Name && other.ID != artifact.ID {
			return persistence.ErrArtifactExists
		}
	}

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

	return r.p.write("artifacts", artifact.ID, artifact)
}

func (r *ArtifactRepository) ListByRun(_ context.Context, runID string) ([]*models.Artifact, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.listByRunLocked(runID)
}

func (r *ArtifactRepository) listByRunLocked(runID string) ([]*models.Artifact, error) {
	ids, err := r.p.list("artifacts")
	if err != nil {
		return nil, err
	}

	artifacts := make([]*models.Artifact, 0)

	for _, id := range ids {
		var artifact models.Artifact
		if found, err := r.p.read("artifacts", id, &artifact); err == nil && found && artifact.RunID == runID {
			artifacts = append(artifacts, &artifact)
		}
	}

	return artifacts, nil
}

func (r *ArtifactRepository) ListExpired(_ context.Context, now time.Time) ([]*models.Artifact, error) {
	ids, err := r.p.list("artifacts")
	if err != nil {
		return nil, err
	}

	expired := make([]*models.Artifact, 0)

	for _, id := range ids {
		var artifact models.Artifact
		if found, err := r.p.read("artifacts", id, &artifact); err == nil && found && artifact.IsExpired(now) {
			expired = append(expired, &artifact)
		}
	}

	return expired, nil
}
