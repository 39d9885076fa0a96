// Package artifacts records named run outputs and their retention deadlines.
// The artifact bytes themselves live in an external object store; deletion of
// expired entries is the reaper's job, not ours.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

const DefaultRetention = 90 * 24 * time.Hour

var ErrEmptyName = errors.New("artifact name must not be empty")

type Store struct {
	repo      persistence.ArtifactRepository
	retention time.Duration
}

func NewStore(repo persistence.ArtifactRepository, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Store{repo: repo, retention: retention}
}

// Record registers an artifact produced by a run. Names are unique within a
// run; recording a duplicate fails with persistence.ErrArtifactExists. A
// retention of zero or less falls back to the store's configured default.
func (s *Store) Record(ctx context.Context, runID, name string, sizeBytes int64, retention time.Duration) (*models.Artifact, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	if retention <= 0 {
		retention = s.retention
	}

	now := time.Now().UTC()

	artifact := &models.Artifact{
		RunID:     runID,
		Name:      name,
		SizeBytes: sizeBytes,
		CreatedAt: now,
		ExpiresAt: now.Add(retention),
	}

	if err := s.repo.Save(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to record artifact %s: %w", name, err)
	}

	return artifact, nil
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error) {
	return s.repo.ListByRun(ctx, runID)
}

// ListExpired returns artifacts whose retention deadline has passed. The
// check is lazy: nothing expires until somebody asks.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*models.Artifact, error) {
	return s.repo.ListExpired(ctx, now)
}
