package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/conveyorci/conveyor/pkg/persistence/file"
)

func newTestStore(t *testing.T, retention time.Duration) *Store {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	return NewStore(p.Artifacts(), retention)
}

func TestRecordSetsRetentionDeadline(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	before := time.Now().UTC()

	artifact, err := store.Record(ctx, "run-1", "coverage", 2048, 0)
	require.NoError(t, err)

	assert.Equal(t, "run-1", artifact.RunID)
	assert.Equal(t, int64(2048), artifact.SizeBytes)
	assert.WithinDuration(t, before.Add(time.Hour), artifact.ExpiresAt, time.Minute)
}

func TestRecordPerArtifactRetention(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	before := time.Now().UTC()

	artifact, err := store.Record(ctx, "run-1", "nightly-build", 512, 7*24*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(7*24*time.Hour), artifact.ExpiresAt, time.Minute)

	// Zero falls back to the store default.
	fallback, err := store.Record(ctx, "run-1", "logs", 64, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Hour), fallback.ExpiresAt, time.Minute)
}

func TestRecordRejectsEmptyName(t *testing.T) {
	store := newTestStore(t, time.Hour)

	_, err := store.Record(context.Background(), "run-1", "", 0, 0)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestRecordDuplicateNameWithinRun(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.Record(ctx, "run-1", "coverage", 10, 0)
	require.NoError(t, err)

	_, err = store.Record(ctx, "run-1", "coverage", 20, 0)
	assert.ErrorIs(t, err, persistence.ErrArtifactExists)

	// Same name on another run is fine.
	_, err = store.Record(ctx, "run-2", "coverage", 20, 0)
	assert.NoError(t, err)
}

func TestListExpiredIsLazy(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	artifact, err := store.Record(ctx, "run-1", "logs", 64, 0)
	require.NoError(t, err)

	expired, err := store.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = store.ListExpired(ctx, artifact.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "logs", expired[0].Name)
}
