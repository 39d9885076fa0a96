package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)

	return p
}

func saveDefinition(t *testing.T, p *Persistence) *models.WorkflowDefinition {
	t.Helper()

	def := &models.WorkflowDefinition{
		ProjectID: "proj-1",
		Name:      "ci",
		Enabled:   true,
		Events:    []models.TriggerEvent{models.EventPush},
		Spec: models.WorkflowSpec{Jobs: []models.JobTemplate{
			{ID: "build", Steps: []models.StepTemplate{{Name: "Build", Run: "make build"}}},
		}},
	}
	require.NoError(t, p.Definitions().Save(context.Background(), def))
	require.NotEmpty(t, def.ID)

	return def
}

func TestDefinitionSaveAndLookup(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	def := saveDefinition(t, p)

	byID, err := p.Definitions().GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, byID.Name)

	byName, err := p.Definitions().GetByName(ctx, "proj-1", "ci")
	require.NoError(t, err)
	assert.Equal(t, def.ID, byName.ID)

	_, err = p.Definitions().GetByName(ctx, "proj-1", "missing")
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestDefinitionDuplicateIdentityRejected(t *testing.T) {
	p := newTestPersistence(t)
	saveDefinition(t, p)

	dup := &models.WorkflowDefinition{ProjectID: "proj-1", Name: "ci"}
	err := p.Definitions().Save(context.Background(), dup)
	assert.ErrorIs(t, err, persistence.ErrDefinitionExists)
}

func TestRunNumbersAreGapFreeUnderConcurrentSubmission(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	def := saveDefinition(t, p)

	const submissions = 20

	var wg sync.WaitGroup

	numbers := make(chan int64, submissions)

	for range submissions {
		wg.Add(1)

		go func() {
			defer wg.Done()

			run := &models.Run{DefinitionID: def.ID, ProjectID: def.ProjectID, Status: models.StatusQueued}
			require.NoError(t, p.Runs().Create(ctx, run))
			numbers <- run.RunNumber
		}()
	}

	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool, submissions)
	for n := range numbers {
		assert.False(t, seen[n], "run number %d assigned twice", n)
		seen[n] = true
	}

	for n := int64(1); n <= submissions; n++ {
		assert.True(t, seen[n], "run number %d missing from sequence", n)
	}
}

func TestRunRoundTripPreservesState(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	def := saveDefinition(t, p)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	exit := 0

	run := &models.Run{
		DefinitionID: def.ID,
		ProjectID:    def.ProjectID,
		Event:        models.EventPush,
		CommitSHA:    "abc123",
		Status:       models.StatusCompleted,
		Conclusion:   models.ConclusionSuccess,
		StartedAt:    &started,
		CompletedAt:  &completed,
		Jobs: []*models.Job{{
			JobID:      "build",
			TemplateID: "build",
			Status:     models.StatusCompleted,
			Conclusion: models.ConclusionSuccess,
			StartedAt:  &started,
			CompletedAt: &completed,
			Steps: []*models.Step{{
				Number:      1,
				Name:        "Build",
				Run:         "make build",
				Status:      models.StatusCompleted,
				Conclusion:  models.ConclusionSuccess,
				ExitCode:    &exit,
				Stdout:      "ok\n",
				StartedAt:   &started,
				CompletedAt: &completed,
			}},
		}},
	}
	require.NoError(t, p.Runs().Create(ctx, run))

	loaded, err := p.Runs().GetByID(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.Status, loaded.Status)
	assert.Equal(t, run.Conclusion, loaded.Conclusion)
	assert.Equal(t, run.StartedAt, loaded.StartedAt)
	assert.Equal(t, run.CompletedAt, loaded.CompletedAt)

	require.Len(t, loaded.Jobs, 1)
	assert.Equal(t, run.Jobs[0].Conclusion, loaded.Jobs[0].Conclusion)

	require.Len(t, loaded.Jobs[0].Steps, 1)
	step := loaded.Jobs[0].Steps[0]
	assert.Equal(t, models.ConclusionSuccess, step.Conclusion)
	require.NotNil(t, step.ExitCode)
	assert.Equal(t, 0, *step.ExitCode)
	assert.Equal(t, "ok\n", step.Stdout)
}

func TestUpdateJobAndStep(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	def := saveDefinition(t, p)

	run := &models.Run{
		DefinitionID: def.ID,
		Status:       models.StatusQueued,
		Jobs: []*models.Job{{
			JobID:  "build",
			Status: models.StatusQueued,
			Steps:  []*models.Step{{Number: 1, Run: "make", Status: models.StatusQueued}},
		}},
	}
	require.NoError(t, p.Runs().Create(ctx, run))

	job := run.Jobs[0]
	job.Status = models.StatusInProgress
	require.NoError(t, p.Runs().UpdateJob(ctx, job))

	step := job.Steps[0]
	step.Status = models.StatusCompleted
	step.Conclusion = models.ConclusionFailure
	exit := 2
	step.ExitCode = &exit
	require.NoError(t, p.Runs().UpdateStep(ctx, step))

	loaded, err := p.Runs().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, loaded.Jobs[0].Status)
	assert.Equal(t, models.ConclusionFailure, loaded.Jobs[0].Steps[0].Conclusion)
}

func TestRecordRunResult(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	def := saveDefinition(t, p)

	require.NoError(t, p.Definitions().RecordRunResult(ctx, def.ID, models.ConclusionSuccess))
	require.NoError(t, p.Definitions().RecordRunResult(ctx, def.ID, models.ConclusionFailure))

	updated, err := p.Definitions().GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.TotalRuns)
	assert.Equal(t, int64(1), updated.SuccessfulRuns)
	assert.Equal(t, int64(1), updated.FailedRuns)
	assert.Equal(t, models.ConclusionFailure, updated.LastRunStatus)
}

func TestDeleteDefinitionCascadesRuns(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	def := saveDefinition(t, p)

	run := &models.Run{DefinitionID: def.ID, Status: models.StatusQueued}
	require.NoError(t, p.Runs().Create(ctx, run))

	require.NoError(t, p.Definitions().Delete(ctx, def.ID))

	_, err := p.Runs().GetByID(ctx, run.ID)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestSecretsScopedStorage(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	secret := &models.Secret{
		Scope:      models.SecretScopeProject,
		ScopeID:    "proj-1",
		Name:       "API_TOKEN",
		Ciphertext: []byte{0x01, 0x02},
	}
	require.NoError(t, p.Secrets().Save(ctx, secret))

	loaded, err := p.Secrets().Get(ctx, models.SecretScopeProject, "proj-1", "API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, loaded.Ciphertext)
	assert.Nil(t, loaded.LastUsedAt)

	usedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.Secrets().TouchLastUsed(ctx, loaded.ID, usedAt))

	touched, err := p.Secrets().Get(ctx, models.SecretScopeProject, "proj-1", "API_TOKEN")
	require.NoError(t, err)
	require.NotNil(t, touched.LastUsedAt)
	assert.Equal(t, usedAt, *touched.LastUsedAt)

	_, err = p.Secrets().Get(ctx, models.SecretScopeOrganization, "proj-1", "API_TOKEN")
	assert.True(t, persistence.IsSecretNotFound(err))
}

func TestArtifacts(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := &models.Artifact{RunID: "run-1", Name: "coverage", SizeBytes: 1024, ExpiresAt: now.Add(time.Hour)}
	stale := &models.Artifact{RunID: "run-1", Name: "logs", SizeBytes: 64, ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, p.Artifacts().Save(ctx, fresh))
	require.NoError(t, p.Artifacts().Save(ctx, stale))

	dup := &models.Artifact{RunID: "run-1", Name: "coverage"}
	assert.ErrorIs(t, p.Artifacts().Save(ctx, dup), persistence.ErrArtifactExists)

	byRun, err := p.Artifacts().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	expired, err := p.Artifacts().ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "logs", expired[0].Name)
}
