package schedule

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence/file"
	"github.com/conveyorci/conveyor/pkg/services"
)

const scheduledDocument = `
name: nightly
on: [schedule]
schedule: "0 2 * * *"
jobs:
  backup:
    steps:
      - run: make backup
`

type fixture struct {
	timer       *Timer
	definitions *services.Definitions
	runs        *services.Runs
	p           *file.Persistence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	definitions := services.NewDefinitions(p)
	runs := services.NewRuns(p, nil)

	timer := NewTimer(Config{
		Definitions: definitions,
		Runs:        runs,
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})

	return &fixture{timer: timer, definitions: definitions, runs: runs, p: p}
}

func (f *fixture) createScheduled(t *testing.T) *models.WorkflowDefinition {
	t.Helper()

	def, err := f.definitions.Create(context.Background(), services.CreateDefinitionRequest{
		ProjectID: "proj-1",
		Document:  []byte(scheduledDocument),
	})
	require.NoError(t, err)

	return def
}

func TestValidateExpression(t *testing.T) {
	assert.NoError(t, ValidateExpression("0 2 * * *"))
	assert.NoError(t, ValidateExpression("@hourly"))

	err := ValidateExpression("not a cron line")
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestSyncRegistersScheduledDefinitions(t *testing.T) {
	f := newFixture(t)
	def := f.createScheduled(t)

	require.NoError(t, f.timer.Sync(context.Background()))

	assert.Equal(t, []string{def.ID}, f.timer.Scheduled())
}

func TestSyncSkipsUnscheduledAndDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.definitions.Create(ctx, services.CreateDefinitionRequest{
		ProjectID: "proj-1",
		Document:  []byte("name: ci\non: [push]\njobs:\n  build:\n    steps:\n      - run: make\n"),
	})
	require.NoError(t, err)

	def := f.createScheduled(t)
	_, err = f.definitions.SetEnabled(ctx, def.ID, false)
	require.NoError(t, err)

	require.NoError(t, f.timer.Sync(ctx))

	assert.Empty(t, f.timer.Scheduled())
}

func TestSyncRemovesDeletedDefinitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.createScheduled(t)

	require.NoError(t, f.timer.Sync(ctx))
	require.Len(t, f.timer.Scheduled(), 1)

	require.NoError(t, f.definitions.Delete(ctx, def.ID))
	require.NoError(t, f.timer.Sync(ctx))

	assert.Empty(t, f.timer.Scheduled())
}

func TestFireSubmitsScheduleRun(t *testing.T) {
	f := newFixture(t)
	def := f.createScheduled(t)

	f.timer.fire(def.ID)

	runs, err := f.runs.ListByDefinition(context.Background(), def.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, models.EventSchedule, runs[0].Event)
	assert.Equal(t, "schedule", runs[0].Actor)
	assert.Equal(t, models.StatusQueued, runs[0].Status)
}

func TestFireOnDeletedDefinitionDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	def := f.createScheduled(t)

	require.NoError(t, f.definitions.Delete(context.Background(), def.ID))

	f.timer.fire(def.ID)

	_, err := f.runs.ListByDefinition(context.Background(), def.ID)
	require.NoError(t, err)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	f.createScheduled(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- f.timer.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not stop")
	}
}
