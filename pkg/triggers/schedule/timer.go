// Package schedule fires runs for workflow definitions that declare a cron
// schedule. Definitions are re-read periodically, so edits made through the
// API take effect without a restart.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/services"
)

const DefaultSyncInterval = time.Minute

var ErrInvalidCron = errors.New("invalid cron expression")

// ValidateExpression checks a cron expression in the standard 5-field format.
func ValidateExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCron, err)
	}

	return nil
}

// Timer keeps one cron entry per scheduled definition and submits a run
// whenever an entry fires.
type Timer struct {
	definitions  *services.Definitions
	runs         *services.Runs
	logger       *slog.Logger
	syncInterval time.Duration
	cron         *cron.Cron

	mu      sync.Mutex
	entries map[string]scheduledEntry
}

type scheduledEntry struct {
	id   cron.EntryID
	expr string
}

type Config struct {
	Definitions  *services.Definitions
	Runs         *services.Runs
	Logger       *slog.Logger
	SyncInterval time.Duration
}

func NewTimer(cfg Config) *Timer {
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	return &Timer{
		definitions:  cfg.Definitions,
		runs:         cfg.Runs,
		logger:       cfg.Logger,
		syncInterval: interval,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string]scheduledEntry),
	}
}

// Start runs the timer until the context is cancelled. The definition list
// is synced immediately and then on every interval tick.
func (t *Timer) Start(ctx context.Context) error {
	if err := t.Sync(ctx); err != nil {
		return err
	}

	t.cron.Start()
	defer t.cron.Stop()

	ticker := time.NewTicker(t.syncInterval)
	defer ticker.Stop()

	t.logger.InfoContext(ctx, "Schedule timer started", "sync_interval", t.syncInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.Sync(ctx); err != nil {
				t.logger.ErrorContext(ctx, "Failed to sync schedules", "error", err)
			}
		}
	}
}

// Sync reconciles the cron entries with the stored definitions. Entries are
// added for new schedules, replaced when the expression changed, and removed
// for definitions that lost their schedule or were disabled or deleted.
func (t *Timer) Sync(ctx context.Context) error {
	defs, err := t.definitions.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(defs))

	for _, def := range defs {
		if def.Schedule == "" || !def.Enabled || !def.AllowsEvent(models.EventSchedule) {
			continue
		}

		seen[def.ID] = true

		entry, ok := t.entries[def.ID]
		if ok && entry.expr == def.Schedule {
			continue
		}

		if ok {
			t.cron.Remove(entry.id)
		}

		definitionID := def.ID

		id, err := t.cron.AddFunc(def.Schedule, func() { t.fire(definitionID) })
		if err != nil {
			t.logger.ErrorContext(ctx, "Rejected cron expression",
				"definition_id", def.ID, "schedule", def.Schedule, "error", err)

			delete(t.entries, def.ID)

			continue
		}

		t.entries[def.ID] = scheduledEntry{id: id, expr: def.Schedule}
		t.logger.InfoContext(ctx, "Scheduled definition",
			"definition_id", def.ID, "name", def.Name, "schedule", def.Schedule)
	}

	for defID, entry := range t.entries {
		if !seen[defID] {
			t.cron.Remove(entry.id)
			delete(t.entries, defID)
			t.logger.InfoContext(ctx, "Unscheduled definition", "definition_id", defID)
		}
	}

	return nil
}

// Scheduled reports the definition IDs currently carrying a cron entry.
func (t *Timer) Scheduled() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}

	return ids
}

func (t *Timer) fire(definitionID string) {
	ctx := context.Background()

	run, err := t.runs.Submit(ctx, services.SubmitRequest{
		DefinitionID: definitionID,
		Event:        models.EventSchedule,
		Actor:        "schedule",
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to submit scheduled run",
			"definition_id", definitionID, "error", err)

		return
	}

	t.logger.InfoContext(ctx, "Scheduled run submitted",
		"definition_id", definitionID, "run_id", run.ID, "run_number", run.RunNumber)
}
