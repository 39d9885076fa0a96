// Package main provides the Conveyor runner worker implementation.
package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorci/conveyor/pkg/eventbus"
	"github.com/conveyorci/conveyor/pkg/executor"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/conveyorci/conveyor/pkg/registry"
	"github.com/conveyorci/conveyor/pkg/runner"
	"github.com/conveyorci/conveyor/pkg/scheduler"
	"github.com/conveyorci/conveyor/pkg/vault"
)

// WorkerManager assembles the execution pipeline: the scheduler consumes run
// events from the bus and drives jobs through the runner, which shells out
// via the step executor.
type WorkerManager struct {
	workerID  string
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
}

type WorkerConfig struct {
	WorkerID       string
	Persistence    persistence.Persistence
	EventBus       eventbus.EventBus
	Registry       *registry.Registry
	Vault          *vault.Vault
	Logger         *slog.Logger
	Tracer         trace.Tracer
	WorkspaceRoot  string
	OrganizationID string
	MaxWorkers     int
}

func NewWorkerManager(cfg WorkerConfig) *WorkerManager {
	jobRunner := runner.New(runner.Config{
		Executor:       executor.NewShellExecutor(cfg.Logger),
		Registry:       cfg.Registry,
		Vault:          cfg.Vault,
		Runs:           cfg.Persistence.Runs(),
		Publisher:      cfg.EventBus,
		Logger:         cfg.Logger,
		WorkspaceRoot:  cfg.WorkspaceRoot,
		OrganizationID: cfg.OrganizationID,
	})

	sched := scheduler.New(scheduler.Config{
		Runner:      jobRunner,
		Persistence: cfg.Persistence,
		EventBus:    cfg.EventBus,
		Logger:      cfg.Logger,
		Tracer:      cfg.Tracer,
		MaxWorkers:  cfg.MaxWorkers,
	})

	return &WorkerManager{
		workerID:  cfg.WorkerID,
		logger:    cfg.Logger,
		scheduler: sched,
	}
}

// Start blocks consuming run events until the context is cancelled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Runner worker started", "worker_id", w.workerID)

	return w.scheduler.Start(ctx)
}
