package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorci/conveyor/pkg/cmd"
	"github.com/conveyorci/conveyor/pkg/log"
	"github.com/conveyorci/conveyor/pkg/otelhelper"
	"github.com/conveyorci/conveyor/pkg/scheduler"
	"github.com/conveyorci/conveyor/pkg/vault"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-runner",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflow runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated list of Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "secrets-key",
				Usage:    "Hex-encoded 32-byte key for secret decryption",
				Required: true,
				Sources:  cli.EnvVars("SECRETS_KEY"),
			},
			&cli.StringFlag{
				Name:    "workspace-root",
				Usage:   "Directory where job workspaces are created",
				Value:   "./workspaces",
				Sources: cli.EnvVars("WORKSPACE_ROOT"),
			},
			&cli.StringFlag{
				Name:    "organization-id",
				Usage:   "Organization scope for secret resolution",
				Sources: cli.EnvVars("ORGANIZATION_ID"),
			},
			&cli.IntFlag{
				Name:    "max-workers",
				Usage:   "Maximum number of jobs executing concurrently",
				Value:   scheduler.DefaultMaxWorkers,
				Sources: cli.EnvVars("MAX_WORKERS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "runner-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("conveyor-runner").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Conveyor Runner")

			registry := cmd.NewRegistry(logger)

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"conveyor-runner",
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			encryptor, err := vault.NewSecretboxEncryptor(command.String("secrets-key"))
			if err != nil {
				return err
			}

			var tracer trace.Tracer

			if command.Bool("tracing") {
				tracer, err = otelhelper.NewTracer(ctx, "conveyor-runner")
				if err != nil {
					return err
				}
			}

			worker := NewWorkerManager(WorkerConfig{
				WorkerID:       workerID,
				Persistence:    persistence,
				EventBus:       eventBus,
				Registry:       registry,
				Vault:          vault.New(persistence.Secrets(), encryptor, logger),
				Logger:         logger,
				Tracer:         tracer,
				WorkspaceRoot:  command.String("workspace-root"),
				OrganizationID: command.String("organization-id"),
				MaxWorkers:     command.Int("max-workers"),
			})

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start runner worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
