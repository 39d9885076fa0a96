// Package persistence provides the data storage abstraction for definitions,
// runs, secrets and artifacts.
package persistence

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Persistence aggregates the entity repositories behind one handle so
// commands can wire a single dependency.
type Persistence interface {
	Definitions() DefinitionRepository
	Runs() RunRepository
	Secrets() SecretRepository
	Artifacts() ArtifactRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions and their cumulative run
// statistics.
type DefinitionRepository interface {
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetByName(ctx context.Context, projectID, name string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error

	// RecordRunResult applies total/success/failure counters and
	// last_run_status in a single atomic update.
	RecordRunResult(ctx context.Context, definitionID string, conclusion models.Conclusion) error
}

// RunRepository stores runs with their jobs and steps. Create assigns the
// per-definition run number transactionally: successive runs of one
// definition get strictly increasing, gap-free numbers even under concurrent
// submission, and a number is never reused.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByDefinition(ctx context.Context, definitionID string) ([]*models.Run, error)

	UpdateRun(ctx context.Context, run *models.Run) error
	UpdateJob(ctx context.Context, job *models.Job) error
	UpdateStep(ctx context.Context, step *models.Step) error
}

// SecretRepository stores encrypted secrets keyed by (scope, scope_id, name).
type SecretRepository interface {
	Get(ctx context.Context, scope models.SecretScope, scopeID, name string) (*models.Secret, error)
	ListByScope(ctx context.Context, scope models.SecretScope, scopeID string) ([]*models.Secret, error)
	Save(ctx context.Context, secret *models.Secret) error
	Delete(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error
}

// ArtifactRepository records run outputs; the bytes live elsewhere.
type ArtifactRepository interface {
	Save(ctx context.Context, artifact *models.Artifact) error
	ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.Artifact, error)
}
