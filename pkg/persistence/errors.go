// Package persistence provides standardized error types for persistence
// operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionExists indicates a definition with the same
	// (project_id, name) identity already exists.
	ErrDefinitionExists = errors.New("workflow definition already exists")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrJobNotFound indicates a job row was not found within a run.
	ErrJobNotFound = errors.New("job not found")

	// ErrStepNotFound indicates a step row was not found within a job.
	ErrStepNotFound = errors.New("step not found")

	// ErrSecretNotFound indicates no secret exists for the given scope and name.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrArtifactExists indicates an artifact with the same name was already
	// recorded for the run.
	ErrArtifactExists = errors.New("artifact already recorded")
)

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsRunNotFound checks if an error indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsSecretNotFound checks if an error indicates a missing secret.
func IsSecretNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}
