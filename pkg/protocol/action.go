// Package protocol defines the contracts for pluggable step actions.
package protocol

import (
	"context"
	"log/slog"
)

// ActionContext carries the execution environment of a `uses:` step. Env
// already contains the injected CONVEYOR_* variables and resolved secrets.
type ActionContext struct {
	RunID      string
	JobID      string
	StepNumber int
	WorkingDir string
	Env        map[string]string
	Matrix     map[string]string
}

// Result is the outcome of an action. A nil error with a non-zero ExitCode
// means the action ran and failed; an error means the action could not run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type Action interface {
	Execute(ctx context.Context, actionCtx ActionContext, logger *slog.Logger) (*Result, error)
}

// ActionFactory creates action instances from validated step parameters.
type ActionFactory interface {
	// Create creates a new action instance with the given parameters.
	Create(params map[string]any) (Action, error)

	// ID returns the `uses:` reference for this action type.
	ID() string

	// Schema returns the JSON schema the step's `with:` block must satisfy.
	Schema() map[string]any
}
