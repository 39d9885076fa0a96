// Package log provides the core/log built-in action.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conveyorci/conveyor/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "core/log"
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message written to the step's output",
			},
			"level": map[string]any{
				"type": "string",
				"enum": []any{"debug", "info", "warn", "error"},
			},
		},
		"required":             []any{"message"},
		"additionalProperties": false,
	}
}

func (f *Factory) Create(params map[string]any) (protocol.Action, error) {
	message, _ := params["message"].(string)
	level, _ := params["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Action{message: message, level: level}, nil
}

type Action struct {
	message string
	level   string
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (*protocol.Result, error) {
	logger = logger.With("action_type", "core/log", "job_id", actionCtx.JobID, "step", actionCtx.StepNumber)

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, a.message)
	case "warn":
		logger.WarnContext(ctx, a.message)
	case "error":
		logger.ErrorContext(ctx, a.message)
	default:
		logger.InfoContext(ctx, a.message)
	}

	return &protocol.Result{
		ExitCode: 0,
		Stdout:   fmt.Sprintln(a.message),
	}, nil
}
