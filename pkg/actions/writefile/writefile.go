// Package writefile provides the core/write-file built-in action.
package writefile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conveyorci/conveyor/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "core/write-file"
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Destination path, relative to the job workspace",
			},
			"content": map[string]any{
				"type": "string",
			},
			"overwrite": map[string]any{
				"type": "boolean",
			},
		},
		"required":             []any{"path", "content"},
		"additionalProperties": false,
	}
}

func (f *Factory) Create(params map[string]any) (protocol.Action, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	overwrite, _ := params["overwrite"].(bool)

	if filepath.IsAbs(path) || strings.Contains(path, "..") {
		return nil, fmt.Errorf("path %q must stay inside the workspace", path)
	}

	return &Action{path: path, content: content, overwrite: overwrite}, nil
}

type Action struct {
	path      string
	content   string
	overwrite bool
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (*protocol.Result, error) {
	logger = logger.With("action_type", "core/write-file", "job_id", actionCtx.JobID)

	fullPath := filepath.Join(actionCtx.WorkingDir, a.path)

	if !a.overwrite {
		if _, err := os.Stat(fullPath); err == nil {
			return nil, fmt.Errorf("file '%s' already exists and overwrite is false", fullPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}

	if err := os.WriteFile(fullPath, []byte(a.content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file '%s': %w", fullPath, err)
	}

	logger.InfoContext(ctx, "Wrote file", "path", fullPath, "bytes", len(a.content))

	return &protocol.Result{
		ExitCode: 0,
		Stdout:   fmt.Sprintf("wrote %d bytes to %s\n", len(a.content), a.path),
	}, nil
}
