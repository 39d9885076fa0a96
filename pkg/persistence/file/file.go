// Package file provides file-based persistence for local development and
// tests. Entities are stored as one JSON document per id; runs embed their
// jobs and steps.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conveyorci/conveyor/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
// A single process-wide mutex serializes writes; this backend is not meant
// for multi-process deployments.
type Persistence struct {
	root        string
	mu          sync.Mutex
	definitions *DefinitionRepository
	runs        *RunRepository
	secrets     *SecretRepository
	artifacts   *ArtifactRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts both a plain path and a file:// URL.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.TrimPrefix(root, "file://")

	for _, dir := range []string{"definitions", "runs", "secrets", "artifacts", "counters"} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	p := &Persistence{root: cleanRoot}
	p.definitions = &DefinitionRepository{p: p}
	p.runs = &RunRepository{p: p}
	p.secrets = &SecretRepository{p: p}
	p.artifacts = &ArtifactRepository{p: p}

	return p, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitions }
func (p *Persistence) Runs() persistence.RunRepository               { return p.runs }
func (p *Persistence) Secrets() persistence.SecretRepository         { return p.secrets }
func (p *Persistence) Artifacts() persistence.ArtifactRepository     { return p.artifacts }

// HealthCheck verifies the root directory still exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); err != nil {
		return fmt.Errorf("persistence root unavailable: %w", err)
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) path(kind, id string) string {
	return filepath.Join(p.root, kind, id+".json")
}

func (p *Persistence) write(kind, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	// Write-then-rename keeps readers from observing partial documents.
	tmp := p.path(kind, id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return os.Rename(tmp, p.path(kind, id))
}

func (p *Persistence) read(kind, id string, v any) (bool, error) {
	data, err := os.ReadFile(p.path(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return true, nil
}

func (p *Persistence) list(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}

	return ids, nil
}

func (p *Persistence) remove(kind, id string) error {
	err := os.Remove(p.path(kind, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return nil
}
