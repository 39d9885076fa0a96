package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/conveyorci/conveyor/pkg/persistence/file"
	"github.com/conveyorci/conveyor/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the URL scheme.
// postgres:// and postgresql:// open a database; anything else is treated as
// a filesystem root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgresql persistence: %w", err))
		}

		return p
	default:
		p, err := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
		if err != nil {
			panic(fmt.Errorf("failed to create file persistence: %w", err))
		}

		return p
	}
}
