// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	logaction "github.com/conveyorci/conveyor/pkg/actions/log"
	"github.com/conveyorci/conveyor/pkg/actions/writefile"
	"github.com/conveyorci/conveyor/pkg/registry"
)

// NewRegistry builds the action registry with every built-in action
// available to workflow steps.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(logaction.NewFactory())
	reg.RegisterAction(writefile.NewFactory())

	return reg
}
