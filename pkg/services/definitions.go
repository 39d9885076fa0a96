package services

import (
	"context"
	"fmt"

	"github.com/conveyorci/conveyor/pkg/definition"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

var ErrDefinitionNotFound = persistence.ErrDefinitionNotFound

// Definitions manages workflow definitions. Documents arrive as YAML and are
// validated in full before anything is stored.
type Definitions struct {
	persistence persistence.Persistence
}

func NewDefinitions(p persistence.Persistence) *Definitions {
	return &Definitions{persistence: p}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definitions) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateDefinitionRequest registers a new workflow in a project.
type CreateDefinitionRequest struct {
	ProjectID string
	Document  []byte
}

// Create parses, validates and stores a workflow document. All validation
// problems are reported together.
func (s *Definitions) Create(ctx context.Context, req CreateDefinitionRequest) (*models.WorkflowDefinition, error) {
	if req.ProjectID == "" {
		return nil, ErrProjectRequired
	}

	doc, err := s.parseDocument(req.Document)
	if err != nil {
		return nil, err
	}

	def := &models.WorkflowDefinition{
		ProjectID: req.ProjectID,
		Name:      doc.Name,
		Spec:      doc.Spec(),
		Events:    doc.Events(),
		Schedule:  doc.Schedule,
		Enabled:   true,
	}

	if err := s.persistence.Definitions().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return def, nil
}

// Update replaces the document of an existing definition. Counters and run
// history are untouched.
func (s *Definitions) Update(ctx context.Context, id string, document []byte) (*models.WorkflowDefinition, error) {
	def, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc, err := s.parseDocument(document)
	if err != nil {
		return nil, err
	}

	def.Name = doc.Name
	def.Spec = doc.Spec()
	def.Events = doc.Events()
	def.Schedule = doc.Schedule

	if err := s.persistence.Definitions().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return def, nil
}

// SetEnabled flips the enabled flag. Disabled definitions reject new runs.
func (s *Definitions) SetEnabled(ctx context.Context, id string, enabled bool) (*models.WorkflowDefinition, error) {
	def, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	def.Enabled = enabled

	if err := s.persistence.Definitions().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return def, nil
}

func (s *Definitions) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().GetByID(ctx, id)
}

func (s *Definitions) GetByName(ctx context.Context, projectID, name string) (*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().GetByName(ctx, projectID, name)
}

// List returns the definitions of a project, or every definition when
// projectID is empty.
func (s *Definitions) List(ctx context.Context, projectID string) ([]*models.WorkflowDefinition, error) {
	all, err := s.persistence.Definitions().List(ctx)
	if err != nil {
		return nil, err
	}

	if projectID == "" {
		return all, nil
	}

	filtered := make([]*models.WorkflowDefinition, 0, len(all))

	for _, def := range all {
		if def.ProjectID == projectID {
			filtered = append(filtered, def)
		}
	}

	return filtered, nil
}

// Delete removes the definition and all of its runs. Run numbers stay
// burned: re-creating a definition with the same name starts a fresh
// identity.
func (s *Definitions) Delete(ctx context.Context, id string) error {
	if _, err := s.persistence.Definitions().GetByID(ctx, id); err != nil {
		return err
	}

	return s.persistence.Definitions().Delete(ctx, id)
}

func (s *Definitions) parseDocument(document []byte) (*definition.Document, error) {
	if len(document) == 0 {
		return nil, ErrDocumentRequired
	}

	doc, err := definition.Parse(document)
	if err != nil {
		return nil, NewValidationError("definitions.parse", err.Error(), ErrInvalidRequest)
	}

	if err := doc.Validate(); err != nil {
		return nil, NewValidationError("definitions.validate", err.Error(), ErrInvalidRequest)
	}

	return doc, nil
}
