// Package web provides HTTP handlers and REST API endpoints for workflow
// and run management.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/conveyorci/conveyor/pkg/artifacts"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/registry"
	"github.com/conveyorci/conveyor/pkg/services"
)

type APIHandlers struct {
	definitionService *services.Definitions
	runService        *services.Runs
	artifactStore     *artifacts.Store
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	definitionService *services.Definitions,
	runService *services.Runs,
	artifactStore *artifacts.Store,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		runService:        runService,
		artifactStore:     artifactStore,
		validator:         validator,
		registry:          registry,
	}
}

// Register wires every API route into the app.
func (h *APIHandlers) Register(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Post("/:id/dispatch", h.DispatchWorkflow)
	w.Get("/:id/runs", h.GetWorkflowRuns)

	r := app.Group("/runs")
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)
	r.Get("/:id/artifacts", h.GetRunArtifacts)
	r.Post("/:id/artifacts", h.RecordRunArtifact)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	defs, err := h.definitionService.List(c.Context(), c.Query("project_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	workflows := make([]WorkflowResponse, 0, len(defs))
	for _, def := range defs {
		workflows = append(workflows, TransformWorkflowResponse(def))
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.definitionService.Create(c.Context(), services.CreateDefinitionRequest{
		ProjectID: req.ProjectID,
		Document:  []byte(req.Document),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformWorkflowResponse(def))
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	def, err := h.definitionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformWorkflowResponse(def))
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.definitionService.Update(c.Context(), id, []byte(req.Document))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformWorkflowResponse(def))
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.definitionService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.setWorkflowEnabled(c, true)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.setWorkflowEnabled(c, false)
}

func (h *APIHandlers) setWorkflowEnabled(c fiber.Ctx, enabled bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	def, err := h.definitionService.SetEnabled(c.Context(), id, enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformWorkflowResponse(def))
}

func (h *APIHandlers) DispatchWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req DispatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := models.TriggerEvent(req.Event)
	if event == "" {
		event = models.EventManual
	}

	run, err := h.runService.Submit(c.Context(), services.SubmitRequest{
		DefinitionID: id,
		Event:        event,
		Actor:        req.Actor,
		CommitSHA:    req.CommitSHA,
		Ref:          req.Ref,
		Payload:      req.Payload,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if _, err := h.definitionService.Get(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	runs, err := h.runService.ListByDefinition(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	summaries := make([]RunSummaryResponse, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, TransformRunSummary(run))
	}

	return c.JSON(fiber.Map{
		"runs":        summaries,
		"total_count": len(summaries),
	})
}

// GetRun returns the full run including its job rows, step states and the
// retained output tails.
func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req CancelRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.runService.Cancel(c.Context(), id, req.Actor); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id": id,
		"status": "cancellation_requested",
	})
}

func (h *APIHandlers) GetRunArtifacts(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if _, err := h.runService.Get(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	list, err := h.artifactStore.ListByRun(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"artifacts":   list,
		"total_count": len(list),
	})
}

func (h *APIHandlers) RecordRunArtifact(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req RecordArtifactRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.runService.Get(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	retention := time.Duration(req.RetentionDays) * 24 * time.Hour

	artifact, err := h.artifactStore.Record(c.Context(), id, req.Name, req.SizeBytes, retention)
	if err != nil {
		if errors.Is(err, artifacts.ErrEmptyName) {
			return badRequest(c, err.Error())
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(artifact)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Conveyor API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Conveyor API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"actions":    h.registry.AvailableActions(),
		},
		"timestamp": time.Now().UTC(),
	})
}
