package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/pkg/artifacts"
	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence/file"
	"github.com/conveyorci/conveyor/pkg/registry"
	"github.com/conveyorci/conveyor/pkg/services"
	"github.com/conveyorci/conveyor/pkg/web"
)

const testDocument = `
name: ci
on: [push, pull_request]
jobs:
  build:
    runs-on: linux
    steps:
      - name: Build
        run: make build
  test:
    needs: [build]
    steps:
      - run: make test
`

type testEnv struct {
	app *fiber.App
	p   *file.Persistence
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(
		services.NewDefinitions(p),
		services.NewRuns(p, nil),
		artifacts.NewStore(p.Artifacts(), 0),
		validator.New(validator.WithRequiredStructEnabled()),
		registry.NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil))),
	)

	app := fiber.New()
	handlers.Register(app)

	return &testEnv{app: app, p: p}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func (e *testEnv) createWorkflow(t *testing.T) web.WorkflowResponse {
	t.Helper()

	resp := e.request(t, http.MethodPost, "/workflows/", web.CreateWorkflowRequest{
		ProjectID: "proj-1",
		Document:  testDocument,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decode[web.WorkflowResponse](t, resp)
}

func TestCreateWorkflow(t *testing.T) {
	e := setupTestApp(t)

	created := e.createWorkflow(t)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "proj-1", created.ProjectID)
	assert.Equal(t, "ci", created.Name)
	assert.True(t, created.Enabled)
	assert.Equal(t, 2, created.JobCount)
	assert.Equal(t, []models.TriggerEvent{models.EventPush, models.EventPullRequest}, created.Events)
}

func TestCreateWorkflowValidationFailures(t *testing.T) {
	e := setupTestApp(t)

	tests := []struct {
		name string
		body web.CreateWorkflowRequest
	}{
		{
			name: "missing project",
			body: web.CreateWorkflowRequest{Document: testDocument},
		},
		{
			name: "missing document",
			body: web.CreateWorkflowRequest{ProjectID: "proj-1"},
		},
		{
			name: "invalid document",
			body: web.CreateWorkflowRequest{
				ProjectID: "proj-1",
				Document:  "name: broken\njobs:\n  a:\n    steps: []\n",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.request(t, http.MethodPost, "/workflows/", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCreateWorkflowDuplicateName(t *testing.T) {
	e := setupTestApp(t)

	e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/", web.CreateWorkflowRequest{
		ProjectID: "proj-1",
		Document:  testDocument,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetWorkflowNotFound(t *testing.T) {
	e := setupTestApp(t)

	resp := e.request(t, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListWorkflowsFiltersByProject(t *testing.T) {
	e := setupTestApp(t)
	e.createWorkflow(t)

	resp := e.request(t, http.MethodGet, "/workflows/?project_id=proj-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[struct {
		Workflows  []web.WorkflowResponse `json:"workflows"`
		TotalCount int                    `json:"total_count"`
	}](t, resp)
	assert.Equal(t, 1, list.TotalCount)

	resp = e.request(t, http.MethodGet, "/workflows/?project_id=other", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list = decode[struct {
		Workflows  []web.WorkflowResponse `json:"workflows"`
		TotalCount int                    `json:"total_count"`
	}](t, resp)
	assert.Equal(t, 0, list.TotalCount)
}

func TestUpdateWorkflow(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	updated := "name: ci\non: [push]\njobs:\n  build:\n    steps:\n      - run: make all\n"

	resp := e.request(t, http.MethodPut, "/workflows/"+created.ID, web.UpdateWorkflowRequest{
		Document: updated,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	workflow := decode[web.WorkflowResponse](t, resp)
	assert.Equal(t, 1, workflow.JobCount)
	assert.Equal(t, []models.TriggerEvent{models.EventPush}, workflow.Events)
}

func TestDeleteWorkflow(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatchWorkflow(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{
		Event:     "push",
		Actor:     "alice",
		CommitSHA: "abc123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	run := decode[models.Run](t, resp)
	assert.Equal(t, int64(1), run.RunNumber)
	assert.Equal(t, models.StatusQueued, run.Status)
	assert.Len(t, run.Jobs, 2)
}

func TestDispatchWorkflowEventNotAllowed(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{
		Event: "schedule",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDispatchDisabledWorkflow(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/workflows/"+created.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	submitted := decode[models.Run](t, resp)

	resp = e.request(t, http.MethodGet, "/runs/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	run := decode[models.Run](t, resp)
	assert.Equal(t, submitted.ID, run.ID)
	require.Len(t, run.Jobs, 2)
	assert.Len(t, run.Jobs[0].Steps, 1)
}

func TestGetRunNotFound(t *testing.T) {
	e := setupTestApp(t)

	resp := e.request(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListWorkflowRuns(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	for range 2 {
		resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := e.request(t, http.MethodGet, "/workflows/"+created.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[struct {
		Runs       []web.RunSummaryResponse `json:"runs"`
		TotalCount int                      `json:"total_count"`
	}](t, resp)
	assert.Equal(t, 2, list.TotalCount)
}

func TestCancelRun(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	run := decode[models.Run](t, resp)

	resp = e.request(t, http.MethodPost, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{Actor: "alice"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCancelTerminalRun(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	run := decode[models.Run](t, resp)

	ctx := context.Background()
	stored, err := e.p.Runs().GetByID(ctx, run.ID)
	require.NoError(t, err)

	stored.Status = models.StatusCompleted
	stored.Conclusion = models.ConclusionSuccess
	require.NoError(t, e.p.Runs().UpdateRun(ctx, stored))

	resp = e.request(t, http.MethodPost, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRunArtifacts(t *testing.T) {
	e := setupTestApp(t)
	created := e.createWorkflow(t)

	resp := e.request(t, http.MethodPost, "/workflows/"+created.ID+"/dispatch", web.DispatchRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	run := decode[models.Run](t, resp)

	resp = e.request(t, http.MethodPost, "/runs/"+run.ID+"/artifacts", web.RecordArtifactRequest{
		Name:      "coverage.out",
		SizeBytes: 2048,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	artifact := decode[models.Artifact](t, resp)
	assert.Equal(t, run.ID, artifact.RunID)
	assert.False(t, artifact.ExpiresAt.IsZero())

	// Names are unique within a run.
	resp = e.request(t, http.MethodPost, "/runs/"+run.ID+"/artifacts", web.RecordArtifactRequest{
		Name: "coverage.out",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// An explicit retention overrides the server default.
	resp = e.request(t, http.MethodPost, "/runs/"+run.ID+"/artifacts", web.RecordArtifactRequest{
		Name:          "nightly.tar",
		RetentionDays: 7,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	short := decode[models.Artifact](t, resp)
	assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), short.ExpiresAt, time.Minute)

	resp = e.request(t, http.MethodGet, "/runs/"+run.ID+"/artifacts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[struct {
		Artifacts  []models.Artifact `json:"artifacts"`
		TotalCount int               `json:"total_count"`
	}](t, resp)
	assert.Equal(t, 2, list.TotalCount)
}

func TestRunArtifactsUnknownRun(t *testing.T) {
	e := setupTestApp(t)

	resp := e.request(t, http.MethodPost, "/runs/missing/artifacts", web.RecordArtifactRequest{Name: "a"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	e := setupTestApp(t)

	resp := e.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
