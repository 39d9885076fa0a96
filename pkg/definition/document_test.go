package definition

import (
	"testing"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDocument = `
name: ci
on: [push, pull_request]
schedule: "0 4 * * *"
jobs:
  build:
    runs-on: linux
    steps:
      - name: Build
        run: make build
  test:
    needs: [build]
    strategy:
      matrix:
        os: [linux, darwin]
    steps:
      - name: Unit tests
        run: make test
        if: always()
        continue-on-error: true
        timeout-minutes: 5
        env:
          GOFLAGS: -count=1
        working-directory: sub
        secrets: [API_TOKEN]
      - name: Report
        uses: core/log
        with:
          message: done
`

func TestParseFullDocument(t *testing.T) {
	doc, err := Parse([]byte(fullDocument))
	require.NoError(t, err)
	require.NoError(t, doc.Validate())

	assert.Equal(t, "ci", doc.Name)
	assert.Equal(t, EventList{"push", "pull_request"}, doc.On)
	assert.Equal(t, "0 4 * * *", doc.Schedule)

	require.Len(t, doc.Jobs, 2)
	assert.Equal(t, "build", doc.Jobs[0].ID, "job order follows the document")
	assert.Equal(t, "test", doc.Jobs[1].ID)

	spec := doc.Spec()
	require.Len(t, spec.Jobs, 2)

	test := spec.Jobs[1]
	assert.Equal(t, []string{"build"}, test.Needs)
	assert.Equal(t, map[string][]string{"os": {"linux", "darwin"}}, test.Matrix)
	require.Len(t, test.Steps, 2)

	unit := test.Steps[0]
	assert.Equal(t, "make test", unit.Run)
	assert.Equal(t, "always()", unit.If)
	assert.True(t, unit.ContinueOnError)
	assert.Equal(t, 5, unit.TimeoutMinutes)
	assert.Equal(t, "sub", unit.WorkingDir)
	assert.Equal(t, []string{"API_TOKEN"}, unit.Secrets)

	report := test.Steps[1]
	assert.Equal(t, "core/log", report.Uses)
	assert.Equal(t, map[string]any{"message": "done"}, report.With)
}

func TestParseScalarOn(t *testing.T) {
	doc, err := Parse([]byte("name: ci\non: push\njobs:\n  build:\n    steps:\n      - run: true\n"))
	require.NoError(t, err)
	assert.Equal(t, EventList{"push"}, doc.On)
	assert.Equal(t, []models.TriggerEvent{models.EventPush}, doc.Events())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: ci\njbos: {}\n"))
	require.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	doc, err := Parse([]byte(`
name: broken
on: [push, merge_group]
schedule: "not a cron"
jobs:
  build:
    steps:
      - name: no command
  test:
    needs: [missing]
    steps:
      - run: make test
        uses: core/log
`))
	require.NoError(t, err)

	verr := doc.Validate()
	require.Error(t, verr)

	var errs ValidationErrors
	require.ErrorAs(t, verr, &errs)
	assert.Len(t, errs, 5)

	msg := verr.Error()
	assert.Contains(t, msg, "unknown trigger event")
	assert.Contains(t, msg, "invalid cron schedule")
	assert.Contains(t, msg, "one of `run` or `uses` is required")
	assert.Contains(t, msg, "mutually exclusive")
	assert.Contains(t, msg, `needs unknown job "missing"`)
}

func TestValidateRequiresName(t *testing.T) {
	doc, err := Parse([]byte("on: push\n"))
	require.NoError(t, err)

	verr := doc.Validate()
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), "`name` is required")
}

func TestValidateAcceptsEmptyJobGraph(t *testing.T) {
	doc, err := Parse([]byte("name: empty\non: push\njobs: {}\n"))
	require.NoError(t, err)

	require.NoError(t, doc.Validate())
	assert.Empty(t, doc.Spec().Jobs)
}

func TestStepTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Minute, StepTimeout(models.StepTemplate{TimeoutMinutes: 5}, time.Hour))
	assert.Equal(t, time.Hour, StepTimeout(models.StepTemplate{}, time.Hour))
}
