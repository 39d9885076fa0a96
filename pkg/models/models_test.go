package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestRunDuration(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	run := &Run{}
	assert.Equal(t, time.Duration(0), run.Duration(), "unstarted run has zero duration")

	run.StartedAt = &started
	run.CompletedAt = &completed
	assert.Equal(t, 90*time.Second, run.Duration())

	// Clock skew must not produce a negative duration.
	earlier := started.Add(-time.Minute)
	run.CompletedAt = &earlier
	assert.Equal(t, time.Duration(0), run.Duration())
}

func TestDefinitionAllowsEvent(t *testing.T) {
	def := &WorkflowDefinition{Events: []TriggerEvent{EventPush, EventSchedule}}

	assert.True(t, def.AllowsEvent(EventPush))
	assert.True(t, def.AllowsEvent(EventSchedule))
	assert.False(t, def.AllowsEvent(EventPullRequest))
	assert.True(t, def.AllowsEvent(EventManual), "manual dispatch is always allowed")
}

func TestArtifactIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	artifact := &Artifact{ExpiresAt: now.Add(24 * time.Hour)}

	assert.False(t, artifact.IsExpired(now))
	assert.True(t, artifact.IsExpired(now.Add(25*time.Hour)))
}

func TestWorkflowSpecJobLookup(t *testing.T) {
	spec := &WorkflowSpec{Jobs: []JobTemplate{{ID: "build"}, {ID: "test"}}}

	job, ok := spec.Job("test")
	assert.True(t, ok)
	assert.Equal(t, "test", job.ID)

	_, ok = spec.Job("deploy")
	assert.False(t, ok)
}
