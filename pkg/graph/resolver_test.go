package graph

import (
	"testing"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobs(specs map[string][]string, order ...string) []*models.Job {
	out := make([]*models.Job, 0, len(order))
	for _, id := range order {
		out = append(out, &models.Job{JobID: id, Needs: specs[id]})
	}

	return out
}

func set(ids ...string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}

	return m
}

func TestResolverReady(t *testing.T) {
	r := New(jobs(map[string][]string{
		"test":   {"build"},
		"deploy": {"test"},
	}, "build", "test", "deploy"))

	tests := []struct {
		name     string
		state    State
		expected []string
	}{
		{
			name:     "only roots are ready initially",
			state:    State{},
			expected: []string{"build"},
		},
		{
			name:     "dependent becomes ready once its need completed",
			state:    State{Completed: set("build")},
			expected: []string{"test"},
		},
		{
			name:     "active jobs are not re-dispatched",
			state:    State{Completed: set("build"), Active: set("test")},
			expected: nil,
		},
		{
			name:     "failed need never enables the dependent",
			state:    State{Failed: set("build")},
			expected: nil,
		},
		{
			name:     "chain fully completed",
			state:    State{Completed: set("build", "test", "deploy")},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Ready(tt.state))
		})
	}
}

func TestResolverReadyIndependentJobs(t *testing.T) {
	r := New(jobs(map[string][]string{}, "lint", "unit"))

	assert.Equal(t, []string{"lint", "unit"}, r.Ready(State{}),
		"independent jobs are eligible in the same round")
}

func TestResolverBlockedPropagatesTransitively(t *testing.T) {
	r := New(jobs(map[string][]string{
		"test":   {"build"},
		"deploy": {"test"},
	}, "build", "test", "deploy"))

	blocked := r.Blocked(State{Failed: set("build")})
	assert.Equal(t, []string{"deploy", "test"}, blocked)
}

func TestResolverCycleYieldsDeadlock(t *testing.T) {
	r := New(jobs(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}, "a", "b"))

	state := State{}
	require.Empty(t, r.Ready(state), "a cycle produces zero ready jobs")
	require.Empty(t, r.Blocked(state))
	assert.Equal(t, []string{"a", "b"}, r.Unresolved(state),
		"the unresolved set is the deadlock diagnostic")
}

func TestResolverEmptyGraph(t *testing.T) {
	r := New(nil)

	assert.Empty(t, r.Ready(State{}))
	assert.Empty(t, r.Unresolved(State{}))
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name   string
		spec   models.WorkflowSpec
		errors int
	}{
		{
			name: "valid graph",
			spec: models.WorkflowSpec{Jobs: []models.JobTemplate{
				{ID: "build"},
				{ID: "test", Needs: []string{"build"}},
			}},
			errors: 0,
		},
		{
			name: "unknown needs reference",
			spec: models.WorkflowSpec{Jobs: []models.JobTemplate{
				{ID: "test", Needs: []string{"build"}},
			}},
			errors: 1,
		},
		{
			name: "self reference",
			spec: models.WorkflowSpec{Jobs: []models.JobTemplate{
				{ID: "build", Needs: []string{"build"}},
			}},
			errors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ValidateSpec(tt.spec), tt.errors)
		})
	}
}
