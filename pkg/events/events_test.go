package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	tests := []struct {
		name     string
		event    interface{ GetType() EventType }
		expected EventType
	}{
		{"run triggered", RunTriggered{}, RunTriggeredEvent},
		{"run started", RunStarted{}, RunStartedEvent},
		{"run finished", RunFinished{}, RunFinishedEvent},
		{"run cancel requested", RunCancelRequested{}, RunCancelRequestedEvent},
		{"job started", JobStarted{}, JobStartedEvent},
		{"job finished", JobFinished{}, JobFinishedEvent},
		{"step finished", StepFinished{}, StepFinishedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.GetType())
		})
	}
}

func TestRunFinishedSerialization(t *testing.T) {
	event := RunFinished{
		BaseEvent: BaseEvent{
			ID:        "evt-1",
			Type:      RunFinishedEvent,
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			RunID:     "run-1",
		},
		RunNumber:  7,
		Status:     models.StatusCompleted,
		Conclusion: models.ConclusionFailure,
		Diagnostic: "dependency deadlock detected: unresolved jobs [a b]",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded RunFinished
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, event.RunNumber, decoded.RunNumber)
	assert.Equal(t, event.Conclusion, decoded.Conclusion)
	assert.Equal(t, event.Diagnostic, decoded.Diagnostic)
}
