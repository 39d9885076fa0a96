package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/pkg/channels/gochannel"
	"github.com/conveyorci/conveyor/pkg/events"
	"github.com/conveyorci/conveyor/pkg/models"
)

func TestWatermillEventBusPublishSubscribe(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *events.RunTriggered, 1)

	err = bus.Handle(events.RunTriggeredEvent, func(_ context.Context, event any) error {
		triggered, ok := event.(*events.RunTriggered)
		require.True(t, ok)
		received <- triggered

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	triggered := events.RunTriggered{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.RunTriggeredEvent,
			Timestamp: time.Now().UTC(),
			RunID:     "run-1",
		},
		RunNumber: 3,
		Event:     models.EventPush,
	}
	require.NoError(t, bus.Publish(ctx, "run-1", triggered))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, int64(3), got.RunNumber)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type; the message is acked and dropped.
	err = bus.Publish(ctx, "run-1", events.RunStarted{
		BaseEvent: events.BaseEvent{RunID: "run-1"},
	})
	require.NoError(t, err)
}
