package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

func TestLoggerSubscriberHandlesAllPayloadShapes(t *testing.T) {
	subscriber := NewLoggerSubscriber(common.GetLogger())
	ctx := context.Background()

	events := []interfaces.Event{
		{
			Type: interfaces.EventEntityCreated,
			Payload: interfaces.EntityEventPayload{
				EntityType: models.EntityTypeCommunity,
				EntityID:   "CMY-1699564234-A7K9M2",
				ChangeID:   "CHG-1699564234-B8L3N4",
			},
		},
		{
			Type: interfaces.EventJobCompleted,
			Payload: interfaces.JobEventPayload{
				JobID:  "JOB-1699564234-C9M4P5",
				Type:   models.JobTypeCommunityDiscovery,
				Status: models.JobStatusCompleted,
			},
		},
		{Type: interfaces.EventEntityUpdated, Payload: nil},
		{Type: interfaces.EventEntityUpdated, Payload: "unexpected shape"},
	}

	for _, event := range events {
		assert.NoError(t, subscriber(ctx, event))
	}
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	svc := NewService(common.GetLogger())
	defer svc.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(svc, common.GetLogger()))

	// Every event type has at least the logging subscriber
	ctx := context.Background()
	for _, eventType := range []interfaces.EventType{
		interfaces.EventEntityCreated,
		interfaces.EventEntityUpdated,
		interfaces.EventJobCompleted,
	} {
		assert.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: eventType}))
	}
}

func TestLoggerSubscriberDoesNotInterfere(t *testing.T) {
	svc := NewService(common.GetLogger())
	defer svc.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(svc, common.GetLogger()))

	callCount := 0
	require.NoError(t, svc.Subscribe(interfaces.EventEntityCreated, func(ctx context.Context, event interfaces.Event) error {
		callCount++
		return nil
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventEntityCreated,
		Payload: interfaces.EntityEventPayload{
			EntityType: models.EntityTypeCommunity,
			EntityID:   "CMY-1699564234-A7K9M2",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}
