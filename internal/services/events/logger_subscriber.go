package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs every event it
// sees. Wired at startup so the event stream is visible in the process
// log without any subscriber doing its own tracing.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case interfaces.EntityEventPayload:
			logEvent = logEvent.
				Str("entity_type", string(payload.EntityType)).
				Str("entity_id", payload.EntityID)
			if payload.ChangeID != "" {
				logEvent = logEvent.Str("change_id", payload.ChangeID)
			}
			if payload.JobID != "" {
				logEvent = logEvent.Str("job_id", payload.JobID)
			}
		case interfaces.JobEventPayload:
			logEvent = logEvent.
				Str("job_id", payload.JobID).
				Str("job_type", string(payload.Type)).
				Str("status", string(payload.Status))
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logging handler to every
// known event type.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventEntityCreated,
		interfaces.EventEntityUpdated,
		interfaces.EventJobCompleted,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
