package interfaces

import (
	"context"

	"github.com/ternarybob/praedium/internal/models"
)

// EventType represents different event types in the system
type EventType string

const (
	EventEntityCreated EventType = "entity.created"
	EventEntityUpdated EventType = "entity.updated"
	EventJobCompleted  EventType = "job.completed"
)

// EntityEventPayload identifies the entity a ledger apply touched.
// Subscribers fetch the current entity state from storage by ID.
type EntityEventPayload struct {
	EntityType models.EntityType
	EntityID   string
	ChangeID   string
	JobID      string
}

// JobEventPayload announces a settled collection job
type JobEventPayload struct {
	JobID  string
	Type   models.JobType
	Status models.JobStatus
	Result *models.CollectResult
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
