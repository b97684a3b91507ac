package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventDocumentUploaded     EventType = "document_uploaded"
	EventVersionStatusChanged EventType = "version_status_changed"
	EventJobUpdated           EventType = "job_updated"
	EventFactsExtracted       EventType = "facts_extracted"
	EventDeletionCompleted    EventType = "deletion_completed"
	EventDeletionFailed       EventType = "deletion_failed"
)

// Event represents a system event
type Event struct {
	Type     EventType
	TenantID string
	Payload  interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
