package events

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/interfaces"
)

// allEventTypes enumerates the bus vocabulary for blanket subscribers.
var allEventTypes = []interfaces.EventType{
	interfaces.EventDocumentUploaded,
	interfaces.EventVersionStatusChanged,
	interfaces.EventJobUpdated,
	interfaces.EventFactsExtracted,
	interfaces.EventDeletionCompleted,
	interfaces.EventDeletionFailed,
}

// NewLoggerSubscriber returns a handler that logs every event it sees with
// the identifying fields pulled out of the payload.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		entry := logger.Debug().
			Str("event_type", string(event.Type)).
			Str("tenant_id", event.TenantID)

		if payload, ok := event.Payload.(map[string]interface{}); ok {
			for _, field := range []string{"job_id", "document_id", "version_id", "status"} {
				if v, ok := payload[field].(string); ok && v != "" {
					entry = entry.Str(field, v)
				}
			}
		}

		entry.Msg("Event")
		return nil
	}
}

// RegisterLoggerSubscriber attaches the logging handler to every event type.
func RegisterLoggerSubscriber(bus interfaces.EventService, logger arbor.ILogger) error {
	handler := NewLoggerSubscriber(logger)
	for _, eventType := range allEventTypes {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}
