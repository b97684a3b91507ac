package audit

import (
	"context"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// auditedEvents maps bus topics to audit actions. Request-scoped fields
// (actor, IP) are absent here: the bus only carries entity identifiers.
var auditedEvents = map[interfaces.EventType]string{
	interfaces.EventDocumentUploaded:  "document.upload",
	interfaces.EventDeletionCompleted: "document.delete",
	interfaces.EventDeletionFailed:    "document.delete_failed",
	interfaces.EventFactsExtracted:    "facts.extract",
}

// RegisterEventObserver appends an audit entry for every recorded domain
// event, so producers carry no audit dependency.
func (s *Service) RegisterEventObserver(bus interfaces.EventService) error {
	for eventType, action := range auditedEvents {
		act := action
		handler := func(ctx context.Context, event interfaces.Event) error {
			s.recordEvent(ctx, event, act)
			return nil
		}
		if err := bus.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, event interfaces.Event, action string) {
	entry := &models.AuditLog{
		TenantID: event.TenantID,
		Action:   action,
	}
	if payload, ok := event.Payload.(map[string]interface{}); ok {
		if id, _ := payload["document_id"].(string); id != "" {
			entry.EntityID = id
		} else if id, _ := payload["version_id"].(string); id != "" {
			entry.EntityID = id
		}
		entry.Details = payload
	}
	s.Record(ctx, entry)
}
