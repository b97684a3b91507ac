package interfaces

import (
	"context"

	"github.com/probatio/probatio/internal/models"
)

// DeletionReport pairs a document with its deletion task ledger.
type DeletionReport struct {
	Document *models.Document       `json:"document"`
	Tasks    []*models.DeletionTask `json:"tasks"`
}

// DeletionService runs the two-phase document deletion protocol: marking is
// synchronous and hides the document immediately; physical removal runs as a
// background job walking the task levels in order.
type DeletionService interface {
	// MarkForDeletion flips the document to MARKED_FOR_DELETION, writes the
	// task plan, and queues the deletion job. Idempotent for documents
	// already marked; ErrNotFound for deleted ones.
	MarkForDeletion(ctx context.Context, tc models.TenantContext, documentID string) (jobID string, err error)
	// ExecuteDeletion walks the task levels. Worker-side. Resumable: tasks
	// already completed or skipped are not re-run.
	ExecuteDeletion(ctx context.Context, tenantID, documentID string) error
	// Status reports the protocol's progress for a document.
	Status(ctx context.Context, tc models.TenantContext, documentID string) (*DeletionReport, error)
	// ResumePending re-queues deletion jobs for documents stuck in
	// MARKED_FOR_DELETION or DELETION_FAILED. Returns the count queued.
	ResumePending(ctx context.Context) (int, error)
}
