package audit

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// appendTimeout bounds the background write so a wedged database cannot
// accumulate goroutines.
const appendTimeout = 5 * time.Second

// Service appends audit entries off the request path. A failed append is
// logged and dropped; auditing never fails the action it records.
type Service struct {
	store  interfaces.AuditStorage
	logger arbor.ILogger
}

var _ interfaces.AuditService = (*Service)(nil)

// NewService creates a new audit service.
func NewService(logger arbor.ILogger, store interfaces.AuditStorage) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Record fills entry defaults and appends asynchronously. The caller's
// context is not used for the write: the entry must land even when the
// request that produced it has already finished.
func (s *Service) Record(ctx context.Context, entry *models.AuditLog) {
	if entry == nil || entry.TenantID == "" || entry.Action == "" {
		return
	}
	if entry.ID == "" {
		entry.ID = common.NewAuditLogID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	common.SafeGo(s.logger, "auditAppend", func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		if err := s.store.Append(writeCtx, entry); err != nil {
			s.logger.Warn().
				Err(err).
				Str("tenant_id", entry.TenantID).
				Str("action", entry.Action).
				Msg("Failed to append audit entry")
		}
	})
}

// List returns the tenant's audit trail, newest first.
func (s *Service) List(ctx context.Context, tc models.TenantContext, opts *interfaces.ListOptions) ([]*models.AuditLog, error) {
	return s.store.List(ctx, tc.TenantID, opts)
}
