package handlers

import (
	"net/http"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// AuditHandler serves the tenant's append-only action log.
type AuditHandler struct {
	audit  interfaces.AuditService
	logger arbor.ILogger
}

func NewAuditHandler(audit interfaces.AuditService, logger arbor.ILogger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListHandler handles GET /api/audit.
func (h *AuditHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	opts := GetListOptions(r)
	entries, err := h.audit.List(r.Context(), tc, opts)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
