package handlers

import (
	"net/http"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// EvidenceHandler resolves citation artifacts: spans, claims, and metrics.
// These rows are produced by the pipeline and addressed by id from search
// results and evidence pack items; curation happens at the pack layer.
type EvidenceHandler struct {
	spans  interfaces.SpanStorage
	facts  interfaces.FactStorage
	logger arbor.ILogger
}

func NewEvidenceHandler(spans interfaces.SpanStorage, facts interfaces.FactStorage, logger arbor.ILogger) *EvidenceHandler {
	return &EvidenceHandler{spans: spans, facts: facts, logger: logger}
}

// GetSpanHandler handles GET /api/spans/{id}.
func (h *EvidenceHandler) GetSpanHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	spanID := segmentAfter(pathSegments(r), "spans")

	span, err := h.spans.GetSpan(r.Context(), tc.TenantID, spanID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, span)
}

// ListSpansHandler handles GET /api/versions/{id}/spans.
func (h *EvidenceHandler) ListSpansHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")
	opts := GetListOptions(r)

	spans, err := h.spans.ListSpansByVersion(r.Context(), tc.TenantID, versionID, opts)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	total, err := h.spans.CountSpansByVersion(r.Context(), tc.TenantID, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version_id": versionID,
		"spans":      spans,
		"total":      total,
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}

// GetClaimHandler handles GET /api/claims/{id}.
func (h *EvidenceHandler) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	claimID := segmentAfter(pathSegments(r), "claims")

	claim, err := h.facts.GetClaim(r.Context(), tc.TenantID, claimID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, claim)
}

// GetMetricHandler handles GET /api/metrics/{id}.
func (h *EvidenceHandler) GetMetricHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	metricID := segmentAfter(pathSegments(r), "metrics")

	metric, err := h.facts.GetMetric(r.Context(), tc.TenantID, metricID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, metric)
}
