package handlers

import (
	"net/http"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

type SearchHandler struct {
	search interfaces.SearchService
	logger arbor.ILogger
}

func NewSearchHandler(search interfaces.SearchService, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{search: search, logger: logger}
}

// SearchHandler handles POST /api/search.
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	h.runSearch(w, r, "")
}

// ProjectSearchHandler handles POST /api/projects/{id}/search. The project
// scope overrides whatever the body carries.
func (h *SearchHandler) ProjectSearchHandler(w http.ResponseWriter, r *http.Request) {
	projectID := segmentAfter(pathSegments(r), "projects")
	if projectID == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "Project ID is required")
		return
	}
	h.runSearch(w, r, projectID)
}

func (h *SearchHandler) runSearch(w http.ResponseWriter, r *http.Request, projectID string) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req models.SearchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if projectID != "" {
		req.Filters.ProjectID = projectID
	}

	result, err := h.search.Search(r.Context(), tc.TenantID, &req)
	if err != nil {
		h.logger.Error().Err(err).Str("mode", string(req.Mode)).Msg("Search failed")
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
