package handlers

import (
	"net/http"
	"strconv"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

type PackHandler struct {
	packs  interfaces.PackService
	logger arbor.ILogger
}

func NewPackHandler(packs interfaces.PackService, logger arbor.ILogger) *PackHandler {
	return &PackHandler{packs: packs, logger: logger}
}

// CreateHandler handles POST /api/projects/{id}/packs.
func (h *PackHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	pack, err := h.packs.Create(r.Context(), tc, projectID, body.Name, body.Description)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, pack)
}

// ListHandler handles GET /api/projects/{id}/packs.
func (h *PackHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	packs, err := h.packs.List(r.Context(), tc, projectID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"packs":      packs,
	})
}

// GetHandler handles GET /api/packs/{id}.
func (h *PackHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	pack, err := h.packs.Get(r.Context(), tc, packID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, pack)
}

// UpdateHandler handles PUT /api/packs/{id}.
func (h *PackHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	pack, err := h.packs.Update(r.Context(), tc, packID, body.Name, body.Description)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, pack)
}

// DeleteHandler handles DELETE /api/packs/{id}.
func (h *PackHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	if err := h.packs.Delete(r.Context(), tc, packID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"pack_id": packID, "status": "deleted"})
}

// ListItemsHandler handles GET /api/packs/{id}/items.
func (h *PackHandler) ListItemsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	items, err := h.packs.ListItems(r.Context(), tc, packID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pack_id": packID,
		"items":   items,
	})
}

// AddItemHandler handles POST /api/packs/{id}/items. An item is a span,
// claim, or metric reference with an optional curator note.
func (h *PackHandler) AddItemHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	var body struct {
		Kind  string `json:"kind"`
		RefID string `json:"ref_id"`
		Note  string `json:"note"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	item, err := h.packs.AddItem(r.Context(), tc, packID, models.EvidencePackItemKind(body.Kind), body.RefID, body.Note)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, item)
}

// RemoveItemHandler handles DELETE /api/packs/{id}/items/{itemID}.
func (h *PackHandler) RemoveItemHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	segments := pathSegments(r)
	packID := segmentAfter(segments, "packs")
	itemID := segmentAfter(segments, "items")

	if err := h.packs.RemoveItem(r.Context(), tc, packID, itemID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"pack_id": packID,
		"item_id": itemID,
		"status":  "removed",
	})
}

// ExportHandler handles GET /api/packs/{id}/export: the pack materialized as
// a JSON tree of resolved span, claim, and metric blocks.
func (h *PackHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	export, err := h.packs.Export(r.Context(), tc, packID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, export)
}

// ExportPDFHandler handles GET /api/packs/{id}/export.pdf.
func (h *PackHandler) ExportPDFHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	packID := segmentAfter(pathSegments(r), "packs")

	pdf, err := h.packs.ExportPDF(r.Context(), tc, packID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="evidence-pack.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Write(pdf)
}
