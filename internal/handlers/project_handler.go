package handlers

import (
	"net/http"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

type ProjectHandler struct {
	projects interfaces.ProjectService
	logger   arbor.ILogger
}

func NewProjectHandler(projects interfaces.ProjectService, logger arbor.ILogger) *ProjectHandler {
	return &ProjectHandler{projects: projects, logger: logger}
}

// CreateHandler handles POST /api/projects.
func (h *ProjectHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	project, err := h.projects.Create(r.Context(), tc, body.Name, body.Description)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, project)
}

// ListHandler handles GET /api/projects.
func (h *ProjectHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	projects, err := h.projects.List(r.Context(), tc, GetListOptions(r))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// GetHandler handles GET /api/projects/{id}.
func (h *ProjectHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	project, err := h.projects.Get(r.Context(), tc, projectID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// UpdateHandler handles PUT /api/projects/{id}.
func (h *ProjectHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
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

	project, err := h.projects.Update(r.Context(), tc, projectID, body.Name, body.Description)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// DeleteHandler handles DELETE /api/projects/{id}. Documents survive; only
// the project, its folders, and its attachments go.
func (h *ProjectHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	if err := h.projects.Delete(r.Context(), tc, projectID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"project_id": projectID, "status": "deleted"})
}

// ListDocumentsHandler handles GET /api/projects/{id}/documents.
func (h *ProjectHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	attachments, err := h.projects.ListDocuments(r.Context(), tc, projectID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"documents":  attachments,
	})
}

// AttachDocumentHandler handles POST /api/projects/{id}/documents.
func (h *ProjectHandler) AttachDocumentHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	var body struct {
		DocumentID      string `json:"document_id"`
		PinnedVersionID string `json:"pinned_version_id"`
		FolderID        string `json:"folder_id"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.DocumentID == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "document_id is required")
		return
	}

	attachment, err := h.projects.AttachDocument(r.Context(), tc, projectID, body.DocumentID, interfaces.AttachOptions{
		PinnedVersionID: body.PinnedVersionID,
		FolderID:        body.FolderID,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, attachment)
}

// DetachDocumentHandler handles DELETE /api/projects/{id}/documents/{docID}.
func (h *ProjectHandler) DetachDocumentHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	segments := pathSegments(r)
	projectID := segmentAfter(segments, "projects")
	documentID := segmentAfter(segments, "documents")

	if err := h.projects.DetachDocument(r.Context(), tc, projectID, documentID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"project_id":  projectID,
		"document_id": documentID,
		"status":      "detached",
	})
}

// PinVersionHandler handles PUT /api/projects/{id}/documents/{docID}/pin.
// An empty version_id unpins, tracking latest again.
func (h *ProjectHandler) PinVersionHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	segments := pathSegments(r)
	projectID := segmentAfter(segments, "projects")
	documentID := segmentAfter(segments, "documents")

	var body struct {
		VersionID string `json:"version_id"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.projects.PinVersion(r.Context(), tc, projectID, documentID, body.VersionID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"project_id":        projectID,
		"document_id":       documentID,
		"pinned_version_id": body.VersionID,
	})
}

// MoveToFolderHandler handles PUT /api/projects/{id}/documents/{docID}/folder.
// An empty folder_id moves the attachment to the project root.
func (h *ProjectHandler) MoveToFolderHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	segments := pathSegments(r)
	projectID := segmentAfter(segments, "projects")
	documentID := segmentAfter(segments, "documents")

	var body struct {
		FolderID string `json:"folder_id"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.projects.MoveToFolder(r.Context(), tc, projectID, documentID, body.FolderID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"project_id":  projectID,
		"document_id": documentID,
		"folder_id":   body.FolderID,
	})
}

// ListFoldersHandler handles GET /api/projects/{id}/folders.
func (h *ProjectHandler) ListFoldersHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	folders, err := h.projects.ListFolders(r.Context(), tc, projectID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"folders":    folders,
	})
}

// CreateFolderHandler handles POST /api/projects/{id}/folders.
func (h *ProjectHandler) CreateFolderHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := segmentAfter(pathSegments(r), "projects")

	var body struct {
		Name     string `json:"name"`
		ParentID string `json:"parent_id"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	folder, err := h.projects.CreateFolder(r.Context(), tc, projectID, body.ParentID, body.Name)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, folder)
}

// RenameFolderHandler handles PUT /api/folders/{id}.
func (h *ProjectHandler) RenameFolderHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	folderID := segmentAfter(pathSegments(r), "folders")

	var body struct {
		Name string `json:"name"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	folder, err := h.projects.RenameFolder(r.Context(), tc, folderID, body.Name)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, folder)
}

// DeleteFolderHandler handles DELETE /api/folders/{id}. Attached documents
// fall back to the project root.
func (h *ProjectHandler) DeleteFolderHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	folderID := segmentAfter(pathSegments(r), "folders")

	if err := h.projects.DeleteFolder(r.Context(), tc, folderID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"folder_id": folderID, "status": "deleted"})
}
