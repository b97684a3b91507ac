package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// multipartMemoryLimit is the in-memory buffer for multipart parsing; larger
// uploads spill to temp files. The actual size cap lives in BlobConfig.
const multipartMemoryLimit = 32 << 20

type DocumentHandler struct {
	documents interfaces.DocumentService
	deletion  interfaces.DeletionService
	logger    arbor.ILogger
}

func NewDocumentHandler(documents interfaces.DocumentService, deletion interfaces.DeletionService, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		deletion:  deletion,
		logger:    logger,
	}
}

// UploadHandler handles POST /api/documents (multipart). Identical bytes
// within the tenant return the existing document with a 200.
func (h *DocumentHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	req, file, ok := h.parseUploadForm(w, r)
	if !ok {
		return
	}
	defer file.Close()

	result, err := h.documents.Upload(r.Context(), tc, req)
	if err != nil {
		h.logger.Warn().Err(err).Str("filename", req.Filename).Msg("Upload rejected")
		WriteServiceError(w, r, err)
		return
	}

	h.writeUploadResult(w, result)
}

// UploadVersionHandler handles POST /api/documents/{id}/versions (multipart).
func (h *DocumentHandler) UploadVersionHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")
	if documentID == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "Document ID is required")
		return
	}

	req, file, ok := h.parseUploadForm(w, r)
	if !ok {
		return
	}
	defer file.Close()

	result, err := h.documents.UploadVersion(r.Context(), tc, documentID, req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	h.writeUploadResult(w, result)
}

// AllocateUploadHandler handles POST /api/documents/uploads. It pre-creates
// the document and version and mints a signed URL the client PUTs bytes to.
func (h *DocumentHandler) AllocateUploadHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		Filename       string `json:"filename"`
		ContentType    string `json:"content_type"`
		Classification string `json:"classification"`
		SourceURL      string `json:"source_url"`
		Priority       int    `json:"priority"`
		processOptionsBody
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	req := &interfaces.UploadRequest{
		Filename:       body.Filename,
		ContentType:    body.ContentType,
		Classification: models.Classification(body.Classification),
		SourceType:     models.SourceTypeUpload,
		SourceURL:      body.SourceURL,
		Priority:       body.Priority,
		Process:        body.processOptions(),
	}

	allocated, err := h.documents.AllocateUpload(r.Context(), tc, req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"document_id": allocated.Document.ID,
		"version_id":  allocated.Version.ID,
		"upload_url":  allocated.URL,
		"expires_at":  allocated.ExpiresAt,
	})
}

// ConfirmUploadHandler handles POST /api/documents/uploads/{versionID}/confirm.
func (h *DocumentHandler) ConfirmUploadHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "uploads")
	if versionID == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "Version ID is required")
		return
	}

	var body struct {
		Priority int `json:"priority"`
		processOptionsBody
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	result, err := h.documents.ConfirmUpload(r.Context(), tc, versionID, body.Priority, body.processOptions())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	h.writeUploadResult(w, result)
}

// IngestURLHandler handles POST /api/documents/ingest. One or many URLs;
// the fetch happens in a background job either way.
func (h *DocumentHandler) IngestURLHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		URLs     []string `json:"urls"`
		URL      string   `json:"url"`
		Priority int      `json:"priority"`
		processOptionsBody
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	urls := body.URLs
	if body.URL != "" {
		urls = append(urls, body.URL)
	}
	if len(urls) == 0 {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "At least one URL is required")
		return
	}

	jobID, err := h.documents.EnqueueURLIngest(r.Context(), tc, urls, body.Priority, body.processOptions())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    jobID,
		"url_count": len(urls),
	})
}

// IngestFolderHandler handles POST /api/documents/ingest-folder: queue a
// bulk ingestion of a server-side folder under the configured ingest root.
func (h *DocumentHandler) IngestFolderHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		Folder   string `json:"folder"`
		Priority int    `json:"priority"`
		processOptionsBody
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Folder == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "Folder path is required")
		return
	}

	jobID, err := h.documents.EnqueueFolderIngest(r.Context(), tc, body.Folder, body.Priority, body.processOptions())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"folder": body.Folder,
	})
}

// ListHandler handles GET /api/documents with metadata filters.
func (h *DocumentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	opts := &interfaces.DocumentListOptions{
		ListOptions:    *GetListOptions(r),
		SourceType:     query.Get("source_type"),
		Classification: query.Get("classification"),
		Sector:         query.Get("sector"),
		Topic:          query.Get("topic"),
		Geography:      query.Get("geography"),
		Company:        query.Get("company"),
		Search:         query.Get("search"),
		IncludeDeleted: query.Get("include_deleted") == "true",
	}

	docs, total, err := h.documents.List(r.Context(), tc, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// GetHandler handles GET /api/documents/{id}.
func (h *DocumentHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")

	doc, err := h.documents.Get(r.Context(), tc, documentID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// UpdateMetadataHandler handles PATCH /api/documents/{id}.
func (h *DocumentHandler) UpdateMetadataHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")

	var body struct {
		Filename       string   `json:"filename"`
		Classification string   `json:"classification"`
		Sectors        []string `json:"sectors"`
		Topics         []string `json:"topics"`
		Geographies    []string `json:"geographies"`
		Companies      []string `json:"companies"`
		Authors        []string `json:"authors"`
		Publisher      string   `json:"publisher"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	patch := &interfaces.DocumentMetadataPatch{
		Filename:       body.Filename,
		Classification: models.Classification(body.Classification),
		Sectors:        body.Sectors,
		Topics:         body.Topics,
		Geographies:    body.Geographies,
		Companies:      body.Companies,
		Authors:        body.Authors,
		Publisher:      body.Publisher,
	}

	doc, err := h.documents.UpdateMetadata(r.Context(), tc, documentID, patch)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// ListVersionsHandler handles GET /api/documents/{id}/versions.
func (h *DocumentHandler) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")

	versions, err := h.documents.ListVersions(r.Context(), tc, documentID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": documentID,
		"versions":    versions,
	})
}

// GetVersionHandler handles GET /api/versions/{id}.
func (h *DocumentHandler) GetVersionHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")

	version, err := h.documents.GetVersion(r.Context(), tc, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, version)
}

// DownloadHandler handles GET /api/versions/{id}/download. The response
// streams the original bytes with the document's filename in
// Content-Disposition.
func (h *DocumentHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")

	reader, version, err := h.documents.Open(r.Context(), tc, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	defer reader.Close()

	filename := versionID
	contentType := "application/octet-stream"
	if doc, err := h.documents.Get(r.Context(), tc, version.DocumentID); err == nil {
		filename = doc.Filename
		if doc.ContentType != "" {
			contentType = doc.ContentType
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if version.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(version.SizeBytes, 10))
	}
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn().Err(err).Str("version_id", versionID).Msg("Download stream interrupted")
	}
}

// DownloadURLHandler handles GET /api/versions/{id}/download-url.
func (h *DocumentHandler) DownloadURLHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")

	url, err := h.documents.DownloadURL(r.Context(), tc, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ReprocessHandler handles POST /api/versions/{id}/reprocess.
func (h *DocumentHandler) ReprocessHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")

	var body struct {
		Priority int `json:"priority"`
		processOptionsBody
	}
	if r.ContentLength > 0 {
		if !DecodeJSON(w, r, &body) {
			return
		}
	}

	jobID, err := h.documents.Reprocess(r.Context(), tc, versionID, body.Priority, body.processOptions())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"version_id": versionID,
		"job_id":     jobID,
	})
}

// DeleteHandler handles DELETE /api/documents/{id}. The document vanishes
// from listings immediately; physical removal runs as a background job.
func (h *DocumentHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")

	jobID, err := h.deletion.MarkForDeletion(r.Context(), tc, documentID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"document_id": documentID,
		"job_id":      jobID,
		"status":      string(models.DeletionStatusMarked),
	})
}

// DeletionStatusHandler handles GET /api/documents/{id}/deletion.
func (h *DocumentHandler) DeletionStatusHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")

	report, err := h.deletion.Status(r.Context(), tc, documentID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// StatusHandler handles GET /api/documents/{id}/status: the document plus a
// per-version pipeline summary.
func (h *DocumentHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	documentID := segmentAfter(pathSegments(r), "documents")

	doc, err := h.documents.Get(r.Context(), tc, documentID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	versions, err := h.documents.ListVersions(r.Context(), tc, documentID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	summaries := make([]map[string]interface{}, 0, len(versions))
	for _, v := range versions {
		summary := map[string]interface{}{
			"version_id":        v.ID,
			"version_number":    v.VersionNumber,
			"upload_status":     v.UploadStatus,
			"processing_status": v.ProcessingStatus,
		}
		if v.LastError != "" {
			summary["last_error"] = v.LastError
		}
		summaries = append(summaries, summary)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":     doc.ID,
		"deletion_status": doc.DeletionStatus,
		"versions":        summaries,
	})
}

// processOptionsBody is the JSON shape of pipeline options, shared by every
// endpoint that accepts them.
type processOptionsBody struct {
	Profile        string `json:"profile"`
	Level          int    `json:"level"`
	ProcessContext string `json:"process_context"`
	SkipFacts      bool   `json:"skip_facts"`
	SkipQuality    bool   `json:"skip_quality"`
}

func (b processOptionsBody) processOptions() interfaces.ProcessOptions {
	return interfaces.ProcessOptions{
		Profile:        models.ExtractionProfile(b.Profile),
		Level:          b.Level,
		ProcessContext: b.ProcessContext,
		SkipFacts:      b.SkipFacts,
		SkipQuality:    b.SkipQuality,
	}
}

// parseUploadForm extracts the file and metadata from a multipart upload.
// The caller closes the returned file.
func (h *DocumentHandler) parseUploadForm(w http.ResponseWriter, r *http.Request) (*interfaces.UploadRequest, io.ReadCloser, bool) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid multipart form: "+err.Error())
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "A \"file\" form field is required")
		return nil, nil, false
	}

	priority, _ := strconv.Atoi(r.FormValue("priority"))
	level, _ := strconv.Atoi(r.FormValue("level"))

	req := &interfaces.UploadRequest{
		Filename:       header.Filename,
		ContentType:    header.Header.Get("Content-Type"),
		Data:           file,
		SourceType:     models.SourceTypeUpload,
		SourceURL:      r.FormValue("source_url"),
		Classification: models.Classification(r.FormValue("classification")),
		Priority:       priority,
		Process: interfaces.ProcessOptions{
			Profile:        models.ExtractionProfile(r.FormValue("profile")),
			Level:          level,
			ProcessContext: r.FormValue("process_context"),
			SkipFacts:      r.FormValue("skip_facts") == "true",
			SkipQuality:    r.FormValue("skip_quality") == "true",
		},
	}
	if name := r.FormValue("filename"); name != "" {
		req.Filename = name
	}
	if strings.TrimSpace(req.Filename) == "" {
		file.Close()
		WriteError(w, r, http.StatusBadRequest, "validation_error", "Filename is required")
		return nil, nil, false
	}
	return req, file, true
}

// writeUploadResult answers 201 for new content, 200 for a dedup hit.
func (h *DocumentHandler) writeUploadResult(w http.ResponseWriter, result *interfaces.UploadResult) {
	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}

	response := map[string]interface{}{
		"document":     result.Document,
		"version":      result.Version,
		"deduplicated": result.Deduplicated,
	}
	if result.JobID != "" {
		response["job_id"] = result.JobID
	}
	WriteJSON(w, status, response)
}
