package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/blob"
)

// Service owns document and version lifecycle: upload, content-hash dedup,
// versioning, URL ingestion, and handoff to the processing pipeline.
type Service struct {
	docs    interfaces.DocumentStorage
	blobs   interfaces.BlobStore
	jobs    interfaces.JobStorage
	queue   interfaces.QueueManager
	events  interfaces.EventService
	client  *http.Client
	ingest  *common.IngestConfig
	blobCfg *common.BlobConfig
	logger  arbor.ILogger
}

var _ interfaces.DocumentService = (*Service)(nil)

// NewService wires the document service. events may be nil.
func NewService(
	logger arbor.ILogger,
	ingestCfg *common.IngestConfig,
	blobCfg *common.BlobConfig,
	docs interfaces.DocumentStorage,
	blobs interfaces.BlobStore,
	jobs interfaces.JobStorage,
	queue interfaces.QueueManager,
	events interfaces.EventService,
) *Service {
	return &Service{
		docs:    docs,
		blobs:   blobs,
		jobs:    jobs,
		queue:   queue,
		events:  events,
		client:  newIngestClient(ingestCfg),
		ingest:  ingestCfg,
		blobCfg: blobCfg,
		logger:  logger,
	}
}

// Upload stores the bytes, dedups by content hash within the tenant, and
// enqueues processing for new content. Identical bytes return the existing
// document and version without writing a new blob.
func (s *Service) Upload(ctx context.Context, tc models.TenantContext, req *interfaces.UploadRequest) (*interfaces.UploadResult, error) {
	if err := s.validateUpload(req); err != nil {
		return nil, err
	}
	data, hash, err := s.readPayload(req.Data)
	if err != nil {
		return nil, err
	}

	hit, err := s.findDuplicate(ctx, tc.TenantID, hash)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		return s.reuseExisting(ctx, tc, hit.doc, hit.version, req.Priority, req.Process)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tc.TenantID,
		Filename:       req.Filename,
		ContentType:    contentTypeFor(req),
		ContentHash:    hash,
		Classification: classificationFor(req.Classification, req.Filename),
		SourceType:     sourceTypeOr(req.SourceType),
		SourceURL:      req.SourceURL,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	version, err := s.storeVersion(ctx, doc, 1, req.Filename, data, hash)
	if err != nil {
		return nil, err
	}

	jobID, err := s.enqueueProcess(ctx, tc.TenantID, doc.ID, version.ID, req.Priority, req.Process, false)
	if err != nil {
		return nil, err
	}

	s.publishUploaded(ctx, tc.TenantID, doc.ID, version.ID, false)
	s.logger.Info().
		Str("document_id", doc.ID).
		Str("version_id", version.ID).
		Int64("size_bytes", version.SizeBytes).
		Str("job_id", jobID).
		Msg("Document uploaded")

	return &interfaces.UploadResult{Document: doc, Version: version, JobID: jobID}, nil
}

// UploadVersion adds a new version to an existing document. Bytes matching
// an existing version of the same document dedup against that version.
func (s *Service) UploadVersion(ctx context.Context, tc models.TenantContext, documentID string, req *interfaces.UploadRequest) (*interfaces.UploadResult, error) {
	doc, err := s.Get(ctx, tc, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Visible() {
		return nil, fmt.Errorf("%w: document %s is marked for deletion", interfaces.ErrValidation, documentID)
	}
	if err := s.validateUpload(req); err != nil {
		return nil, err
	}
	data, hash, err := s.readPayload(req.Data)
	if err != nil {
		return nil, err
	}

	versions, err := s.docs.ListVersions(ctx, tc.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	next := 1
	for _, v := range versions {
		if v.ContentHash == hash {
			return s.reuseExisting(ctx, tc, doc, v, req.Priority, req.Process)
		}
		if v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}

	version, err := s.storeVersion(ctx, doc, next, req.Filename, data, hash)
	if err != nil {
		return nil, err
	}

	jobID, err := s.enqueueProcess(ctx, tc.TenantID, doc.ID, version.ID, req.Priority, req.Process, false)
	if err != nil {
		return nil, err
	}

	s.publishUploaded(ctx, tc.TenantID, doc.ID, version.ID, false)
	s.logger.Info().
		Str("document_id", doc.ID).
		Str("version_id", version.ID).
		Int("version_number", version.VersionNumber).
		Msg("Document version uploaded")

	return &interfaces.UploadResult{Document: doc, Version: version, JobID: jobID}, nil
}

// AllocateUpload pre-creates a document with a PENDING version and mints a
// signed URL the client PUTs the bytes to. The version stays invisible to
// the polling worker until ConfirmUpload marks it UPLOADED.
func (s *Service) AllocateUpload(ctx context.Context, tc models.TenantContext, req *interfaces.UploadRequest) (*interfaces.PresignedUpload, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: upload request is required", interfaces.ErrValidation)
	}
	if err := s.validateFilename(req.Filename); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tc.TenantID,
		Filename:       req.Filename,
		ContentType:    contentTypeFor(req),
		Classification: classificationFor(req.Classification, req.Filename),
		SourceType:     sourceTypeOr(req.SourceType),
		SourceURL:      req.SourceURL,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tc.TenantID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          blob.DocumentKey(doc.ID, 1, req.Filename),
		UploadStatus:     models.UploadStatusPending,
		ProcessingStatus: models.ProcessingStatusPending,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.docs.CreateVersion(ctx, version); err != nil {
		return nil, err
	}

	expires := now.Add(s.blobCfg.URLTTLDuration())
	signedURL, err := s.blobs.SignURL(version.BlobKey, expires)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload URL: %w", err)
	}

	s.logger.Info().
		Str("document_id", doc.ID).
		Str("version_id", version.ID).
		Msg("Presigned upload allocated")

	return &interfaces.PresignedUpload{Document: doc, Version: version, URL: signedURL, ExpiresAt: expires}, nil
}

// ConfirmUpload hashes the bytes the client PUT directly, marks the version
// UPLOADED, backfills the document's content hash, and enqueues processing.
// Confirming an already-confirmed version re-enqueues only if the pipeline
// never started.
func (s *Service) ConfirmUpload(ctx context.Context, tc models.TenantContext, versionID string, priority int, opts interfaces.ProcessOptions) (*interfaces.UploadResult, error) {
	version, err := s.docs.GetVersion(ctx, tc.TenantID, versionID)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, version.DocumentID)
	if err != nil {
		return nil, err
	}

	if version.UploadStatus == models.UploadStatusUploaded {
		jobID, err := s.maybeRequeue(ctx, tc.TenantID, doc.ID, version, priority, opts)
		if err != nil {
			return nil, err
		}
		return &interfaces.UploadResult{Document: doc, Version: version, JobID: jobID}, nil
	}

	rc, err := s.blobs.Get(ctx, version.BlobKey)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: no bytes uploaded for version %s", interfaces.ErrValidation, versionID)
	}
	if err != nil {
		return nil, err
	}
	hash, size, err := common.HashReader(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to hash uploaded bytes: %w", err)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: empty file", interfaces.ErrValidation)
	}
	if max := s.blobCfg.MaxUploadBytes(); max > 0 && size > max {
		if _, derr := s.blobs.Delete(ctx, version.BlobKey); derr != nil {
			s.logger.Warn().Err(derr).Str("key", version.BlobKey).Msg("Failed to remove oversized upload")
		}
		return nil, fmt.Errorf("%w: file exceeds %d MB limit", interfaces.ErrValidation, s.blobCfg.MaxUploadMB)
	}

	version.ContentHash = hash
	version.SizeBytes = size
	version.UploadStatus = models.UploadStatusUploaded
	version.ProcessingStatus = models.ProcessingStatusUploaded
	if err := s.docs.UpdateVersion(ctx, version); err != nil {
		return nil, err
	}

	if doc.ContentHash == "" {
		if err := s.docs.SetDocumentContentHash(ctx, tc.TenantID, doc.ID, hash); err != nil {
			return nil, err
		}
		doc.ContentHash = hash
	}

	jobID, err := s.enqueueProcess(ctx, tc.TenantID, doc.ID, version.ID, priority, opts, false)
	if err != nil {
		return nil, err
	}

	s.publishUploaded(ctx, tc.TenantID, doc.ID, version.ID, false)
	s.logger.Info().
		Str("document_id", doc.ID).
		Str("version_id", version.ID).
		Int64("size_bytes", size).
		Msg("Presigned upload confirmed")

	return &interfaces.UploadResult{Document: doc, Version: version, JobID: jobID}, nil
}

// Get returns a document. DELETED tombstones are hidden; MARKED documents
// are returned so callers can observe the deletion status.
func (s *Service) Get(ctx context.Context, tc models.TenantContext, documentID string) (*models.Document, error) {
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.DeletionStatus == models.DeletionStatusDeleted {
		return nil, interfaces.ErrNotFound
	}
	return doc, nil
}

// List returns a page of documents plus the filtered total.
func (s *Service) List(ctx context.Context, tc models.TenantContext, opts *interfaces.DocumentListOptions) ([]*models.Document, int, error) {
	docs, err := s.docs.ListDocuments(ctx, tc.TenantID, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.docs.CountDocuments(ctx, tc.TenantID, opts)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// UpdateMetadata applies a partial update to the mutable metadata fields.
// Nil slices and empty strings leave the stored value untouched.
func (s *Service) UpdateMetadata(ctx context.Context, tc models.TenantContext, documentID string, patch *interfaces.DocumentMetadataPatch) (*models.Document, error) {
	if patch == nil {
		return nil, fmt.Errorf("%w: metadata patch is required", interfaces.ErrValidation)
	}
	doc, err := s.Get(ctx, tc, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Visible() {
		return nil, fmt.Errorf("%w: document %s is marked for deletion", interfaces.ErrValidation, documentID)
	}

	if patch.Filename != "" {
		doc.Filename = patch.Filename
	}
	if patch.Classification != "" {
		doc.Classification = patch.Classification
	}
	if patch.Sectors != nil {
		doc.Sectors = patch.Sectors
	}
	if patch.Topics != nil {
		doc.Topics = patch.Topics
	}
	if patch.Geographies != nil {
		doc.Geographies = patch.Geographies
	}
	if patch.Companies != nil {
		doc.Companies = patch.Companies
	}
	if patch.Authors != nil {
		doc.Authors = patch.Authors
	}
	if patch.Publisher != "" {
		doc.Publisher = patch.Publisher
	}

	if err := s.docs.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) GetVersion(ctx context.Context, tc models.TenantContext, versionID string) (*models.DocumentVersion, error) {
	return s.docs.GetVersion(ctx, tc.TenantID, versionID)
}

func (s *Service) ListVersions(ctx context.Context, tc models.TenantContext, documentID string) ([]*models.DocumentVersion, error) {
	if _, err := s.Get(ctx, tc, documentID); err != nil {
		return nil, err
	}
	return s.docs.ListVersions(ctx, tc.TenantID, documentID)
}

// Open streams a version's original bytes. The filename for the download
// header is the base of the returned version's BlobKey.
func (s *Service) Open(ctx context.Context, tc models.TenantContext, versionID string) (io.ReadCloser, *models.DocumentVersion, error) {
	version, err := s.docs.GetVersion(ctx, tc.TenantID, versionID)
	if err != nil {
		return nil, nil, err
	}
	if version.UploadStatus != models.UploadStatusUploaded {
		return nil, nil, fmt.Errorf("%w: version %s has no uploaded content", interfaces.ErrValidation, versionID)
	}
	rc, err := s.blobs.Get(ctx, version.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, version, nil
}

// DownloadURL mints a presigned URL for a version's original bytes.
func (s *Service) DownloadURL(ctx context.Context, tc models.TenantContext, versionID string) (string, error) {
	version, err := s.docs.GetVersion(ctx, tc.TenantID, versionID)
	if err != nil {
		return "", err
	}
	if version.UploadStatus != models.UploadStatusUploaded {
		return "", fmt.Errorf("%w: version %s has no uploaded content", interfaces.ErrValidation, versionID)
	}
	return s.blobs.SignURL(version.BlobKey, time.Now().UTC().Add(s.blobCfg.URLTTLDuration()))
}

// Reprocess queues a fresh pipeline run for a version. The worker drops
// derived state before re-running; spans keep their ids because they upsert
// by content hash.
func (s *Service) Reprocess(ctx context.Context, tc models.TenantContext, versionID string, priority int, opts interfaces.ProcessOptions) (string, error) {
	version, err := s.docs.GetVersion(ctx, tc.TenantID, versionID)
	if err != nil {
		return "", err
	}
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, version.DocumentID)
	if err != nil {
		return "", err
	}
	if !doc.Visible() {
		return "", fmt.Errorf("%w: document %s is marked for deletion", interfaces.ErrValidation, doc.ID)
	}
	if version.UploadStatus != models.UploadStatusUploaded {
		return "", fmt.Errorf("%w: version %s has no uploaded content", interfaces.ErrValidation, versionID)
	}

	jobID, err := s.enqueueProcess(ctx, tc.TenantID, doc.ID, versionID, priority, opts, true)
	if err != nil {
		return "", err
	}
	s.logger.Info().
		Str("version_id", versionID).
		Str("job_id", jobID).
		Msg("Version reprocess queued")
	return jobID, nil
}

type dedupHit struct {
	doc     *models.Document
	version *models.DocumentVersion
}

// findDuplicate returns the earliest version carrying the hash, or nil when
// the hash is new or its owning document is on the way out of the repository.
func (s *Service) findDuplicate(ctx context.Context, tenantID, hash string) (*dedupHit, error) {
	version, err := s.docs.FindVersionByContentHash(ctx, tenantID, hash)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, tenantID, version.DocumentID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !doc.Visible() {
		return nil, nil
	}
	return &dedupHit{doc: doc, version: version}, nil
}

// reuseExisting answers a duplicate upload with the version that already
// holds the bytes. No new blob is written.
func (s *Service) reuseExisting(ctx context.Context, tc models.TenantContext, doc *models.Document, version *models.DocumentVersion, priority int, opts interfaces.ProcessOptions) (*interfaces.UploadResult, error) {
	jobID, err := s.maybeRequeue(ctx, tc.TenantID, doc.ID, version, priority, opts)
	if err != nil {
		return nil, err
	}

	s.publishUploaded(ctx, tc.TenantID, doc.ID, version.ID, true)
	s.logger.Info().
		Str("document_id", doc.ID).
		Str("version_id", version.ID).
		Msg("Upload deduplicated by content hash")

	return &interfaces.UploadResult{Document: doc, Version: version, Deduplicated: true, JobID: jobID}, nil
}

// maybeRequeue enqueues processing for a version still sitting unclaimed at
// the top of the pipeline. A version past that point, or one a polling
// worker has claimed, is left alone.
func (s *Service) maybeRequeue(ctx context.Context, tenantID, documentID string, version *models.DocumentVersion, priority int, opts interfaces.ProcessOptions) (string, error) {
	if version.ProcessingStatus != models.ProcessingStatusUploaded ||
		version.ExtractionStatus != models.ExtractionStatusPending {
		return "", nil
	}
	return s.enqueueProcess(ctx, tenantID, documentID, version.ID, priority, opts, false)
}

// storeVersion writes the bytes and records the version. The row is created
// PENDING first; a failed blob write flips it to FAILED so the row never
// claims bytes that did not land.
func (s *Service) storeVersion(ctx context.Context, doc *models.Document, number int, filename string, data []byte, hash string) (*models.DocumentVersion, error) {
	now := time.Now().UTC()
	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         doc.TenantID,
		DocumentID:       doc.ID,
		VersionNumber:    number,
		BlobKey:          blob.DocumentKey(doc.ID, number, filename),
		SizeBytes:        int64(len(data)),
		ContentHash:      hash,
		UploadStatus:     models.UploadStatusPending,
		ProcessingStatus: models.ProcessingStatusPending,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.docs.CreateVersion(ctx, version); err != nil {
		return nil, err
	}

	if _, err := s.blobs.Put(ctx, version.BlobKey, bytes.NewReader(data)); err != nil {
		version.UploadStatus = models.UploadStatusFailed
		version.LastError = err.Error()
		if uerr := s.docs.UpdateVersion(ctx, version); uerr != nil {
			s.logger.Warn().Err(uerr).Str("version_id", version.ID).Msg("Failed to record upload failure")
		}
		return nil, fmt.Errorf("failed to store original bytes: %w", err)
	}

	version.UploadStatus = models.UploadStatusUploaded
	version.ProcessingStatus = models.ProcessingStatusUploaded
	if err := s.docs.UpdateVersion(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// enqueueProcess writes the job row and pushes the queue envelope. The row
// is authoritative; the envelope carries only ids.
func (s *Service) enqueueProcess(ctx context.Context, tenantID, documentID, versionID string, priority int, opts interfaces.ProcessOptions, reprocess bool) (string, error) {
	payload := processPayload(opts)
	payload["document_id"] = documentID
	payload["version_id"] = versionID
	if reprocess {
		payload["reprocess"] = true
	}

	job := models.NewJob(tenantID, models.JobTypeProcessVersion, priority, payload)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create processing job: %w", err)
	}
	msg := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   tenantID,
		Type:       job.Type,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, models.QueueForPriority(job.Priority), msg); err != nil {
		return "", fmt.Errorf("failed to enqueue processing job: %w", err)
	}
	return job.ID, nil
}

func (s *Service) publishUploaded(ctx context.Context, tenantID, documentID, versionID string, deduplicated bool) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type:     interfaces.EventDocumentUploaded,
		TenantID: tenantID,
		Payload: map[string]interface{}{
			"document_id":  documentID,
			"version_id":   versionID,
			"deduplicated": deduplicated,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("Failed to publish upload event")
	}
}

func (s *Service) validateUpload(req *interfaces.UploadRequest) error {
	if req == nil || req.Data == nil {
		return fmt.Errorf("%w: upload payload is required", interfaces.ErrValidation)
	}
	return s.validateFilename(req.Filename)
}

func (s *Service) validateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: filename is required", interfaces.ErrValidation)
	}
	if !s.extensionAllowed(name) {
		return fmt.Errorf("%w: unsupported file extension %q", interfaces.ErrValidation, filepath.Ext(name))
	}
	return nil
}

// extensionAllowed checks the whitelist. An empty whitelist allows any
// extension; a whitelisted entry matches with or without its leading dot.
func (s *Service) extensionAllowed(name string) bool {
	if len(s.ingest.SupportedExtensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range s.ingest.SupportedExtensions {
		if strings.TrimPrefix(strings.ToLower(allowed), ".") == ext {
			return true
		}
	}
	return false
}

// readPayload buffers the upload and hashes it. Reading max+1 bytes detects
// an oversized stream without draining it.
func (s *Service) readPayload(r io.Reader) ([]byte, string, error) {
	limited := r
	max := s.blobCfg.MaxUploadBytes()
	if max > 0 {
		limited = io.LimitReader(r, max+1)
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if max > 0 && int64(len(data)) > max {
		return nil, "", fmt.Errorf("%w: file exceeds %d MB limit", interfaces.ErrValidation, s.blobCfg.MaxUploadMB)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", interfaces.ErrValidation)
	}
	return data, common.HashBytes(data), nil
}

func processPayload(opts interfaces.ProcessOptions) map[string]interface{} {
	p := map[string]interface{}{}
	if opts.Profile != "" {
		p["profile"] = string(opts.Profile)
	}
	if opts.Level > 0 {
		p["level"] = opts.Level
	}
	if opts.ProcessContext != "" {
		p["process_context"] = opts.ProcessContext
	}
	if opts.SkipFacts {
		p["skip_facts"] = true
	}
	if opts.SkipQuality {
		p["skip_quality"] = true
	}
	return p
}

func contentTypeFor(req *interfaces.UploadRequest) string {
	if req.ContentType != "" {
		return req.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(req.Filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func classificationFor(c models.Classification, filename string) models.Classification {
	if c != "" {
		return c
	}
	switch models.FormatForFilename(filename) {
	case models.FormatCSV, models.FormatExcel:
		return models.ClassificationSpreadsheet
	case models.FormatImage:
		return models.ClassificationImage
	default:
		return models.ClassificationOther
	}
}

func sourceTypeOr(t models.SourceType) models.SourceType {
	if t != "" {
		return t
	}
	return models.SourceTypeUpload
}
