package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/probatio/probatio/internal/models"
)

// ProcessOptions selects what the pipeline does beyond the base stages.
type ProcessOptions struct {
	Profile        models.ExtractionProfile
	Level          int
	ProcessContext string
	SkipFacts      bool
	SkipQuality    bool
}

// UploadRequest carries one document upload.
type UploadRequest struct {
	Filename       string
	ContentType    string
	Data           io.Reader
	SourceType     models.SourceType
	SourceURL      string
	Classification models.Classification
	Priority       int
	Process        ProcessOptions
}

// UploadResult reports what an upload produced. Deduplicated is true when
// the bytes matched an existing version and no new document was created.
type UploadResult struct {
	Document     *models.Document
	Version      *models.DocumentVersion
	Deduplicated bool
	JobID        string
}

// PresignedUpload is a pre-allocated document/version pair plus a signed URL
// the client PUTs the bytes to. ConfirmUpload completes the flow.
type PresignedUpload struct {
	Document  *models.Document
	Version   *models.DocumentVersion
	URL       string
	ExpiresAt time.Time
}

// FolderIngestResult summarizes a folder walk: files uploaded, files that
// matched existing content, and per-file failures keyed by relative path.
type FolderIngestResult struct {
	Ingested     int
	Deduplicated int
	Skipped      int
	Failures     map[string]string
}

// DocumentService owns document and version lifecycle up to the point the
// pipeline takes over.
type DocumentService interface {
	// Upload stores the bytes, dedups by content hash within the tenant, and
	// enqueues processing for new content.
	Upload(ctx context.Context, tc models.TenantContext, req *UploadRequest) (*UploadResult, error)
	// UploadVersion adds a new version to an existing document.
	UploadVersion(ctx context.Context, tc models.TenantContext, documentID string, req *UploadRequest) (*UploadResult, error)
	// AllocateUpload pre-creates a document with a PENDING version and mints
	// a signed URL for a direct byte upload. Request.Data is ignored.
	AllocateUpload(ctx context.Context, tc models.TenantContext, req *UploadRequest) (*PresignedUpload, error)
	// ConfirmUpload hashes the directly-uploaded bytes, marks the version
	// UPLOADED, and enqueues processing.
	ConfirmUpload(ctx context.Context, tc models.TenantContext, versionID string, priority int, opts ProcessOptions) (*UploadResult, error)
	// EnqueueURLIngest queues a bulk URL ingestion job and returns its id.
	EnqueueURLIngest(ctx context.Context, tc models.TenantContext, urls []string, priority int, opts ProcessOptions) (string, error)
	// IngestURL fetches one URL and uploads the payload. Worker-side.
	IngestURL(ctx context.Context, tc models.TenantContext, url string, priority int, opts ProcessOptions) (*UploadResult, error)
	// EnqueueFolderIngest validates a path under the configured folder root
	// and queues a bulk folder ingestion job.
	EnqueueFolderIngest(ctx context.Context, tc models.TenantContext, folder string, priority int, opts ProcessOptions) (string, error)
	// IngestFolder walks the folder and uploads every supported file,
	// reporting per-file progress. Worker-side.
	IngestFolder(ctx context.Context, tc models.TenantContext, folder string, priority int, opts ProcessOptions, progress ProgressFn) (*FolderIngestResult, error)

	Get(ctx context.Context, tc models.TenantContext, documentID string) (*models.Document, error)
	List(ctx context.Context, tc models.TenantContext, opts *DocumentListOptions) ([]*models.Document, int, error)
	UpdateMetadata(ctx context.Context, tc models.TenantContext, documentID string, patch *DocumentMetadataPatch) (*models.Document, error)

	GetVersion(ctx context.Context, tc models.TenantContext, versionID string) (*models.DocumentVersion, error)
	ListVersions(ctx context.Context, tc models.TenantContext, documentID string) ([]*models.DocumentVersion, error)
	// Open streams the original bytes of a version.
	Open(ctx context.Context, tc models.TenantContext, versionID string) (io.ReadCloser, *models.DocumentVersion, error)
	// DownloadURL mints a presigned URL for a version's original bytes.
	DownloadURL(ctx context.Context, tc models.TenantContext, versionID string) (string, error)
	// Reprocess resets a version and queues the pipeline again.
	Reprocess(ctx context.Context, tc models.TenantContext, versionID string, priority int, opts ProcessOptions) (string, error)
}

// DocumentMetadataPatch updates the mutable metadata fields. Nil slices and
// empty strings leave the current value untouched.
type DocumentMetadataPatch struct {
	Filename       string
	Classification models.Classification
	Sectors        []string
	Topics         []string
	Geographies    []string
	Companies      []string
	Authors        []string
	Publisher      string
}
