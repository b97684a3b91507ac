package interfaces

import (
	"context"
	"database/sql"
	"time"

	"github.com/probatio/probatio/internal/models"
)

// ListOptions holds common pagination and ordering parameters.
type ListOptions struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string // "asc" or "desc"
}

// DocumentListOptions narrows document listings.
type DocumentListOptions struct {
	ListOptions
	SourceType     string
	Classification string
	Sector         string
	Topic          string
	Geography      string
	Company        string
	Search         string // filename substring
	IncludeDeleted bool   // include non-ACTIVE deletion statuses
}

// JobListOptions narrows job listings.
type JobListOptions struct {
	ListOptions
	Status models.JobStatus
	Type   string
}

// TenantStorage persists tenants and their API keys. Tenant rows are the one
// table not scoped by tenant id.
type TenantStorage interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByName(ctx context.Context, name string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error

	CreateAPIKey(ctx context.Context, key *models.TenantAPIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.TenantAPIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]*models.TenantAPIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID string) error
	TouchAPIKey(ctx context.Context, keyID string, usedAt time.Time) error

	// GetExtractionSettings returns the tenant's stored extraction defaults.
	// ErrNotFound when the tenant has never saved any.
	GetExtractionSettings(ctx context.Context, tenantID string) (*models.ExtractionSettings, error)
	// SaveExtractionSettings upserts the tenant's extraction defaults.
	SaveExtractionSettings(ctx context.Context, settings *models.ExtractionSettings) error
}

// DocumentStorage persists documents and their versions. Every method that
// reads or mutates a specific row takes the tenant id and predicates on it;
// a row under another tenant is ErrNotFound.
type DocumentStorage interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, tenantID string, opts *DocumentListOptions) ([]*models.Document, error)
	CountDocuments(ctx context.Context, tenantID string, opts *DocumentListOptions) (int, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// SetDocumentContentHash backfills the hash once presigned bytes arrive.
	// UpdateDocument deliberately leaves content_hash alone.
	SetDocumentContentHash(ctx context.Context, tenantID, id, contentHash string) error
	SetDeletionStatus(ctx context.Context, tenantID, id string, status models.DeletionStatus, requestedBy string) error
	// DeleteDocumentRow removes the document row itself. The protocol's final
	// task leaves a DELETED tombstone; the retention sweep purges it here.
	DeleteDocumentRow(ctx context.Context, tenantID, id string) error
	// ListMarkedForDeletion returns documents awaiting or resuming the
	// deletion protocol across all tenants.
	ListMarkedForDeletion(ctx context.Context, limit int) ([]*models.Document, error)
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Document, error)

	CreateVersion(ctx context.Context, version *models.DocumentVersion) error
	GetVersion(ctx context.Context, tenantID, versionID string) (*models.DocumentVersion, error)
	GetLatestVersion(ctx context.Context, tenantID, documentID string) (*models.DocumentVersion, error)
	ListVersions(ctx context.Context, tenantID, documentID string) ([]*models.DocumentVersion, error)
	FindVersionByContentHash(ctx context.Context, tenantID, contentHash string) (*models.DocumentVersion, error)
	UpdateVersion(ctx context.Context, version *models.DocumentVersion) error

	// AdvanceVersionStatus performs a compare-and-swap on processing_status.
	// ErrInvalidTransition when the stored status is not `from`.
	AdvanceVersionStatus(ctx context.Context, tenantID, versionID string, from, to models.ProcessingStatus) error
	MarkVersionFailed(ctx context.Context, tenantID, versionID, errMsg string) error
	// ResetVersionForReprocessing returns a version to PENDING and clears the
	// extraction claim so the pipeline can run again.
	ResetVersionForReprocessing(ctx context.Context, tenantID, versionID string) error

	// ClaimPendingExtractions atomically flips up to limit versions from
	// extraction_status PENDING to PROCESSING and returns them. Cross-tenant:
	// the polling worker serves every tenant.
	ClaimPendingExtractions(ctx context.Context, workerID string, limit int) ([]*models.DocumentVersion, error)
	SetExtractionStatus(ctx context.Context, versionID string, status models.ExtractionStatus, errMsg string) error
	// ReleaseStaleExtractionClaims returns PROCESSING claims older than the
	// cutoff to PENDING so a crashed worker's work is retried.
	ReleaseStaleExtractionClaims(ctx context.Context, olderThan time.Time) (int64, error)

	DeleteVersionsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
}

// SpanStorage persists spans and embedding chunks.
type SpanStorage interface {
	// UpsertSpans inserts spans, updating rows that collide on
	// (version_id, span_hash). Returns inserted and updated counts.
	UpsertSpans(ctx context.Context, spans []*models.Span) (inserted, updated int, err error)
	GetSpan(ctx context.Context, tenantID, spanID string) (*models.Span, error)
	GetSpanByHash(ctx context.Context, tenantID, versionID, spanHash string) (*models.Span, error)
	ListSpansByVersion(ctx context.Context, tenantID, versionID string, opts *ListOptions) ([]*models.Span, error)
	CountSpansByVersion(ctx context.Context, tenantID, versionID string) (int, error)
	DeleteSpansByDocument(ctx context.Context, tenantID, documentID string) (int64, error)

	StoreChunks(ctx context.Context, chunks []*models.EmbeddingChunk) error
	ListChunksByVersion(ctx context.Context, tenantID, versionID string) ([]*models.EmbeddingChunk, error)
	CountChunksByVersion(ctx context.Context, tenantID, versionID string) (int, error)
	DeleteChunksByVersion(ctx context.Context, tenantID, versionID string) (int64, error)
	DeleteChunksByDocument(ctx context.Context, tenantID, documentID string) (int64, error)

	// ListCandidates returns embedded chunks joined with their spans and
	// documents for in-process scoring, restricted to visible documents and
	// the given filters.
	ListCandidates(ctx context.Context, tenantID string, filters models.SearchFilters) ([]*models.ChunkCandidate, error)
}

// FactStorage persists the four fact kinds. Facts carry their extraction run
// id; replacement on re-extraction deletes by run scope first.
type FactStorage interface {
	InsertClaims(ctx context.Context, claims []*models.Claim) error
	InsertMetrics(ctx context.Context, metrics []*models.Metric) error
	InsertConstraints(ctx context.Context, constraints []*models.Constraint) error
	InsertRisks(ctx context.Context, risks []*models.Risk) error

	ListClaimsByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Claim, error)
	ListMetricsByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Metric, error)
	ListConstraintsByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Constraint, error)
	ListRisksByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Risk, error)

	// GetClaim and GetMetric resolve single facts. Evidence pack items
	// reference claims and metrics by id.
	GetClaim(ctx context.Context, tenantID, claimID string) (*models.Claim, error)
	GetMetric(ctx context.Context, tenantID, metricID string) (*models.Metric, error)

	CountFactsByVersion(ctx context.Context, tenantID, versionID string) (models.FactCounts, error)
	DeleteFactsByRun(ctx context.Context, tenantID, runID string) (int64, error)

	DeleteClaimsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
	DeleteMetricsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
	DeleteConstraintsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
	DeleteRisksByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
}

// QualityStorage persists conflicts and open questions.
type QualityStorage interface {
	// UpsertConflicts inserts conflicts, ignoring rows whose
	// (version_id, content_key) already exists. Returns the inserted count.
	UpsertConflicts(ctx context.Context, conflicts []*models.Conflict) (int, error)
	UpsertOpenQuestions(ctx context.Context, questions []*models.OpenQuestion) (int, error)

	ListConflictsByVersion(ctx context.Context, tenantID, versionID string) ([]*models.Conflict, error)
	ListOpenQuestionsByVersion(ctx context.Context, tenantID, versionID string) ([]*models.OpenQuestion, error)

	DeleteConflictsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
	DeleteOpenQuestionsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
}

// RunStorage persists extraction runs.
type RunStorage interface {
	// CreateRun inserts a run. For fact runs in an active status it returns
	// ErrActiveRunExists when the (version, profile, context, level) slot is
	// taken.
	CreateRun(ctx context.Context, run *models.ExtractionRun) error
	GetRun(ctx context.Context, tenantID, runID string) (*models.ExtractionRun, error)
	UpdateRun(ctx context.Context, run *models.ExtractionRun) error
	ListRunsByVersion(ctx context.Context, tenantID, versionID string) ([]*models.ExtractionRun, error)
	GetLatestCompletedRun(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, level int) (*models.ExtractionRun, error)
	// GetMaxCompletedLevel returns the highest completed fact-extraction level
	// for the scope, or 0 when none completed.
	GetMaxCompletedLevel(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string) (int, error)
	DeleteRunsByDocument(ctx context.Context, tenantID, documentID string) (int64, error)
	// FailStaleRuns fails queued/running runs older than the cutoff so the
	// uniqueness slot is released after a crash.
	FailStaleRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

// JobStorage persists job rows. The row is the source of truth; queue
// messages only carry ids.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, tenantID, jobID string) (*models.Job, error)
	// GetJobAny fetches without tenant scoping. Worker-side only.
	GetJobAny(ctx context.Context, jobID string) (*models.Job, error)
	// ClaimJob atomically flips a queued or retrying job to running under the
	// worker's name. A duplicate queue delivery loses the claim and gets
	// ErrInvalidTransition, which makes redelivery harmless.
	ClaimJob(ctx context.Context, jobID, workerID string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	// FinishJob finalizes a job only while it is still running. Zero rows
	// affected surfaces as ErrInvalidTransition: the job left running
	// through another path (cancellation) and the caller discards its
	// result.
	FinishJob(ctx context.Context, jobID string, status models.JobStatus, result map[string]interface{}, errMsg string) error
	// UpdateJobProgress records handler progress while the job is running.
	// Progress on a job no longer running is silently dropped.
	UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error
	ListJobs(ctx context.Context, tenantID string, opts *JobListOptions) ([]*models.Job, error)
	CountJobs(ctx context.Context, tenantID string, opts *JobListOptions) (int, error)
	// CancelJob flips a queued, running, or retrying job to canceled and
	// sets the cooperative flag running handlers check at suspension
	// points. ErrInvalidTransition for terminal jobs.
	CancelJob(ctx context.Context, tenantID, jobID string) error
	// DeleteJob removes a terminal job row. ErrInvalidTransition while the
	// job is still queued, running, or retrying.
	DeleteJob(ctx context.Context, tenantID, jobID string) error
	CountJobsByStatus(ctx context.Context, tenantID string) (map[models.JobStatus]int, error)
	// FailStaleJobs fails running jobs whose start predates the cutoff.
	FailStaleJobs(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeletionStorage persists deletion protocol tasks. Tasks survive document
// removal (document_id set NULL) as the audit trail.
type DeletionStorage interface {
	CreateTasks(ctx context.Context, tasks []*models.DeletionTask) error
	ListTasksByDocument(ctx context.Context, tenantID, documentID string) ([]*models.DeletionTask, error)
	UpdateTask(ctx context.Context, task *models.DeletionTask) error
	// DetachTasks clears document_id on the document's tasks, leaving them
	// as the audit trail. The final document_record task calls this.
	DetachTasks(ctx context.Context, tenantID, documentID string) (int64, error)
}

// ProjectStorage persists projects, attachments, and folders.
type ProjectStorage interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, tenantID, id string) (*models.Project, error)
	ListProjects(ctx context.Context, tenantID string, opts *ListOptions) ([]*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	SoftDeleteProject(ctx context.Context, tenantID, id string) error

	// AttachDocument links a document; ErrDuplicate when already attached.
	AttachDocument(ctx context.Context, link *models.ProjectDocument) error
	DetachDocument(ctx context.Context, tenantID, projectID, documentID string) error
	UpdateAttachment(ctx context.Context, link *models.ProjectDocument) error
	ListAttachments(ctx context.Context, tenantID, projectID string) ([]*models.ProjectDocument, error)
	DocumentIDsForProject(ctx context.Context, tenantID, projectID string) ([]string, error)
	ListProjectsForDocument(ctx context.Context, tenantID, documentID string) ([]*models.Project, error)
	// DetachDocumentEverywhere removes the document from every project.
	// The deletion protocol's project_documents task calls this.
	DetachDocumentEverywhere(ctx context.Context, tenantID, documentID string) (int64, error)

	CreateFolder(ctx context.Context, folder *models.Folder) error
	GetFolder(ctx context.Context, tenantID, folderID string) (*models.Folder, error)
	ListFolders(ctx context.Context, tenantID, projectID string) ([]*models.Folder, error)
	UpdateFolder(ctx context.Context, folder *models.Folder) error
	SoftDeleteFolder(ctx context.Context, tenantID, folderID string) error
}

// PackStorage persists evidence packs and their items.
type PackStorage interface {
	CreatePack(ctx context.Context, pack *models.EvidencePack) error
	GetPack(ctx context.Context, tenantID, packID string) (*models.EvidencePack, error)
	ListPacks(ctx context.Context, tenantID, projectID string) ([]*models.EvidencePack, error)
	UpdatePack(ctx context.Context, pack *models.EvidencePack) error
	SoftDeletePack(ctx context.Context, tenantID, packID string) error

	AddItem(ctx context.Context, item *models.EvidencePackItem) error
	RemoveItem(ctx context.Context, tenantID, packID, itemID string) error
	ListItems(ctx context.Context, tenantID, packID string) ([]*models.EvidencePackItem, error)
}

// AuditStorage is append-only.
type AuditStorage interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, tenantID string, opts *ListOptions) ([]*models.AuditLog, error)
}

// StorageManager is the composite handle over all storage implementations.
type StorageManager interface {
	TenantStorage() TenantStorage
	DocumentStorage() DocumentStorage
	SpanStorage() SpanStorage
	FactStorage() FactStorage
	QualityStorage() QualityStorage
	RunStorage() RunStorage
	JobStorage() JobStorage
	DeletionStorage() DeletionStorage
	ProjectStorage() ProjectStorage
	PackStorage() PackStorage
	AuditStorage() AuditStorage
	DB() *sql.DB
	Close() error
}
