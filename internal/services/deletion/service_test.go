package deletion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/queue"
	"github.com/probatio/probatio/internal/storage/blob"
	"github.com/probatio/probatio/internal/storage/sqlite"
)

// captureBus records published events in order.
type captureBus struct {
	mu     sync.Mutex
	events []interfaces.Event
}

var _ interfaces.EventService = (*captureBus)(nil)

func (b *captureBus) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (b *captureBus) Publish(ctx context.Context, event interfaces.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) PublishSync(ctx context.Context, event interfaces.Event) error {
	return b.Publish(ctx, event)
}

func (b *captureBus) Close() error { return nil }

func (b *captureBus) last() (interfaces.EventType, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return "", false
	}
	return b.events[len(b.events)-1].Type, true
}

// flakyBlobs fails deletes while tripped, driving the retry path.
type flakyBlobs struct {
	interfaces.BlobStore
	mu   sync.Mutex
	fail bool
}

func (f *flakyBlobs) trip(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return false, errors.New("object store unavailable")
	}
	return f.BlobStore.Delete(ctx, key)
}

func newTestBlobs(t *testing.T) interfaces.BlobStore {
	t.Helper()
	store, err := blob.NewLocalStore(arbor.NewLogger(), &common.BlobConfig{
		LocalDir:      t.TempDir(),
		SigningSecret: "test-secret",
	})
	require.NoError(t, err)
	return store
}

func setupDeletion(t *testing.T, blobs interfaces.BlobStore) (*Service, interfaces.StorageManager, interfaces.QueueManager, *captureBus) {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := sqlite.NewManager(logger, &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := queue.NewBadgerQueue(logger, &common.QueueConfig{
		Backend:           "badger",
		VisibilityTimeout: "5m",
		MaxReceive:        3,
		Badger:            common.BadgerQueue{Path: t.TempDir() + "/queue"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	bus := &captureBus{}
	svc := NewService(logger,
		db.DocumentStorage(), db.DeletionStorage(), db.SpanStorage(),
		db.FactStorage(), db.QualityStorage(), db.RunStorage(),
		db.ProjectStorage(), db.JobStorage(), q, blobs, bus)
	return svc, db, q, bus
}

// graph is a document with every dependent resource kind populated: one
// version with its blob, spans and chunks, a content run with an artifact,
// a fact run with one claim, quality findings, and a project attachment.
type graph struct {
	tc          models.TenantContext
	docID       string
	versionID   string
	blobKey     string
	artifactKey string
	projectID   string
}

func seedGraph(t *testing.T, db interfaces.StorageManager, blobs interfaces.BlobStore) *graph {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	tenant := models.NewTenant("acme")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, tenant))
	tc := models.TenantContext{TenantID: tenant.ID, ActorID: "usr_reviewer"}

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       "pitch.pdf",
		ContentType:    "application/pdf",
		ContentHash:    common.HashBytes([]byte("pitch")),
		Classification: models.ClassificationReport,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, db.DocumentStorage().CreateDocument(ctx, doc))

	blobKey := blob.DocumentKey(doc.ID, 1, doc.Filename)
	_, err := blobs.Put(ctx, blobKey, strings.NewReader("original bytes"))
	require.NoError(t, err)

	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tenant.ID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          blobKey,
		SizeBytes:        14,
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusQualityChecked,
		ExtractionStatus: models.ExtractionStatusCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, db.DocumentStorage().CreateVersion(ctx, version))

	texts := []string{"Revenue reached ten million.", "Churn stayed under two percent."}
	spans := make([]*models.Span, len(texts))
	offset := 0
	for i, text := range texts {
		locator := models.TextLocator(offset, offset+len(text), 0)
		hash, err := models.ComputeSpanHash(locator, text)
		require.NoError(t, err)
		spans[i] = &models.Span{
			ID:          common.NewSpanID(),
			TenantID:    tenant.ID,
			VersionID:   version.ID,
			DocumentID:  doc.ID,
			Locator:     locator,
			TextContent: text,
			SpanType:    models.SpanTypeText,
			SpanHash:    hash,
			CreatedAt:   now,
		}
		offset += len(text) + 1
	}
	_, _, err = db.SpanStorage().UpsertSpans(ctx, spans)
	require.NoError(t, err)

	chunks := make([]*models.EmbeddingChunk, len(spans))
	for i, span := range spans {
		chunks[i] = &models.EmbeddingChunk{
			ID:          common.NewChunkID(),
			TenantID:    tenant.ID,
			VersionID:   version.ID,
			DocumentID:  doc.ID,
			SpanID:      span.ID,
			ChunkIndex:  i,
			TextContent: span.TextContent,
			Embedding:   []float32{0.1, 0.2, 0.3},
			CreatedAt:   now,
		}
	}
	require.NoError(t, db.SpanStorage().StoreChunks(ctx, chunks))

	artifactKey := blob.ArtifactKey(doc.ID, 1, "extracted.json")
	_, err = blobs.Put(ctx, artifactKey, strings.NewReader(`{"format":"text"}`))
	require.NoError(t, err)

	contentRun := &models.ExtractionRun{
		ID:               common.NewRunID(),
		TenantID:         tenant.ID,
		VersionID:        version.ID,
		ExtractorName:    "pdf_extractor",
		ExtractorVersion: "1",
		Status:           models.RunStatusCompleted,
		StartedAt:        &now,
		CompletedAt:      &now,
		ArtifactPath:     artifactKey,
		CreatedAt:        now,
	}
	require.NoError(t, db.RunStorage().CreateRun(ctx, contentRun))

	factRun := &models.ExtractionRun{
		ID:               common.NewRunID(),
		TenantID:         tenant.ID,
		VersionID:        version.ID,
		ExtractorName:    "fact_extractor",
		ExtractorVersion: "1",
		Status:           models.RunStatusCompleted,
		StartedAt:        &now,
		CompletedAt:      &now,
		Profile:          models.ProfileGeneral,
		Level:            1,
		ProcessContext:   models.ProcessContextUnspecified,
		CreatedAt:        now,
	}
	require.NoError(t, db.RunStorage().CreateRun(ctx, factRun))

	claim := &models.Claim{
		ID:              common.NewClaimID(),
		TenantID:        tenant.ID,
		VersionID:       version.ID,
		ExtractionRunID: factRun.ID,
		ProcessContext:  models.ProcessContextUnspecified,
		Level:           1,
		Subject:         "Acme",
		Predicate:       "reported",
		Object:          "ten million revenue",
		Certainty:       models.CertaintyDefinite,
		Reliability:     models.ReliabilityOfficial,
		SpanRefs:        []string{spans[0].ID},
		CreatedAt:       now,
	}
	require.NoError(t, db.FactStorage().InsertClaims(ctx, []*models.Claim{claim}))

	_, err = db.QualityStorage().UpsertConflicts(ctx, []*models.Conflict{{
		ID:           common.NewConflictID(),
		TenantID:     tenant.ID,
		VersionID:    version.ID,
		ContentKey:   "claim:acme:revenue",
		ConflictType: models.ConflictTypeClaimClaim,
		Severity:     models.ConflictSeverityMedium,
		Reason:       "revenue stated twice with different figures",
		FactIDs:      []string{claim.ID},
		CreatedAt:    now,
	}})
	require.NoError(t, err)

	_, err = db.QualityStorage().UpsertOpenQuestions(ctx, []*models.OpenQuestion{{
		ID:         common.NewOpenQuestionID(),
		TenantID:   tenant.ID,
		VersionID:  version.ID,
		ContentKey: "claim:acme:churn",
		Category:   models.QuestionMissingData,
		Question:   "Which period does the churn figure cover?",
		CreatedAt:  now,
	}})
	require.NoError(t, err)

	project := &models.Project{
		ID:        common.NewProjectID(),
		TenantID:  tenant.ID,
		Name:      "Diligence",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.ProjectStorage().CreateProject(ctx, project))
	require.NoError(t, db.ProjectStorage().AttachDocument(ctx, &models.ProjectDocument{
		ID:         common.NewProjectDocumentID(),
		TenantID:   tenant.ID,
		ProjectID:  project.ID,
		DocumentID: doc.ID,
		CreatedAt:  now,
	}))

	return &graph{
		tc:          tc,
		docID:       doc.ID,
		versionID:   version.ID,
		blobKey:     blobKey,
		artifactKey: artifactKey,
		projectID:   project.ID,
	}
}

func taskByType(t *testing.T, db interfaces.StorageManager, tenantID, docID string, taskType models.DeletionTaskType) *models.DeletionTask {
	t.Helper()
	tasks, err := db.DeletionStorage().ListTasksByDocument(context.Background(), tenantID, docID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.TaskType == taskType {
			return task
		}
	}
	t.Fatalf("no %s task found", taskType)
	return nil
}

func drainQueue(t *testing.T, q interfaces.QueueManager) {
	t.Helper()
	for {
		_, ack, err := q.Receive(context.Background())
		if errors.Is(err, interfaces.ErrNoMessage) {
			return
		}
		require.NoError(t, err)
		require.NoError(t, ack())
	}
}

func TestMarkForDeletion_WritesPlanAndQueuesJob(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, q, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	jobID, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusMarked, doc.DeletionStatus)
	assert.Equal(t, "usr_reviewer", doc.DeletionRequestedBy)
	require.NotNil(t, doc.DeletionRequestedAt)
	assert.False(t, doc.Visible())

	tasks, err := db.DeletionStorage().ListTasksByDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	require.Len(t, tasks, 13)

	lastOrder := 0
	storageFiles := 0
	for _, task := range tasks {
		assert.Equal(t, models.DeletionTaskPending, task.Status)
		assert.Equal(t, models.DefaultDeletionTaskRetries, task.MaxRetries)
		assert.Equal(t, task.TaskType.ProcessingOrder(), task.ProcessingOrder)
		assert.GreaterOrEqual(t, task.ProcessingOrder, lastOrder)
		lastOrder = task.ProcessingOrder
		if task.TaskType == models.DeletionTaskStorageFile {
			storageFiles++
			assert.Equal(t, fx.versionID, task.ResourceID)
		}
	}
	assert.Equal(t, 1, storageFiles)

	job, err := db.JobStorage().GetJob(ctx, fx.tc.TenantID, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeDeleteDocument, job.Type)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, fx.docID, job.Payload["document_id"])

	msg, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, models.JobTypeDeleteDocument, msg.Type)
	require.NoError(t, ack())
}

func TestMarkForDeletion_PlanCoversEveryVersion(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	v2 := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         fx.tc.TenantID,
		DocumentID:       fx.docID,
		VersionNumber:    2,
		BlobKey:          blob.DocumentKey(fx.docID, 2, "pitch.pdf"),
		SizeBytes:        9,
		ContentHash:      common.HashBytes([]byte("pitch-v2")),
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusUploaded,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, db.DocumentStorage().CreateVersion(ctx, v2))

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)

	tasks, err := db.DeletionStorage().ListTasksByDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	require.Len(t, tasks, 14)

	var resources []string
	for _, task := range tasks {
		if task.TaskType == models.DeletionTaskStorageFile {
			resources = append(resources, task.ResourceID)
		}
	}
	assert.ElementsMatch(t, []string{fx.versionID, v2.ID}, resources)
}

func TestMarkForDeletion_SecondMarkKeepsPlan(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	first, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)

	second, err := svc.MarkForDeletion(ctx, models.TenantContext{TenantID: fx.tc.TenantID, ActorID: "usr_other"}, fx.docID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	tasks, err := db.DeletionStorage().ListTasksByDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Len(t, tasks, 13)

	// The original requester survives a duplicate mark.
	doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, "usr_reviewer", doc.DeletionRequestedBy)
}

func TestMarkForDeletion_DeletedDocumentHidden(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	require.NoError(t, db.DocumentStorage().SetDeletionStatus(ctx, fx.tc.TenantID, fx.docID, models.DeletionStatusDeleted, ""))

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestMarkForDeletion_TenantScoped(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	rival := models.NewTenant("rival")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, rival))

	_, err := svc.MarkForDeletion(ctx, models.TenantContext{TenantID: rival.ID, ActorID: "usr_spy"}, fx.docID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusActive, doc.DeletionStatus)
}

func TestExecuteDeletion_FullProtocol(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, bus := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteDeletion(ctx, fx.tc.TenantID, fx.docID))

	doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusDeleted, doc.DeletionStatus)

	_, err = blobs.Stat(ctx, fx.blobKey)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = blobs.Stat(ctx, fx.artifactKey)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	chunkCount, err := db.SpanStorage().CountChunksByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Zero(t, chunkCount)
	spanCount, err := db.SpanStorage().CountSpansByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Zero(t, spanCount)

	counts, err := db.FactStorage().CountFactsByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	conflicts, err := db.QualityStorage().ListConflictsByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	questions, err := db.QualityStorage().ListOpenQuestionsByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Empty(t, questions)

	runs, err := db.RunStorage().ListRunsByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Empty(t, runs)

	links, err := db.ProjectStorage().ListAttachments(ctx, fx.tc.TenantID, fx.projectID)
	require.NoError(t, err)
	assert.Empty(t, links)

	versions, err := db.DocumentStorage().ListVersions(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Empty(t, versions)

	// The final task detached the audit trail from the document.
	tasks, err := db.DeletionStorage().ListTasksByDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	var detached, completed, skipped int
	require.NoError(t, db.DB().QueryRow(
		`SELECT COUNT(*) FROM deletion_tasks WHERE tenant_id = ? AND document_id IS NULL`,
		fx.tc.TenantID).Scan(&detached))
	require.NoError(t, db.DB().QueryRow(
		`SELECT COUNT(*) FROM deletion_tasks WHERE tenant_id = ? AND status = 'completed'`,
		fx.tc.TenantID).Scan(&completed))
	require.NoError(t, db.DB().QueryRow(
		`SELECT COUNT(*) FROM deletion_tasks WHERE tenant_id = ? AND status = 'skipped'`,
		fx.tc.TenantID).Scan(&skipped))
	assert.Equal(t, 13, detached)
	assert.Equal(t, 10, completed)
	// No metrics, constraints, or risks were ever extracted.
	assert.Equal(t, 3, skipped)

	last, ok := bus.last()
	require.True(t, ok)
	assert.Equal(t, interfaces.EventDeletionCompleted, last)
}

func TestExecuteDeletion_ResumeSkipsFinishedTasks(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)

	// Simulate a crash after the chunk level finished: its rows are gone and
	// both early tasks are terminal, but the blob was never touched because
	// that task completed on another worker whose delete we fake here.
	_, err = db.SpanStorage().DeleteChunksByDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	now := time.Now().UTC()
	for _, taskType := range []models.DeletionTaskType{models.DeletionTaskStorageFile, models.DeletionTaskEmbeddingChunks} {
		task := taskByType(t, db, fx.tc.TenantID, fx.docID, taskType)
		task.Status = models.DeletionTaskCompleted
		task.CompletedAt = &now
		require.NoError(t, db.DeletionStorage().UpdateTask(ctx, task))
	}

	require.NoError(t, svc.ExecuteDeletion(ctx, fx.tc.TenantID, fx.docID))

	doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusDeleted, doc.DeletionStatus)

	// The completed storage task was not re-run, so the blob survives.
	_, err = blobs.Stat(ctx, fx.blobKey)
	assert.NoError(t, err)

	spanCount, err := db.SpanStorage().CountSpansByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Zero(t, spanCount)
	runs, err := db.RunStorage().ListRunsByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Empty(t, runs)
	versions, err := db.DocumentStorage().ListVersions(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestExecuteDeletion_AbsentResourcesSkip(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	ctx := context.Background()
	now := time.Now().UTC()

	tenant := models.NewTenant("bare")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, tenant))
	tc := models.TenantContext{TenantID: tenant.ID, ActorID: "usr_admin"}

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       "empty.txt",
		ContentType:    "text/plain",
		ContentHash:    common.HashBytes([]byte("empty")),
		Classification: models.ClassificationOther,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, db.DocumentStorage().CreateDocument(ctx, doc))
	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tenant.ID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          blob.DocumentKey(doc.ID, 1, doc.Filename),
		SizeBytes:        5,
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusUploaded,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, db.DocumentStorage().CreateVersion(ctx, version))

	_, err := svc.MarkForDeletion(ctx, tc, doc.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteDeletion(ctx, tenant.ID, doc.ID))

	got, err := db.DocumentStorage().GetDocument(ctx, tenant.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusDeleted, got.DeletionStatus)

	// Only the version rows and the record flip touched anything; the blob
	// was never written and no derived rows existed.
	var completed, skipped int
	require.NoError(t, db.DB().QueryRow(
		`SELECT COUNT(*) FROM deletion_tasks WHERE tenant_id = ? AND status = 'completed'`,
		tenant.ID).Scan(&completed))
	require.NoError(t, db.DB().QueryRow(
		`SELECT COUNT(*) FROM deletion_tasks WHERE tenant_id = ? AND status = 'skipped'`,
		tenant.ID).Scan(&skipped))
	assert.Equal(t, 2, completed)
	assert.Equal(t, 11, skipped)
}

func TestExecuteDeletion_RetryExhaustionThenResume(t *testing.T) {
	flaky := &flakyBlobs{BlobStore: newTestBlobs(t), fail: true}
	svc, db, _, bus := setupDeletion(t, flaky)
	fx := seedGraph(t, db, flaky)
	ctx := context.Background()

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)

	for attempt := 1; attempt < models.DefaultDeletionTaskRetries; attempt++ {
		err := svc.ExecuteDeletion(ctx, fx.tc.TenantID, fx.docID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "incomplete")

		task := taskByType(t, db, fx.tc.TenantID, fx.docID, models.DeletionTaskStorageFile)
		assert.Equal(t, models.DeletionTaskFailed, task.Status)
		assert.Equal(t, attempt, task.RetryCount)
		assert.Contains(t, task.Error, "object store unavailable")

		doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
		require.NoError(t, err)
		assert.Equal(t, models.DeletionStatusMarked, doc.DeletionStatus)
	}

	err = svc.ExecuteDeletion(ctx, fx.tc.TenantID, fx.docID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted retries")

	doc, err := db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusFailed, doc.DeletionStatus)

	last, ok := bus.last()
	require.True(t, ok)
	assert.Equal(t, interfaces.EventDeletionFailed, last)

	// Partial state is retained while the protocol is stuck.
	chunkCount, err := db.SpanStorage().CountChunksByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Equal(t, 2, chunkCount)

	// Re-driving the failed document grants a fresh budget and completes once
	// the store recovers.
	flaky.trip(false)
	require.NoError(t, svc.ExecuteDeletion(ctx, fx.tc.TenantID, fx.docID))

	doc, err = db.DocumentStorage().GetDocument(ctx, fx.tc.TenantID, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusDeleted, doc.DeletionStatus)

	chunkCount, err = db.SpanStorage().CountChunksByVersion(ctx, fx.tc.TenantID, fx.versionID)
	require.NoError(t, err)
	assert.Zero(t, chunkCount)

	var status string
	var retries int
	require.NoError(t, db.DB().QueryRow(
		`SELECT status, retry_count FROM deletion_tasks WHERE tenant_id = ? AND task_type = 'storage_file'`,
		fx.tc.TenantID).Scan(&status, &retries))
	assert.Equal(t, "completed", status)
	assert.Zero(t, retries)

	last, ok = bus.last()
	require.True(t, ok)
	assert.Equal(t, interfaces.EventDeletionCompleted, last)
}

func TestExecuteDeletion_RefusesUnmarkedDocument(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)

	err := svc.ExecuteDeletion(context.Background(), fx.tc.TenantID, fx.docID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not marked for deletion")
}

func TestExecuteDeletion_AlreadyDeletedIsNoop(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, bus := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	require.NoError(t, db.DocumentStorage().SetDeletionStatus(ctx, fx.tc.TenantID, fx.docID, models.DeletionStatusDeleted, ""))
	require.NoError(t, svc.ExecuteDeletion(ctx, fx.tc.TenantID, fx.docID))

	_, ok := bus.last()
	assert.False(t, ok)
}

func TestStatus_ReportsPlanProgress(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, _, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)

	report, err := svc.Status(ctx, fx.tc, fx.docID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusMarked, report.Document.DeletionStatus)
	require.Len(t, report.Tasks, 13)
	for _, task := range report.Tasks {
		assert.Equal(t, models.DeletionTaskPending, task.Status)
	}

	rival := models.NewTenant("rival")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, rival))
	_, err = svc.Status(ctx, models.TenantContext{TenantID: rival.ID, ActorID: "usr_spy"}, fx.docID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestResumePending_RequeuesStuckDocuments(t *testing.T) {
	blobs := newTestBlobs(t)
	svc, db, q, _ := setupDeletion(t, blobs)
	fx := seedGraph(t, db, blobs)
	ctx := context.Background()

	_, err := svc.MarkForDeletion(ctx, fx.tc, fx.docID)
	require.NoError(t, err)
	drainQueue(t, q)

	count, err := svc.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	msg, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeDeleteDocument, msg.Type)
	require.NoError(t, ack())

	job, err := db.JobStorage().GetJobAny(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, fx.docID, job.Payload["document_id"])
}
