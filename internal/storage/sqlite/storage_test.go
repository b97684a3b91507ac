package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// setupTestDB creates a file-backed SQLite database in a temp directory.
func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()

	config := &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	}

	db, err := NewSQLiteDB(arbor.NewLogger(), config)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTenant(t *testing.T, db *SQLiteDB, name string) *models.Tenant {
	t.Helper()
	tenant := models.NewTenant(name)
	storage := NewTenantStorage(db, arbor.NewLogger())
	if err := storage.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}
	return tenant
}

func seedDocument(t *testing.T, db *SQLiteDB, tenantID, filename, contentHash string) *models.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenantID,
		Filename:       filename,
		ContentHash:    contentHash,
		Classification: models.ClassificationReport,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	storage := NewDocumentStorage(db, arbor.NewLogger())
	if err := storage.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	return doc
}

func seedVersion(t *testing.T, db *SQLiteDB, doc *models.Document, number int, contentHash string) *models.DocumentVersion {
	t.Helper()
	now := time.Now().UTC()
	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         doc.TenantID,
		DocumentID:       doc.ID,
		VersionNumber:    number,
		BlobKey:          "documents/" + doc.ID + "/v1/" + doc.Filename,
		SizeBytes:        128,
		ContentHash:      contentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusUploaded,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	storage := NewDocumentStorage(db, arbor.NewLogger())
	if err := storage.CreateVersion(context.Background(), version); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	return version
}

func TestDocumentStorage_TenantIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenantA := seedTenant(t, db, "tenant-a")
	tenantB := seedTenant(t, db, "tenant-b")
	doc := seedDocument(t, db, tenantA.ID, "report.pdf", "hash-1")

	storage := NewDocumentStorage(db, arbor.NewLogger())

	if _, err := storage.GetDocument(ctx, tenantA.ID, doc.ID); err != nil {
		t.Fatalf("Owner tenant should see the document: %v", err)
	}

	// The other tenant gets not-found, never a different error class that
	// would leak the document's existence.
	_, err := storage.GetDocument(ctx, tenantB.ID, doc.ID)
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for cross-tenant read, got: %v", err)
	}

	docs, err := storage.ListDocuments(ctx, tenantB.ID, nil)
	if err != nil {
		t.Fatalf("List for other tenant failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Other tenant should list zero documents, got %d", len(docs))
	}
}

func TestDocumentStorage_ContentHashDedup(t *testing.T) {
	db := setupTestDB(t)
	tenant := seedTenant(t, db, "dedup")
	seedDocument(t, db, tenant.ID, "a.pdf", "same-hash")

	storage := NewDocumentStorage(db, arbor.NewLogger())
	now := time.Now().UTC()
	dup := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       "b.pdf",
		ContentHash:    "same-hash",
		Classification: models.ClassificationOther,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := storage.CreateDocument(context.Background(), dup)
	if !errors.Is(err, interfaces.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for same content hash, got: %v", err)
	}
}

func TestDocumentStorage_PendingAllocationsShareEmptyHash(t *testing.T) {
	db := setupTestDB(t)
	tenant := seedTenant(t, db, "presign")
	ctx := context.Background()

	// Two unconfirmed allocations coexist: the hash uniqueness only binds
	// once real bytes have been hashed.
	first := seedDocument(t, db, tenant.ID, "pending-a.pdf", "")
	second := seedDocument(t, db, tenant.ID, "pending-b.pdf", "")

	storage := NewDocumentStorage(db, arbor.NewLogger())
	if err := storage.SetDocumentContentHash(ctx, tenant.ID, first.ID, "hash-a"); err != nil {
		t.Fatalf("Failed to backfill first hash: %v", err)
	}

	// Backfilling the same hash onto the second allocation is a duplicate.
	err := storage.SetDocumentContentHash(ctx, tenant.ID, second.ID, "hash-a")
	if !errors.Is(err, interfaces.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate backfilling a taken hash, got: %v", err)
	}

	if err := storage.SetDocumentContentHash(ctx, tenant.ID, second.ID, "hash-b"); err != nil {
		t.Errorf("Failed to backfill distinct hash: %v", err)
	}
}

func TestDocumentStorage_AdvanceVersionStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "pipeline")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	version := seedVersion(t, db, doc, 1, "h1")

	storage := NewDocumentStorage(db, arbor.NewLogger())

	err := storage.AdvanceVersionStatus(ctx, tenant.ID, version.ID,
		models.ProcessingStatusUploaded, models.ProcessingStatusExtracted)
	if err != nil {
		t.Fatalf("Forward transition failed: %v", err)
	}

	// A duplicate delivery repeats the same swap and must lose cleanly.
	err = storage.AdvanceVersionStatus(ctx, tenant.ID, version.ID,
		models.ProcessingStatusUploaded, models.ProcessingStatusExtracted)
	if !errors.Is(err, interfaces.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on repeated swap, got: %v", err)
	}

	// Backward movement is rejected before touching the database.
	err = storage.AdvanceVersionStatus(ctx, tenant.ID, version.ID,
		models.ProcessingStatusExtracted, models.ProcessingStatusUploaded)
	if !errors.Is(err, interfaces.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for backward move, got: %v", err)
	}

	got, err := storage.GetVersion(ctx, tenant.ID, version.ID)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if got.ProcessingStatus != models.ProcessingStatusExtracted {
		t.Errorf("Expected EXTRACTED, got %s", got.ProcessingStatus)
	}
}

func TestDocumentStorage_ClaimPendingExtractions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "claims")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	seedVersion(t, db, doc, 1, "h1")
	seedVersion(t, db, doc, 2, "h2")

	storage := NewDocumentStorage(db, arbor.NewLogger())

	claimed, err := storage.ClaimPendingExtractions(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("Expected 2 claimed versions, got %d", len(claimed))
	}
	for _, v := range claimed {
		if v.ExtractionStatus != models.ExtractionStatusProcessing {
			t.Errorf("Claimed version %s not PROCESSING: %s", v.ID, v.ExtractionStatus)
		}
	}

	// Nothing left for a second worker.
	again, err := storage.ClaimPendingExtractions(ctx, "worker-2", 10)
	if err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no versions for second worker, got %d", len(again))
	}

	// Stale claims return to PENDING and become claimable again.
	released, err := storage.ReleaseStaleExtractionClaims(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released != 2 {
		t.Errorf("Expected 2 released claims, got %d", released)
	}
}

func TestSpanStorage_UpsertIsStable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "spans")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	version := seedVersion(t, db, doc, 1, "h1")

	storage := NewSpanStorage(db, arbor.NewLogger())

	locator := models.TextLocator(0, 100, 1)
	hash, err := models.ComputeSpanHash(locator, "the quick brown fox")
	if err != nil {
		t.Fatalf("ComputeSpanHash failed: %v", err)
	}

	span := &models.Span{
		ID:          common.NewSpanID(),
		TenantID:    tenant.ID,
		VersionID:   version.ID,
		DocumentID:  doc.ID,
		Locator:     locator,
		TextContent: "the quick brown fox",
		SpanType:    models.SpanTypeText,
		SpanHash:    hash,
		CreatedAt:   time.Now().UTC(),
	}

	inserted, updated, err := storage.UpsertSpans(ctx, []*models.Span{span})
	if err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}
	if inserted != 1 || updated != 0 {
		t.Errorf("Expected 1 inserted / 0 updated, got %d / %d", inserted, updated)
	}

	// Regeneration produces a new candidate id for the same hash. The row
	// keeps its original id so fact span references stay valid.
	regenerated := *span
	regenerated.ID = common.NewSpanID()
	inserted, updated, err = storage.UpsertSpans(ctx, []*models.Span{&regenerated})
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if inserted != 0 || updated != 1 {
		t.Errorf("Expected 0 inserted / 1 updated, got %d / %d", inserted, updated)
	}

	stored, err := storage.GetSpanByHash(ctx, tenant.ID, version.ID, hash)
	if err != nil {
		t.Fatalf("GetSpanByHash failed: %v", err)
	}
	if stored.ID != span.ID {
		t.Errorf("Span id changed across regeneration: %s -> %s", span.ID, stored.ID)
	}

	count, err := storage.CountSpansByVersion(ctx, tenant.ID, version.ID)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 span, got %d", count)
	}
}

func TestSpanStorage_ChunkEmbeddingRoundtrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "chunks")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	version := seedVersion(t, db, doc, 1, "h1")

	storage := NewSpanStorage(db, arbor.NewLogger())

	embedding := []float32{0.25, -1.5, 3.14159, 0}
	chunk := &models.EmbeddingChunk{
		ID:          common.NewChunkID(),
		TenantID:    tenant.ID,
		VersionID:   version.ID,
		DocumentID:  doc.ID,
		ChunkIndex:  0,
		TextContent: "chunk text",
		Embedding:   embedding,
		CharStart:   0,
		CharEnd:     10,
		CreatedAt:   time.Now().UTC(),
	}
	if err := storage.StoreChunks(ctx, []*models.EmbeddingChunk{chunk}); err != nil {
		t.Fatalf("StoreChunks failed: %v", err)
	}

	chunks, err := storage.ListChunksByVersion(ctx, tenant.ID, version.ID)
	if err != nil {
		t.Fatalf("ListChunksByVersion failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	got := chunks[0].Embedding
	if len(got) != len(embedding) {
		t.Fatalf("Expected %d dimensions, got %d", len(embedding), len(got))
	}
	for i := range embedding {
		if got[i] != embedding[i] {
			t.Errorf("Dimension %d: expected %v, got %v", i, embedding[i], got[i])
		}
	}

	candidates, err := storage.ListCandidates(ctx, tenant.ID, models.SearchFilters{})
	if err != nil {
		t.Fatalf("ListCandidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Document == nil || candidates[0].Document.ID != doc.ID {
		t.Error("Candidate missing document context")
	}
}

func TestRunStorage_ActiveSlotUniqueness(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "runs")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	version := seedVersion(t, db, doc, 1, "h1")

	storage := NewRunStorage(db, arbor.NewLogger())

	makeRun := func(status models.RunStatus) *models.ExtractionRun {
		return &models.ExtractionRun{
			ID:             common.NewRunID(),
			TenantID:       tenant.ID,
			VersionID:      version.ID,
			ExtractorName:  "fact_extractor",
			Status:         status,
			Profile:        models.ProfileVC,
			Level:          2,
			ProcessContext: "vc.ic_decision",
			CreatedAt:      time.Now().UTC(),
		}
	}

	first := makeRun(models.RunStatusQueued)
	if err := storage.CreateRun(ctx, first); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	err := storage.CreateRun(ctx, makeRun(models.RunStatusQueued))
	if !errors.Is(err, interfaces.ErrActiveRunExists) {
		t.Errorf("Expected ErrActiveRunExists for duplicate active slot, got: %v", err)
	}

	// A different level is a different slot.
	other := makeRun(models.RunStatusQueued)
	other.Level = 3
	if err := storage.CreateRun(ctx, other); err != nil {
		t.Errorf("Different level should not collide: %v", err)
	}

	// Completing the first run releases its slot.
	now := time.Now().UTC()
	first.Status = models.RunStatusCompleted
	first.CompletedAt = &now
	if err := storage.UpdateRun(ctx, first); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	if err := storage.CreateRun(ctx, makeRun(models.RunStatusQueued)); err != nil {
		t.Errorf("Slot should be free after completion: %v", err)
	}

	maxLevel, err := storage.GetMaxCompletedLevel(ctx, tenant.ID, version.ID, models.ProfileVC, "vc.ic_decision")
	if err != nil {
		t.Fatalf("GetMaxCompletedLevel failed: %v", err)
	}
	if maxLevel != 2 {
		t.Errorf("Expected max completed level 2, got %d", maxLevel)
	}
}

func TestQualityStorage_ContentKeyDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "quality")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	version := seedVersion(t, db, doc, 1, "h1")

	storage := NewQualityStorage(db, arbor.NewLogger())

	conflict := &models.Conflict{
		ID:           common.NewConflictID(),
		TenantID:     tenant.ID,
		VersionID:    version.ID,
		ContentKey:   "metric_metric|acme|revenue",
		ConflictType: models.ConflictTypeMetricMetric,
		Severity:     models.ConflictSeverityHigh,
		Reason:       "values diverge by 40%",
		FactIDs:      []string{"mtr_1", "mtr_2"},
		CreatedAt:    time.Now().UTC(),
	}

	inserted, err := storage.UpsertConflicts(ctx, []*models.Conflict{conflict})
	if err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}
	if inserted != 1 {
		t.Errorf("Expected 1 inserted, got %d", inserted)
	}

	rerun := *conflict
	rerun.ID = common.NewConflictID()
	inserted, err = storage.UpsertConflicts(ctx, []*models.Conflict{&rerun})
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Re-running the analyzer must insert nothing, got %d", inserted)
	}
}

func TestJobStorage_ClaimJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "jobs")

	storage := NewJobStorage(db, arbor.NewLogger())
	job := models.NewJob(tenant.ID, models.JobTypeProcessVersion, 0,
		map[string]interface{}{"version_id": "ver_x"})
	if err := storage.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	claimed, err := storage.ClaimJob(ctx, job.ID, "worker-1")
	if err != nil {
		t.Fatalf("First claim failed: %v", err)
	}
	if claimed.Status != models.JobStatusRunning || claimed.Attempts != 1 {
		t.Errorf("Claim did not transition job: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}

	// Redelivery of the same message loses the claim.
	_, err = storage.ClaimJob(ctx, job.ID, "worker-2")
	if !errors.Is(err, interfaces.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on duplicate claim, got: %v", err)
	}
}

func TestJobStorage_CancelQueued(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "cancel")

	storage := NewJobStorage(db, arbor.NewLogger())
	job := models.NewJob(tenant.ID, models.JobTypeExtractFacts, 0, nil)
	if err := storage.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := storage.CancelJob(ctx, tenant.ID, job.ID); err != nil {
		t.Fatalf("Cancel of queued job failed: %v", err)
	}

	got, err := storage.GetJob(ctx, tenant.ID, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobStatusCanceled || !got.CancelRequested || got.FinishedAt == nil {
		t.Errorf("Cancel did not finalize job: status=%s flag=%t finished=%v",
			got.Status, got.CancelRequested, got.FinishedAt)
	}

	err = storage.CancelJob(ctx, tenant.ID, job.ID)
	if !errors.Is(err, interfaces.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition canceling terminal job, got: %v", err)
	}
}

func TestJobStorage_FinishDiscardsAfterCancel(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "finish")

	storage := NewJobStorage(db, arbor.NewLogger())
	job := models.NewJob(tenant.ID, models.JobTypeProcessVersion, 0, nil)
	if err := storage.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := storage.ClaimJob(ctx, job.ID, "worker-1"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	if err := storage.UpdateJobProgress(ctx, job.ID, 40, "halfway"); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	got, err := storage.GetJob(ctx, tenant.ID, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Progress != 40 || got.ProgressMessage != "halfway" {
		t.Errorf("Progress not recorded: %d %q", got.Progress, got.ProgressMessage)
	}

	// The caller cancels while the handler is mid-flight.
	if err := storage.CancelJob(ctx, tenant.ID, job.ID); err != nil {
		t.Fatalf("Cancel of running job failed: %v", err)
	}

	// The handler finishes anyway; its result must be discarded.
	err = storage.FinishJob(ctx, job.ID, models.JobStatusSucceeded,
		map[string]interface{}{"chunks": 12}, "")
	if !errors.Is(err, interfaces.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition finishing canceled job, got: %v", err)
	}

	got, err = storage.GetJob(ctx, tenant.ID, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobStatusCanceled || got.Result != nil {
		t.Errorf("Late finish overwrote cancellation: status=%s result=%v", got.Status, got.Result)
	}

	// Progress after leaving running state is dropped without error.
	if err := storage.UpdateJobProgress(ctx, job.ID, 90, "late"); err != nil {
		t.Fatalf("Late progress update errored: %v", err)
	}
	got, _ = storage.GetJob(ctx, tenant.ID, got.ID)
	if got.Progress != 40 {
		t.Errorf("Late progress was recorded: %d", got.Progress)
	}
}

func TestJobStorage_FinishRunning(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "finish-ok")

	storage := NewJobStorage(db, arbor.NewLogger())
	job := models.NewJob(tenant.ID, models.JobTypeEmbedVersion, 0, nil)
	if err := storage.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := storage.ClaimJob(ctx, job.ID, "worker-1"); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	if err := storage.FinishJob(ctx, job.ID, models.JobStatusSucceeded,
		map[string]interface{}{"chunks": float64(7)}, ""); err != nil {
		t.Fatalf("FinishJob failed: %v", err)
	}

	got, err := storage.GetJob(ctx, tenant.ID, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobStatusSucceeded || got.FinishedAt == nil {
		t.Errorf("Finish did not persist: status=%s finished=%v", got.Status, got.FinishedAt)
	}
	if got.Result["chunks"] != float64(7) {
		t.Errorf("Result not persisted: %v", got.Result)
	}
}

func TestDeletionStorage_TasksSurviveDocumentDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "deletion")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")

	storage := NewDeletionStorage(db, arbor.NewLogger())
	docStorage := NewDocumentStorage(db, arbor.NewLogger())

	docID := doc.ID
	task := &models.DeletionTask{
		ID:              common.NewDeletionTaskID(),
		TenantID:        tenant.ID,
		DocumentID:      &docID,
		TaskType:        models.DeletionTaskStorageFile,
		ProcessingOrder: models.DeletionTaskStorageFile.ProcessingOrder(),
		Status:          models.DeletionTaskCompleted,
		MaxRetries:      models.DefaultDeletionTaskRetries,
		CreatedAt:       time.Now().UTC(),
	}
	if err := storage.CreateTasks(ctx, []*models.DeletionTask{task}); err != nil {
		t.Fatalf("CreateTasks failed: %v", err)
	}

	if err := docStorage.DeleteDocumentRow(ctx, tenant.ID, doc.ID); err != nil {
		t.Fatalf("DeleteDocumentRow failed: %v", err)
	}

	// The task row survives as audit trail with document_id cleared.
	var count int
	err := db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deletion_tasks WHERE id = ? AND document_id IS NULL`,
		task.ID).Scan(&count)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if count != 1 {
		t.Error("Deletion task should survive document delete with NULL document_id")
	}
}

func TestFactStorage_DeleteByRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "facts")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")
	version := seedVersion(t, db, doc, 1, "h1")

	runStorage := NewRunStorage(db, arbor.NewLogger())
	factStorage := NewFactStorage(db, arbor.NewLogger())

	run := &models.ExtractionRun{
		ID:             common.NewRunID(),
		TenantID:       tenant.ID,
		VersionID:      version.ID,
		ExtractorName:  "fact_extractor",
		Status:         models.RunStatusRunning,
		Profile:        models.ProfileGeneral,
		Level:          1,
		ProcessContext: models.ProcessContextUnspecified,
		CreatedAt:      time.Now().UTC(),
	}
	if err := runStorage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	claim := &models.Claim{
		ID:              common.NewClaimID(),
		TenantID:        tenant.ID,
		VersionID:       version.ID,
		ExtractionRunID: run.ID,
		ProcessContext:  models.ProcessContextUnspecified,
		Level:           1,
		Subject:         "Acme",
		Predicate:       "operates_in",
		Object:          "Europe",
		Certainty:       models.CertaintyDefinite,
		Reliability:     models.ReliabilityOfficial,
		SpanRefs:        []string{"span_1"},
		CreatedAt:       time.Now().UTC(),
	}
	value := 42.5
	metric := &models.Metric{
		ID:              common.NewMetricID(),
		TenantID:        tenant.ID,
		VersionID:       version.ID,
		ExtractionRunID: run.ID,
		ProcessContext:  models.ProcessContextUnspecified,
		Level:           1,
		Entity:          "Acme",
		MetricName:      "revenue",
		ValueText:       "42.5M EUR",
		Value:           &value,
		Unit:            "M",
		Currency:        "EUR",
		CreatedAt:       time.Now().UTC(),
	}
	if err := factStorage.InsertClaims(ctx, []*models.Claim{claim}); err != nil {
		t.Fatalf("InsertClaims failed: %v", err)
	}
	if err := factStorage.InsertMetrics(ctx, []*models.Metric{metric}); err != nil {
		t.Fatalf("InsertMetrics failed: %v", err)
	}

	counts, err := factStorage.CountFactsByVersion(ctx, tenant.ID, version.ID)
	if err != nil {
		t.Fatalf("CountFactsByVersion failed: %v", err)
	}
	if counts.Claims != 1 || counts.Metrics != 1 || counts.Total() != 2 {
		t.Errorf("Unexpected counts: %+v", counts)
	}

	metrics, err := factStorage.ListMetricsByVersion(ctx, tenant.ID, version.ID, "")
	if err != nil {
		t.Fatalf("ListMetricsByVersion failed: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Value == nil || *metrics[0].Value != 42.5 {
		t.Error("Metric value did not round-trip")
	}

	deleted, err := factStorage.DeleteFactsByRun(ctx, tenant.ID, run.ID)
	if err != nil {
		t.Fatalf("DeleteFactsByRun failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted facts, got %d", deleted)
	}
}

func TestTenantStorage_APIKeyLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "keys")

	storage := NewTenantStorage(db, arbor.NewLogger())

	plaintext, key, err := models.GenerateAPIKey(tenant.ID, "ci", []string{"*"}, nil)
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if err := storage.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	found, err := storage.GetAPIKeyByHash(ctx, models.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash failed: %v", err)
	}
	if found.TenantID != tenant.ID || !found.Usable(time.Now().UTC()) {
		t.Error("Stored key should be usable and belong to the tenant")
	}

	if err := storage.RevokeAPIKey(ctx, tenant.ID, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}
	revoked, err := storage.GetAPIKeyByHash(ctx, models.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("Lookup after revoke failed: %v", err)
	}
	if revoked.Usable(time.Now().UTC()) {
		t.Error("Revoked key must not be usable")
	}
}

func TestProjectStorage_AttachmentUniqueness(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tenant := seedTenant(t, db, "projects")
	doc := seedDocument(t, db, tenant.ID, "doc.txt", "h1")

	storage := NewProjectStorage(db, arbor.NewLogger())

	now := time.Now().UTC()
	project := &models.Project{
		ID:        common.NewProjectID(),
		TenantID:  tenant.ID,
		Name:      "diligence",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := storage.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	link := &models.ProjectDocument{
		ID:         common.NewProjectDocumentID(),
		TenantID:   tenant.ID,
		ProjectID:  project.ID,
		DocumentID: doc.ID,
		CreatedAt:  now,
	}
	if err := storage.AttachDocument(ctx, link); err != nil {
		t.Fatalf("AttachDocument failed: %v", err)
	}

	dup := *link
	dup.ID = common.NewProjectDocumentID()
	err := storage.AttachDocument(ctx, &dup)
	if !errors.Is(err, interfaces.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate on second attach, got: %v", err)
	}

	ids, err := storage.DocumentIDsForProject(ctx, tenant.ID, project.ID)
	if err != nil {
		t.Fatalf("DocumentIDsForProject failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != doc.ID {
		t.Errorf("Expected exactly [%s], got %v", doc.ID, ids)
	}
}

func TestEmbeddingSerializationRoundtrip(t *testing.T) {
	vectors := [][]float32{
		{},
		{0},
		{1.5, -2.25, 3.125},
		{3.4e38, -3.4e38, 1.18e-38},
	}
	for _, vec := range vectors {
		data, err := serializeEmbedding(vec)
		if err != nil {
			t.Fatalf("serialize failed: %v", err)
		}
		got, err := deserializeEmbedding(data)
		if err != nil {
			t.Fatalf("deserialize failed: %v", err)
		}
		if len(got) != len(vec) {
			t.Fatalf("length mismatch: %d != %d", len(got), len(vec))
		}
		for i := range vec {
			if got[i] != vec[i] {
				t.Errorf("index %d: %v != %v", i, got[i], vec[i])
			}
		}
	}

	if _, err := deserializeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for truncated embedding data")
	}
}
