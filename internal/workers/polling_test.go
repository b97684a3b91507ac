package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/sqlite"
)

// recordingPipeline tracks processed versions and fails the ones listed.
type recordingPipeline struct {
	interfaces.PipelineService
	mu       sync.Mutex
	versions []string
	failFor  map[string]bool
}

func (p *recordingPipeline) ProcessVersion(ctx context.Context, tenantID, versionID string, opts interfaces.ProcessOptions, progress interfaces.ProgressFn) error {
	p.mu.Lock()
	p.versions = append(p.versions, versionID)
	fail := p.failFor[versionID]
	p.mu.Unlock()
	if fail {
		return fmt.Errorf("malformed PDF")
	}
	return nil
}

func (p *recordingPipeline) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.versions...)
}

func setupPolling(t *testing.T, pipeline *recordingPipeline) (*PollingWorker, interfaces.StorageManager, string) {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := sqlite.NewManager(logger, &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tenant := models.NewTenant("acme")
	require.NoError(t, db.TenantStorage().CreateTenant(context.Background(), tenant))

	cfg := &common.WorkerConfig{
		Mode:            "polling",
		Concurrency:     1,
		PollInterval:    "50ms",
		ClaimBatchSize:  5,
		ShutdownTimeout: "5s",
	}
	worker := NewPollingWorker(logger, cfg, db.DocumentStorage(), pipeline)
	return worker, db, tenant.ID
}

func seedPendingVersion(t *testing.T, db interfaces.StorageManager, tenantID, filename string) (string, string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenantID,
		Filename:       filename,
		ContentType:    "application/pdf",
		ContentHash:    common.HashBytes([]byte(filename)),
		Classification: models.ClassificationReport,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, db.DocumentStorage().CreateDocument(ctx, doc))

	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tenantID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          "documents/" + doc.ID + "/v1/" + filename,
		SizeBytes:        int64(len(filename)),
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusUploaded,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, db.DocumentStorage().CreateVersion(ctx, version))
	return doc.ID, version.ID
}

func extractionStatus(t *testing.T, db interfaces.StorageManager, tenantID, versionID string) models.ExtractionStatus {
	t.Helper()
	version, err := db.DocumentStorage().GetVersion(context.Background(), tenantID, versionID)
	require.NoError(t, err)
	return version.ExtractionStatus
}

func TestPollingWorker_ProcessesPendingVersions(t *testing.T) {
	pipeline := &recordingPipeline{}
	worker, db, tenantID := setupPolling(t, pipeline)

	_, ver1 := seedPendingVersion(t, db, tenantID, "alpha.pdf")
	_, ver2 := seedPendingVersion(t, db, tenantID, "beta.pdf")

	require.NoError(t, worker.Start())
	t.Cleanup(worker.Stop)

	require.Eventually(t, func() bool {
		return extractionStatus(t, db, tenantID, ver1) == models.ExtractionStatusCompleted &&
			extractionStatus(t, db, tenantID, ver2) == models.ExtractionStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	assert.ElementsMatch(t, []string{ver1, ver2}, pipeline.processed())
}

func TestPollingWorker_RecordsFailures(t *testing.T) {
	pipeline := &recordingPipeline{failFor: map[string]bool{}}
	worker, db, tenantID := setupPolling(t, pipeline)

	_, verOK := seedPendingVersion(t, db, tenantID, "good.pdf")
	_, verBad := seedPendingVersion(t, db, tenantID, "bad.pdf")
	pipeline.failFor[verBad] = true

	require.NoError(t, worker.Start())
	t.Cleanup(worker.Stop)

	require.Eventually(t, func() bool {
		return extractionStatus(t, db, tenantID, verBad) == models.ExtractionStatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return extractionStatus(t, db, tenantID, verOK) == models.ExtractionStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	bad, err := db.DocumentStorage().GetVersion(context.Background(), tenantID, verBad)
	require.NoError(t, err)
	assert.Contains(t, bad.LastError, "malformed PDF")
}

func TestPollingWorker_PicksUpNewWork(t *testing.T) {
	pipeline := &recordingPipeline{}
	worker, db, tenantID := setupPolling(t, pipeline)

	require.NoError(t, worker.Start())
	t.Cleanup(worker.Stop)

	// Seeded after the first sweep; the ticker finds it.
	_, ver := seedPendingVersion(t, db, tenantID, "late.pdf")

	require.Eventually(t, func() bool {
		return extractionStatus(t, db, tenantID, ver) == models.ExtractionStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestPollingWorker_StopHaltsClaims(t *testing.T) {
	pipeline := &recordingPipeline{}
	worker, db, tenantID := setupPolling(t, pipeline)

	require.NoError(t, worker.Start())
	worker.Stop()

	_, ver := seedPendingVersion(t, db, tenantID, "after-stop.pdf")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, models.ExtractionStatusPending, extractionStatus(t, db, tenantID, ver))
	assert.Empty(t, pipeline.processed())
}

func TestPollingWorker_DoubleStartRejected(t *testing.T) {
	worker, _, _ := setupPolling(t, &recordingPipeline{})
	require.NoError(t, worker.Start())
	t.Cleanup(worker.Stop)
	assert.Error(t, worker.Start())
}
