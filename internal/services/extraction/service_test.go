package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/blob"
	"github.com/probatio/probatio/internal/storage/sqlite"
)

func setupService(t *testing.T) (*Service, interfaces.StorageManager, interfaces.BlobStore) {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := sqlite.NewManager(logger, &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewLocalStore(logger, &common.BlobConfig{
		LocalDir:      t.TempDir(),
		SigningSecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("Failed to open blob store: %v", err)
	}

	svc := NewService(logger, &common.ExtractionConfig{PDFEngine: "local"},
		blobs, db.DocumentStorage(), db.RunStorage())
	return svc, db, blobs
}

func seedUploadedVersion(t *testing.T, db interfaces.StorageManager, blobs interfaces.BlobStore, filename string, data []byte) (string, string) {
	t.Helper()
	ctx := context.Background()

	tenant := models.NewTenant("acme")
	if err := db.TenantStorage().CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       filename,
		ContentType:    "application/octet-stream",
		ContentHash:    common.HashBytes(data),
		Classification: models.ClassificationReport,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := db.DocumentStorage().CreateDocument(ctx, doc); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	key := blob.DocumentKey(doc.ID, 1, filename)
	if _, err := blobs.Put(ctx, key, strings.NewReader(string(data))); err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}

	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tenant.ID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          key,
		SizeBytes:        int64(len(data)),
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusUploaded,
		ExtractionStatus: models.ExtractionStatusPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := db.DocumentStorage().CreateVersion(ctx, version); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	return tenant.ID, version.ID
}

func TestExtractVersion_PersistsTextAndRun(t *testing.T) {
	svc, db, blobs := setupService(t)
	ctx := context.Background()

	tenantID, versionID := seedUploadedVersion(t, db, blobs, "notes.txt",
		[]byte("The committee approved the budget.\fAppendix follows."))

	content, err := svc.ExtractVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("ExtractVersion failed: %v", err)
	}
	if !strings.Contains(content.Text, "committee approved") {
		t.Errorf("Unexpected content text: %q", content.Text)
	}

	version, err := db.DocumentStorage().GetVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if !strings.Contains(version.ExtractedText, "committee approved") {
		t.Errorf("Extracted text not persisted on version: %q", version.ExtractedText)
	}

	runs, err := db.RunStorage().ListRunsByVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("ListRunsByVersion failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != models.RunStatusCompleted {
		t.Errorf("Expected completed run, got %s", runs[0].Status)
	}
	if runs[0].ExtractorName != "text_extractor" {
		t.Errorf("Expected text extractor, got %s", runs[0].ExtractorName)
	}
	if runs[0].ArtifactPath == "" {
		t.Fatal("Run should record an artifact path")
	}

	// The artifact round-trips with structure intact.
	loaded, err := svc.LoadArtifact(ctx, runs[0].ArtifactPath)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if loaded.Text != content.Text {
		t.Error("Artifact text does not match extracted content")
	}
}

func TestExtractVersion_FailureRecordsRun(t *testing.T) {
	svc, db, blobs := setupService(t)
	ctx := context.Background()

	// An empty xlsx payload fails the workbook parser.
	tenantID, versionID := seedUploadedVersion(t, db, blobs, "broken.xlsx", []byte("not a workbook"))

	if _, err := svc.ExtractVersion(ctx, tenantID, versionID); err == nil {
		t.Fatal("Expected extraction to fail")
	}

	runs, err := db.RunStorage().ListRunsByVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("ListRunsByVersion failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunStatusFailed {
		t.Fatalf("Expected 1 failed run, got %+v", runs)
	}
	if runs[0].ErrorMessage == "" {
		t.Error("Failed run should carry an error message")
	}
}

func TestExtractVersion_TenantScoped(t *testing.T) {
	svc, db, blobs := setupService(t)
	ctx := context.Background()

	_, versionID := seedUploadedVersion(t, db, blobs, "notes.txt", []byte("secret"))

	other := models.NewTenant("rival")
	if err := db.TenantStorage().CreateTenant(ctx, other); err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}

	if _, err := svc.ExtractVersion(ctx, other.ID, versionID); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound across tenants, got %v", err)
	}
}

func TestRegistryRouting(t *testing.T) {
	svc, _, _ := setupService(t)

	cases := map[models.SourceFormat]string{
		models.FormatText:     "text_extractor",
		models.FormatMarkdown: "text_extractor",
		models.FormatCSV:      "csv_extractor",
		models.FormatExcel:    "excel_extractor",
		models.FormatHTML:     "html_extractor",
		models.FormatImage:    "image_extractor",
		models.FormatPDF:      "pdf_local",
	}
	for format, name := range cases {
		e, ok := svc.ExtractorFor(format)
		if !ok {
			t.Errorf("No extractor for %s", format)
			continue
		}
		if e.Name() != name {
			t.Errorf("Format %s routed to %s, want %s", format, e.Name(), name)
		}
	}

	// Later registrations replace earlier ones.
	svc.Register(&fakeExtractor{})
	e, _ := svc.ExtractorFor(models.FormatPDF)
	if e.Name() != "fake" {
		t.Errorf("Expected override to win, got %s", e.Name())
	}
}
