package quality

import (
	"context"
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

func setupAnalyzer(t *testing.T) (*Service, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := sqlite.NewManager(logger, &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewService(logger, db.FactStorage(), db.QualityStorage(), db.DocumentStorage())
	return svc, db
}

// seedFactGraph creates a tenant, document, version, and a completed run the
// seeded facts can reference.
func seedFactGraph(t *testing.T, db interfaces.StorageManager) (string, string, string) {
	t.Helper()
	ctx := context.Background()

	tenant := models.NewTenant("acme")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, tenant))

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       "memo.pdf",
		ContentType:    "application/pdf",
		ContentHash:    common.HashBytes([]byte("memo")),
		Classification: models.ClassificationReport,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, db.DocumentStorage().CreateDocument(ctx, doc))

	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tenant.ID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          "documents/x/v1/memo.pdf",
		SizeBytes:        4,
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusFactsExtracted,
		ExtractionStatus: models.ExtractionStatusCompleted,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, db.DocumentStorage().CreateVersion(ctx, version))

	now := time.Now().UTC()
	run := &models.ExtractionRun{
		ID:            common.NewRunID(),
		TenantID:      tenant.ID,
		VersionID:     version.ID,
		ExtractorName: "fact_extractor",
		Status:        models.RunStatusCompleted,
		StartedAt:     &now,
		CompletedAt:   &now,
		Profile:       models.ProfileGeneral,
		Level:         1,
		CreatedAt:     now,
	}
	require.NoError(t, db.RunStorage().CreateRun(ctx, run))
	return tenant.ID, version.ID, run.ID
}

func attach(m *models.Metric, tenantID, versionID, runID string) *models.Metric {
	m.TenantID = tenantID
	m.VersionID = versionID
	m.ExtractionRunID = runID
	m.ProcessContext = models.ProcessContextUnspecified
	m.Level = 1
	return m
}

func attachClaim(c *models.Claim, tenantID, versionID, runID string) *models.Claim {
	c.TenantID = tenantID
	c.VersionID = versionID
	c.ExtractionRunID = runID
	c.ProcessContext = models.ProcessContextUnspecified
	c.Level = 1
	return c
}

func TestAnalyzeVersion_DetectsAndDeduplicates(t *testing.T) {
	svc, db := setupAnalyzer(t)
	tenantID, versionID, runID := seedFactGraph(t, db)
	ctx := context.Background()

	require.NoError(t, db.FactStorage().InsertMetrics(ctx, []*models.Metric{
		attach(testMetric("Acme", "revenue", f(100), "100", "$", "USD", nil), tenantID, versionID, runID),
		attach(testMetric("Acme", "revenue", f(150), "150", "$", "USD", nil), tenantID, versionID, runID),
	}))
	berlin := testClaim("Acme", "headquartered_in", "Berlin", models.CertaintyDefinite)
	munich := testClaim("Acme", "headquartered_in", "Munich", models.CertaintyDefinite)
	berlin.Reliability = models.ReliabilityOfficial
	munich.Reliability = models.ReliabilityOfficial
	require.NoError(t, db.FactStorage().InsertClaims(ctx, []*models.Claim{
		attachClaim(berlin, tenantID, versionID, runID),
		attachClaim(munich, tenantID, versionID, runID),
	}))

	newConflicts, newQuestions, err := svc.AnalyzeVersion(ctx, tenantID, versionID)
	require.NoError(t, err)
	assert.Equal(t, 2, newConflicts, "one metric-metric and one claim-claim conflict")
	// Both metrics are undated, so both raise temporal questions.
	assert.Equal(t, 2, newQuestions)

	// Re-running over unchanged facts inserts nothing.
	newConflicts, newQuestions, err = svc.AnalyzeVersion(ctx, tenantID, versionID)
	require.NoError(t, err)
	assert.Zero(t, newConflicts)
	assert.Zero(t, newQuestions)

	tc := models.TenantContext{TenantID: tenantID}
	conflicts, err := svc.ListConflicts(ctx, tc, versionID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)
	questions, err := svc.ListOpenQuestions(ctx, tc, versionID)
	require.NoError(t, err)
	assert.Len(t, questions, 2)
	for _, q := range questions {
		assert.Equal(t, models.QuestionTemporal, q.Category)
		assert.Len(t, q.FactIDs, 1)
	}
}

func TestAnalyzeVersion_CoversAllQuestionCategories(t *testing.T) {
	svc, db := setupAnalyzer(t)
	tenantID, versionID, runID := seedFactGraph(t, db)
	ctx := context.Background()

	fy := period("2025-01-01", "2025-12-31")
	require.NoError(t, db.FactStorage().InsertMetrics(ctx, []*models.Metric{
		// missing_data: no parseable value.
		attach(testMetric("Acme", "headcount", nil, "around fifty", "", "", fy), tenantID, versionID, runID),
		// temporal: value without a period.
		attach(testMetric("Acme", "ARR", f(3400000), "$3.4M", "$", "USD", nil), tenantID, versionID, runID),
		// methodology: margin in % and in $.
		attach(testMetric("Acme", "margin", f(40), "40%", "%", "", fy), tenantID, versionID, runID),
		attach(testMetric("Acme", "margin", f(12), "$12M", "$", "USD", fy), tenantID, versionID, runID),
	}))
	require.NoError(t, db.FactStorage().InsertClaims(ctx, []*models.Claim{
		// ambiguous: speculative.
		attachClaim(testClaim("Acme", "plans", "IPO in 2027", models.CertaintySpeculative), tenantID, versionID, runID),
		// verification: definite but unknown reliability.
		attachClaim(testClaim("Acme", "founded_in", "2019", models.CertaintyDefinite), tenantID, versionID, runID),
	}))
	require.NoError(t, db.FactStorage().InsertRisks(ctx, []*models.Risk{{
		ID:              common.NewRiskID(),
		TenantID:        tenantID,
		VersionID:       versionID,
		ExtractionRunID: runID,
		ProcessContext:  models.ProcessContextUnspecified,
		Level:           2,
		RiskType:        "market",
		Statement:       "Single-customer concentration",
		Severity:        models.RiskSeverityHigh,
		Certainty:       models.CertaintyProbable,
		Reliability:     models.ReliabilityInternal,
		CreatedAt:       time.Now().UTC(),
	}}))

	_, newQuestions, err := svc.AnalyzeVersion(ctx, tenantID, versionID)
	require.NoError(t, err)
	assert.Equal(t, 6, newQuestions)

	questions, err := svc.ListOpenQuestions(ctx, models.TenantContext{TenantID: tenantID}, versionID)
	require.NoError(t, err)

	seen := map[models.QuestionCategory]bool{}
	for _, q := range questions {
		seen[q.Category] = true
	}
	for _, category := range []models.QuestionCategory{
		models.QuestionMissingData, models.QuestionAmbiguous, models.QuestionVerification,
		models.QuestionMethodology, models.QuestionTemporal, models.QuestionClarification,
	} {
		assert.True(t, seen[category], "missing category %s", category)
	}
}

func TestAnalyzeVersion_EmptyFactsIsClean(t *testing.T) {
	svc, db := setupAnalyzer(t)
	tenantID, versionID, _ := seedFactGraph(t, db)

	newConflicts, newQuestions, err := svc.AnalyzeVersion(context.Background(), tenantID, versionID)
	require.NoError(t, err)
	assert.Zero(t, newConflicts)
	assert.Zero(t, newQuestions)
}

func TestQuality_TenantScoped(t *testing.T) {
	svc, db := setupAnalyzer(t)
	_, versionID, _ := seedFactGraph(t, db)
	ctx := context.Background()

	other := models.NewTenant("rival")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, other))

	_, _, err := svc.AnalyzeVersion(ctx, other.ID, versionID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = svc.ListConflicts(ctx, models.TenantContext{TenantID: other.ID}, versionID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = svc.ListOpenQuestions(ctx, models.TenantContext{TenantID: other.ID}, versionID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
