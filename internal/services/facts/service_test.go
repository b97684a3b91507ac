package facts

import (
	"context"
	"errors"
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

// fakeProvider replays queued responses and records the prompts it saw.
type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	systems   []string
	users     []string
}

var _ interfaces.LLMProvider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systems = append(f.systems, systemPrompt)
	f.users = append(f.users, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return `{"claims":[],"metrics":[],"constraints":[],"risks":[]}`, nil
	}
	response := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return response, nil
}

func setupService(t *testing.T, provider interfaces.LLMProvider) (*Service, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := sqlite.NewManager(logger, &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vocabs, err := LoadVocabularies(logger, "")
	require.NoError(t, err)

	config := &common.FactsConfig{
		Provider:        "anthropic",
		MaxContextChars: 24000,
		RequestTimeout:  "30s",
	}
	svc := NewService(logger, config, provider, vocabs,
		db.RunStorage(), db.FactStorage(), db.DocumentStorage(), db.SpanStorage())
	return svc, db
}

func seedVersion(t *testing.T, db interfaces.StorageManager) (string, string, string) {
	t.Helper()
	ctx := context.Background()

	tenant := models.NewTenant("acme")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, tenant))

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       "pitch.pdf",
		ContentType:    "application/pdf",
		ContentHash:    common.HashBytes([]byte("pitch")),
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
		BlobKey:          "documents/x/v1/pitch.pdf",
		SizeBytes:        5,
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusEmbedded,
		ExtractionStatus: models.ExtractionStatusCompleted,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, db.DocumentStorage().CreateVersion(ctx, version))
	return tenant.ID, doc.ID, version.ID
}

func seedSpans(t *testing.T, db interfaces.StorageManager, tenantID, docID, versionID string, texts ...string) []*models.Span {
	t.Helper()
	spans := make([]*models.Span, len(texts))
	offset := 0
	for i, text := range texts {
		locator := models.TextLocator(offset, offset+len(text), 0)
		hash, err := models.ComputeSpanHash(locator, text)
		require.NoError(t, err)
		spans[i] = &models.Span{
			ID:          common.NewSpanID(),
			TenantID:    tenantID,
			VersionID:   versionID,
			DocumentID:  docID,
			Locator:     locator,
			TextContent: text,
			SpanType:    models.SpanTypeText,
			SpanHash:    hash,
			CreatedAt:   time.Now().UTC(),
		}
		offset += len(text) + 1
	}
	_, _, err := db.SpanStorage().UpsertSpans(context.Background(), spans)
	require.NoError(t, err)
	return spans
}

func claimResponse(subject, predicate, object string, spanIDs ...string) string {
	refs := ""
	for i, id := range spanIDs {
		if i > 0 {
			refs += ","
		}
		refs += fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`{"claims":[{"subject":%q,"predicate":%q,"object":%q,"certainty":"definite","reliability":"official","span_ids":[%s]}],"metrics":[],"constraints":[],"risks":[]}`,
		subject, predicate, object, refs)
}

func TestExtractFacts_PersistsRunAndFacts(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	spans := seedSpans(t, db, tenantID, docID, versionID,
		"Acme raised a $12M Series A led by Example Capital.",
		"ARR reached $3.4M at the end of 2025.")
	provider.responses = []string{claimResponse("Acme", "raised", "$12M Series A", spans[0].ID)}
	ctx := context.Background()

	run, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileVC, "vc.ic_decision", 2)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, extractorName, run.ExtractorName)
	assert.Equal(t, "fake/fake-model", run.ExtractorVersion)
	assert.Equal(t, models.ProfileVC, run.Profile)
	assert.Equal(t, 2, run.Level)
	assert.Equal(t, SchemaVersion, run.SchemaVersion)
	assert.Equal(t, "2026.1", run.VocabularyVersion)
	assert.Equal(t, 1, run.ClaimCount)
	assert.Empty(t, run.Warnings)
	assert.NotNil(t, run.CompletedAt)

	// The prompt enumerates the level's vocabulary and carries the spans.
	require.Len(t, provider.systems, 1)
	assert.Contains(t, provider.systems[0], "raised")
	assert.Contains(t, provider.systems[0], "Risk types:")
	assert.Contains(t, provider.users[0], spans[0].ID)
	assert.Contains(t, provider.users[0], "pitch.pdf")

	bundle, err := svc.ListFacts(ctx, models.TenantContext{TenantID: tenantID}, versionID, "vc.ic_decision")
	require.NoError(t, err)
	require.Len(t, bundle.Claims, 1)
	assert.Equal(t, run.ID, bundle.Claims[0].ExtractionRunID)
	assert.Equal(t, "vc.ic_decision", bundle.Claims[0].ProcessContext)
	assert.Equal(t, []string{spans[0].ID}, bundle.Claims[0].SpanRefs)
}

func TestExtractFacts_SystemPromptOmitsRisksAtLevelOne(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	seedSpans(t, db, tenantID, docID, versionID, "Acme is a company.")

	_, err := svc.ExtractFacts(context.Background(), tenantID, versionID, models.ProfileGeneral, "", 1)
	require.NoError(t, err)

	require.Len(t, provider.systems, 1)
	assert.NotContains(t, provider.systems[0], "Risk types:")
	assert.Contains(t, provider.systems[0], "Do not emit risks")
}

func TestExtractFacts_ActiveRunConflict(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	seedSpans(t, db, tenantID, docID, versionID, "text")
	ctx := context.Background()

	now := time.Now().UTC()
	blocking := &models.ExtractionRun{
		ID:             common.NewRunID(),
		TenantID:       tenantID,
		VersionID:      versionID,
		ExtractorName:  extractorName,
		Status:         models.RunStatusRunning,
		StartedAt:      &now,
		Profile:        models.ProfileVC,
		Level:          1,
		ProcessContext: "vc.ic_decision",
		CreatedAt:      now,
	}
	require.NoError(t, db.RunStorage().CreateRun(ctx, blocking))

	_, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileVC, "vc.ic_decision", 1)
	assert.ErrorIs(t, err, interfaces.ErrActiveRunExists)

	// A different level of the same scope is a different slot.
	_, err = svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileVC, "vc.ic_decision", 2)
	require.NoError(t, err)
}

func TestExtractFacts_ReplacesPriorSameScope(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	seedSpans(t, db, tenantID, docID, versionID, "Body text.")
	ctx := context.Background()

	provider.responses = []string{
		claimResponse("Acme", "is_a", "startup"),
		claimResponse("Acme", "is_a", "scaleup"),
	}

	first, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileGeneral, "", 1)
	require.NoError(t, err)
	second, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileGeneral, "", 1)
	require.NoError(t, err)

	bundle, err := svc.ListFacts(ctx, models.TenantContext{TenantID: tenantID}, versionID, "")
	require.NoError(t, err)
	require.Len(t, bundle.Claims, 1, "re-extraction replaces, never accumulates")
	assert.Equal(t, "scaleup", bundle.Claims[0].Object)
	assert.Equal(t, second.ID, bundle.Claims[0].ExtractionRunID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestExtractFacts_ProviderFailureReleasesSlot(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model unavailable")}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	seedSpans(t, db, tenantID, docID, versionID, "text")
	ctx := context.Background()

	_, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileGeneral, "", 1)
	require.Error(t, err)

	runs, err := svc.ListRuns(ctx, models.TenantContext{TenantID: tenantID}, versionID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "model unavailable")

	// The failed run no longer blocks the scope.
	provider.err = nil
	_, err = svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileGeneral, "", 1)
	require.NoError(t, err)
}

func TestUpgradeLevel_BuildsUponPriorFacts(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	seedSpans(t, db, tenantID, docID, versionID, "Acme raised money.")
	ctx := context.Background()

	provider.responses = []string{
		claimResponse("Acme", "is_a", "startup"),
		claimResponse("Acme", "raised", "$12M"),
	}

	_, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileVC, "vc.ic_decision", 1)
	require.NoError(t, err)

	run, err := svc.UpgradeLevel(ctx, tenantID, versionID, models.ProfileVC, "vc.ic_decision", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Level)

	require.Len(t, provider.users, 2)
	assert.Contains(t, provider.users[1], "Build upon these")
	assert.Contains(t, provider.users[1], "Acme is_a startup")

	// Level 1 facts survive a level 2 run; only same-scope runs replace.
	bundle, err := svc.ListFacts(ctx, models.TenantContext{TenantID: tenantID}, versionID, "vc.ic_decision")
	require.NoError(t, err)
	assert.Len(t, bundle.Claims, 2)
}

func TestUpgradeLevel_RequiresProgress(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, docID, versionID := seedVersion(t, db)
	seedSpans(t, db, tenantID, docID, versionID, "text")
	ctx := context.Background()

	_, err := svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileVC, "", 2)
	require.NoError(t, err)

	_, err = svc.UpgradeLevel(ctx, tenantID, versionID, models.ProfileVC, "", 2)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
	_, err = svc.UpgradeLevel(ctx, tenantID, versionID, models.ProfileVC, "", 1)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	_, err = svc.UpgradeLevel(ctx, tenantID, versionID, models.ProfileVC, "", 3)
	require.NoError(t, err)
}

func TestExtractFacts_RejectsBadProfileAndLevel(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, _, versionID := seedVersion(t, db)
	ctx := context.Background()

	_, err := svc.ExtractFacts(ctx, tenantID, versionID, "astrology", "", 1)
	assert.Error(t, err)
	_, err = svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileGeneral, "", 0)
	assert.Error(t, err)
	_, err = svc.ExtractFacts(ctx, tenantID, versionID, models.ProfileGeneral, "", 5)
	assert.Error(t, err)
}

func TestExtractFacts_NoSpansCompletesWithWarning(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	tenantID, _, versionID := seedVersion(t, db)

	run, err := svc.ExtractFacts(context.Background(), tenantID, versionID, models.ProfileGeneral, "", 1)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.ClaimCount)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "no spans")
	assert.Empty(t, provider.users, "no model call without spans")
}

func TestListFacts_TenantScoped(t *testing.T) {
	provider := &fakeProvider{}
	svc, db := setupService(t, provider)
	_, _, versionID := seedVersion(t, db)
	ctx := context.Background()

	other := models.NewTenant("rival")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, other))

	_, err := svc.ListFacts(ctx, models.TenantContext{TenantID: other.ID}, versionID, "")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = svc.ExtractFacts(ctx, other.ID, versionID, models.ProfileGeneral, "", 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
