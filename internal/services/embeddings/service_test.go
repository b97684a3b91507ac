package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/sqlite"
)

const testDims = 8

// fakeClient returns deterministic vectors derived from the input text and
// can fail the first N calls with a configured error.
type fakeClient struct {
	mu       sync.Mutex
	calls    [][]string
	failures int
	failWith error
}

var _ interfaces.EmbeddingClient = (*fakeClient)(nil)

func (f *fakeClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	if f.failures > 0 {
		f.failures--
		return nil, f.failWith
	}
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = testVector(text)
	}
	return out, nil
}

func (f *fakeClient) Model() string   { return "test-embed" }
func (f *fakeClient) Dimensions() int { return testDims }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testVector(text string) []float32 {
	vec := make([]float32, testDims)
	vec[0] = float32(len(text))
	for _, r := range text {
		vec[1] += float32(r % 31)
	}
	return vec
}

func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testEmbedConfig() *common.EmbeddingsConfig {
	return &common.EmbeddingsConfig{
		Provider:       "openai",
		Model:          "test-embed",
		Dimensions:     testDims,
		BatchSize:      50,
		MaxTokens:      8191,
		RequestsPerMin: 60000,
		MaxAttempts:    5,
		Concurrency:    4,
	}
}

func setupService(t *testing.T, client interfaces.EmbeddingClient, config *common.EmbeddingsConfig) (*Service, interfaces.StorageManager) {
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

	var cache *VectorCache
	if config.CachePath != "" {
		cache, err = NewVectorCache(logger, config.CachePath)
		if err != nil {
			t.Fatalf("Failed to open vector cache: %v", err)
		}
		t.Cleanup(func() { cache.Close() })
	}

	svc := NewService(logger, config, client, cache, db.SpanStorage(), db.DocumentStorage())
	return svc, db
}

// fastBackoff shrinks retry delays for the duration of a test.
func fastBackoff(t *testing.T) {
	t.Helper()
	base, max := backoffBase, backoffMax
	backoffBase = time.Millisecond
	backoffMax = 10 * time.Millisecond
	t.Cleanup(func() {
		backoffBase = base
		backoffMax = max
	})
}

func seedVersion(t *testing.T, db interfaces.StorageManager) (string, string, string) {
	t.Helper()
	ctx := context.Background()

	tenant := models.NewTenant("acme")
	if err := db.TenantStorage().CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}

	doc := &models.Document{
		ID:             common.NewDocumentID(),
		TenantID:       tenant.ID,
		Filename:       "report.txt",
		ContentType:    "text/plain",
		ContentHash:    common.HashBytes([]byte("seed")),
		Classification: models.ClassificationReport,
		SourceType:     models.SourceTypeUpload,
		DeletionStatus: models.DeletionStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := db.DocumentStorage().CreateDocument(ctx, doc); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	version := &models.DocumentVersion{
		ID:               common.NewVersionID(),
		TenantID:         tenant.ID,
		DocumentID:       doc.ID,
		VersionNumber:    1,
		BlobKey:          "documents/x/v1/report.txt",
		SizeBytes:        4,
		ContentHash:      doc.ContentHash,
		UploadStatus:     models.UploadStatusUploaded,
		ProcessingStatus: models.ProcessingStatusSpansBuilt,
		ExtractionStatus: models.ExtractionStatusCompleted,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := db.DocumentStorage().CreateVersion(ctx, version); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	return tenant.ID, doc.ID, version.ID
}

func seedSpan(t *testing.T, db interfaces.StorageManager, tenantID, docID, versionID, text string, spanType models.SpanType, start, end int) *models.Span {
	t.Helper()
	locator := models.TextLocator(start, end, 0)
	hash, err := models.ComputeSpanHash(locator, text)
	if err != nil {
		t.Fatalf("Failed to hash span: %v", err)
	}
	span := &models.Span{
		ID:          common.NewSpanID(),
		TenantID:    tenantID,
		VersionID:   versionID,
		DocumentID:  docID,
		Locator:     locator,
		TextContent: text,
		SpanType:    spanType,
		SpanHash:    hash,
		CreatedAt:   time.Now().UTC(),
	}
	if _, _, err := db.SpanStorage().UpsertSpans(context.Background(), []*models.Span{span}); err != nil {
		t.Fatalf("Failed to upsert span: %v", err)
	}
	return span
}

func TestEmbedVersion_OnlyTextBearingSpans(t *testing.T) {
	client := &fakeClient{}
	svc, db := setupService(t, client, testEmbedConfig())
	tenantID, docID, versionID := seedVersion(t, db)
	ctx := context.Background()

	textSpan := seedSpan(t, db, tenantID, docID, versionID, "The defendant signed the contract on March 3.", models.SpanTypeText, 0, 45)
	headingSpan := seedSpan(t, db, tenantID, docID, versionID, "Contract Timeline", models.SpanTypeHeading, 46, 63)
	seedSpan(t, db, tenantID, docID, versionID, "| year | total |", models.SpanTypeTable, 64, 80)
	seedSpan(t, db, tenantID, docID, versionID, "Figure: chart.png (800x600 png)", models.SpanTypeFigure, 81, 112)

	count, err := svc.EmbedVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("EmbedVersion failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 chunks, got %d", count)
	}

	chunks, err := db.SpanStorage().ListChunksByVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 stored chunks, got %d", len(chunks))
	}

	bySpan := make(map[string]*models.EmbeddingChunk)
	for _, chunk := range chunks {
		bySpan[chunk.SpanID] = chunk
	}
	if bySpan[textSpan.ID] == nil || bySpan[headingSpan.ID] == nil {
		t.Fatalf("Expected chunks for text and heading spans, got %v", bySpan)
	}

	chunk := bySpan[textSpan.ID]
	if chunk.CharStart != 0 || chunk.CharEnd != 45 {
		t.Errorf("Expected char range 0..45, got %d..%d", chunk.CharStart, chunk.CharEnd)
	}
	if chunk.DocumentID != docID {
		t.Errorf("Expected document %s, got %s", docID, chunk.DocumentID)
	}
	if len(chunk.Embedding) != testDims {
		t.Errorf("Expected %d-dim vector, got %d", testDims, len(chunk.Embedding))
	}
	if !vectorsEqual(chunk.Embedding, testVector(textSpan.TextContent)) {
		t.Errorf("Chunk vector does not match its span text")
	}

	indexes := map[int]bool{}
	for _, c := range chunks {
		indexes[c.ChunkIndex] = true
	}
	if !indexes[0] || !indexes[1] {
		t.Errorf("Expected chunk indexes 0 and 1, got %v", indexes)
	}
}

func TestEmbedVersion_SecondRunSkipsExisting(t *testing.T) {
	client := &fakeClient{}
	svc, db := setupService(t, client, testEmbedConfig())
	tenantID, docID, versionID := seedVersion(t, db)
	ctx := context.Background()

	seedSpan(t, db, tenantID, docID, versionID, "First finding about the merger.", models.SpanTypeText, 0, 31)
	seedSpan(t, db, tenantID, docID, versionID, "Second finding about the audit.", models.SpanTypeText, 32, 63)

	first, err := svc.EmbedVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("First EmbedVersion failed: %v", err)
	}
	callsAfterFirst := client.callCount()

	second, err := svc.EmbedVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("Second EmbedVersion failed: %v", err)
	}
	if first != 2 || second != 2 {
		t.Fatalf("Expected stable chunk count 2, got %d then %d", first, second)
	}
	if client.callCount() != callsAfterFirst {
		t.Fatalf("Second run should not call the client, calls went %d -> %d", callsAfterFirst, client.callCount())
	}

	n, err := db.SpanStorage().CountChunksByVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("Failed to count chunks: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 chunks after rerun, got %d", n)
	}
}

func TestEmbedVersion_NewSpansExtendChunkSet(t *testing.T) {
	client := &fakeClient{}
	svc, db := setupService(t, client, testEmbedConfig())
	tenantID, docID, versionID := seedVersion(t, db)
	ctx := context.Background()

	seedSpan(t, db, tenantID, docID, versionID, "Original paragraph.", models.SpanTypeText, 0, 19)
	if _, err := svc.EmbedVersion(ctx, tenantID, versionID); err != nil {
		t.Fatalf("EmbedVersion failed: %v", err)
	}

	seedSpan(t, db, tenantID, docID, versionID, "Late-arriving paragraph.", models.SpanTypeText, 20, 44)
	count, err := svc.EmbedVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("EmbedVersion after new span failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 chunks total, got %d", count)
	}

	chunks, err := db.SpanStorage().ListChunksByVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Fatalf("Expected indexes 0,1 got %d,%d", chunks[0].ChunkIndex, chunks[1].ChunkIndex)
	}
}

func TestEmbedVersion_TenantScoped(t *testing.T) {
	client := &fakeClient{}
	svc, db := setupService(t, client, testEmbedConfig())
	_, _, versionID := seedVersion(t, db)
	ctx := context.Background()

	other := models.NewTenant("rival")
	if err := db.TenantStorage().CreateTenant(ctx, other); err != nil {
		t.Fatalf("Failed to create second tenant: %v", err)
	}

	if _, err := svc.EmbedVersion(ctx, other.ID, versionID); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound across tenants, got %v", err)
	}
}

func TestEmbedAll_EmptyStringsZeroVectors(t *testing.T) {
	client := &fakeClient{}
	svc, _ := setupService(t, client, testEmbedConfig())

	vectors, err := svc.embedAll(context.Background(), []string{"", "hello world", ""})
	if err != nil {
		t.Fatalf("embedAll failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("Expected 3 vectors, got %d", len(vectors))
	}
	for _, i := range []int{0, 2} {
		if len(vectors[i]) != testDims {
			t.Fatalf("Expected zero vector at dimension %d, got %d", testDims, len(vectors[i]))
		}
		for _, v := range vectors[i] {
			if v != 0 {
				t.Fatalf("Expected zero vector at index %d, got %v", i, vectors[i])
			}
		}
	}
	if !vectorsEqual(vectors[1], testVector("hello world")) {
		t.Fatalf("Non-empty input got wrong vector")
	}
	if client.callCount() != 1 || len(client.calls[0]) != 1 || client.calls[0][0] != "hello world" {
		t.Fatalf("Expected one client call with the single non-empty input, got %v", client.calls)
	}
}

func TestEmbedAll_OrderPreservedAcrossBatches(t *testing.T) {
	client := &fakeClient{}
	svc, _ := setupService(t, client, testEmbedConfig())

	texts := make([]string, 120)
	for i := range texts {
		texts[i] = fmt.Sprintf("evidence item %d", i)
	}

	vectors, err := svc.embedAll(context.Background(), texts)
	if err != nil {
		t.Fatalf("embedAll failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("Expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		if !vectorsEqual(vectors[i], testVector(text)) {
			t.Fatalf("Vector %d does not match its input", i)
		}
	}
	// 120 misses at batch size 50 means three requests.
	if client.callCount() != 3 {
		t.Fatalf("Expected 3 batched calls, got %d", client.callCount())
	}
}

func TestEmbedQuery_CacheServesRepeatQuery(t *testing.T) {
	config := testEmbedConfig()
	config.CachePath = t.TempDir()
	client := &fakeClient{}
	svc, _ := setupService(t, client, config)
	ctx := context.Background()

	first, err := svc.EmbedQuery(ctx, "what did the auditor conclude")
	if err != nil {
		t.Fatalf("First EmbedQuery failed: %v", err)
	}
	second, err := svc.EmbedQuery(ctx, "what did  the auditor conclude")
	if err != nil {
		t.Fatalf("Second EmbedQuery failed: %v", err)
	}

	if !vectorsEqual(first, second) {
		t.Fatalf("Expected identical vectors for whitespace-variant queries")
	}
	if client.callCount() != 1 {
		t.Fatalf("Expected cache to absorb the repeat query, got %d client calls", client.callCount())
	}
}

func TestEmbedWithRetry_RecoversFromRateLimit(t *testing.T) {
	fastBackoff(t)
	client := &fakeClient{
		failures: 2,
		failWith: apiError(http.StatusTooManyRequests, nil),
	}
	svc, _ := setupService(t, client, testEmbedConfig())

	vectors, err := svc.embedWithRetry(context.Background(), []string{"persistent"})
	if err != nil {
		t.Fatalf("Expected recovery after rate limits, got %v", err)
	}
	if len(vectors) != 1 || !vectorsEqual(vectors[0], testVector("persistent")) {
		t.Fatalf("Recovered call returned wrong vectors")
	}
	if client.callCount() != 3 {
		t.Fatalf("Expected 3 attempts, got %d", client.callCount())
	}
}

func TestEmbedWithRetry_FatalErrorStopsImmediately(t *testing.T) {
	fastBackoff(t)
	client := &fakeClient{
		failures: 1,
		failWith: apiError(http.StatusBadRequest, nil),
	}
	svc, _ := setupService(t, client, testEmbedConfig())

	if _, err := svc.embedWithRetry(context.Background(), []string{"bad"}); err == nil {
		t.Fatal("Expected error for non-retryable failure")
	}
	if client.callCount() != 1 {
		t.Fatalf("Expected a single attempt, got %d", client.callCount())
	}
}

func TestEmbedWithRetry_ExhaustsAttempts(t *testing.T) {
	fastBackoff(t)
	config := testEmbedConfig()
	config.MaxAttempts = 3
	client := &fakeClient{
		failures: 10,
		failWith: apiError(http.StatusServiceUnavailable, nil),
	}
	svc, _ := setupService(t, client, config)

	var apiErr *openai.Error
	_, err := svc.embedWithRetry(context.Background(), []string{"down"})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected wrapped API error, got %v", err)
	}
	if client.callCount() != 3 {
		t.Fatalf("Expected 3 attempts, got %d", client.callCount())
	}
}

func TestVectorCache_RoundTrip(t *testing.T) {
	logger := arbor.NewLogger()
	cache, err := NewVectorCache(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	key := cacheKey("test-embed", testDims, "some text")
	if _, ok := cache.Get(key); ok {
		t.Fatal("Expected miss before Put")
	}
	cache.Put(key, testVector("some text"))
	vec, ok := cache.Get(key)
	if !ok || !vectorsEqual(vec, testVector("some text")) {
		t.Fatalf("Expected cached vector after Put, got %v ok=%v", vec, ok)
	}

	if cacheKey("test-embed", testDims, "some text") == cacheKey("other-model", testDims, "some text") {
		t.Fatal("Cache keys must differ across models")
	}
	if cacheKey("test-embed", 8, "some text") == cacheKey("test-embed", 16, "some text") {
		t.Fatal("Cache keys must differ across dimensions")
	}
}

func TestVectorCache_NilSafe(t *testing.T) {
	var cache *VectorCache
	if _, ok := cache.Get("k"); ok {
		t.Fatal("Nil cache must report a miss")
	}
	cache.Put("k", []float32{1})
	if err := cache.Close(); err != nil {
		t.Fatalf("Nil cache Close should be a no-op, got %v", err)
	}
}

func TestNormalizeAndTruncate(t *testing.T) {
	if got := normalize("  a\tb\n\nc  "); got != "a b c" {
		t.Fatalf("Expected collapsed whitespace, got %q", got)
	}

	var tok tokenizer
	long := ""
	for i := 0; i < 3000; i++ {
		long += "word "
	}
	short := tok.truncate(long, 100)
	if len(short) >= len(long) {
		t.Fatalf("Expected truncation, got %d chars from %d", len(short), len(long))
	}
	if tok.truncate("tiny", 100) != "tiny" {
		t.Fatal("Short text must pass through unchanged")
	}
	if tok.truncate(long, 0) != long {
		t.Fatal("Zero limit must disable truncation")
	}
}
