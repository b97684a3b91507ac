package spans

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/sqlite"
)

func testConfig() *common.ProcessingConfig {
	return &common.ProcessingConfig{
		ChunkTargetChars:  500,
		ChunkMaxChars:     1000,
		ChunkOverlapChars: 100,
		CSVRowsPerSpan:    25,
		CSVMinRowsPerSpan: 5,
		CSVMaxRowsPerSpan: 50,
	}
}

func setupService(t *testing.T) (*Service, interfaces.StorageManager) {
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

	svc := NewService(logger, testConfig(), db.SpanStorage(), db.DocumentStorage())
	return svc, db
}

func seedVersion(t *testing.T, db interfaces.StorageManager) (string, string) {
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

// sentences produces prose long enough to force multiple windows.
func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence number %d carries a modest amount of evidence. ", i)
		if i%8 == 7 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestTextWindows_SizesAndOverlap(t *testing.T) {
	svc, _ := setupService(t)

	content := &models.ExtractedContent{Format: models.FormatText, Text: sentences(200)}
	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(spans) < 5 {
		t.Fatalf("Expected multiple windows, got %d", len(spans))
	}

	prevStart := -1
	for i, span := range spans {
		loc := span.Locator
		if loc.Type != models.LocatorTypeText {
			t.Fatalf("Span %d has locator type %s", i, loc.Type)
		}
		size := loc.OffsetEnd - loc.OffsetStart
		if i < len(spans)-1 && (size < 500 || size > 1000) {
			t.Errorf("Span %d size %d outside 500..1000", i, size)
		}
		if loc.OffsetStart <= prevStart {
			t.Errorf("Span %d start %d does not advance past %d", i, loc.OffsetStart, prevStart)
		}
		prevStart = loc.OffsetStart
		if span.SpanType != models.SpanTypeText {
			t.Errorf("Span %d type %s, want TEXT", i, span.SpanType)
		}
		if len(span.SpanHash) != 64 {
			t.Errorf("Span %d hash length %d", i, len(span.SpanHash))
		}
	}
}

func TestTextWindows_PreferParagraphBreaks(t *testing.T) {
	svc, _ := setupService(t)

	// One paragraph boundary inside the break search range.
	para1 := strings.Repeat("alpha beta gamma delta. ", 26) // ~624 chars
	para2 := strings.Repeat("epsilon zeta eta theta. ", 40)
	content := &models.ExtractedContent{Format: models.FormatText, Text: para1 + "\n\n" + para2}

	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	first := spans[0]
	if !strings.HasSuffix(strings.TrimRight(first.TextContent, "\n"), ".") {
		t.Errorf("First window should end at the paragraph: %q", first.TextContent[len(first.TextContent)-20:])
	}
	if first.Locator.OffsetEnd != len(para1)+2 {
		t.Errorf("First window ends at %d, want paragraph boundary %d", first.Locator.OffsetEnd, len(para1)+2)
	}
}

func TestTextWindows_ShortTextSingleSpan(t *testing.T) {
	svc, _ := setupService(t)

	content := &models.ExtractedContent{Format: models.FormatText, Text: "A short note."}
	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].TextContent != "A short note." {
		t.Errorf("Unexpected span text: %q", spans[0].TextContent)
	}
	if spans[0].Locator.PageHint != 0 {
		t.Errorf("Unpaged text should have no page hint, got %d", spans[0].Locator.PageHint)
	}
}

func TestTextWindows_PageHints(t *testing.T) {
	svc, _ := setupService(t)

	page := strings.Repeat("evidence on this page. ", 30)
	text := page + "\f" + page + "\f" + page
	content := &models.ExtractedContent{Format: models.FormatText, Text: text}

	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if spans[0].Locator.PageHint != 1 {
		t.Errorf("First span page hint %d, want 1", spans[0].Locator.PageHint)
	}
	last := spans[len(spans)-1]
	if last.Locator.PageHint != 3 {
		t.Errorf("Last span page hint %d, want 3", last.Locator.PageHint)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	svc, _ := setupService(t)

	content := &models.ExtractedContent{Format: models.FormatText, Text: sentences(120)}
	first, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	second, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("Span counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SpanHash != second[i].SpanHash {
			t.Errorf("Span %d hash differs between runs", i)
		}
	}
}

func TestMarkdownHeadings(t *testing.T) {
	svc, _ := setupService(t)

	md := "# Quarterly Review\n\nRevenue grew.\n\n## Risks\n\nChurn is rising.\n"
	content := &models.ExtractedContent{Format: models.FormatMarkdown, Text: md}

	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var headings []models.SpanData
	for _, span := range spans {
		if span.SpanType == models.SpanTypeHeading {
			headings = append(headings, span)
		}
	}
	if len(headings) != 2 {
		t.Fatalf("Expected 2 heading spans, got %d", len(headings))
	}
	if headings[0].TextContent != "Quarterly Review" {
		t.Errorf("First heading text %q", headings[0].TextContent)
	}
	if headings[0].Metadata["level"] != 1 {
		t.Errorf("First heading level %v", headings[0].Metadata["level"])
	}
	if headings[1].TextContent != "Risks" || headings[1].Metadata["level"] != 2 {
		t.Errorf("Second heading %q level %v", headings[1].TextContent, headings[1].Metadata["level"])
	}

	// Offsets point into the source text.
	h := headings[0]
	if got := md[h.Locator.OffsetStart:h.Locator.OffsetEnd]; strings.TrimSpace(got) != "Quarterly Review" {
		t.Errorf("Heading offsets select %q", got)
	}

	// The body still windows into TEXT spans.
	hasText := false
	for _, span := range spans {
		if span.SpanType == models.SpanTypeText {
			hasText = true
		}
	}
	if !hasText {
		t.Error("Markdown should also produce TEXT spans")
	}
}

func TestCSVSpans_RowRanges(t *testing.T) {
	svc, _ := setupService(t)

	table := &models.TableData{
		Header:    []string{"company", "revenue"},
		Delimiter: ',',
	}
	for i := 0; i < 60; i++ {
		table.Rows = append(table.Rows, []string{fmt.Sprintf("co-%d", i), fmt.Sprintf("%d", i*100)})
	}
	content := &models.ExtractedContent{Format: models.FormatCSV, Table: table}

	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("Expected 3 row-range spans for 60 rows, got %d", len(spans))
	}

	expect := [][2]int{{0, 24}, {25, 49}, {50, 59}}
	for i, span := range spans {
		loc := span.Locator
		if loc.Type != models.LocatorTypeCSV {
			t.Fatalf("Span %d locator type %s", i, loc.Type)
		}
		if loc.RowStart != expect[i][0] || loc.RowEnd != expect[i][1] {
			t.Errorf("Span %d rows %d..%d, want %d..%d", i, loc.RowStart, loc.RowEnd, expect[i][0], expect[i][1])
		}
		if loc.ColStart != 0 || loc.ColEnd != 2 {
			t.Errorf("Span %d cols %d..%d, want 0..2", i, loc.ColStart, loc.ColEnd)
		}
		if span.SpanType != models.SpanTypeTable {
			t.Errorf("Span %d type %s, want TABLE", i, span.SpanType)
		}
	}

	// Pipe-table rendering with a header separator row.
	lines := strings.Split(spans[0].TextContent, "\n")
	if lines[0] != "| company | revenue |" {
		t.Errorf("Header line %q", lines[0])
	}
	if lines[1] != "| --- | --- |" {
		t.Errorf("Separator line %q", lines[1])
	}
	if lines[2] != "| co-0 | 0 |" {
		t.Errorf("First data line %q", lines[2])
	}
	if len(lines) != 27 {
		t.Errorf("Expected 27 lines (header+separator+25 rows), got %d", len(lines))
	}
}

func TestCSVSpans_EscapesPipes(t *testing.T) {
	svc, _ := setupService(t)

	table := &models.TableData{
		Header: []string{"name"},
		Rows:   [][]string{{"a|b"}},
	}
	spans, err := svc.Generate(&models.ExtractedContent{Format: models.FormatCSV, Table: table})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(spans[0].TextContent, `a\|b`) {
		t.Errorf("Pipe not escaped: %q", spans[0].TextContent)
	}
}

func TestExcelSpans_A1Ranges(t *testing.T) {
	svc, _ := setupService(t)

	sheet := models.SheetData{
		Name:      "Forecast",
		Index:     0,
		Header:    []string{"month", "revenue", "costs"},
		HeaderRow: 1,
	}
	for i := 0; i < 30; i++ {
		sheet.Rows = append(sheet.Rows, []string{fmt.Sprintf("m%d", i), "100", "50"})
	}
	content := &models.ExtractedContent{Format: models.FormatExcel, Sheets: []models.SheetData{sheet}}

	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans for 30 rows, got %d", len(spans))
	}

	if spans[0].Locator.Sheet != "Forecast" {
		t.Errorf("Sheet %q", spans[0].Locator.Sheet)
	}
	// Data starts on sheet row 2; 25 rows reach row 26.
	if spans[0].Locator.CellRange != "A2:C26" {
		t.Errorf("First range %q, want A2:C26", spans[0].Locator.CellRange)
	}
	if spans[1].Locator.CellRange != "A27:C31" {
		t.Errorf("Second range %q, want A27:C31", spans[1].Locator.CellRange)
	}
}

func TestExcelSpans_SkipsEmptySheets(t *testing.T) {
	svc, _ := setupService(t)

	content := &models.ExtractedContent{
		Format: models.FormatExcel,
		Sheets: []models.SheetData{
			{Name: "Empty", Index: 0},
			{Name: "Data", Index: 1, Header: []string{"a"}, HeaderRow: 1, Rows: [][]string{{"1"}}},
		},
	}
	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(spans) != 1 || spans[0].Locator.Sheet != "Data" {
		t.Fatalf("Expected 1 span from the Data sheet, got %+v", spans)
	}
}

func TestFigureSpan(t *testing.T) {
	svc, _ := setupService(t)

	content := &models.ExtractedContent{
		Format: models.FormatImage,
		Image:  &models.ImageInfo{Width: 800, Height: 600, Format: "png", OCRText: "Total: 42"},
		Metadata: map[string]interface{}{
			"filename": "chart.png",
		},
	}
	spans, err := svc.Generate(content)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("Expected exactly one figure span, got %d", len(spans))
	}
	span := spans[0]
	if span.SpanType != models.SpanTypeFigure {
		t.Errorf("Span type %s, want FIGURE", span.SpanType)
	}
	if span.Locator.Type != models.LocatorTypeImage || span.Locator.Filename != "chart.png" {
		t.Errorf("Locator %+v", span.Locator)
	}
	if !strings.Contains(span.TextContent, "800x600") || !strings.Contains(span.TextContent, "Total: 42") {
		t.Errorf("Figure text %q", span.TextContent)
	}
}

func TestBuildSpans_Idempotent(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	tenantID, versionID := seedVersion(t, db)

	content := &models.ExtractedContent{Format: models.FormatText, Text: sentences(120)}

	inserted, updated, err := svc.BuildSpans(ctx, tenantID, versionID, content)
	if err != nil {
		t.Fatalf("BuildSpans failed: %v", err)
	}
	if inserted == 0 || updated != 0 {
		t.Fatalf("First build: inserted=%d updated=%d", inserted, updated)
	}

	inserted2, updated2, err := svc.BuildSpans(ctx, tenantID, versionID, content)
	if err != nil {
		t.Fatalf("Second BuildSpans failed: %v", err)
	}
	if inserted2 != 0 || updated2 != inserted {
		t.Fatalf("Second build: inserted=%d updated=%d, want 0/%d", inserted2, updated2, inserted)
	}

	count, err := db.SpanStorage().CountSpansByVersion(ctx, tenantID, versionID)
	if err != nil {
		t.Fatalf("CountSpansByVersion failed: %v", err)
	}
	if count != inserted {
		t.Errorf("Span count %d, want %d", count, inserted)
	}
}
