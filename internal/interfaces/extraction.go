package interfaces

import (
	"context"

	"github.com/probatio/probatio/internal/models"
)

// Extractor turns one source format's raw bytes into normalized content.
// Implementations are stateless and safe for concurrent use.
type Extractor interface {
	// Name identifies the extractor in run records, e.g. "pdf_local".
	Name() string
	// Version is recorded on each run so artifact provenance is exact.
	Version() string
	// Formats lists the source formats this extractor accepts.
	Formats() []models.SourceFormat
	// Extract parses the payload. Recoverable oddities go into
	// ExtractedContent.Warnings; an error means nothing usable was produced.
	Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error)
}

// ExtractionService routes version payloads to the right extractor and
// records extraction runs.
type ExtractionService interface {
	// ExtractVersion downloads the version's blob, extracts it, persists the
	// extracted text onto the version row, and records a run.
	ExtractVersion(ctx context.Context, tenantID, versionID string) (*models.ExtractedContent, error)
	// LoadArtifact fetches the structured content a prior run stored, so
	// later stages can resume without re-parsing the original bytes.
	LoadArtifact(ctx context.Context, artifactPath string) (*models.ExtractedContent, error)
	// ExtractorFor returns the registered extractor for a format.
	ExtractorFor(format models.SourceFormat) (Extractor, bool)
}

// SpanService builds citation spans from extracted content.
type SpanService interface {
	// BuildSpans segments the extracted content into spans and upserts them
	// for the version. Returns (inserted, updated).
	BuildSpans(ctx context.Context, tenantID, versionID string, content *models.ExtractedContent) (int, int, error)
	// Generate returns the span candidates without persisting, for tests and
	// previews.
	Generate(content *models.ExtractedContent) ([]models.SpanData, error)
}
