package spans

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// Service segments extracted content into citation spans. Generators are
// deterministic: the same artifact always yields the same span hashes, so
// rebuilding spans upserts instead of duplicating.
type Service struct {
	spans  interfaces.SpanStorage
	docs   interfaces.DocumentStorage
	config *common.ProcessingConfig
	logger arbor.ILogger
}

var _ interfaces.SpanService = (*Service)(nil)

func NewService(logger arbor.ILogger, config *common.ProcessingConfig, spans interfaces.SpanStorage, docs interfaces.DocumentStorage) *Service {
	return &Service{
		spans:  spans,
		docs:   docs,
		config: config,
		logger: logger,
	}
}

// BuildSpans generates spans for the version's content and upserts them.
func (s *Service) BuildSpans(ctx context.Context, tenantID, versionID string, content *models.ExtractedContent) (int, int, error) {
	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return 0, 0, err
	}

	generated, err := s.Generate(content)
	if err != nil {
		return 0, 0, err
	}
	if len(generated) == 0 {
		s.logger.Warn().Str("version_id", versionID).Msg("No spans generated")
		return 0, 0, nil
	}

	now := time.Now().UTC()
	rows := make([]*models.Span, len(generated))
	for i, data := range generated {
		rows[i] = &models.Span{
			ID:          common.NewSpanID(),
			TenantID:    tenantID,
			VersionID:   versionID,
			DocumentID:  version.DocumentID,
			Locator:     data.Locator,
			EndLocator:  data.EndLocator,
			TextContent: data.TextContent,
			SpanType:    data.SpanType,
			SpanHash:    data.SpanHash,
			Metadata:    data.Metadata,
			CreatedAt:   now,
		}
	}

	inserted, updated, err := s.spans.UpsertSpans(ctx, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to persist spans: %w", err)
	}

	s.logger.Info().
		Str("version_id", versionID).
		Int("inserted", inserted).
		Int("updated", updated).
		Msg("Spans built")
	return inserted, updated, nil
}

// Generate dispatches to the format's generator. HTML artifacts carry
// markdown text (the extractor converts), so they take the markdown path and
// get heading spans too.
func (s *Service) Generate(content *models.ExtractedContent) ([]models.SpanData, error) {
	if content == nil {
		return nil, fmt.Errorf("no content to segment")
	}

	switch content.Format {
	case models.FormatCSV:
		return s.tableSpans(content.Table)
	case models.FormatExcel:
		return s.sheetSpans(content.Sheets)
	case models.FormatImage:
		return s.figureSpan(content)
	case models.FormatMarkdown, models.FormatHTML:
		return s.markdownSpans(content)
	default:
		return s.proseSpans(content)
	}
}

func (s *Service) windowSizes() (target, max, overlap int) {
	target, max, overlap = s.config.ChunkTargetChars, s.config.ChunkMaxChars, s.config.ChunkOverlapChars
	if target <= 0 {
		target = 500
	}
	if max < target {
		max = target * 2
	}
	if overlap < 0 || overlap >= target {
		overlap = 100
	}
	return target, max, overlap
}

func (s *Service) rowRange() int {
	size := s.config.CSVRowsPerSpan
	min, max := s.config.CSVMinRowsPerSpan, s.config.CSVMaxRowsPerSpan
	if min <= 0 {
		min = 5
	}
	if max < min {
		max = 50
	}
	if size <= 0 {
		size = 25
	}
	if size < min {
		size = min
	}
	if size > max {
		size = max
	}
	return size
}
