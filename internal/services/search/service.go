package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// excerptBytes caps citation text excerpts.
const excerptBytes = 240

// Service answers all five search modes over a tenant's embedded corpus.
// Candidates are loaded through one filtered query and scored in process;
// sqlite carries no vector index, so cosine ranking happens here.
type Service struct {
	spans    interfaces.SpanStorage
	embedder interfaces.EmbeddingService
	logger   arbor.ILogger
	config   *common.SearchConfig
}

var _ interfaces.SearchService = (*Service)(nil)

// NewService creates the search engine.
func NewService(logger arbor.ILogger, config *common.SearchConfig, spans interfaces.SpanStorage, embedder interfaces.EmbeddingService) *Service {
	return &Service{
		spans:    spans,
		embedder: embedder,
		logger:   logger,
		config:   config,
	}
}

// Search dispatches the request to its mode. Tenant scope applies
// unconditionally through the candidate query; raw vectors never appear in
// the response.
func (s *Service) Search(ctx context.Context, tenantID string, req *models.SearchRequest) (*models.SearchResult, error) {
	started := time.Now()
	s.applyConfigDefaults(req)
	req.ApplyDefaults()
	if s.config != nil && s.config.MaxLimit > 0 && req.Limit > s.config.MaxLimit {
		req.Limit = s.config.MaxLimit
	}

	switch req.Mode {
	case models.SearchModeSemantic, models.SearchModeKeyword, models.SearchModeHybrid,
		models.SearchModeTwoStage, models.SearchModeDiscovery:
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}

	candidates, err := s.spans.ListCandidates(ctx, tenantID, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load search candidates: %w", err)
	}

	var items []*models.SearchResultItem
	switch req.Mode {
	case models.SearchModeSemantic:
		items, err = s.semantic(ctx, req, candidates)
	case models.SearchModeKeyword:
		items = s.keyword(req, candidates)
	case models.SearchModeHybrid:
		items, err = s.hybrid(ctx, req, candidates)
	case models.SearchModeTwoStage:
		items, err = s.twoStage(ctx, req, candidates)
	case models.SearchModeDiscovery:
		items, err = s.discovery(ctx, req, candidates)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("mode", string(req.Mode)).
		Str("query", req.Query).
		Int("candidates", len(candidates)).
		Int("results", len(items)).
		Dur("duration", time.Since(started)).
		Msg("Search completed")

	return &models.SearchResult{
		Query:          req.Query,
		Mode:           req.Mode,
		Results:        items,
		Total:          len(items),
		SearchTimeMS:   time.Since(started).Milliseconds(),
		Timestamp:      time.Now().UTC(),
		FiltersApplied: req.Filters,
	}, nil
}

// applyConfigDefaults fills unset request knobs from configuration before
// the model-level defaults apply.
func (s *Service) applyConfigDefaults(req *models.SearchRequest) {
	if s.config == nil {
		return
	}
	if req.Limit <= 0 && s.config.DefaultLimit > 0 {
		req.Limit = s.config.DefaultLimit
	}
	if req.SimilarityThreshold <= 0 && s.config.SimilarityThreshold > 0 {
		req.SimilarityThreshold = s.config.SimilarityThreshold
	}
	if req.SemanticWeight <= 0 && s.config.SemanticWeight > 0 {
		req.SemanticWeight = s.config.SemanticWeight
	}
	if req.KeywordWeight <= 0 && s.config.KeywordWeight > 0 {
		req.KeywordWeight = s.config.KeywordWeight
	}
	if req.MetadataWeight <= 0 && s.config.MetadataWeight > 0 {
		req.MetadataWeight = s.config.MetadataWeight
	}
}

// hit is a scored candidate awaiting ranking.
type hit struct {
	candidate  *models.ChunkCandidate
	score      float64
	highlights []models.HighlightRange
}

// rank orders hits by score descending with chunk id as the deterministic
// tie-break, then truncates to limit.
func rank(hits []hit, limit int) []hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].candidate.Chunk.ID < hits[j].candidate.Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// semantic embeds the query and returns candidates above the similarity
// threshold, best first.
func (s *Service) semantic(ctx context.Context, req *models.SearchRequest, candidates []*models.ChunkCandidate) ([]*models.SearchResultItem, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var hits []hit
	for _, candidate := range candidates {
		sim := cosine(queryVec, candidate.Chunk.Embedding)
		if sim < req.SimilarityThreshold {
			continue
		}
		hits = append(hits, hit{candidate: candidate, score: sim})
	}
	return buildItems(rank(hits, req.Limit)), nil
}

// keyword matches chunk text with AND semantics over keywords and NOT
// semantics over excluded keywords, scoring by occurrence frequency
// normalized against the best hit.
func (s *Service) keyword(req *models.SearchRequest, candidates []*models.ChunkCandidate) []*models.SearchResultItem {
	keywords := req.Keywords
	if len(keywords) == 0 {
		keywords = tokenize(req.Query)
	}
	if len(keywords) == 0 {
		return nil
	}

	var hits []hit
	maxFreq := 0
	for _, candidate := range candidates {
		match := matchKeywords(candidate.Chunk.TextContent, keywords, req.ExcludeKeywords)
		if match == nil {
			continue
		}
		if match.frequency > maxFreq {
			maxFreq = match.frequency
		}
		hits = append(hits, hit{candidate: candidate, score: float64(match.frequency), highlights: match.highlights})
	}
	for i := range hits {
		hits[i].score /= float64(maxFreq)
	}
	return buildItems(rank(hits, req.Limit))
}

// hybrid combines semantic and keyword scores over the union of both
// candidate sets. The keyword component is the fraction of query terms the
// chunk contains, so a 2-of-3 match contributes 0.67 rather than dropping
// to 0. Weights renormalize per query; excluded keywords drop a chunk from
// both sides.
func (s *Service) hybrid(ctx context.Context, req *models.SearchRequest, candidates []*models.ChunkCandidate) ([]*models.SearchResultItem, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	keywords := req.Keywords
	if len(keywords) == 0 {
		keywords = tokenize(req.Query)
	}
	alpha, beta := renormalize(req.SemanticWeight, req.KeywordWeight)

	var hits []hit
	for _, candidate := range candidates {
		cov := coverKeywords(candidate.Chunk.TextContent, keywords, req.ExcludeKeywords)
		if cov == nil {
			continue
		}
		sem := cosine(queryVec, candidate.Chunk.Embedding)
		if sem < req.SimilarityThreshold && cov.matched == 0 {
			continue
		}
		hits = append(hits, hit{
			candidate:  candidate,
			score:      alpha*sem + beta*cov.fraction(),
			highlights: cov.highlights,
		})
	}
	return buildItems(rank(hits, req.Limit)), nil
}

// twoStage ranks the metadata-filtered candidate set by a weighted blend of
// metadata match breadth and semantic similarity. Stage one already ran in
// the candidate query; no similarity threshold applies to stage two, which
// ranks rather than gates.
func (s *Service) twoStage(ctx context.Context, req *models.SearchRequest, candidates []*models.ChunkCandidate) ([]*models.SearchResultItem, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	mw, sw := renormalize(req.MetadataWeight, req.SemanticWeight)

	hits := make([]hit, 0, len(candidates))
	for _, candidate := range candidates {
		meta := metadataScore(candidate.Document, req.Filters)
		sem := cosine(queryVec, candidate.Chunk.Embedding)
		hits = append(hits, hit{candidate: candidate, score: mw*meta + sw*sem})
	}
	return buildItems(rank(hits, req.Limit)), nil
}

// discovery returns one result per document: the first span in document
// order that clears the similarity threshold. Coverage across documents
// beats depth within one.
func (s *Service) discovery(ctx context.Context, req *models.SearchRequest, candidates []*models.ChunkCandidate) ([]*models.SearchResultItem, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	ordered := append([]*models.ChunkCandidate(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].Chunk, ordered[j].Chunk
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ChunkIndex < b.ChunkIndex
	})

	claimed := make(map[string]bool)
	var hits []hit
	for _, candidate := range ordered {
		if claimed[candidate.Chunk.DocumentID] {
			continue
		}
		sim := cosine(queryVec, candidate.Chunk.Embedding)
		if sim < req.SimilarityThreshold {
			continue
		}
		claimed[candidate.Chunk.DocumentID] = true
		hits = append(hits, hit{candidate: candidate, score: sim})
	}
	return buildItems(rank(hits, req.Limit)), nil
}

func buildItems(hits []hit) []*models.SearchResultItem {
	items := make([]*models.SearchResultItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, buildItem(h.candidate, h.score, h.highlights))
	}
	return items
}

// buildItem shapes one hit into the response form. The citation always
// resolves document and version; span fields stay empty for version-level
// chunks.
func buildItem(candidate *models.ChunkCandidate, similarity float64, highlights []models.HighlightRange) *models.SearchResultItem {
	chunk := candidate.Chunk
	citation := models.Citation{
		SpanID:            chunk.SpanID,
		DocumentID:        chunk.DocumentID,
		DocumentVersionID: chunk.VersionID,
		TextExcerpt:       excerpt(chunk.TextContent),
	}
	if candidate.Document != nil {
		citation.DocumentFilename = candidate.Document.Filename
	}
	if candidate.Span != nil {
		citation.SpanType = candidate.Span.SpanType
		locator := candidate.Span.Locator
		citation.Locator = &locator
	}

	item := &models.SearchResultItem{
		Similarity:      similarity,
		Citation:        citation,
		MatchedText:     chunk.TextContent,
		HighlightRanges: highlights,
	}
	if candidate.Document != nil {
		metadata := map[string]interface{}{
			"classification": string(candidate.Document.Classification),
		}
		if len(candidate.Document.Sectors) > 0 {
			metadata["sectors"] = candidate.Document.Sectors
		}
		if len(candidate.Document.Topics) > 0 {
			metadata["topics"] = candidate.Document.Topics
		}
		if len(candidate.Document.Geographies) > 0 {
			metadata["geographies"] = candidate.Document.Geographies
		}
		if len(candidate.Document.Companies) > 0 {
			metadata["companies"] = candidate.Document.Companies
		}
		item.Metadata = metadata
	}
	return item
}

func excerpt(text string) string {
	if len(text) <= excerptBytes {
		return text
	}
	return strings.ToValidUTF8(text[:excerptBytes], "")
}
