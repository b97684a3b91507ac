package models

import (
	"time"
)

// SearchMode selects one of the five search strategies.
type SearchMode string

const (
	SearchModeSemantic  SearchMode = "semantic"
	SearchModeKeyword   SearchMode = "keyword"
	SearchModeHybrid    SearchMode = "hybrid"
	SearchModeTwoStage  SearchMode = "two_stage"
	SearchModeDiscovery SearchMode = "discovery"
)

// Search scoring defaults. The hybrid weights renormalize per query; the
// two-stage weights are fixed at 0.3 metadata / 0.7 semantic.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultSemanticWeight      = 0.7
	DefaultKeywordWeight       = 0.3
	DefaultMetadataWeight      = 0.3
	DefaultSearchLimit         = 10
)

// SearchFilters narrows candidates before scoring. All fields are optional;
// tenant scope is not a filter here because it is unconditional.
type SearchFilters struct {
	ProjectID     string   `json:"project_id,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	Sectors       []string `json:"sectors,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty"`
	Geographies   []string `json:"geographies,omitempty"`
	Companies     []string `json:"companies,omitempty"`
	SpanTypes     []string `json:"span_types,omitempty"`
	SpansOnly     bool     `json:"spans_only,omitempty"`
}

// Empty reports whether no metadata filter is set (scope fields excluded).
func (f SearchFilters) Empty() bool {
	return len(f.Sectors) == 0 && len(f.Topics) == 0 && len(f.DocumentTypes) == 0 &&
		len(f.Geographies) == 0 && len(f.Companies) == 0
}

// SearchRequest is the uniform query envelope for every mode.
type SearchRequest struct {
	Query           string        `json:"query"`
	Mode            SearchMode    `json:"mode"`
	Keywords        []string      `json:"keywords,omitempty"`
	ExcludeKeywords []string      `json:"exclude_keywords,omitempty"`
	Filters         SearchFilters `json:"filters,omitempty"`
	Limit           int           `json:"limit,omitempty"`

	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	SemanticWeight      float64 `json:"semantic_weight,omitempty"`
	KeywordWeight       float64 `json:"keyword_weight,omitempty"`
	MetadataWeight      float64 `json:"metadata_weight,omitempty"`
}

// ApplyDefaults fills unset knobs with the documented defaults.
func (r *SearchRequest) ApplyDefaults() {
	if r.Mode == "" {
		r.Mode = SearchModeSemantic
	}
	if r.Limit <= 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if r.SemanticWeight <= 0 {
		r.SemanticWeight = DefaultSemanticWeight
	}
	if r.KeywordWeight <= 0 {
		r.KeywordWeight = DefaultKeywordWeight
	}
	if r.MetadataWeight <= 0 {
		r.MetadataWeight = DefaultMetadataWeight
	}
}

// Citation resolves a result back to its source. Every search result carries
// one; raw vectors never appear in responses.
type Citation struct {
	SpanID            string   `json:"span_id,omitempty"`
	DocumentID        string   `json:"document_id"`
	DocumentVersionID string   `json:"document_version_id"`
	DocumentFilename  string   `json:"document_filename"`
	SpanType          SpanType `json:"span_type,omitempty"`
	Locator           *Locator `json:"locator,omitempty"`
	TextExcerpt       string   `json:"text_excerpt"`
}

// HighlightRange marks a keyword hit inside matched text.
type HighlightRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SearchResultItem is one scored hit.
type SearchResultItem struct {
	Similarity      float64                `json:"similarity"`
	Citation        Citation               `json:"citation"`
	MatchedText     string                 `json:"matched_text"`
	HighlightRanges []HighlightRange       `json:"highlight_ranges,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// ChunkCandidate pairs an embedded chunk with its span and document context
// for in-process scoring. Span is nil for version-level chunks.
type ChunkCandidate struct {
	Chunk    *EmbeddingChunk
	Span     *Span
	Document *Document
}

// SearchResult is the uniform response envelope for every mode.
type SearchResult struct {
	Query          string              `json:"query"`
	Mode           SearchMode          `json:"mode"`
	Results        []*SearchResultItem `json:"results"`
	Total          int                 `json:"total"`
	SearchTimeMS   int64               `json:"search_time_ms"`
	Timestamp      time.Time           `json:"timestamp"`
	FiltersApplied SearchFilters       `json:"filters_applied"`
}
