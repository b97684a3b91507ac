package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SpanType classifies the content a span carries. Only text-bearing types
// (TEXT, HEADING, CITATION, FOOTNOTE) are embedded.
type SpanType string

const (
	SpanTypeText     SpanType = "TEXT"
	SpanTypeHeading  SpanType = "HEADING"
	SpanTypeCitation SpanType = "CITATION"
	SpanTypeFootnote SpanType = "FOOTNOTE"
	SpanTypeTable    SpanType = "TABLE"
	SpanTypeFigure   SpanType = "FIGURE"
	SpanTypeOther    SpanType = "OTHER"
)

// Embeddable reports whether spans of this type are sent to the embedder.
func (t SpanType) Embeddable() bool {
	switch t {
	case SpanTypeText, SpanTypeHeading, SpanTypeCitation, SpanTypeFootnote:
		return true
	}
	return false
}

// spanHashPrefixLen bounds the text prefix mixed into the span hash.
const spanHashPrefixLen = 1000

// Span is the atomic unit of citation: a locator-tagged slice of a version's
// content with a reproducible hash. (version_id, span_hash) is unique, so
// regenerating spans over the same artifact upserts instead of duplicating.
type Span struct {
	ID         string `json:"id"` // span_{uuid}
	TenantID   string `json:"tenant_id"`
	VersionID  string `json:"version_id"`
	DocumentID string `json:"document_id"`

	Locator    Locator  `json:"locator"`
	EndLocator *Locator `json:"end_locator,omitempty"`

	TextContent string                 `json:"text_content"`
	SpanType    SpanType               `json:"span_type"`
	SpanHash    string                 `json:"span_hash"` // 64 hex chars
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SpanData is a generator's output before persistence: everything a Span
// needs except identity and tenancy.
type SpanData struct {
	TextContent string                 `json:"text_content"`
	Locator     Locator                `json:"locator"`
	EndLocator  *Locator               `json:"end_locator,omitempty"`
	SpanType    SpanType               `json:"span_type"`
	SpanHash    string                 `json:"span_hash"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ComputeSpanHash derives the stable span identity:
// SHA-256(canonical_json(locator) || "|" || first 1000 chars of text), hex.
// The prefix cap keeps hashing cheap on large spans while still binding the
// hash to the content.
func ComputeSpanHash(locator Locator, text string) (string, error) {
	canonical, err := locator.CanonicalJSON()
	if err != nil {
		return "", err
	}
	prefix := text
	if len(prefix) > spanHashPrefixLen {
		prefix = prefix[:spanHashPrefixLen]
	}
	sum := sha256.Sum256([]byte(canonical + "|" + prefix))
	return hex.EncodeToString(sum[:]), nil
}

// EmbeddingChunk attaches a vector to a span or a free-text slice of a
// version. Every chunk back-references its source so search results always
// resolve to a citation.
type EmbeddingChunk struct {
	ID         string `json:"id"` // chk_{uuid}
	TenantID   string `json:"tenant_id"`
	VersionID  string `json:"version_id"`
	DocumentID string `json:"document_id"`
	SpanID     string `json:"span_id,omitempty"`

	ChunkIndex  int    `json:"chunk_index"`
	TextContent string `json:"text_content"`

	// Embedding is the raw vector. It never crosses the API boundary; search
	// responses carry similarities, not vectors.
	Embedding []float32 `json:"-"`

	CharStart int                    `json:"char_start"`
	CharEnd   int                    `json:"char_end"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
