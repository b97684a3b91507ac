package search

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/probatio/probatio/internal/models"
)

// cosine computes cosine similarity between two vectors. Mismatched or
// zero-norm vectors score 0 rather than erroring; an unembeddable query
// simply matches nothing.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenize splits a query into keywords, keeping quoted phrases intact.
func tokenize(query string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, ch := range strings.TrimSpace(query) {
		switch {
		case ch == '"':
			flush()
			inQuote = !inQuote
		case unicode.IsSpace(ch) && !inQuote:
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()
	return tokens
}

// keywordMatch is one chunk's keyword hit: total occurrence count plus the
// byte ranges of each occurrence for highlighting.
type keywordMatch struct {
	frequency  int
	highlights []models.HighlightRange
}

// matchKeywords applies AND semantics across keywords and NOT semantics
// across excluded keywords, case-insensitively. Returns nil when the text
// does not qualify.
func matchKeywords(text string, keywords, exclude []string) *keywordMatch {
	lower := strings.ToLower(text)
	for _, kw := range exclude {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return nil
		}
	}

	match := &keywordMatch{}
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if k == "" {
			continue
		}
		count := 0
		for from := 0; ; {
			i := strings.Index(lower[from:], k)
			if i < 0 {
				break
			}
			start := from + i
			match.highlights = append(match.highlights, models.HighlightRange{Start: start, End: start + len(k)})
			count++
			from = start + len(k)
		}
		if count == 0 {
			return nil
		}
		match.frequency += count
	}
	if match.frequency == 0 {
		return nil
	}

	sort.Slice(match.highlights, func(i, j int) bool {
		return match.highlights[i].Start < match.highlights[j].Start
	})
	return match
}

// keywordCoverage is the partial-match result hybrid fusion scores with:
// how many of the query terms appear at all, out of how many were asked.
type keywordCoverage struct {
	matched    int
	total      int
	highlights []models.HighlightRange
}

// fraction is the keyword component of a fused score.
func (c *keywordCoverage) fraction() float64 {
	if c == nil || c.total == 0 {
		return 0
	}
	return float64(c.matched) / float64(c.total)
}

// coverKeywords relaxes matchKeywords for hybrid fusion: OR semantics across
// keywords, reporting the fraction matched, while excluded keywords stay
// absolute. Returns nil only when an excluded keyword is present.
func coverKeywords(text string, keywords, exclude []string) *keywordCoverage {
	lower := strings.ToLower(text)
	for _, kw := range exclude {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return nil
		}
	}

	cov := &keywordCoverage{}
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if k == "" {
			continue
		}
		cov.total++
		found := false
		for from := 0; ; {
			i := strings.Index(lower[from:], k)
			if i < 0 {
				break
			}
			start := from + i
			cov.highlights = append(cov.highlights, models.HighlightRange{Start: start, End: start + len(k)})
			found = true
			from = start + len(k)
		}
		if found {
			cov.matched++
		}
	}

	sort.Slice(cov.highlights, func(i, j int) bool {
		return cov.highlights[i].Start < cov.highlights[j].Start
	})
	return cov
}

// renormalize rescales two weights to sum to 1.
func renormalize(a, b float64) (float64, float64) {
	total := a + b
	if total <= 0 {
		return 0.5, 0.5
	}
	return a / total, b / total
}

// metadataScore grades how fully a document matches the supplied metadata
// arrays: per supplied category, the fraction of wanted values the document
// carries, averaged over the supplied categories. With no metadata filters
// every document scores 1.
func metadataScore(doc *models.Document, filters models.SearchFilters) float64 {
	if doc == nil {
		doc = &models.Document{}
	}
	categories := 0
	total := 0.0

	overlap := func(wanted, have []string) {
		if len(wanted) == 0 {
			return
		}
		categories++
		if len(have) == 0 {
			return
		}
		set := make(map[string]bool, len(have))
		for _, v := range have {
			set[strings.ToLower(v)] = true
		}
		matched := 0
		for _, w := range wanted {
			if set[strings.ToLower(w)] {
				matched++
			}
		}
		total += float64(matched) / float64(len(wanted))
	}

	overlap(filters.Sectors, doc.Sectors)
	overlap(filters.Topics, doc.Topics)
	overlap(filters.Geographies, doc.Geographies)
	overlap(filters.Companies, doc.Companies)

	if len(filters.DocumentTypes) > 0 {
		categories++
		for _, t := range filters.DocumentTypes {
			if strings.EqualFold(t, string(doc.Classification)) {
				total++
				break
			}
		}
	}

	if categories == 0 {
		return 1
	}
	return total / float64(categories)
}
