package spans

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/probatio/probatio/internal/models"
)

// proseSpans slides a window over the flattened text. Windows land between
// the target and max sizes, breaking at the best boundary available:
// paragraph, then sentence, then word, then a hard cut. Offsets index into
// the canonical flattened text, which is what the version row stores.
func (s *Service) proseSpans(content *models.ExtractedContent) ([]models.SpanData, error) {
	canonical, pageBreaks := canonicalText(content)
	return s.windowSpans(canonical, pageBreaks)
}

// markdownSpans adds HEADING spans from the goldmark AST on top of the
// regular text windows. Heading offsets point at the heading's own text so
// citations resolve to the line a reader sees.
func (s *Service) markdownSpans(content *models.ExtractedContent) ([]models.SpanData, error) {
	canonical, pageBreaks := canonicalText(content)

	spans, err := headingSpans(canonical, pageBreaks)
	if err != nil {
		return nil, err
	}
	windows, err := s.windowSpans(canonical, pageBreaks)
	if err != nil {
		return nil, err
	}
	return append(spans, windows...), nil
}

func (s *Service) windowSpans(canonical string, pageBreaks []int) ([]models.SpanData, error) {
	target, max, overlap := s.windowSizes()

	var spans []models.SpanData
	for _, w := range splitWindows(canonical, target, max, overlap) {
		slice := canonical[w[0]:w[1]]
		if strings.TrimSpace(slice) == "" {
			continue
		}
		locator := models.TextLocator(w[0], w[1], pageForOffset(pageBreaks, w[0]))
		hash, err := models.ComputeSpanHash(locator, slice)
		if err != nil {
			return nil, err
		}
		spans = append(spans, models.SpanData{
			TextContent: slice,
			Locator:     locator,
			SpanType:    models.SpanTypeText,
			SpanHash:    hash,
		})
	}
	return spans, nil
}

// canonicalText flattens the content and resolves page-break offsets. Form
// feeds become newlines after their offsets are recorded, so locator offsets
// stay valid against the stored text.
func canonicalText(content *models.ExtractedContent) (string, []int) {
	flat := content.PlainText()

	breaks := content.PageBreaks()
	if len(breaks) == 0 && strings.ContainsRune(flat, '\f') {
		for i, r := range flat {
			if r == '\f' {
				breaks = append(breaks, i)
			}
		}
	}
	return strings.ReplaceAll(flat, "\f", "\n"), breaks
}

// splitWindows returns [start, end) pairs covering text. Successive windows
// overlap by the configured amount but never share a start offset.
func splitWindows(text string, target, max, overlap int) [][2]int {
	if len(text) == 0 {
		return nil
	}

	var out [][2]int
	pos := 0
	for pos < len(text) {
		if len(text)-pos <= max {
			out = append(out, [2]int{pos, len(text)})
			break
		}
		end := bestBreak(text, pos+target, pos+max)
		out = append(out, [2]int{pos, end})

		next := end - overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}
	return out
}

// bestBreak picks the break offset in (lo, hi]: the last paragraph boundary,
// else the last sentence end, else the last space, else hi itself adjusted
// to a rune boundary.
func bestBreak(text string, lo, hi int) int {
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return lo + i + 2
	}

	for i := len(window) - 2; i >= 0; i-- {
		c := window[i]
		if (c == '.' || c == '!' || c == '?') && isSpaceByte(window[i+1]) {
			return lo + i + 1
		}
	}

	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return lo + i + 1
	}

	for hi > lo && !utf8.RuneStart(text[hi-1]) {
		hi--
	}
	return hi
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

// pageForOffset maps a text offset to a 1-based page hint using recorded
// page-break offsets. Returns 0 (no hint) when the document has no pages.
func pageForOffset(pageBreaks []int, offset int) int {
	if len(pageBreaks) == 0 {
		return 0
	}
	return 1 + sort.SearchInts(pageBreaks, offset)
}

// headingSpans walks the markdown AST and emits one HEADING span per
// heading, with offsets covering the heading text in the source.
func headingSpans(source string, pageBreaks []int) ([]models.SpanData, error) {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var spans []models.SpanData
	walkErr := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		lines := heading.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}

		start := lines.At(0).Start
		stop := lines.At(lines.Len() - 1).Stop
		content := strings.TrimSpace(string(src[start:stop]))
		if content == "" {
			return ast.WalkContinue, nil
		}

		locator := models.TextLocator(start, stop, pageForOffset(pageBreaks, start))
		hash, err := models.ComputeSpanHash(locator, content)
		if err != nil {
			return ast.WalkStop, err
		}
		spans = append(spans, models.SpanData{
			TextContent: content,
			Locator:     locator,
			SpanType:    models.SpanTypeHeading,
			SpanHash:    hash,
			Metadata:    map[string]interface{}{"level": heading.Level},
		})
		return ast.WalkContinue, nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return spans, nil
}
