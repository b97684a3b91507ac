package extraction

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/probatio/probatio/internal/models"
)

// TextExtractor handles plain text and markdown. Markdown is not rendered
// here; the span generator walks its structure later.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Name() string    { return "text_extractor" }
func (e *TextExtractor) Version() string { return "1.0.0" }

func (e *TextExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatText, models.FormatMarkdown}
}

func (e *TextExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	text, encoding := decodeText(data)

	content := &models.ExtractedContent{
		Format:   models.FormatForFilename(filename),
		Text:     normalizeNewlines(text),
		Metadata: map[string]interface{}{"encoding": encoding},
	}

	// Form feeds are page separators in plain text exports. Record break
	// offsets so span page hints line up with the original pagination.
	if breaks := formFeedOffsets(content.Text); len(breaks) > 0 {
		content.Metadata["page_breaks"] = breaks
		content.Text = strings.ReplaceAll(content.Text, "\f", "\n")
	}

	if !utf8.ValidString(content.Text) {
		content.Text = strings.ToValidUTF8(content.Text, "�")
		content.Warnings = append(content.Warnings, "input contained invalid UTF-8 sequences, replaced")
	}

	return content, nil
}

// decodeText detects the encoding from BOMs first, then falls back through
// UTF-8 and Latin-1. The second return names the detected encoding.
func decodeText(data []byte) (string, string) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), "utf-8-bom"
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return decodeUTF16(data[2:], false), "utf-16le"
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return decodeUTF16(data[2:], true), "utf-16be"
	}

	if utf8.Valid(data) {
		return string(data), "utf-8"
	}

	// Latin-1 maps every byte to the same code point, so it always decodes.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), "latin-1"
}

func decodeUTF16(data []byte, bigEndian bool) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		if bigEndian {
			units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
		} else {
			units = append(units, uint16(data[i+1])<<8|uint16(data[i]))
		}
	}
	return string(utf16.Decode(units))
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func formFeedOffsets(s string) []int {
	var offsets []int
	for i, r := range s {
		if r == '\f' {
			offsets = append(offsets, i)
		}
	}
	return offsets
}
