package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/models"
)

// PDFLocalExtractor extracts PDF text with pdfcpu, fully in-process. pdfcpu
// yields raw page content streams; text is scraped from the text-showing
// operators. Scanned PDFs produce empty pages plus a warning rather than an
// error so the document still flows through the pipeline.
type PDFLocalExtractor struct {
	tempDir string
	logger  arbor.ILogger
}

func NewPDFLocalExtractor(logger arbor.ILogger) *PDFLocalExtractor {
	tempDir := filepath.Join(os.TempDir(), "probatio-pdf")
	os.MkdirAll(tempDir, 0o755)
	return &PDFLocalExtractor{tempDir: tempDir, logger: logger}
}

func (e *PDFLocalExtractor) Name() string    { return "pdf_local" }
func (e *PDFLocalExtractor) Version() string { return "1.0.0" }

func (e *PDFLocalExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatPDF}
}

func (e *PDFLocalExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("extract_%d_%d.pdf", os.Getpid(), len(data)))
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount
	if pageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	content := &models.ExtractedContent{
		Format: models.FormatPDF,
		Metadata: map[string]interface{}{
			"page_count": pageCount,
			"encrypted":  pdfCtx.Encrypt != nil,
		},
	}

	outDir := filepath.Join(e.tempDir, fmt.Sprintf("pages_%d_%d", os.Getpid(), len(data)))
	os.MkdirAll(outDir, 0o755)
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		e.logger.Warn().Err(err).Str("filename", filename).Msg("PDF content extraction failed")
		content.Warnings = append(content.Warnings, fmt.Sprintf("content extraction failed: %v", err))
		for n := 1; n <= pageCount; n++ {
			content.Pages = append(content.Pages, models.PageText{Number: n})
		}
		return content, nil
	}

	pageStreams := make(map[int]string)
	entries, _ := os.ReadDir(outDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		pageStreams[pageNum] = string(raw)
	}

	empty := 0
	for n := 1; n <= pageCount; n++ {
		text := textFromContentStream(pageStreams[n])
		if text == "" {
			empty++
		}
		content.Pages = append(content.Pages, models.PageText{Number: n, Text: text})
	}
	if empty == pageCount {
		content.Warnings = append(content.Warnings, "no text layer found, pdf is likely scanned")
	} else if empty > 0 {
		content.Warnings = append(content.Warnings, fmt.Sprintf("%d of %d pages had no text layer", empty, pageCount))
	}

	return content, nil
}

// textFromContentStream pulls the arguments of text-showing operators (Tj,
// TJ, ', ") out of a decoded content stream. Positioning operators become
// newlines so paragraph structure roughly survives.
func textFromContentStream(stream string) string {
	var out strings.Builder
	var pending []string

	flush := func(sep string) {
		if len(pending) == 0 {
			return
		}
		out.WriteString(strings.Join(pending, ""))
		out.WriteString(sep)
		pending = pending[:0]
	}

	i := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '(':
			literal, next := readPDFString(stream, i)
			pending = append(pending, literal)
			i = next
		case c == 'T' && i+1 < len(stream):
			op := stream[i : i+2]
			switch op {
			case "Tj", "TJ":
				flush(" ")
				i += 2
			case "Td", "TD", "T*":
				flush("\n")
				i += 2
			default:
				i++
			}
		case c == '\'' || c == '"':
			flush("\n")
			i++
		case c == '%':
			// Comment runs to end of line.
			for i < len(stream) && stream[i] != '\n' {
				i++
			}
		default:
			i++
		}
	}
	flush("")

	text := strings.TrimSpace(out.String())
	// Collapse runs of blank lines left by positioning-only text objects.
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}

// readPDFString reads a parenthesized string literal starting at stream[start]
// and returns the unescaped text plus the index after the closing paren.
func readPDFString(stream string, start int) (string, int) {
	var b strings.Builder
	depth := 1
	i := start + 1
	for i < len(stream) && depth > 0 {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 < len(stream) {
				next := stream[i+1]
				switch next {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				case 'r', 'f', 'b':
					b.WriteByte(' ')
				case '(', ')', '\\':
					b.WriteByte(next)
				default:
					// Octal escape \ddd.
					if next >= '0' && next <= '7' {
						val, consumed := readOctal(stream, i+1)
						if val >= 32 && val < 127 {
							b.WriteByte(byte(val))
						}
						i += consumed - 1
					}
				}
				i += 2
				continue
			}
			i++
		case '(':
			depth++
			b.WriteByte(c)
			i++
		case ')':
			depth--
			if depth > 0 {
				b.WriteByte(c)
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

func readOctal(stream string, start int) (int, int) {
	val := 0
	n := 0
	for n < 3 && start+n < len(stream) {
		c := stream[start+n]
		if c < '0' || c > '7' {
			break
		}
		val = val*8 + int(c-'0')
		n++
	}
	return val, n
}
