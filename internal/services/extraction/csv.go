package extraction

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/probatio/probatio/internal/models"
)

// CSVExtractor parses delimited text into a table artifact. The delimiter is
// detected by sampling; files without a header row get generated column names.
type CSVExtractor struct{}

func NewCSVExtractor() *CSVExtractor {
	return &CSVExtractor{}
}

func (e *CSVExtractor) Name() string    { return "csv_extractor" }
func (e *CSVExtractor) Version() string { return "1.0.0" }

func (e *CSVExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatCSV}
}

func (e *CSVExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	text, _ := decodeText(data)
	text = normalizeNewlines(text)

	delimiter := detectDelimiter(text)
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no rows")
	}

	table := &models.TableData{Delimiter: delimiter}
	var warnings []string

	if looksLikeHeader(records) {
		table.Header = records[0]
		table.Rows = records[1:]
	} else {
		table.Header = generatedHeader(len(records[0]))
		table.Rows = records
		warnings = append(warnings, "no header row detected, generated column names")
	}

	return &models.ExtractedContent{
		Format:   models.FormatCSV,
		Table:    table,
		Warnings: warnings,
		Metadata: map[string]interface{}{
			"delimiter": string(delimiter),
			"row_count": len(table.Rows),
		},
	}, nil
}

// detectDelimiter counts candidate delimiters over the first few lines and
// picks the one that appears consistently across them.
func detectDelimiter(text string) rune {
	candidates := []rune{',', ';', '\t', '|'}
	lines := sampleLines(text, 10)
	if len(lines) == 0 {
		return ','
	}

	best := ','
	bestScore := -1
	for _, cand := range candidates {
		counts := make([]int, 0, len(lines))
		for _, line := range lines {
			counts = append(counts, strings.Count(line, string(cand)))
		}
		// A real delimiter shows up the same number of times on every line.
		first := counts[0]
		if first == 0 {
			continue
		}
		consistent := true
		for _, c := range counts[1:] {
			if c != first {
				consistent = false
				break
			}
		}
		score := first
		if consistent {
			score *= 10
		}
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

func sampleLines(text string, max int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) >= max {
			break
		}
	}
	return lines
}

// looksLikeHeader reports whether the first row reads as column names: no
// numeric cells while the data rows have at least one.
func looksLikeHeader(records [][]string) bool {
	if len(records) < 2 {
		return false
	}
	for _, cell := range records[0] {
		if isNumeric(cell) {
			return false
		}
	}
	for _, cell := range records[1] {
		if isNumeric(cell) {
			return true
		}
	}
	// All strings everywhere: treat the first row as a header when its cells
	// are non-empty and distinct.
	seen := make(map[string]bool, len(records[0]))
	for _, cell := range records[0] {
		trimmed := strings.TrimSpace(cell)
		if trimmed == "" || seen[trimmed] {
			return false
		}
		seen[trimmed] = true
	}
	return true
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case (r == '-' || r == '+') && i == 0:
		case r == '.' && !dot:
			dot = true
		case r == ',':
			// Thousands separator.
		default:
			return false
		}
	}
	return true
}

func generatedHeader(n int) []string {
	header := make([]string, n)
	for i := range header {
		header[i] = fmt.Sprintf("column_%d", i+1)
	}
	return header
}
