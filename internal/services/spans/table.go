package spans

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/probatio/probatio/internal/models"
)

// tableSpans partitions CSV rows into contiguous row-range spans. Row
// indices are 0-based over data rows; row_end is inclusive; col_end carries
// the column count. Rendered text reconstructs a pipe table so the span is
// readable on its own.
func (s *Service) tableSpans(table *models.TableData) ([]models.SpanData, error) {
	if table == nil || len(table.Rows) == 0 {
		return nil, nil
	}

	size := s.rowRange()
	totalCols := tableWidth(table.Header, table.Rows)

	var spans []models.SpanData
	for start := 0; start < len(table.Rows); start += size {
		end := start + size
		if end > len(table.Rows) {
			end = len(table.Rows)
		}

		rendered := renderPipeTable(table.Header, table.Rows[start:end])
		locator := models.CSVLocator(start, end-1, 0, totalCols, 0)
		hash, err := models.ComputeSpanHash(locator, rendered)
		if err != nil {
			return nil, err
		}
		spans = append(spans, models.SpanData{
			TextContent: rendered,
			Locator:     locator,
			SpanType:    models.SpanTypeTable,
			SpanHash:    hash,
			Metadata:    map[string]interface{}{"row_count": end - start},
		})
	}
	return spans, nil
}

// sheetSpans emits one chain of row-range spans per non-empty worksheet.
// Ranges use A1 notation; data row i sits at sheet row header_row + 1 + i,
// which is i+2 for the usual header-on-row-1 layout.
func (s *Service) sheetSpans(sheets []models.SheetData) ([]models.SpanData, error) {
	size := s.rowRange()

	var spans []models.SpanData
	for _, sheet := range sheets {
		if len(sheet.Rows) == 0 {
			continue
		}
		cols := tableWidth(sheet.Header, sheet.Rows)
		headerRow := sheet.HeaderRow
		if headerRow < 1 {
			headerRow = 1
		}

		for start := 0; start < len(sheet.Rows); start += size {
			end := start + size
			if end > len(sheet.Rows) {
				end = len(sheet.Rows)
			}

			topLeft, err := excelize.CoordinatesToCellName(1, headerRow+1+start)
			if err != nil {
				return nil, fmt.Errorf("sheet %s: %w", sheet.Name, err)
			}
			bottomRight, err := excelize.CoordinatesToCellName(cols, headerRow+end)
			if err != nil {
				return nil, fmt.Errorf("sheet %s: %w", sheet.Name, err)
			}

			rendered := renderPipeTable(sheet.Header, sheet.Rows[start:end])
			locator := models.ExcelLocator(sheet.Name, topLeft+":"+bottomRight)
			hash, err := models.ComputeSpanHash(locator, rendered)
			if err != nil {
				return nil, err
			}
			spans = append(spans, models.SpanData{
				TextContent: rendered,
				Locator:     locator,
				SpanType:    models.SpanTypeTable,
				SpanHash:    hash,
				Metadata: map[string]interface{}{
					"sheet_index": sheet.Index,
					"row_count":   end - start,
				},
			})
		}
	}
	return spans, nil
}

// figureSpan emits the single FIGURE span for an image artifact.
func (s *Service) figureSpan(content *models.ExtractedContent) ([]models.SpanData, error) {
	img := content.Image
	if img == nil {
		return nil, nil
	}

	filename, _ := content.Metadata["filename"].(string)
	if filename == "" {
		filename = "image"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Figure: %s (%dx%d %s)", filename, img.Width, img.Height, img.Format)
	if img.OCRText != "" {
		b.WriteByte('\n')
		b.WriteString(img.OCRText)
	}
	text := b.String()

	locator := models.ImageLocator(filename, 0, img.Width, img.Height, 0)
	hash, err := models.ComputeSpanHash(locator, text)
	if err != nil {
		return nil, err
	}
	return []models.SpanData{{
		TextContent: text,
		Locator:     locator,
		SpanType:    models.SpanTypeFigure,
		SpanHash:    hash,
		Metadata:    map[string]interface{}{"format": img.Format},
	}}, nil
}

func tableWidth(header []string, rows [][]string) int {
	width := len(header)
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width < 1 {
		width = 1
	}
	return width
}

// renderPipeTable renders header and rows as a markdown pipe table. Cells
// containing pipes or newlines are escaped so the table stays parseable.
func renderPipeTable(header []string, rows [][]string) string {
	var b strings.Builder
	if len(header) > 0 {
		writePipeRow(&b, header)
		b.WriteByte('|')
		for range header {
			b.WriteString(" --- |")
		}
		b.WriteByte('\n')
	}
	for _, row := range rows {
		writePipeRow(&b, row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writePipeRow(b *strings.Builder, cells []string) {
	b.WriteByte('|')
	for _, cell := range cells {
		cell = strings.ReplaceAll(cell, "|", "\\|")
		cell = strings.ReplaceAll(cell, "\n", " ")
		b.WriteByte(' ')
		b.WriteString(cell)
		b.WriteString(" |")
	}
	b.WriteByte('\n')
}
