package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/probatio/probatio/internal/models"
)

// ExcelExtractor reads xlsx workbooks sheet by sheet. A sheet that fails to
// parse becomes a warning; the extraction fails only when no sheet yields
// anything.
type ExcelExtractor struct{}

func NewExcelExtractor() *ExcelExtractor {
	return &ExcelExtractor{}
}

func (e *ExcelExtractor) Name() string    { return "excel_extractor" }
func (e *ExcelExtractor) Version() string { return "1.0.0" }

func (e *ExcelExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatExcel}
}

func (e *ExcelExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer wb.Close()

	var sheets []models.SheetData
	var warnings []string

	for idx, name := range wb.GetSheetList() {
		rows, err := wb.GetRows(name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q unreadable: %v", name, err))
			continue
		}

		sheet := models.SheetData{Name: name, Index: idx}
		for rowNum, row := range rows {
			if emptyRow(row) {
				continue
			}
			if sheet.Header == nil {
				sheet.Header = row
				sheet.HeaderRow = rowNum + 1
				continue
			}
			sheet.Rows = append(sheet.Rows, row)
		}
		if sheet.Header == nil {
			// Entirely empty sheet.
			continue
		}
		sheets = append(sheets, sheet)
	}

	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no readable sheets")
	}

	return &models.ExtractedContent{
		Format:   models.FormatExcel,
		Sheets:   sheets,
		Warnings: warnings,
		Metadata: map[string]interface{}{"sheet_count": len(sheets)},
	}, nil
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
