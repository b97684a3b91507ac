package models

import (
	"encoding/json"
	"fmt"
)

// LocatorType discriminates the locator union.
type LocatorType string

const (
	LocatorTypeText  LocatorType = "text"
	LocatorTypeCSV   LocatorType = "csv"
	LocatorTypeExcel LocatorType = "excel"
	LocatorTypeImage LocatorType = "image"
)

// Locator pinpoints a span within its source document. It is a tagged union
// discriminated by Type; only the fields belonging to the active variant are
// populated. Stored as canonical JSON so span hashes stay reproducible.
//
// Variants:
//
//	text:  offset_start, offset_end, page_hint?
//	csv:   row_start, row_end, col_start, col_end, table_index?
//	excel: sheet, cell_range (A1 notation)
//	image: filename, image_index, width?, height?, page_number?
type Locator struct {
	Type LocatorType `json:"type"`

	// text
	OffsetStart int `json:"offset_start,omitempty"`
	OffsetEnd   int `json:"offset_end,omitempty"`
	PageHint    int `json:"page_hint,omitempty"`

	// csv
	RowStart   int `json:"row_start,omitempty"`
	RowEnd     int `json:"row_end,omitempty"`
	ColStart   int `json:"col_start,omitempty"`
	ColEnd     int `json:"col_end,omitempty"`
	TableIndex int `json:"table_index,omitempty"`

	// excel
	Sheet     string `json:"sheet,omitempty"`
	CellRange string `json:"cell_range,omitempty"`

	// image
	Filename   string `json:"filename,omitempty"`
	ImageIndex int    `json:"image_index,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
}

// TextLocator builds a text-offset locator.
func TextLocator(start, end, pageHint int) Locator {
	return Locator{Type: LocatorTypeText, OffsetStart: start, OffsetEnd: end, PageHint: pageHint}
}

// CSVLocator builds a row/column-range locator.
func CSVLocator(rowStart, rowEnd, colStart, colEnd, tableIndex int) Locator {
	return Locator{
		Type:       LocatorTypeCSV,
		RowStart:   rowStart,
		RowEnd:     rowEnd,
		ColStart:   colStart,
		ColEnd:     colEnd,
		TableIndex: tableIndex,
	}
}

// ExcelLocator builds a sheet + A1 cell-range locator.
func ExcelLocator(sheet, cellRange string) Locator {
	return Locator{Type: LocatorTypeExcel, Sheet: sheet, CellRange: cellRange}
}

// ImageLocator builds an image-index locator.
func ImageLocator(filename string, index, width, height, pageNumber int) Locator {
	return Locator{
		Type:       LocatorTypeImage,
		Filename:   filename,
		ImageIndex: index,
		Width:      width,
		Height:     height,
		PageNumber: pageNumber,
	}
}

// Validate checks that the active variant carries a sane field set. Code that
// interprets a locator must handle every variant; unknown types are an error,
// never silently ignored.
func (l Locator) Validate() error {
	switch l.Type {
	case LocatorTypeText:
		if l.OffsetEnd < l.OffsetStart {
			return fmt.Errorf("text locator: offset_end %d before offset_start %d", l.OffsetEnd, l.OffsetStart)
		}
	case LocatorTypeCSV:
		if l.RowEnd < l.RowStart {
			return fmt.Errorf("csv locator: row_end %d before row_start %d", l.RowEnd, l.RowStart)
		}
		if l.ColEnd < l.ColStart {
			return fmt.Errorf("csv locator: col_end %d before col_start %d", l.ColEnd, l.ColStart)
		}
	case LocatorTypeExcel:
		if l.Sheet == "" {
			return fmt.Errorf("excel locator: sheet is required")
		}
		if l.CellRange == "" {
			return fmt.Errorf("excel locator: cell_range is required")
		}
	case LocatorTypeImage:
		if l.Filename == "" {
			return fmt.Errorf("image locator: filename is required")
		}
	default:
		return fmt.Errorf("unknown locator type: %q", l.Type)
	}
	return nil
}

// CanonicalJSON serializes the locator with sorted keys and no insignificant
// whitespace. Span hashes are computed over this form, so it must stay stable
// across releases.
func (l Locator) CanonicalJSON() (string, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("failed to marshal locator: %w", err)
	}
	// Round-trip through a map: encoding/json emits map keys sorted.
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("failed to canonicalize locator: %w", err)
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to re-marshal locator: %w", err)
	}
	return string(canonical), nil
}

// ParseLocator decodes a stored locator and rejects unknown variants.
func ParseLocator(data []byte) (Locator, error) {
	var l Locator
	if err := json.Unmarshal(data, &l); err != nil {
		return Locator{}, fmt.Errorf("failed to parse locator: %w", err)
	}
	if err := l.Validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}
