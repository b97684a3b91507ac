package models

import (
	"path/filepath"
	"strings"
)

// SourceFormat identifies how an uploaded artifact is parsed.
type SourceFormat string

const (
	FormatPDF      SourceFormat = "pdf"
	FormatText     SourceFormat = "text"
	FormatMarkdown SourceFormat = "markdown"
	FormatHTML     SourceFormat = "html"
	FormatCSV      SourceFormat = "csv"
	FormatExcel    SourceFormat = "excel"
	FormatImage    SourceFormat = "image"
)

// FormatForFilename maps a filename extension to a source format.
// Unknown extensions fall back to plain text.
func FormatForFilename(name string) SourceFormat {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "pdf":
		return FormatPDF
	case "md", "markdown":
		return FormatMarkdown
	case "html", "htm", "xhtml":
		return FormatHTML
	case "csv", "tsv":
		return FormatCSV
	case "xlsx", "xlsm":
		return FormatExcel
	case "png", "jpg", "jpeg", "gif", "webp", "tiff", "tif", "bmp":
		return FormatImage
	default:
		return FormatText
	}
}

// PageText is the extracted text of a single PDF page.
type PageText struct {
	Number int    `json:"number"` // 1-based
	Text   string `json:"text"`
}

// TableData holds parsed delimited content. Header is nil when the file has
// no detectable header row.
type TableData struct {
	Header    []string   `json:"header,omitempty"`
	Rows      [][]string `json:"rows"`
	Delimiter rune       `json:"delimiter"`
}

// SheetData holds one worksheet of a workbook. HeaderRow is the 1-based sheet
// row the header was read from; data rows start immediately after it.
type SheetData struct {
	Name      string     `json:"name"`
	Index     int        `json:"index"`
	Header    []string   `json:"header,omitempty"`
	HeaderRow int        `json:"header_row"`
	Rows      [][]string `json:"rows"`
}

// ImageInfo describes an image artifact. OCRText is empty unless an OCR
// engine is configured.
type ImageInfo struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	OCRText string `json:"ocr_text,omitempty"`
}

// ExtractedContent is the normalized output of format extraction. Exactly
// one of the payload groups is populated depending on Format: Text/Pages for
// prose formats, Table for CSV, Sheets for workbooks, Image for images.
type ExtractedContent struct {
	Format SourceFormat `json:"format"`

	Text  string     `json:"text,omitempty"`
	Pages []PageText `json:"pages,omitempty"`

	Table  *TableData  `json:"table,omitempty"`
	Sheets []SheetData `json:"sheets,omitempty"`
	Image  *ImageInfo  `json:"image,omitempty"`

	Warnings []string               `json:"warnings,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PlainText flattens the content into a single string for storage on the
// version row and for keyword search. Pages are joined with form feeds so
// page boundaries survive; tabular payloads render one tab-joined line per
// row with the header first.
func (e *ExtractedContent) PlainText() string {
	if e.Text != "" {
		return e.Text
	}
	if len(e.Pages) > 0 {
		parts := make([]string, len(e.Pages))
		for i, p := range e.Pages {
			parts[i] = p.Text
		}
		return strings.Join(parts, "\f")
	}
	if e.Table != nil {
		var b strings.Builder
		if len(e.Table.Header) > 0 {
			b.WriteString(strings.Join(e.Table.Header, "\t"))
			b.WriteByte('\n')
		}
		for _, row := range e.Table.Rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		return b.String()
	}
	if len(e.Sheets) > 0 {
		var b strings.Builder
		for _, sheet := range e.Sheets {
			b.WriteString(sheet.Name)
			b.WriteByte('\n')
			if len(sheet.Header) > 0 {
				b.WriteString(strings.Join(sheet.Header, "\t"))
				b.WriteByte('\n')
			}
			for _, row := range sheet.Rows {
				b.WriteString(strings.Join(row, "\t"))
				b.WriteByte('\n')
			}
		}
		return b.String()
	}
	if e.Image != nil {
		return e.Image.OCRText
	}
	return ""
}

// PageCount returns the page count for paginated formats, 0 otherwise.
// Metadata survives a JSON round-trip through the artifact blob, so numeric
// values may arrive as float64.
func (e *ExtractedContent) PageCount() int {
	switch n := e.Metadata["page_count"].(type) {
	case int:
		if n > 0 {
			return n
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return len(e.Pages)
}

// PageBreaks returns the page-break offsets recorded in metadata, tolerant
// of the artifact JSON round-trip.
func (e *ExtractedContent) PageBreaks() []int {
	switch v := e.Metadata["page_breaks"].(type) {
	case []int:
		return v
	case []interface{}:
		breaks := make([]int, 0, len(v))
		for _, item := range v {
			if f, ok := item.(float64); ok {
				breaks = append(breaks, int(f))
			}
		}
		return breaks
	}
	return nil
}

// CharCount returns the total extracted character count across payloads.
func (e *ExtractedContent) CharCount() int {
	n := len(e.Text)
	for _, p := range e.Pages {
		n += len(p.Text)
	}
	if e.Table != nil {
		for _, row := range e.Table.Rows {
			for _, cell := range row {
				n += len(cell)
			}
		}
	}
	for _, sheet := range e.Sheets {
		for _, row := range sheet.Rows {
			for _, cell := range row {
				n += len(cell)
			}
		}
	}
	if e.Image != nil {
		n += len(e.Image.OCRText)
	}
	return n
}
