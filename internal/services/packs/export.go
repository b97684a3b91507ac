package packs

import (
	"fmt"
	"strings"

	"github.com/probatio/probatio/internal/models"
)

// excerptBytes caps citation excerpts in exports.
const excerptBytes = 500

// exportMarkdown renders the materialized pack as markdown for the PDF
// pipeline. Span text becomes blockquotes, claims a list, metrics a table.
func exportMarkdown(export *models.PackExport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", export.Pack.Name)
	if export.Pack.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", export.Pack.Description)
	}
	fmt.Fprintf(&b, "*Exported %s: %d spans, %d claims, %d metrics*\n\n",
		export.ExportedAt.Format("2006-01-02 15:04 UTC"),
		len(export.Spans), len(export.Claims), len(export.Metrics))

	if len(export.Spans) > 0 {
		b.WriteString("## Spans\n\n")
		for i, node := range export.Spans {
			source := node.Citation.DocumentFilename
			if source == "" {
				source = node.Citation.DocumentID
			}
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, source)
			writeQuoted(&b, excerpt(node.Span.TextContent))
			fmt.Fprintf(&b, "*%s*", describeLocator(node.Span.Locator))
			if node.Note != "" {
				fmt.Fprintf(&b, " (%s)", node.Note)
			}
			b.WriteString("\n\n")
		}
	}

	if len(export.Claims) > 0 {
		b.WriteString("## Claims\n\n")
		for _, claim := range export.Claims {
			fmt.Fprintf(&b, "- **%s** %s %s", claim.Subject, claim.Predicate, claim.Object)
			if claim.Certainty != "" {
				fmt.Fprintf(&b, " (certainty: %s)", claim.Certainty)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(export.Metrics) > 0 {
		b.WriteString("## Metrics\n\n")
		b.WriteString("| Entity | Metric | Value | Unit | Period |\n")
		b.WriteString("|--------|--------|-------|------|--------|\n")
		for _, metric := range export.Metrics {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				cell(metric.Entity), cell(metric.MetricName),
				cell(metricValue(metric)), cell(metricUnit(metric)),
				cell(periodLabel(metric.Period)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// writeQuoted emits text as a markdown blockquote, one "> " per line.
func writeQuoted(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		fmt.Fprintf(b, "> %s\n", line)
	}
	b.WriteString("\n")
}

// describeLocator renders a locator as citation prose.
func describeLocator(l models.Locator) string {
	switch l.Type {
	case models.LocatorTypeText:
		s := fmt.Sprintf("chars %d-%d", l.OffsetStart, l.OffsetEnd)
		if l.PageHint > 0 {
			s += fmt.Sprintf(", p. %d", l.PageHint)
		}
		return s
	case models.LocatorTypeCSV:
		s := fmt.Sprintf("rows %d-%d, cols %d-%d", l.RowStart, l.RowEnd, l.ColStart, l.ColEnd)
		if l.TableIndex > 0 {
			s += fmt.Sprintf(", table %d", l.TableIndex)
		}
		return s
	case models.LocatorTypeExcel:
		return fmt.Sprintf("%s!%s", l.Sheet, l.CellRange)
	case models.LocatorTypeImage:
		s := fmt.Sprintf("image %s #%d", l.Filename, l.ImageIndex)
		if l.PageNumber > 0 {
			s += fmt.Sprintf(", p. %d", l.PageNumber)
		}
		return s
	}
	return string(l.Type)
}

func metricValue(m *models.Metric) string {
	if m.ValueText != "" {
		return m.ValueText
	}
	if m.Value != nil {
		return fmt.Sprintf("%g", *m.Value)
	}
	return ""
}

func metricUnit(m *models.Metric) string {
	if m.Currency != "" && m.Unit != "" {
		return m.Currency + " " + m.Unit
	}
	if m.Currency != "" {
		return m.Currency
	}
	return m.Unit
}

func periodLabel(p *models.TimePeriod) string {
	if p == nil {
		return ""
	}
	if p.AsOf != nil {
		return "as of " + p.AsOf.Format("2006-01-02")
	}
	if p.Start != nil && p.End != nil {
		return p.Start.Format("2006-01-02") + " to " + p.End.Format("2006-01-02")
	}
	return p.PeriodType
}

// cell flattens a value into a single markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

// excerpt caps text at excerptBytes without splitting a rune.
func excerpt(text string) string {
	if len(text) <= excerptBytes {
		return text
	}
	return strings.ToValidUTF8(text[:excerptBytes], "")
}
