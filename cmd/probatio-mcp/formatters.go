package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/models"
)

// formatSearchResult renders a search response as markdown
func formatSearchResult(result *models.SearchResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for %q (%s mode, %d results, %dms)\n\n",
		result.Query, result.Mode, result.Total, result.SearchTimeMS))

	if len(result.Results) == 0 {
		sb.WriteString("No results found.\n")
		return sb.String()
	}

	for i, item := range result.Results {
		c := item.Citation
		sb.WriteString(fmt.Sprintf("### %d. %s (score %.3f)\n", i+1, c.DocumentFilename, item.Similarity))
		sb.WriteString(fmt.Sprintf("**Span:** %s | **Document:** %s | **Version:** %s\n",
			c.SpanID, c.DocumentID, c.DocumentVersionID))
		if c.Locator != nil {
			sb.WriteString(fmt.Sprintf("**Locator:** %s\n", formatLocator(c.Locator)))
		}
		sb.WriteString("\n")
		sb.WriteString(item.MatchedText)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// formatLocator renders the active locator variant as one line
func formatLocator(l *models.Locator) string {
	switch l.Type {
	case models.LocatorTypeText:
		if l.PageHint > 0 {
			return fmt.Sprintf("text chars %d-%d (page %d)", l.OffsetStart, l.OffsetEnd, l.PageHint)
		}
		return fmt.Sprintf("text chars %d-%d", l.OffsetStart, l.OffsetEnd)
	case models.LocatorTypeCSV:
		return fmt.Sprintf("csv rows %d-%d, cols %d-%d", l.RowStart, l.RowEnd, l.ColStart, l.ColEnd)
	case models.LocatorTypeExcel:
		return fmt.Sprintf("sheet %q range %s", l.Sheet, l.CellRange)
	case models.LocatorTypeImage:
		return fmt.Sprintf("image %s (#%d)", l.Filename, l.ImageIndex)
	}
	return string(l.Type)
}

// formatDocument renders a document and its versions as markdown
func formatDocument(doc *models.Document, versions []*models.DocumentVersion) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", doc.Filename))
	sb.WriteString(fmt.Sprintf("**ID:** %s\n", doc.ID))
	sb.WriteString(fmt.Sprintf("**Type:** %s (%s)\n", doc.Classification, doc.ContentType))
	sb.WriteString(fmt.Sprintf("**Source:** %s", doc.SourceType))
	if doc.SourceURL != "" {
		sb.WriteString(" " + doc.SourceURL)
	}
	sb.WriteString("\n")
	if doc.Publisher != "" {
		sb.WriteString(fmt.Sprintf("**Publisher:** %s\n", doc.Publisher))
	}
	if len(doc.Sectors) > 0 {
		sb.WriteString(fmt.Sprintf("**Sectors:** %s\n", strings.Join(doc.Sectors, ", ")))
	}
	if len(doc.Topics) > 0 {
		sb.WriteString(fmt.Sprintf("**Topics:** %s\n", strings.Join(doc.Topics, ", ")))
	}
	if len(doc.Companies) > 0 {
		sb.WriteString(fmt.Sprintf("**Companies:** %s\n", strings.Join(doc.Companies, ", ")))
	}
	sb.WriteString(fmt.Sprintf("**Created:** %s\n\n", doc.CreatedAt.Format(time.RFC3339)))

	if len(versions) > 0 {
		sb.WriteString("## Versions\n\n")
		for _, v := range versions {
			sb.WriteString(fmt.Sprintf("- v%d (%s): %s, %d bytes", v.VersionNumber, v.ID, v.ProcessingStatus, v.SizeBytes))
			if v.PageCount > 0 {
				sb.WriteString(fmt.Sprintf(", %d pages", v.PageCount))
			}
			if v.LastError != "" {
				sb.WriteString(fmt.Sprintf(" (error: %s)", v.LastError))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// formatFacts renders a fact bundle as markdown
func formatFacts(versionID string, bundle *models.FactBundle) string {
	counts := bundle.Counts()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Facts for %s (%d total)\n\n", versionID, counts.Total()))

	if counts.Total() == 0 {
		sb.WriteString("No facts extracted.\n")
		return sb.String()
	}

	if len(bundle.Claims) > 0 {
		sb.WriteString(fmt.Sprintf("### Claims (%d)\n\n", len(bundle.Claims)))
		for _, c := range bundle.Claims {
			sb.WriteString(fmt.Sprintf("- [%s] %s %s %s (certainty: %s, reliability: %s, spans: %s)\n",
				c.ID, c.Subject, c.Predicate, c.Object, c.Certainty, c.Reliability, strings.Join(c.SpanRefs, ", ")))
		}
		sb.WriteString("\n")
	}

	if len(bundle.Metrics) > 0 {
		sb.WriteString(fmt.Sprintf("### Metrics (%d)\n\n", len(bundle.Metrics)))
		for _, m := range bundle.Metrics {
			sb.WriteString(fmt.Sprintf("- [%s] %s / %s = %s", m.ID, m.Entity, m.MetricName, m.ValueText))
			if m.Unit != "" {
				sb.WriteString(" " + m.Unit)
			}
			if m.Currency != "" {
				sb.WriteString(" " + m.Currency)
			}
			sb.WriteString(fmt.Sprintf(" (certainty: %s, spans: %s)\n", m.Certainty, strings.Join(m.SpanRefs, ", ")))
		}
		sb.WriteString("\n")
	}

	if len(bundle.Constraints) > 0 {
		sb.WriteString(fmt.Sprintf("### Constraints (%d)\n\n", len(bundle.Constraints)))
		for _, c := range bundle.Constraints {
			sb.WriteString(fmt.Sprintf("- [%s] (%s) %s\n", c.ID, c.Kind, c.Description))
		}
		sb.WriteString("\n")
	}

	if len(bundle.Risks) > 0 {
		sb.WriteString(fmt.Sprintf("### Risks (%d)\n\n", len(bundle.Risks)))
		for _, r := range bundle.Risks {
			sb.WriteString(fmt.Sprintf("- [%s] %s/%s: %s\n", r.ID, r.RiskType, r.Severity, r.Statement))
		}
	}

	return sb.String()
}

// formatQuality renders conflicts and open questions as markdown
func formatQuality(versionID string, conflicts []*models.Conflict, questions []*models.OpenQuestion) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Quality Report for %s\n\n", versionID))

	sb.WriteString(fmt.Sprintf("### Conflicts (%d)\n\n", len(conflicts)))
	if len(conflicts) == 0 {
		sb.WriteString("None detected.\n\n")
	}
	for _, c := range conflicts {
		sb.WriteString(fmt.Sprintf("- [%s] %s/%s: %s (facts: %s)\n",
			c.ID, c.ConflictType, c.Severity, c.Reason, strings.Join(c.FactIDs, ", ")))
	}
	if len(conflicts) > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("### Open Questions (%d)\n\n", len(questions)))
	if len(questions) == 0 {
		sb.WriteString("None raised.\n")
	}
	for _, q := range questions {
		sb.WriteString(fmt.Sprintf("- [%s] (%s) %s\n", q.ID, q.Category, q.Question))
	}

	return sb.String()
}
