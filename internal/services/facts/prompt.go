package facts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/probatio/probatio/internal/models"
)

// responseShape is the schema fragment embedded in every system prompt. The
// extractor rejects anything that does not unmarshal into factPayload, so the
// prompt and the parser must describe the same shape.
const responseShape = `{
  "claims": [
    {"subject": "", "predicate": "", "object": "", "certainty": "definite|probable|possible|speculative", "reliability": "audited|official|internal|third_party|unknown", "span_ids": ["span_..."]}
  ],
  "metrics": [
    {"entity": "", "metric_name": "", "value_text": "", "value": 0, "unit": "", "currency": "", "period": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD", "as_of": "YYYY-MM-DD", "period_type": "fiscal_year|quarter|month|point_in_time"}, "calculation_method": "", "quality_flags": [], "certainty": "", "reliability": "", "span_ids": []}
  ],
  "constraints": [
    {"kind": "definition|dependency|exclusion|covenant|assumption", "description": "", "related_to": [], "certainty": "", "reliability": "", "span_ids": []}
  ],
  "risks": [
    {"risk_type": "", "statement": "", "severity": "low|medium|high|critical", "rationale": "", "related_to": [], "certainty": "", "reliability": "", "span_ids": []}
  ]
}`

func buildSystemPrompt(profile models.ExtractionProfile, level int, vocab LevelVocabulary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You extract structured facts from evidence documents using the %q vocabulary at depth level %d.\n\n", profile, level)
	b.WriteString("Respond with a single JSON object of this exact shape and nothing else:\n")
	b.WriteString(responseShape)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Allowed claim predicates: %s\n", strings.Join(vocab.Predicates, ", "))
	if len(vocab.MetricNames) > 0 {
		fmt.Fprintf(&b, "Preferred metric names: %s\n", strings.Join(vocab.MetricNames, ", "))
	}
	if len(vocab.ConstraintKinds) > 0 {
		fmt.Fprintf(&b, "Constraint kinds: %s\n", strings.Join(vocab.ConstraintKinds, ", "))
	}
	if level >= 2 && len(vocab.RiskTypes) > 0 {
		fmt.Fprintf(&b, "Risk types: %s\n", strings.Join(vocab.RiskTypes, ", "))
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Claims must use one of the allowed predicates.\n")
	b.WriteString("- Every fact cites the span ids that support it in span_ids.\n")
	b.WriteString("- Extract metric values as numbers when the text allows a clean parse; keep the verbatim text in value_text.\n")
	if level >= 2 {
		b.WriteString("- Risks require a risk_type from the list, a severity, and a rationale.\n")
	} else {
		b.WriteString("- Do not emit risks at this level; return an empty risks array.\n")
	}
	b.WriteString("- Omit anything the document does not state; do not infer beyond the text.\n")

	return b.String()
}

// priorFactsView is the compact context handed to higher-level extractions.
type priorFactsView struct {
	Claims      []string `json:"claims,omitempty"`
	Metrics     []string `json:"metrics,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Risks       []string `json:"risks,omitempty"`
}

func buildUserPrompt(filename string, versionNumber int, spans []*models.Span, prior *models.FactBundle, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s (version %d)\n\n", filename, versionNumber)

	if prior != nil && prior.Counts().Total() > 0 {
		view := priorFactsView{}
		for _, c := range prior.Claims {
			view.Claims = append(view.Claims, fmt.Sprintf("%s %s %s", c.Subject, c.Predicate, c.Object))
		}
		for _, m := range prior.Metrics {
			view.Metrics = append(view.Metrics, fmt.Sprintf("%s %s = %s", m.Entity, m.MetricName, m.ValueText))
		}
		for _, c := range prior.Constraints {
			view.Constraints = append(view.Constraints, c.Description)
		}
		for _, r := range prior.Risks {
			view.Risks = append(view.Risks, r.Statement)
		}
		if encoded, err := json.Marshal(view); err == nil {
			b.WriteString("Facts already extracted at lower levels. Build upon these; do not duplicate them:\n")
			b.Write(encoded)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("Spans:\n")
	used := 0
	for _, span := range spans {
		text := span.TextContent
		if maxChars > 0 && used+len(text) > maxChars {
			remaining := maxChars - used
			if remaining <= 0 {
				break
			}
			text = strings.ToValidUTF8(text[:remaining], "")
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", span.ID, text)
		used += len(text)
		if maxChars > 0 && used >= maxChars {
			break
		}
	}

	return b.String()
}
