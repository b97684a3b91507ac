package facts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/models"
)

// SchemaVersion identifies the response contract recorded on every run.
// Bump when factPayload changes shape.
const SchemaVersion = "1.0"

var validate = validator.New()

type claimPayload struct {
	Subject     string   `json:"subject" validate:"required"`
	Predicate   string   `json:"predicate" validate:"required"`
	Object      string   `json:"object" validate:"required"`
	Certainty   string   `json:"certainty" validate:"omitempty,oneof=definite probable possible speculative"`
	Reliability string   `json:"reliability" validate:"omitempty,oneof=audited official internal third_party unknown"`
	SpanIDs     []string `json:"span_ids"`
}

type periodPayload struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	AsOf       string `json:"as_of"`
	PeriodType string `json:"period_type" validate:"omitempty,oneof=fiscal_year quarter month point_in_time"`
}

type metricPayload struct {
	Entity            string         `json:"entity" validate:"required"`
	MetricName        string         `json:"metric_name" validate:"required"`
	ValueText         string         `json:"value_text" validate:"required"`
	Value             *float64       `json:"value"`
	Unit              string         `json:"unit"`
	Currency          string         `json:"currency"`
	Period            *periodPayload `json:"period"`
	CalculationMethod string         `json:"calculation_method"`
	QualityFlags      []string       `json:"quality_flags"`
	Certainty         string         `json:"certainty" validate:"omitempty,oneof=definite probable possible speculative"`
	Reliability       string         `json:"reliability" validate:"omitempty,oneof=audited official internal third_party unknown"`
	SpanIDs           []string       `json:"span_ids"`
}

type constraintPayload struct {
	Kind        string   `json:"kind" validate:"required,oneof=definition dependency exclusion covenant assumption"`
	Description string   `json:"description" validate:"required"`
	RelatedTo   []string `json:"related_to"`
	Certainty   string   `json:"certainty" validate:"omitempty,oneof=definite probable possible speculative"`
	Reliability string   `json:"reliability" validate:"omitempty,oneof=audited official internal third_party unknown"`
	SpanIDs     []string `json:"span_ids"`
}

type riskPayload struct {
	RiskType    string   `json:"risk_type" validate:"required"`
	Statement   string   `json:"statement" validate:"required"`
	Severity    string   `json:"severity" validate:"required,oneof=low medium high critical"`
	Rationale   string   `json:"rationale"`
	RelatedTo   []string `json:"related_to"`
	Certainty   string   `json:"certainty" validate:"omitempty,oneof=definite probable possible speculative"`
	Reliability string   `json:"reliability" validate:"omitempty,oneof=audited official internal third_party unknown"`
	SpanIDs     []string `json:"span_ids"`
}

type factPayload struct {
	Claims      []claimPayload      `json:"claims"`
	Metrics     []metricPayload     `json:"metrics"`
	Constraints []constraintPayload `json:"constraints"`
	Risks       []riskPayload       `json:"risks"`
}

// factScope carries the identity every parsed fact inherits, plus the span
// id set the response may legally reference.
type factScope struct {
	tenantID       string
	versionID      string
	runID          string
	processContext string
	level          int
	knownSpans     map[string]bool
}

// filterSpanRefs drops references to span ids the version does not have.
func (s factScope) filterSpanRefs(ids []string, warnings *[]string) []string {
	var out []string
	for _, id := range ids {
		if s.knownSpans[id] {
			out = append(out, id)
			continue
		}
		*warnings = append(*warnings, fmt.Sprintf("dropped unknown span reference %q", id))
	}
	return out
}

// extractJSON pulls the JSON object out of a model response, tolerating
// markdown code fences and prose around the object.
func extractJSON(response string) string {
	s := strings.TrimSpace(response)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// parseResponse validates the model output and converts it into persisted
// fact models. Malformed items are dropped with a warning; a response that is
// not JSON at all yields an empty bundle plus a warning, never an error, so a
// chatty model degrades the run instead of failing it.
func parseResponse(response string, scope factScope) (*models.FactBundle, []string) {
	var warnings []string
	bundle := &models.FactBundle{}

	raw := extractJSON(response)
	if raw == "" {
		return bundle, append(warnings, "response contains no JSON object")
	}

	var payload factPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return bundle, append(warnings, fmt.Sprintf("response is not valid JSON: %v", err))
	}

	now := time.Now().UTC()

	for i, c := range payload.Claims {
		if err := validate.Struct(c); err != nil {
			warnings = append(warnings, fmt.Sprintf("claim %d discarded: %v", i, err))
			continue
		}
		bundle.Claims = append(bundle.Claims, &models.Claim{
			ID:              common.NewClaimID(),
			TenantID:        scope.tenantID,
			VersionID:       scope.versionID,
			ExtractionRunID: scope.runID,
			ProcessContext:  scope.processContext,
			Level:           scope.level,
			Subject:         c.Subject,
			Predicate:       c.Predicate,
			Object:          c.Object,
			Certainty:       defaultCertainty(c.Certainty),
			Reliability:     defaultReliability(c.Reliability),
			SpanRefs:        scope.filterSpanRefs(c.SpanIDs, &warnings),
			CreatedAt:       now,
		})
	}

	for i, m := range payload.Metrics {
		if err := validate.Struct(m); err != nil {
			warnings = append(warnings, fmt.Sprintf("metric %d discarded: %v", i, err))
			continue
		}
		period, periodWarnings := parsePeriod(m.Period, i)
		warnings = append(warnings, periodWarnings...)
		bundle.Metrics = append(bundle.Metrics, &models.Metric{
			ID:                common.NewMetricID(),
			TenantID:          scope.tenantID,
			VersionID:         scope.versionID,
			ExtractionRunID:   scope.runID,
			ProcessContext:    scope.processContext,
			Level:             scope.level,
			Entity:            m.Entity,
			MetricName:        m.MetricName,
			ValueText:         m.ValueText,
			Value:             m.Value,
			Unit:              m.Unit,
			Currency:          m.Currency,
			Period:            period,
			CalculationMethod: m.CalculationMethod,
			QualityFlags:      m.QualityFlags,
			Certainty:         defaultCertainty(m.Certainty),
			Reliability:       defaultReliability(m.Reliability),
			SpanRefs:          scope.filterSpanRefs(m.SpanIDs, &warnings),
			CreatedAt:         now,
		})
	}

	for i, c := range payload.Constraints {
		if err := validate.Struct(c); err != nil {
			warnings = append(warnings, fmt.Sprintf("constraint %d discarded: %v", i, err))
			continue
		}
		bundle.Constraints = append(bundle.Constraints, &models.Constraint{
			ID:              common.NewConstraintID(),
			TenantID:        scope.tenantID,
			VersionID:       scope.versionID,
			ExtractionRunID: scope.runID,
			ProcessContext:  scope.processContext,
			Level:           scope.level,
			Kind:            models.ConstraintKind(c.Kind),
			Description:     c.Description,
			RelatedFactIDs:  c.RelatedTo,
			Certainty:       defaultCertainty(c.Certainty),
			Reliability:     defaultReliability(c.Reliability),
			SpanRefs:        scope.filterSpanRefs(c.SpanIDs, &warnings),
			CreatedAt:       now,
		})
	}

	for i, r := range payload.Risks {
		if scope.level < 2 {
			warnings = append(warnings, fmt.Sprintf("risk %d discarded: risks require level >= 2", i))
			continue
		}
		if err := validate.Struct(r); err != nil {
			warnings = append(warnings, fmt.Sprintf("risk %d discarded: %v", i, err))
			continue
		}
		bundle.Risks = append(bundle.Risks, &models.Risk{
			ID:              common.NewRiskID(),
			TenantID:        scope.tenantID,
			VersionID:       scope.versionID,
			ExtractionRunID: scope.runID,
			ProcessContext:  scope.processContext,
			Level:           scope.level,
			RiskType:        r.RiskType,
			Statement:       r.Statement,
			Severity:        models.RiskSeverity(r.Severity),
			Rationale:       r.Rationale,
			RelatedFactIDs:  r.RelatedTo,
			Certainty:       defaultCertainty(r.Certainty),
			Reliability:     defaultReliability(r.Reliability),
			SpanRefs:        scope.filterSpanRefs(r.SpanIDs, &warnings),
			CreatedAt:       now,
		})
	}

	return bundle, warnings
}

func defaultCertainty(s string) models.Certainty {
	if s == "" {
		return models.CertaintyPossible
	}
	return models.Certainty(s)
}

func defaultReliability(s string) models.Reliability {
	if s == "" {
		return models.ReliabilityUnknown
	}
	return models.Reliability(s)
}

var periodDateFormats = []string{"2006-01-02", time.RFC3339, "2006-01", "2006"}

func parsePeriodDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, format := range periodDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", s)
}

// parsePeriod converts the payload period; a bad date drops the period but
// keeps the metric.
func parsePeriod(p *periodPayload, index int) (*models.TimePeriod, []string) {
	if p == nil {
		return nil, nil
	}
	start, err := parsePeriodDate(p.Start)
	if err != nil {
		return nil, []string{fmt.Sprintf("metric %d period dropped: %v", index, err)}
	}
	end, err := parsePeriodDate(p.End)
	if err != nil {
		return nil, []string{fmt.Sprintf("metric %d period dropped: %v", index, err)}
	}
	asOf, err := parsePeriodDate(p.AsOf)
	if err != nil {
		return nil, []string{fmt.Sprintf("metric %d period dropped: %v", index, err)}
	}
	if start == nil && end == nil && asOf == nil && p.PeriodType == "" {
		return nil, nil
	}
	return &models.TimePeriod{Start: start, End: end, AsOf: asOf, PeriodType: p.PeriodType}, nil
}
