package models

import (
	"strings"
	"time"
)

// Certainty grades how firmly a fact is asserted by its source.
type Certainty string

const (
	CertaintyDefinite    Certainty = "definite"
	CertaintyProbable    Certainty = "probable"
	CertaintyPossible    Certainty = "possible"
	CertaintySpeculative Certainty = "speculative"
)

// Reliability grades the fact's source.
type Reliability string

const (
	ReliabilityAudited    Reliability = "audited"
	ReliabilityOfficial   Reliability = "official"
	ReliabilityInternal   Reliability = "internal"
	ReliabilityThirdParty Reliability = "third_party"
	ReliabilityUnknown    Reliability = "unknown"
)

// ProcessContextUnspecified is the normalization target for unknown or empty
// process contexts: unknown enum values are tagged, never rejected.
const ProcessContextUnspecified = "unspecified"

// NormalizeProcessContext maps empty or unrecognized process contexts to
// the unspecified tag. Known contexts (vc.ic_decision, pharma.clinical_trial,
// ...) pass through; the set is open-ended by design, so anything non-empty
// is accepted as a tag.
func NormalizeProcessContext(pc string) string {
	pc = strings.TrimSpace(pc)
	if pc == "" {
		return ProcessContextUnspecified
	}
	return pc
}

// Claim is a subject-predicate-object assertion drawn from a profile's
// controlled predicate vocabulary, with supporting span references.
type Claim struct {
	ID              string   `json:"id"` // clm_{uuid}
	TenantID        string   `json:"tenant_id"`
	VersionID       string   `json:"version_id"`
	ExtractionRunID string   `json:"extraction_run_id"`
	ProcessContext  string   `json:"process_context"`
	Level           int      `json:"level"`

	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`

	Certainty   Certainty   `json:"certainty"`
	Reliability Reliability `json:"reliability"`
	SpanRefs    []string    `json:"span_refs"`

	CreatedAt time.Time `json:"created_at"`
}

// TimePeriod bounds a metric in time.
type TimePeriod struct {
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	AsOf       *time.Time `json:"as_of,omitempty"`
	PeriodType string     `json:"period_type,omitempty"` // fiscal_year, quarter, month, point_in_time
}

// Metric is a quantitative fact: entity + name + parsed value with unit,
// currency, and period.
type Metric struct {
	ID              string `json:"id"` // mtr_{uuid}
	TenantID        string `json:"tenant_id"`
	VersionID       string `json:"version_id"`
	ExtractionRunID string `json:"extraction_run_id"`
	ProcessContext  string `json:"process_context"`
	Level           int    `json:"level"`

	Entity     string   `json:"entity"`
	MetricName string   `json:"metric_name"`
	ValueText  string   `json:"value_text"`
	Value      *float64 `json:"value,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Currency   string   `json:"currency,omitempty"`

	Period            *TimePeriod `json:"period,omitempty"`
	CalculationMethod string      `json:"calculation_method,omitempty"`
	QualityFlags      []string    `json:"quality_flags,omitempty"`

	Certainty   Certainty   `json:"certainty"`
	Reliability Reliability `json:"reliability"`
	SpanRefs    []string    `json:"span_refs"`

	CreatedAt time.Time `json:"created_at"`
}

// ConstraintKind partitions constraints by how they modify other facts.
type ConstraintKind string

const (
	ConstraintKindDefinition ConstraintKind = "definition"
	ConstraintKindDependency ConstraintKind = "dependency"
	ConstraintKindExclusion  ConstraintKind = "exclusion"
	ConstraintKindCovenant   ConstraintKind = "covenant"
	ConstraintKindAssumption ConstraintKind = "assumption"
)

// Constraint qualifies other facts: definitions, dependencies, exclusions,
// covenants, assumptions.
type Constraint struct {
	ID              string `json:"id"` // cst_{uuid}
	TenantID        string `json:"tenant_id"`
	VersionID       string `json:"version_id"`
	ExtractionRunID string `json:"extraction_run_id"`
	ProcessContext  string `json:"process_context"`
	Level           int    `json:"level"`

	Kind        ConstraintKind `json:"kind"`
	Description string         `json:"description"`
	// RelatedFactIDs lists the claims/metrics this constraint modifies.
	RelatedFactIDs []string `json:"related_fact_ids,omitempty"`

	Certainty   Certainty   `json:"certainty"`
	Reliability Reliability `json:"reliability"`
	SpanRefs    []string    `json:"span_refs"`

	CreatedAt time.Time `json:"created_at"`
}

// RiskSeverity tags a risk's weight.
type RiskSeverity string

const (
	RiskSeverityLow      RiskSeverity = "low"
	RiskSeverityMedium   RiskSeverity = "medium"
	RiskSeverityHigh     RiskSeverity = "high"
	RiskSeverityCritical RiskSeverity = "critical"
)

// Risk is a typed, severity-tagged statement. Only extraction levels >= 2
// produce risks.
type Risk struct {
	ID              string `json:"id"` // rsk_{uuid}
	TenantID        string `json:"tenant_id"`
	VersionID       string `json:"version_id"`
	ExtractionRunID string `json:"extraction_run_id"`
	ProcessContext  string `json:"process_context"`
	Level           int    `json:"level"`

	RiskType       string       `json:"risk_type"` // market, regulatory, operational, financial, ...
	Statement      string       `json:"statement"`
	Severity       RiskSeverity `json:"severity"`
	Rationale      string       `json:"rationale,omitempty"`
	RelatedFactIDs []string     `json:"related_fact_ids,omitempty"`

	Certainty   Certainty   `json:"certainty"`
	Reliability Reliability `json:"reliability"`
	SpanRefs    []string    `json:"span_refs"`

	CreatedAt time.Time `json:"created_at"`
}

// FactBundle carries all four fact kinds for a version in one envelope.
type FactBundle struct {
	Claims      []*Claim      `json:"claims"`
	Metrics     []*Metric     `json:"metrics"`
	Constraints []*Constraint `json:"constraints"`
	Risks       []*Risk       `json:"risks"`
}

// Counts summarizes the bundle.
func (b *FactBundle) Counts() FactCounts {
	return FactCounts{
		Claims:      len(b.Claims),
		Metrics:     len(b.Metrics),
		Constraints: len(b.Constraints),
		Risks:       len(b.Risks),
	}
}

// FactCounts summarizes extracted facts for a version or run.
type FactCounts struct {
	Claims      int `json:"claims"`
	Metrics     int `json:"metrics"`
	Constraints int `json:"constraints"`
	Risks       int `json:"risks"`
}

// Total returns the combined fact count.
func (c FactCounts) Total() int {
	return c.Claims + c.Metrics + c.Constraints + c.Risks
}

// ConflictSeverity tags how badly two facts disagree.
type ConflictSeverity string

const (
	ConflictSeverityLow    ConflictSeverity = "low"
	ConflictSeverityMedium ConflictSeverity = "medium"
	ConflictSeverityHigh   ConflictSeverity = "high"
)

// ConflictType names the fact pairing that disagrees.
type ConflictType string

const (
	ConflictTypeMetricMetric ConflictType = "metric_metric"
	ConflictTypeClaimClaim   ConflictType = "claim_claim"
	ConflictTypeMetricClaim  ConflictType = "metric_claim"
)

// Conflict records a detected disagreement between two facts. ContentKey
// deduplicates identical conflicts across analyzer re-runs.
type Conflict struct {
	ID         string `json:"id"` // cfl_{uuid}
	TenantID   string `json:"tenant_id"`
	VersionID  string `json:"version_id"`
	ContentKey string `json:"content_key"`

	ConflictType ConflictType     `json:"conflict_type"`
	Severity     ConflictSeverity `json:"severity"`
	Reason       string           `json:"reason"`
	FactIDs      []string         `json:"fact_ids"`

	CreatedAt time.Time `json:"created_at"`
}

// QuestionCategory buckets open questions by what is missing.
type QuestionCategory string

const (
	QuestionMissingData   QuestionCategory = "missing_data"
	QuestionAmbiguous     QuestionCategory = "ambiguous"
	QuestionVerification  QuestionCategory = "verification"
	QuestionMethodology   QuestionCategory = "methodology"
	QuestionTemporal      QuestionCategory = "temporal"
	QuestionClarification QuestionCategory = "clarification"
)

// OpenQuestion is a gap the quality analyzer wants a human (or a later
// extraction pass) to resolve.
type OpenQuestion struct {
	ID         string `json:"id"` // oqn_{uuid}
	TenantID   string `json:"tenant_id"`
	VersionID  string `json:"version_id"`
	ContentKey string `json:"content_key"`

	Category QuestionCategory `json:"category"`
	Question string           `json:"question"`
	FactIDs  []string         `json:"fact_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
