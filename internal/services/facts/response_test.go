package facts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probatio/probatio/internal/models"
)

func testScope(level int, spanIDs ...string) factScope {
	known := make(map[string]bool, len(spanIDs))
	for _, id := range spanIDs {
		known[id] = true
	}
	return factScope{
		tenantID:       "tnt_1",
		versionID:      "ver_1",
		runID:          "run_1",
		processContext: "vc.ic_decision",
		level:          level,
		knownSpans:     known,
	}
}

func TestParseResponse_FullPayload(t *testing.T) {
	response := `{
		"claims": [
			{"subject": "Acme", "predicate": "raised", "object": "$12M Series A", "certainty": "definite", "reliability": "official", "span_ids": ["span_a"]}
		],
		"metrics": [
			{"entity": "Acme", "metric_name": "arr", "value_text": "$3.4M", "value": 3400000, "currency": "USD", "period": {"start": "2025-01-01", "end": "2025-12-31", "period_type": "fiscal_year"}, "span_ids": ["span_a", "span_b"]}
		],
		"constraints": [
			{"kind": "covenant", "description": "Minimum cash balance of $1M", "span_ids": ["span_b"]}
		],
		"risks": [
			{"risk_type": "runway", "statement": "Less than 12 months of runway", "severity": "high", "rationale": "Burn exceeds plan", "span_ids": ["span_b"]}
		]
	}`

	bundle, warnings := parseResponse(response, testScope(2, "span_a", "span_b"))
	assert.Empty(t, warnings)

	require.Len(t, bundle.Claims, 1)
	claim := bundle.Claims[0]
	assert.Equal(t, "tnt_1", claim.TenantID)
	assert.Equal(t, "ver_1", claim.VersionID)
	assert.Equal(t, "run_1", claim.ExtractionRunID)
	assert.Equal(t, "vc.ic_decision", claim.ProcessContext)
	assert.Equal(t, 2, claim.Level)
	assert.Equal(t, "raised", claim.Predicate)
	assert.Equal(t, models.CertaintyDefinite, claim.Certainty)
	assert.Equal(t, []string{"span_a"}, claim.SpanRefs)
	assert.True(t, strings.HasPrefix(claim.ID, "clm_"))

	require.Len(t, bundle.Metrics, 1)
	metric := bundle.Metrics[0]
	require.NotNil(t, metric.Value)
	assert.Equal(t, 3400000.0, *metric.Value)
	require.NotNil(t, metric.Period)
	assert.Equal(t, "fiscal_year", metric.Period.PeriodType)
	require.NotNil(t, metric.Period.Start)
	assert.Equal(t, 2025, metric.Period.Start.Year())
	assert.Equal(t, models.ReliabilityUnknown, metric.Reliability, "missing reliability defaults to unknown")

	require.Len(t, bundle.Constraints, 1)
	assert.Equal(t, models.ConstraintKindCovenant, bundle.Constraints[0].Kind)

	require.Len(t, bundle.Risks, 1)
	assert.Equal(t, models.RiskSeverityHigh, bundle.Risks[0].Severity)
}

func TestParseResponse_StripsCodeFences(t *testing.T) {
	response := "Here are the extracted facts:\n```json\n{\"claims\":[{\"subject\":\"A\",\"predicate\":\"is_a\",\"object\":\"company\",\"span_ids\":[]}],\"metrics\":[],\"constraints\":[],\"risks\":[]}\n```\nLet me know if you need more."

	bundle, warnings := parseResponse(response, testScope(1))
	assert.Empty(t, warnings)
	require.Len(t, bundle.Claims, 1)
	assert.Equal(t, "is_a", bundle.Claims[0].Predicate)
}

func TestParseResponse_MalformedIsWarningNotError(t *testing.T) {
	bundle, warnings := parseResponse("I could not find any facts, sorry!", testScope(1))
	assert.Equal(t, 0, bundle.Counts().Total())
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "no JSON object")

	bundle, warnings = parseResponse(`{"claims": [{"subject": 42}]`, testScope(1))
	assert.Equal(t, 0, bundle.Counts().Total())
	assert.NotEmpty(t, warnings)
}

func TestParseResponse_DiscardsInvalidItems(t *testing.T) {
	response := `{
		"claims": [
			{"subject": "", "predicate": "is_a", "object": "x", "span_ids": []},
			{"subject": "Acme", "predicate": "is_a", "object": "insurer", "span_ids": []}
		],
		"metrics": [
			{"entity": "Acme", "metric_name": "", "value_text": "12", "span_ids": []}
		],
		"constraints": [
			{"kind": "fiat", "description": "not a real kind", "span_ids": []}
		],
		"risks": []
	}`

	bundle, warnings := parseResponse(response, testScope(1))
	assert.Len(t, bundle.Claims, 1, "valid claim survives its invalid sibling")
	assert.Empty(t, bundle.Metrics)
	assert.Empty(t, bundle.Constraints)
	assert.Len(t, warnings, 3)
}

func TestParseResponse_RisksRequireLevelTwo(t *testing.T) {
	response := `{"claims":[],"metrics":[],"constraints":[],"risks":[{"risk_type":"market","statement":"Demand may soften","severity":"low","span_ids":[]}]}`

	bundle, warnings := parseResponse(response, testScope(1))
	assert.Empty(t, bundle.Risks)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "level >= 2")

	bundle, warnings = parseResponse(response, testScope(2))
	assert.Len(t, bundle.Risks, 1)
	assert.Empty(t, warnings)
}

func TestParseResponse_DropsUnknownSpanRefs(t *testing.T) {
	response := `{"claims":[{"subject":"A","predicate":"is_a","object":"b","span_ids":["span_known","span_hallucinated"]}],"metrics":[],"constraints":[],"risks":[]}`

	bundle, warnings := parseResponse(response, testScope(1, "span_known"))
	require.Len(t, bundle.Claims, 1)
	assert.Equal(t, []string{"span_known"}, bundle.Claims[0].SpanRefs)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "span_hallucinated")
}

func TestParsePeriod_BadDateDropsPeriodKeepsMetric(t *testing.T) {
	response := `{"claims":[],"metrics":[{"entity":"A","metric_name":"revenue","value_text":"10","period":{"start":"sometime last year"},"span_ids":[]}],"constraints":[],"risks":[]}`

	bundle, warnings := parseResponse(response, testScope(1))
	require.Len(t, bundle.Metrics, 1)
	assert.Nil(t, bundle.Metrics[0].Period)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "period dropped")
}

func TestParsePeriod_AcceptsPartialDates(t *testing.T) {
	response := `{"claims":[],"metrics":[{"entity":"A","metric_name":"revenue","value_text":"10","period":{"as_of":"2025-06","period_type":"point_in_time"},"span_ids":[]}],"constraints":[],"risks":[]}`

	bundle, warnings := parseResponse(response, testScope(1))
	assert.Empty(t, warnings)
	require.Len(t, bundle.Metrics, 1)
	require.NotNil(t, bundle.Metrics[0].Period)
	require.NotNil(t, bundle.Metrics[0].Period.AsOf)
	assert.Equal(t, 2025, bundle.Metrics[0].Period.AsOf.Year())
}
