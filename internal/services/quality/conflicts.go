package quality

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/models"
)

// detectConflicts runs the three pairwise detectors over a version's facts.
// Detection is a pure function of the fact set; content keys derive from
// fact content, not fact ids, so re-extraction followed by re-analysis
// produces the same keys for the same disagreements.
func detectConflicts(tenantID, versionID string, claims []*models.Claim, metrics []*models.Metric) []*models.Conflict {
	var conflicts []*models.Conflict
	conflicts = append(conflicts, metricMetricConflicts(tenantID, versionID, metrics)...)
	conflicts = append(conflicts, claimClaimConflicts(tenantID, versionID, claims)...)
	conflicts = append(conflicts, metricClaimConflicts(tenantID, versionID, metrics, claims)...)
	return conflicts
}

// metricGroups buckets metrics by normalized (entity, metric name).
func metricGroups(metrics []*models.Metric) map[string][]*models.Metric {
	groups := make(map[string][]*models.Metric)
	for _, m := range metrics {
		key := norm(m.Entity) + "|" + norm(m.MetricName)
		groups[key] = append(groups[key], m)
	}
	return groups
}

// metricMetricConflicts flags pairs reporting different values for the same
// entity and metric over overlapping periods. Pairs with different units or
// currencies are not numerically comparable and are left to the methodology
// question pass.
func metricMetricConflicts(tenantID, versionID string, metrics []*models.Metric) []*models.Conflict {
	var conflicts []*models.Conflict
	for _, group := range metricGroups(metrics) {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Value == nil || b.Value == nil {
					continue
				}
				if norm(a.Unit) != norm(b.Unit) || norm(a.Currency) != norm(b.Currency) {
					continue
				}
				if !periodsOverlap(a.Period, b.Period) {
					continue
				}
				div := relDivergence(*a.Value, *b.Value)
				if div < divergenceEqual {
					continue
				}
				severity := models.ConflictSeverityMedium
				if div >= divergenceHigh {
					severity = models.ConflictSeverityHigh
				}
				lo, hi := *a.Value, *b.Value
				if lo > hi {
					lo, hi = hi, lo
				}
				conflicts = append(conflicts, &models.Conflict{
					ID:           common.NewConflictID(),
					TenantID:     tenantID,
					VersionID:    versionID,
					ContentKey:   fmt.Sprintf("metric_metric|%s|%s|%s|%s", norm(a.Entity), norm(a.MetricName), formatValue(lo), formatValue(hi)),
					ConflictType: models.ConflictTypeMetricMetric,
					Severity:     severity,
					Reason: fmt.Sprintf("%s %s reported as %s and %s for overlapping periods (%.0f%% apart)",
						a.Entity, a.MetricName, a.ValueText, b.ValueText, div*100),
					FactIDs:   sortedIDs(a.ID, b.ID),
					CreatedAt: time.Now().UTC(),
				})
			}
		}
	}
	return conflicts
}

// claimClaimConflicts flags claims that share a subject and predicate but
// assert different objects. Severity follows the asserted certainty: two
// definite claims in disagreement are high, one definite is medium,
// anything softer is low.
func claimClaimConflicts(tenantID, versionID string, claims []*models.Claim) []*models.Conflict {
	groups := make(map[string][]*models.Claim)
	for _, c := range claims {
		key := norm(c.Subject) + "|" + c.Predicate
		groups[key] = append(groups[key], c)
	}

	var conflicts []*models.Conflict
	for _, group := range groups {
		byObject := make(map[string][]*models.Claim)
		for _, c := range group {
			byObject[norm(c.Object)] = append(byObject[norm(c.Object)], c)
		}
		if len(byObject) < 2 {
			continue
		}
		objects := make([]string, 0, len(byObject))
		for object := range byObject {
			objects = append(objects, object)
		}
		sort.Strings(objects)

		for i := 0; i < len(objects); i++ {
			for j := i + 1; j < len(objects); j++ {
				left, right := byObject[objects[i]], byObject[objects[j]]
				severity := models.ConflictSeverityLow
				switch definiteCount(left) + definiteCount(right) {
				case 0:
				case 1:
					severity = models.ConflictSeverityMedium
				default:
					severity = models.ConflictSeverityHigh
				}
				ids := make([]string, 0, len(left)+len(right))
				for _, c := range left {
					ids = append(ids, c.ID)
				}
				for _, c := range right {
					ids = append(ids, c.ID)
				}
				sort.Strings(ids)
				conflicts = append(conflicts, &models.Conflict{
					ID:           common.NewConflictID(),
					TenantID:     tenantID,
					VersionID:    versionID,
					ContentKey:   fmt.Sprintf("claim_claim|%s|%s|%s|%s", norm(left[0].Subject), left[0].Predicate, objects[i], objects[j]),
					ConflictType: models.ConflictTypeClaimClaim,
					Severity:     severity,
					Reason: fmt.Sprintf("%q %s both %q and %q",
						left[0].Subject, left[0].Predicate, left[0].Object, right[0].Object),
					FactIDs:   ids,
					CreatedAt: time.Now().UTC(),
				})
			}
		}
	}
	return conflicts
}

// definiteCount counts claims asserted with definite certainty. A group that
// disagrees with at least one side definite is a stronger conflict than
// speculation disagreeing with speculation.
func definiteCount(claims []*models.Claim) int {
	n := 0
	for _, c := range claims {
		if c.Certainty == models.CertaintyDefinite {
			n++
		}
	}
	if n > 1 {
		return 1
	}
	return n
}

// metricClaimConflicts flags claims whose stated numbers contradict a
// metric's magnitude: the claim's subject matches the metric's entity, its
// object mentions the metric name and carries at least one number, and no
// number agrees with the metric value within the high-divergence threshold
// at any power-of-ten scale.
func metricClaimConflicts(tenantID, versionID string, metrics []*models.Metric, claims []*models.Claim) []*models.Conflict {
	var conflicts []*models.Conflict
	for _, m := range metrics {
		if m.Value == nil {
			continue
		}
		entity := norm(m.Entity)
		name := norm(m.MetricName)
		for _, c := range claims {
			if norm(c.Subject) != entity {
				continue
			}
			object := norm(c.Object)
			if name == "" || !containsToken(object, name) {
				continue
			}
			candidates := parseMagnitudes(c.Object)
			if len(candidates) == 0 {
				continue
			}
			div := closestDivergence(*m.Value, candidates)
			if div < divergenceEqual {
				continue
			}
			severity := models.ConflictSeverityMedium
			if div >= divergenceHigh {
				severity = models.ConflictSeverityHigh
			}
			conflicts = append(conflicts, &models.Conflict{
				ID:           common.NewConflictID(),
				TenantID:     tenantID,
				VersionID:    versionID,
				ContentKey:   fmt.Sprintf("metric_claim|%s|%s|%s|%s", entity, name, formatValue(*m.Value), object),
				ConflictType: models.ConflictTypeMetricClaim,
				Severity:     severity,
				Reason: fmt.Sprintf("claim %q disagrees with metric %s %s = %s (%.0f%% apart)",
					c.Object, m.Entity, m.MetricName, m.ValueText, div*100),
				FactIDs:   sortedIDs(m.ID, c.ID),
				CreatedAt: time.Now().UTC(),
			})
		}
	}
	return conflicts
}

// periodsOverlap treats a missing period or bound as unbounded, so an
// undated metric overlaps every period.
func periodsOverlap(a, b *models.TimePeriod) bool {
	aStart, aEnd := periodBounds(a)
	bStart, bEnd := periodBounds(b)
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

func periodBounds(p *models.TimePeriod) (time.Time, time.Time) {
	veryEarly := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	veryLate := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if p == nil {
		return veryEarly, veryLate
	}
	start, end := veryEarly, veryLate
	if p.Start != nil {
		start = *p.Start
	}
	if p.End != nil {
		end = *p.End
	}
	// A pure as-of stamp is a point in time.
	if p.Start == nil && p.End == nil && p.AsOf != nil {
		return *p.AsOf, *p.AsOf
	}
	return start, end
}

// containsToken reports whether token appears space-delimited in haystack.
// Both are already normalized, so a plain substring scan with boundary
// checks suffices.
func containsToken(haystack, token string) bool {
	for from := 0; from <= len(haystack)-len(token); {
		i := strings.Index(haystack[from:], token)
		if i < 0 {
			return false
		}
		i += from
		after := i + len(token)
		if (i == 0 || haystack[i-1] == ' ') && (after == len(haystack) || haystack[after] == ' ') {
			return true
		}
		from = i + 1
	}
	return false
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedIDs(ids ...string) []string {
	sort.Strings(ids)
	return ids
}
