package quality

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/models"
)

// raiseQuestions applies one deterministic rule per question category over
// the fact set. Every question links the facts that motivated it.
func raiseQuestions(tenantID, versionID string, claims []*models.Claim, metrics []*models.Metric, risks []*models.Risk) []*models.OpenQuestion {
	var questions []*models.OpenQuestion
	newQuestion := func(category models.QuestionCategory, key, text string, factIDs ...string) {
		sort.Strings(factIDs)
		questions = append(questions, &models.OpenQuestion{
			ID:         common.NewOpenQuestionID(),
			TenantID:   tenantID,
			VersionID:  versionID,
			ContentKey: key,
			Category:   category,
			Question:   text,
			FactIDs:    factIDs,
			CreatedAt:  time.Now().UTC(),
		})
	}

	for _, m := range metrics {
		// missing_data: the extractor kept the verbatim text but could not
		// parse a number out of it.
		if m.Value == nil {
			newQuestion(models.QuestionMissingData,
				fmt.Sprintf("missing_data|metric|%s|%s", norm(m.Entity), norm(m.MetricName)),
				fmt.Sprintf("What is the numeric value of %s for %s? The document reports it as %q.",
					m.MetricName, m.Entity, m.ValueText),
				m.ID)
			continue
		}
		// temporal: a number with no stated period cannot be compared
		// across versions or sources.
		if m.Period == nil {
			newQuestion(models.QuestionTemporal,
				fmt.Sprintf("temporal|metric|%s|%s", norm(m.Entity), norm(m.MetricName)),
				fmt.Sprintf("Which period does %s = %s for %s refer to? No time period is stated.",
					m.MetricName, m.ValueText, m.Entity),
				m.ID)
		}
	}

	// methodology: the same entity and metric reported in incompatible
	// units. The numeric detectors skip these pairs, so surface them here.
	for _, group := range metricGroups(metrics) {
		units := make(map[string][]*models.Metric)
		for _, m := range group {
			units[norm(m.Unit)+"|"+norm(m.Currency)] = append(units[norm(m.Unit)+"|"+norm(m.Currency)], m)
		}
		if len(units) < 2 {
			continue
		}
		unitKeys := make([]string, 0, len(units))
		var ids []string
		for key, members := range units {
			unitKeys = append(unitKeys, key)
			for _, m := range members {
				ids = append(ids, m.ID)
			}
		}
		sort.Strings(unitKeys)
		sort.Strings(ids)
		first := group[0]
		newQuestion(models.QuestionMethodology,
			fmt.Sprintf("methodology|metric|%s|%s|%s", norm(first.Entity), norm(first.MetricName), strings.Join(unitKeys, "&")),
			fmt.Sprintf("%s for %s is reported in incompatible units; which measurement basis applies?",
				first.MetricName, first.Entity),
			ids...)
	}

	for _, c := range claims {
		// ambiguous: speculative assertions need corroboration before they
		// can be relied on.
		if c.Certainty == models.CertaintySpeculative {
			newQuestion(models.QuestionAmbiguous,
				fmt.Sprintf("ambiguous|claim|%s|%s|%s", norm(c.Subject), c.Predicate, norm(c.Object)),
				fmt.Sprintf("Can the speculative claim %q %s %q be corroborated?", c.Subject, c.Predicate, c.Object),
				c.ID)
		}
		// verification: a definite assertion from a source of unknown
		// reliability is a verification gap, not an extraction gap.
		if c.Certainty == models.CertaintyDefinite && c.Reliability == models.ReliabilityUnknown {
			newQuestion(models.QuestionVerification,
				fmt.Sprintf("verification|claim|%s|%s|%s", norm(c.Subject), c.Predicate, norm(c.Object)),
				fmt.Sprintf("What source backs the claim %q %s %q?", c.Subject, c.Predicate, c.Object),
				c.ID)
		}
	}

	// clarification: a risk without a rationale cannot be weighed.
	for _, r := range risks {
		if r.Rationale == "" {
			newQuestion(models.QuestionClarification,
				fmt.Sprintf("clarification|risk|%s|%s", norm(r.RiskType), norm(r.Statement)),
				fmt.Sprintf("What is the basis for the %s risk %q?", r.RiskType, r.Statement),
				r.ID)
		}
	}

	return questions
}
