package quality

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Declared thresholds for conflict severity. Divergence is relative:
// |a-b| / max(|a|,|b|).
const (
	// divergenceEqual treats values within 0.1% as the same number.
	divergenceEqual = 0.001
	// divergenceHigh marks a disagreement as high severity.
	divergenceHigh = 0.25
)

var magnitudeRe = regexp.MustCompile(`[$€£]?\s*(\d+(?:,\d{3})*(?:\.\d+)?)\s*(thousand|million|billion|trillion|mm|bn|k|m|b)?\b`)

var magnitudeScale = map[string]float64{
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"mm":       1e6,
	"million":  1e6,
	"b":        1e9,
	"bn":       1e9,
	"billion":  1e9,
	"trillion": 1e12,
}

// parseMagnitudes pulls numeric values out of free text, applying
// thousand/million/billion suffixes.
func parseMagnitudes(text string) []float64 {
	matches := magnitudeRe.FindAllStringSubmatch(strings.ToLower(text), -1)
	if len(matches) == 0 {
		return nil
	}
	values := make([]float64, 0, len(matches))
	for _, match := range matches {
		raw := strings.ReplaceAll(match[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if scale, ok := magnitudeScale[match[2]]; ok {
			v *= scale
		}
		values = append(values, v)
	}
	return values
}

// relDivergence is the plain relative disagreement between two values.
// Used for metric-metric pairs, whose units are known to match.
func relDivergence(a, b float64) float64 {
	if a == b {
		return 0
	}
	max := math.Max(math.Abs(a), math.Abs(b))
	if max == 0 {
		return 0
	}
	return math.Abs(a-b) / max
}

// scaleDivergence compares two values up to a power-of-ten scale factor, so
// a metric stored as 3.4 with unit "$M" and a claim saying "$3.4 million"
// agree. It folds the log-ratio to the nearest integer decade and reports
// how far the residual ratio sits from 1.
func scaleDivergence(a, b float64) float64 {
	if a == b {
		return 0
	}
	if a < 0 && b < 0 {
		return scaleDivergence(-a, -b)
	}
	if a <= 0 || b <= 0 {
		// Signs differ or a zero is involved; scale folding is meaningless.
		return relDivergence(a, b)
	}
	d := math.Log10(a) - math.Log10(b)
	frac := d - math.Round(d)
	return math.Abs(math.Pow(10, frac) - 1)
}

// closestDivergence returns the smallest scale divergence between the
// reference value and any of the candidates, or -1 with no candidates.
func closestDivergence(reference float64, candidates []float64) float64 {
	best := -1.0
	for _, candidate := range candidates {
		div := scaleDivergence(reference, candidate)
		if best < 0 || div < best {
			best = div
		}
	}
	return best
}

// norm collapses whitespace and case for grouping keys.
func norm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
