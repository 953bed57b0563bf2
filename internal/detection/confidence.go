package detection

import "math"

// DefaultConfidencePercent is used when a provider omits its confidence.
const DefaultConfidencePercent = 80

// ConfidencePercent converts a provider confidence in [0,1] to an integer
// percent using round-half-to-even (0.845 -> 84, 0.5 -> 50, 1.0 -> 100).
// A nil confidence maps to DefaultConfidencePercent. Out-of-range values are
// clamped.
func ConfidencePercent(c *float64) int {
	if c == nil {
		return DefaultConfidencePercent
	}
	pct := int(math.RoundToEven(*c * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
