package thresholds

// Metric names understood by the default rule table.
const (
	MetricHealthScore         = "health_score"
	MetricCoverage            = "coverage"
	MetricMargin              = "margin"
	MetricContinuity          = "continuity"
	MetricCollapseProbability = "collapse_probability"
	MetricCriticalFraction    = "critical_fraction"
	MetricFatalPairs          = "fatal_pairs"
	MetricRecoveryHours       = "recovery_hours"

	// MetricOverall is the pseudo-metric carrying the worst tier of a run.
	MetricOverall = "overall"
)

// compareFloat applies a comparison operator to two float64 values.
// Unknown operators never match.
func compareFloat(v float64, op string, bound float64) bool {
	switch op {
	case ">":
		return v > bound
	case ">=":
		return v >= bound
	case "<":
		return v < bound
	case "<=":
		return v <= bound
	default:
		return false
	}
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=":
		return true
	default:
		return false
	}
}
