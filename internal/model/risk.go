package model

// RiskLevelOf buckets a numeric risk score into the label used for
// severities and graph annotations.
func RiskLevelOf(score float64) string {
	switch {
	case score < 0.3:
		return "low"
	case score < 0.6:
		return "medium"
	case score < 0.8:
		return "high"
	default:
		return "critical"
	}
}
