package ml

// Severity represents the severity level of an anomaly detected by IsolationForest.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// scoreSeverity maps anomaly score to a severity level.
func scoreSeverity(score float64) Severity {
	if score > 0.85 {
		return SeverityCritical
	} else if score > 0.75 {
		return SeverityHigh
	} else if score > 0.65 {
		return SeverityMedium
	}
	return SeverityLow
}
