// Package alerts fuses model outputs into prioritized alerts with
// remediation steps and delivers urgent ones to Slack.
package alerts

import (
	"errors"
	"fmt"
)

// Priority is the urgency of an alert.
type Priority string

const (
	Green  Priority = "GREEN"
	Yellow Priority = "YELLOW"
	Red    Priority = "RED"
)

// Priorities lists every priority from least to most urgent.
var Priorities = []Priority{Green, Yellow, Red}

// Thresholds are the risk score cut-offs used by ScoreToPriority.
type Thresholds struct {
	Red            float64 `json:"red" mapstructure:"red_threshold"`
	RedWithAnomaly float64 `json:"red_with_anomaly" mapstructure:"red_anomaly_threshold"`
	Yellow         float64 `json:"yellow" mapstructure:"yellow_threshold"`
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Red: 0.85, RedWithAnomaly: 0.7, Yellow: 0.55}
}

// Validate checks that all cut-offs lie in [0,1] and are ordered
// Yellow <= RedWithAnomaly <= Red.
func (t Thresholds) Validate() error {
	var errs []error
	for name, v := range map[string]float64{"red": t.Red, "red_with_anomaly": t.RedWithAnomaly, "yellow": t.Yellow} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s threshold %.3f outside [0,1]", name, v))
		}
	}
	if t.Yellow > t.RedWithAnomaly || t.RedWithAnomaly > t.Red {
		errs = append(errs, fmt.Errorf("thresholds must satisfy yellow (%.3f) <= red_with_anomaly (%.3f) <= red (%.3f)",
			t.Yellow, t.RedWithAnomaly, t.Red))
	}
	return errors.Join(errs...)
}

// ScoreToPriority maps a risk score and anomaly flag to a priority.
func (t Thresholds) ScoreToPriority(score float64, anomaly bool) Priority {
	if score >= t.Red || (anomaly && score >= t.RedWithAnomaly) {
		return Red
	}
	if score >= t.Yellow || anomaly {
		return Yellow
	}
	return Green
}

// ScoreToPriority applies DefaultThresholds.
func ScoreToPriority(score float64, anomaly bool) Priority {
	return DefaultThresholds().ScoreToPriority(score, anomaly)
}

// RecommendedActions returns the remediation steps for a priority, in order.
func RecommendedActions(p Priority) []string {
	switch p {
	case Red:
		return []string{
			"Throttle non-critical workloads",
			"Scale up pods/instances",
			"Restart affected service with drain",
			"Escalate to on-call SRE",
		}
	case Yellow:
		return []string{
			"Investigate recent deploys",
			"Check spikes in CPU/memory/disk",
			"Increase resource limits if necessary",
		}
	default:
		return []string{"No action required", "Monitor metrics"}
	}
}

// Summarize returns the one-line summary shown for a priority.
func Summarize(p Priority) string {
	switch p {
	case Red:
		return "Imminent failure risk detected. Immediate action recommended."
	case Yellow:
		return "Elevated risk. Investigate and mitigate to prevent downtime."
	default:
		return "System healthy."
	}
}

// NewTotals returns a zeroed count for every priority.
func NewTotals() map[string]int {
	totals := make(map[string]int, len(Priorities))
	for _, p := range Priorities {
		totals[string(p)] = 0
	}
	return totals
}
