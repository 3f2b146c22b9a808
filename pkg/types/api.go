package types

// Package types defines public API types shared between pdsa-server and its clients
// (pdsactl, the terminal dashboard).
//
// These types define the REST API contracts.

// Request types

// LogRecord is one telemetry sample submitted for scoring.
type LogRecord struct {
	Timestamp string  `json:"timestamp" yaml:"timestamp"`
	CPU       float64 `json:"cpu" yaml:"cpu"`
	Memory    float64 `json:"memory" yaml:"memory"`
	DiskIO    float64 `json:"disk_io" yaml:"disk_io"`
	NetIO     float64 `json:"net_io" yaml:"net_io"`
	Errors    int     `json:"errors" yaml:"errors"`
}

// PredictRequest scores a batch of telemetry records.
type PredictRequest struct {
	Records []LogRecord `json:"records"`
}

// Response types

// TrainResponse reports a completed training run.
type TrainResponse struct {
	Status  string `json:"status" yaml:"status"`
	Samples int    `json:"samples" yaml:"samples"`
}

// PredictResponse carries one risk score and one anomaly flag per submitted record.
type PredictResponse struct {
	RiskScores   []float64 `json:"risk_scores" yaml:"risk_scores"`
	AnomalyFlags []int     `json:"anomaly_flags" yaml:"anomaly_flags"`
}

// AlertItem is a prioritized alert for a single telemetry sample.
type AlertItem struct {
	Timestamp          string   `json:"timestamp" yaml:"timestamp"`
	Priority           string   `json:"priority" yaml:"priority"`
	RiskScore          float64  `json:"risk_score" yaml:"risk_score"`
	Anomaly            bool     `json:"anomaly" yaml:"anomaly"`
	Summary            string   `json:"summary" yaml:"summary"`
	RecommendedActions []string `json:"recommended_actions" yaml:"recommended_actions"`
}

// AlertsResponse lists alerts in dataset order with per-priority totals.
type AlertsResponse struct {
	Alerts []AlertItem    `json:"alerts" yaml:"alerts"`
	Totals map[string]int `json:"totals" yaml:"totals"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is returned by /ready.
type ReadyResponse struct {
	Status        string `json:"status"`
	ModelsTrained bool   `json:"models_trained"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
