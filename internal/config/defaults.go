package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.ReadTimeoutSeconds = 30
	cfg.Server.WriteTimeoutSeconds = 120
	cfg.Server.ShutdownTimeoutSeconds = 15
	cfg.Server.RateLimitPerMin = 120
	cfg.Server.TrustedProxies = []string{}
	cfg.Server.MaxBodyBytes = 10 * 1024 * 1024

	// Data defaults
	cfg.Data.TrainPath = "data/sample_logs.csv"
	cfg.Data.AlertsPath = "data/sample_logs.csv"

	// Model defaults
	cfg.Models.Dir = "models_store"
	cfg.Models.RiskTrees = 150
	cfg.Models.RiskMaxDepth = 6
	cfg.Models.AnomalyTrees = 150
	cfg.Models.AnomalySampleSize = 256
	cfg.Models.Contamination = 0.1
	cfg.Models.Seed = 42

	// Alert defaults
	cfg.Alerts.RedThreshold = 0.85
	cfg.Alerts.RedAnomalyThreshold = 0.7
	cfg.Alerts.YellowThreshold = 0.55
	cfg.Alerts.CacheTTLSeconds = 30
	cfg.Alerts.CacheSize = 32

	// Notification defaults
	cfg.Notify.SlackWebhookURL = ""
	cfg.Notify.TimeoutSeconds = 5

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30

	// Tracing defaults
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1.0
	cfg.Tracing.ServiceName = "pdsa-server"

	return cfg
}
