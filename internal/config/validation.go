package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 || c.Server.ShutdownTimeoutSeconds < 0 {
		add("server.timeouts", "timeouts must not be negative")
	}
	if c.Server.RateLimitPerMin < 0 {
		add("server.rate_limit_per_min", "must not be negative, got %d", c.Server.RateLimitPerMin)
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			add("server.trusted_proxies", "%q is not an IP address or CIDR", p)
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes", "must be positive, got %d", c.Server.MaxBodyBytes)
	}

	// Data
	if strings.TrimSpace(c.Data.TrainPath) == "" {
		add("data.train_path", "train_path is required")
	}
	if strings.TrimSpace(c.Data.AlertsPath) == "" {
		add("data.alerts_path", "alerts_path is required")
	}

	// Models
	if strings.TrimSpace(c.Models.Dir) == "" {
		add("models.dir", "dir is required")
	}
	if c.Models.RiskTrees < 1 {
		add("models.risk_trees", "must be at least 1, got %d", c.Models.RiskTrees)
	}
	if c.Models.RiskMaxDepth < 1 {
		add("models.risk_max_depth", "must be at least 1, got %d", c.Models.RiskMaxDepth)
	}
	if c.Models.AnomalyTrees < 1 {
		add("models.anomaly_trees", "must be at least 1, got %d", c.Models.AnomalyTrees)
	}
	if c.Models.AnomalySampleSize < 2 {
		add("models.anomaly_sample_size", "must be at least 2, got %d", c.Models.AnomalySampleSize)
	}
	if c.Models.Contamination <= 0 || c.Models.Contamination > 0.5 {
		add("models.contamination", "must be in (0, 0.5], got %g", c.Models.Contamination)
	}

	// Alerts
	if err := c.Thresholds().Validate(); err != nil {
		add("alerts", "%v", err)
	}
	if c.Alerts.CacheTTLSeconds < 0 {
		add("alerts.cache_ttl_seconds", "must not be negative, got %d", c.Alerts.CacheTTLSeconds)
	}
	if c.Alerts.CacheSize < 1 {
		add("alerts.cache_size", "must be at least 1, got %d", c.Alerts.CacheSize)
	}

	// Notify
	if c.Notify.SlackWebhookURL != "" {
		// The URL is a secret and is left out of the message.
		u, err := url.Parse(c.Notify.SlackWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("notify.slack_webhook_url", "must be an absolute http(s) URL")
		}
	}
	if c.Notify.TimeoutSeconds < 1 {
		add("notify.timeout_seconds", "must be at least 1, got %d", c.Notify.TimeoutSeconds)
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid level %q (want debug, info, warn or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "invalid format %q (want json or console)", c.Logging.Format)
	}

	// Tracing
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "must be in [0, 1], got %g", c.Tracing.SamplingRate)
	}
	if c.Tracing.Endpoint != "" && c.Tracing.ServiceName == "" {
		add("tracing.service_name", "service_name is required when tracing is enabled")
	}

	return errs
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
