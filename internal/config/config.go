package config

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-pdsa/internal/alerts"
	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/model"
	"github.com/kubilitics/kubilitics-pdsa/internal/logger"
)

// Package config provides configuration management for pdsa-server.
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (PDSA_* prefix, plus SLACK_WEBHOOK_URL,
//      TRAIN_DATA, ALERTS_DATA and PORT)
//   3. YAML config file (default: config.yaml, optional)
//   4. .env file in the working directory (optional)
//   5. Built-in defaults (lowest priority)
//
// Alert thresholds and the Slack webhook are reloaded when the config file
// changes; every other setting requires a restart.

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host string
		Port int
		// AllowedOrigins is the CORS allow-list. ["*"] allows any origin.
		AllowedOrigins         []string
		ReadTimeoutSeconds     int
		WriteTimeoutSeconds    int
		ShutdownTimeoutSeconds int
		// RateLimitPerMin is the per-client request budget. Zero disables limiting.
		RateLimitPerMin int
		// TrustedProxies are IPs or CIDRs whose forwarding headers identify
		// the client. Empty means the connection address is always used.
		TrustedProxies []string
		MaxBodyBytes   int64
	}

	// Dataset locations used when a request does not name one
	Data struct {
		TrainPath  string
		AlertsPath string
	}

	// Model training and storage
	Models struct {
		Dir               string
		RiskTrees         int
		RiskMaxDepth      int
		AnomalyTrees      int
		AnomalySampleSize int
		Contamination     float64
		Seed              int64
	}

	// Alert prioritization
	Alerts struct {
		RedThreshold        float64
		RedAnomalyThreshold float64
		YellowThreshold     float64
		// CacheTTLSeconds is how long alert results are reused. Zero disables caching.
		CacheTTLSeconds int
		CacheSize       int
	}

	// Notification delivery
	Notify struct {
		SlackWebhookURL string
		TimeoutSeconds  int
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Tracing configuration. An empty endpoint disables tracing.
	Tracing struct {
		Endpoint     string
		SamplingRate float64
		ServiceName  string
	}
}

// Thresholds returns the alert cut-offs.
func (c *Config) Thresholds() alerts.Thresholds {
	return alerts.Thresholds{
		Red:            c.Alerts.RedThreshold,
		RedWithAnomaly: c.Alerts.RedAnomalyThreshold,
		Yellow:         c.Alerts.YellowThreshold,
	}
}

// ModelParams returns the training hyper-parameters.
func (c *Config) ModelParams() model.Params {
	return model.Params{
		RiskTrees:         c.Models.RiskTrees,
		RiskMaxDepth:      c.Models.RiskMaxDepth,
		AnomalyTrees:      c.Models.AnomalyTrees,
		AnomalySampleSize: c.Models.AnomalySampleSize,
		Contamination:     c.Models.Contamination,
		Seed:              c.Models.Seed,
	}
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.File = c.Logging.File
	lc.MaxSize = c.Logging.MaxSizeMB
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	return lc
}

// CacheTTL returns the alert cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Alerts.CacheTTLSeconds) * time.Second
}

// NotifyTimeout returns the webhook delivery timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers each valid reload.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("config.yaml")
}
