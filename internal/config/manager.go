package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// legacyEnv maps unprefixed environment variables onto config keys. The
// PDSA_-prefixed form wins when both are set.
var legacyEnv = []struct {
	name string
	key  string
}{
	{"SLACK_WEBHOOK_URL", "notify.slack_webhook_url"},
	{"TRAIN_DATA", "data.train_path"},
	{"ALERTS_DATA", "data.alerts_path"},
	{"PORT", "server.port"},
}

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	fileLoaded bool
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// .env is optional; existing environment variables are never overwritten.
	_ = godotenv.Load()

	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("PDSA")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		m.fileLoaded = true
	}

	cfg, err := m.unmarshalConfig()
	if err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.set(cfg)
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidation(m.Get(ctx).Validate())
}

func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var errMsgs []string
	for _, err := range errs {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
}

// Watch watches the config file for changes. Each reload that unmarshals and
// validates is delivered on the returned channel; invalid edits are skipped
// and the previous configuration stays active. Without a config file the
// channel never fires.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.viper == nil || !m.fileLoaded {
		return m.watchChan
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg, err := m.unmarshalConfig()
		if err != nil || len(cfg.Validate()) > 0 {
			return
		}
		m.set(cfg)
		// Keep only the newest pending update.
		select {
		case <-m.watchChan:
		default:
		}
		select {
		case m.watchChan <- *cfg:
		default:
		}
	})
	m.viper.WatchConfig()
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := m.unmarshalConfig()
	if err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.set(cfg)
	return nil
}

func (m *viperConfigManager) set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	m.viper.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)
	m.viper.SetDefault("server.trusted_proxies", defaults.Server.TrustedProxies)
	m.viper.SetDefault("server.max_body_bytes", defaults.Server.MaxBodyBytes)

	// Data defaults
	m.viper.SetDefault("data.train_path", defaults.Data.TrainPath)
	m.viper.SetDefault("data.alerts_path", defaults.Data.AlertsPath)

	// Model defaults
	m.viper.SetDefault("models.dir", defaults.Models.Dir)
	m.viper.SetDefault("models.risk_trees", defaults.Models.RiskTrees)
	m.viper.SetDefault("models.risk_max_depth", defaults.Models.RiskMaxDepth)
	m.viper.SetDefault("models.anomaly_trees", defaults.Models.AnomalyTrees)
	m.viper.SetDefault("models.anomaly_sample_size", defaults.Models.AnomalySampleSize)
	m.viper.SetDefault("models.contamination", defaults.Models.Contamination)
	m.viper.SetDefault("models.seed", defaults.Models.Seed)

	// Alert defaults
	m.viper.SetDefault("alerts.red_threshold", defaults.Alerts.RedThreshold)
	m.viper.SetDefault("alerts.red_anomaly_threshold", defaults.Alerts.RedAnomalyThreshold)
	m.viper.SetDefault("alerts.yellow_threshold", defaults.Alerts.YellowThreshold)
	m.viper.SetDefault("alerts.cache_ttl_seconds", defaults.Alerts.CacheTTLSeconds)
	m.viper.SetDefault("alerts.cache_size", defaults.Alerts.CacheSize)

	// Notification defaults
	m.viper.SetDefault("notify.slack_webhook_url", defaults.Notify.SlackWebhookURL)
	m.viper.SetDefault("notify.timeout_seconds", defaults.Notify.TimeoutSeconds)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Tracing defaults
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
	m.viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
}

// unmarshalConfig builds a Config from the current viper state and the
// legacy environment variables.
func (m *viperConfigManager) unmarshalConfig() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.ReadTimeoutSeconds = m.viper.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = m.viper.GetInt("server.write_timeout_seconds")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")
	cfg.Server.TrustedProxies = m.viper.GetStringSlice("server.trusted_proxies")
	cfg.Server.MaxBodyBytes = m.viper.GetInt64("server.max_body_bytes")

	// Data
	cfg.Data.TrainPath = m.viper.GetString("data.train_path")
	cfg.Data.AlertsPath = m.viper.GetString("data.alerts_path")

	// Models
	cfg.Models.Dir = m.viper.GetString("models.dir")
	cfg.Models.RiskTrees = m.viper.GetInt("models.risk_trees")
	cfg.Models.RiskMaxDepth = m.viper.GetInt("models.risk_max_depth")
	cfg.Models.AnomalyTrees = m.viper.GetInt("models.anomaly_trees")
	cfg.Models.AnomalySampleSize = m.viper.GetInt("models.anomaly_sample_size")
	cfg.Models.Contamination = m.viper.GetFloat64("models.contamination")
	cfg.Models.Seed = m.viper.GetInt64("models.seed")

	// Alerts
	cfg.Alerts.RedThreshold = m.viper.GetFloat64("alerts.red_threshold")
	cfg.Alerts.RedAnomalyThreshold = m.viper.GetFloat64("alerts.red_anomaly_threshold")
	cfg.Alerts.YellowThreshold = m.viper.GetFloat64("alerts.yellow_threshold")
	cfg.Alerts.CacheTTLSeconds = m.viper.GetInt("alerts.cache_ttl_seconds")
	cfg.Alerts.CacheSize = m.viper.GetInt("alerts.cache_size")

	// Notify
	cfg.Notify.SlackWebhookURL = m.viper.GetString("notify.slack_webhook_url")
	cfg.Notify.TimeoutSeconds = m.viper.GetInt("notify.timeout_seconds")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Tracing
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")
	cfg.Tracing.ServiceName = m.viper.GetString("tracing.service_name")

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies the unprefixed environment variables.
func applyEnvOverrides(cfg *Config) error {
	for _, e := range legacyEnv {
		value := os.Getenv(e.name)
		if value == "" {
			continue
		}
		prefixed := "PDSA_" + strings.ToUpper(strings.ReplaceAll(e.key, ".", "_"))
		if os.Getenv(prefixed) != "" {
			continue
		}
		switch e.key {
		case "notify.slack_webhook_url":
			cfg.Notify.SlackWebhookURL = value
		case "data.train_path":
			cfg.Data.TrainPath = value
		case "data.alerts_path":
			cfg.Data.AlertsPath = value
		case "server.port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s: invalid port %q", e.name, value)
			}
			cfg.Server.Port = port
		}
	}
	return nil
}
