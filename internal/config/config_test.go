package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the manager reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SLACK_WEBHOOK_URL", "TRAIN_DATA", "ALERTS_DATA", "PORT",
		"PDSA_SERVER_PORT", "PDSA_NOTIFY_SLACK_WEBHOOK_URL", "PDSA_DATA_TRAIN_PATH",
		"PDSA_DATA_ALERTS_PATH", "PDSA_ALERTS_RED_THRESHOLD", "PDSA_LOGGING_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func loadFrom(t *testing.T, content string) ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	return mgr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "data/sample_logs.csv", cfg.Data.TrainPath)
	assert.Equal(t, "models_store", cfg.Models.Dir)
	assert.Equal(t, 150, cfg.Models.RiskTrees)
	assert.Equal(t, int64(42), cfg.Models.Seed)
	assert.Equal(t, 0.85, cfg.Alerts.RedThreshold)
	assert.Equal(t, 5, cfg.Notify.TimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Tracing.Endpoint)

	assert.Empty(t, cfg.Validate())
}

func TestConfigHelpers(t *testing.T) {
	cfg := DefaultConfig()

	th := cfg.Thresholds()
	assert.Equal(t, 0.85, th.Red)
	assert.Equal(t, 0.7, th.RedWithAnomaly)
	assert.Equal(t, 0.55, th.Yellow)

	p := cfg.ModelParams()
	assert.Equal(t, 256, p.AnomalySampleSize)
	assert.Equal(t, 0.1, p.Contamination)

	assert.Equal(t, 30*time.Second, cfg.CacheTTL())
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout())
	assert.Equal(t, "json", cfg.LoggerConfig().Format)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		modifyFn func(*Config)
		errorMsg string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "port must be between 1 and 65535"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMin = -1 }, "server.rate_limit_per_min"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} }, `"proxy.local" is not an IP address or CIDR`},
		{"empty train path", func(c *Config) { c.Data.TrainPath = " " }, "train_path is required"},
		{"no trees", func(c *Config) { c.Models.RiskTrees = 0 }, "models.risk_trees"},
		{"contamination too high", func(c *Config) { c.Models.Contamination = 0.6 }, "models.contamination"},
		{"unordered thresholds", func(c *Config) { c.Alerts.YellowThreshold = 0.9 }, "yellow"},
		{"bad webhook", func(c *Config) { c.Notify.SlackWebhookURL = "not a url" }, "absolute http(s) URL"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad sampling rate", func(c *Config) { c.Tracing.SamplingRate = 2 }, "tracing.sampling_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)
			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, joinValidation(errs).Error(), tt.errorMsg)
		})
	}
}

func TestValidation_WebhookNotEchoed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Notify.SlackWebhookURL = "hooks.slack.com/services/SECRET"
	err := joinValidation(cfg.Validate())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestConfigManagerLoadFromFile(t *testing.T) {
	clearEnv(t)
	mgr := loadFrom(t, `
server:
  port: 9090
  allowed_origins: ["http://localhost:8501"]
  trusted_proxies: ["10.0.0.1", "172.16.0.0/12"]
data:
  train_path: "train.csv"
models:
  dir: "/var/lib/pdsa"
  risk_trees: 20
alerts:
  red_threshold: 0.9
  cache_ttl_seconds: 0
logging:
  level: debug
  format: console
`)
	ctx := context.Background()
	cfg := mgr.Get(ctx)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:8501"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "train.csv", cfg.Data.TrainPath)
	assert.Equal(t, "data/sample_logs.csv", cfg.Data.AlertsPath, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/pdsa", cfg.Models.Dir)
	assert.Equal(t, 20, cfg.Models.RiskTrees)
	assert.Equal(t, 150, cfg.Models.AnomalyTrees)
	assert.Equal(t, 0.9, cfg.Alerts.RedThreshold)
	assert.Zero(t, cfg.Alerts.CacheTTLSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerMissingFile(t *testing.T) {
	clearEnv(t)
	mgr := loadFrom(t, "")
	cfg := mgr.Get(context.Background())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 0.55, cfg.Alerts.YellowThreshold)
}

func TestConfigManagerInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.Error(t, mgr.Load(context.Background()))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDSA_SERVER_PORT", "7070")
	t.Setenv("PDSA_ALERTS_RED_THRESHOLD", "0.95")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example.com/abc")
	t.Setenv("TRAIN_DATA", "env-train.csv")

	mgr := loadFrom(t, `
server:
  port: 8081
alerts:
  red_threshold: 0.8
`)
	cfg := mgr.Get(context.Background())

	assert.Equal(t, 7070, cfg.Server.Port, "prefixed env overrides the file")
	assert.Equal(t, 0.95, cfg.Alerts.RedThreshold)
	assert.Equal(t, "https://hooks.example.com/abc", cfg.Notify.SlackWebhookURL)
	assert.Equal(t, "env-train.csv", cfg.Data.TrainPath)
}

func TestConfigManagerLegacyEnvPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	mgr := loadFrom(t, "")
	assert.Equal(t, 9000, mgr.Get(context.Background()).Server.Port)

	t.Setenv("PDSA_SERVER_PORT", "9100")
	mgr = loadFrom(t, "")
	assert.Equal(t, 9100, mgr.Get(context.Background()).Server.Port, "prefixed name wins")

	t.Setenv("PDSA_SERVER_PORT", "")
	t.Setenv("PORT", "eighty")
	path := filepath.Join(t.TempDir(), "config.yaml")
	bad, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.Error(t, bad.Load(context.Background()))
}

func TestConfigManagerDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ALERTS_DATA=from-dotenv.csv\n"), 0o644))
	t.Chdir(dir)
	// godotenv sets variables directly; drop it when the test ends.
	t.Cleanup(func() { os.Unsetenv("ALERTS_DATA") })
	os.Unsetenv("ALERTS_DATA")

	mgr, err := NewConfigManager(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, "from-dotenv.csv", mgr.Get(context.Background()).Data.AlertsPath)
}

func TestConfigManagerValidation(t *testing.T) {
	clearEnv(t)
	mgr := loadFrom(t, `
server:
  port: 99999
models:
  contamination: 0.9
`)
	err := mgr.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "models.contamination")
}

func TestConfigManagerReload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alerts:\n  yellow_threshold: 0.5\n"), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 0.5, mgr.Get(ctx).Alerts.YellowThreshold)

	require.NoError(t, os.WriteFile(path, []byte("alerts:\n  yellow_threshold: 0.6\n"), 0o644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 0.6, mgr.Get(ctx).Alerts.YellowThreshold)
}

func TestConfigManagerWatch(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alerts:\n  red_threshold: 0.85\n"), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Load(ctx))

	updates := mgr.Watch(ctx)
	require.NoError(t, os.WriteFile(path, []byte("alerts:\n  red_threshold: 0.9\n"), 0o644))

	// A rewrite can surface as several events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-updates:
			if cfg.Alerts.RedThreshold == 0.9 {
				assert.Equal(t, 0.9, mgr.Get(ctx).Alerts.RedThreshold)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
