package config

import (
	"context"
	"log/slog"
	"time"
)

// Settings keys that override the static configuration.
const (
	SettingEngineEnabled      = "engine.enabled"
	SettingEngineInterval     = "engine.interval"
	SettingEngineWorkers      = "engine.workers"
	SettingEngineHistoryLimit = "engine.history_limit"
)

// SettingsStore defines the interface for retrieving settings from the database.
type SettingsStore interface {
	GetSettingWithDefault(ctx context.Context, key, defaultValue string) string
	GetBoolSetting(ctx context.Context, key string, defaultValue bool) bool
	GetIntSetting(ctx context.Context, key string, defaultValue int) int
	GetDurationSetting(ctx context.Context, key string, defaultValue time.Duration) time.Duration
}

// LoadRuntimeConfig loads configuration from both static config and database.
// Database values override static config values for engine tuning.
func LoadRuntimeConfig(ctx context.Context, staticConfig *Config, store SettingsStore, log *slog.Logger) *Config {
	cfg := *staticConfig

	if store == nil {
		log.Debug("no settings store provided, using static configuration only")
		return &cfg
	}

	cfg.Engine.Enabled = store.GetBoolSetting(ctx, SettingEngineEnabled, cfg.Engine.Enabled)
	cfg.Engine.Interval = store.GetDurationSetting(ctx, SettingEngineInterval, cfg.Engine.Interval)
	cfg.Engine.Workers = store.GetIntSetting(ctx, SettingEngineWorkers, cfg.Engine.Workers)
	cfg.Engine.HistoryLimit = store.GetIntSetting(ctx, SettingEngineHistoryLimit, cfg.Engine.HistoryLimit)

	cfg.Prometheus.URL = store.GetSettingWithDefault(ctx, "prometheus.url", cfg.Prometheus.URL)
	cfg.Prometheus.Timeout = store.GetDurationSetting(ctx, "prometheus.timeout", cfg.Prometheus.Timeout)
	cfg.ClickHouse.Timeout = store.GetDurationSetting(ctx, "clickhouse.timeout", cfg.ClickHouse.Timeout)

	cfg.SMTP.Timeout = store.GetDurationSetting(ctx, "smtp.timeout", cfg.SMTP.Timeout)
	cfg.SMTP.TLSInsecureSkipVerify = store.GetBoolSetting(ctx, "smtp.tls_insecure_skip_verify", cfg.SMTP.TLSInsecureSkipVerify)
	cfg.HTTP.DefaultTimeout = store.GetDurationSetting(ctx, "http.default_timeout", cfg.HTTP.DefaultTimeout)

	// Invalid settings rows fall back to the static values.
	if cfg.Engine.Interval <= 0 {
		log.Warn("ignoring non-positive engine.interval setting", "value", cfg.Engine.Interval)
		cfg.Engine.Interval = staticConfig.Engine.Interval
	}
	if cfg.Engine.Workers < 1 {
		log.Warn("ignoring engine.workers setting below 1", "value", cfg.Engine.Workers)
		cfg.Engine.Workers = staticConfig.Engine.Workers
	}

	log.Debug("runtime configuration loaded (static config + database settings)")
	return &cfg
}
