// Package config loads the promalert configuration from a TOML file and
// PROMALERT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PROMALERT_"

// Config is the static configuration of the service.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Engine     EngineConfig     `koanf:"engine"`
	Prometheus PrometheusConfig `koanf:"prometheus"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
	SMTP       SMTPConfig       `koanf:"smtp"`
	HTTP       HTTPConfig       `koanf:"http"`
	NATS       NATSConfig       `koanf:"nats"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds admin API settings.
type ServerConfig struct {
	Address           string        `koanf:"address"`
	HTTPServerTimeout time.Duration `koanf:"http_server_timeout"`
}

// StoreConfig selects and tunes the relational store.
type StoreConfig struct {
	Driver       string        `koanf:"driver"` // sqlite, mysql, postgres
	DSN          string        `koanf:"dsn"`
	BusyTimeout  time.Duration `koanf:"busy_timeout"`
	MaxOpenConns int           `koanf:"max_open_conns"`
}

// EngineConfig controls the evaluation scheduler.
type EngineConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	Workers      int           `koanf:"workers"`
	HistoryLimit int           `koanf:"history_limit"`
}

// PrometheusConfig points at the Prometheus HTTP API.
type PrometheusConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// ClickHouseConfig enables the ClickHouse datasource when Addr is set.
type ClickHouseConfig struct {
	Addr     string        `koanf:"addr"`
	Database string        `koanf:"database"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

type SMTPConfig struct {
	Timeout               time.Duration `koanf:"timeout"`
	TLSInsecureSkipVerify bool          `koanf:"tls_insecure_skip_verify"`
}

type HTTPConfig struct {
	DefaultTimeout time.Duration `koanf:"default_timeout"`
}

// NATSConfig enables history event publishing when URL is set.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	ConfigPath string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           "127.0.0.1:9095",
			HTTPServerTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			DSN:          "promalert.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 10,
		},
		Engine: EngineConfig{
			Enabled:      true,
			Interval:     30 * time.Second,
			Workers:      2,
			HistoryLimit: 50,
		},
		Prometheus: PrometheusConfig{
			URL:     "http://localhost:9090",
			Timeout: 10 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Database: "default",
			Username: "default",
			Timeout:  10 * time.Second,
		},
		SMTP: SMTPConfig{
			Timeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			DefaultTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			Subject: "promalert.history",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file, if present, then overlays environment
// variables. PROMALERT_STORE__BUSY_TIMEOUT maps to store.busy_timeout.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", opts.ConfigPath, err)
		}
		if err := k.Load(file.Provider(opts.ConfigPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return envToKey(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite, mysql or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	return nil
}

// envToKey converts an environment variable suffix to a config key.
// Double underscores separate sections: SERVER__HTTP_SERVER_TIMEOUT -> server.http_server_timeout.
func envToKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
