// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	SaltStore SaltStoreConfig `mapstructure:"salt_store"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TelemetryConfig governs event batching and transport selection.
type TelemetryConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	BatchSize       int               `mapstructure:"batch_size"`
	FlushIntervalMs int               `mapstructure:"flush_interval_ms"`
	Endpoint        string            `mapstructure:"endpoint"`
	Headers         map[string]string `mapstructure:"headers"`
	DistinctID      string            `mapstructure:"distinct_id"`
	APIKey          string            `mapstructure:"api_key"`
	Transport       string            `mapstructure:"transport"`
	Salt            string            `mapstructure:"salt"`
	DataDir         string            `mapstructure:"data_dir"`
	SpoolMaxBytes   int64             `mapstructure:"spool_max_bytes"`
	SpoolMaxFiles   int               `mapstructure:"spool_max_files"`
}

// RefreshConfig governs the refresh scheduler and resolver.
type RefreshConfig struct {
	RateLimitQPS     float64 `mapstructure:"rate_limit_qps"`
	SubscriberBuffer int     `mapstructure:"subscriber_buffer"`
	PendingDir       string  `mapstructure:"pending_dir"`
	LookupEndpoint   string  `mapstructure:"lookup_endpoint"`
}

// SaltStoreConfig selects the durable salt store backend.
type SaltStoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// PubSubConfig holds metadata for the Pub/Sub telemetry transport.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.batch_size", 25)
	v.SetDefault("telemetry.flush_interval_ms", 5000)
	v.SetDefault("telemetry.transport", "local")
	v.SetDefault("telemetry.data_dir", "data")
	v.SetDefault("telemetry.spool_max_bytes", 5*1024*1024)
	v.SetDefault("telemetry.spool_max_files", 5)
	v.SetDefault("refresh.rate_limit_qps", 3)
	v.SetDefault("refresh.subscriber_buffer", 16)
	v.SetDefault("refresh.pending_dir", "data")
	v.SetDefault("salt_store.provider", "file")
	v.SetDefault("salt_store.table", "app_secrets")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Telemetry.BatchSize <= 0 {
		return fmt.Errorf("telemetry.batch_size must be > 0")
	}
	if c.Telemetry.FlushIntervalMs < 0 {
		return fmt.Errorf("telemetry.flush_interval_ms must be >= 0")
	}
	switch c.Telemetry.Transport {
	case "local", "remote", "pubsub":
	default:
		return fmt.Errorf("telemetry.transport must be local, remote, or pubsub")
	}
	if c.Telemetry.Transport == "remote" && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint must be set for the remote transport")
	}
	if c.Telemetry.Transport == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the pubsub transport")
	}
	if c.Refresh.RateLimitQPS <= 0 {
		return fmt.Errorf("refresh.rate_limit_qps must be > 0")
	}
	switch c.SaltStore.Provider {
	case "file", "memory":
	case "postgres":
		if c.SaltStore.DSN == "" {
			return fmt.Errorf("salt_store.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("salt_store.provider must be file, memory, or postgres")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FlushInterval converts the millisecond knob into a duration; 0 disables
// the flush timer.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Telemetry.FlushIntervalMs) * time.Millisecond
}
