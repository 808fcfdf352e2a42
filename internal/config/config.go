// Package config loads process configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process configuration loaded from the environment.
type Config struct {
	// DatabaseDriver selects the lineage store: "sqlite" or "postgres".
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	// DatabasePath is the SQLite file path.
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	// DatabaseURL is the Postgres DSN; required when DatabaseDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// BlobURL is the gocloud bucket URL report bodies are stored in.
	BlobURL string `mapstructure:"BLOB_URL"`
	// BlobCompression is "none" or "zstd".
	BlobCompression string `mapstructure:"BLOB_COMPRESSION"`

	// QueueBackend is "memory" or "kafka".
	QueueBackend string `mapstructure:"QUEUE_BACKEND"`
	// KafkaBrokers is a comma-separated list of broker addresses.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaGroupID is the consumer group batch workers join.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LegacyBatchQueue receives dispatch messages for legacy pipeline receivers.
	LegacyBatchQueue string `mapstructure:"LEGACY_BATCH_QUEUE"`
	// UniversalBatchQueue receives dispatch messages for universal pipeline receivers.
	UniversalBatchQueue string `mapstructure:"UNIVERSAL_BATCH_QUEUE"`
	// EnqueueTimeout bounds each queue write.
	EnqueueTimeout time.Duration `mapstructure:"ENQUEUE_TIMEOUT"`

	// SettingsFile is the YAML file with organizations and receivers.
	SettingsFile string `mapstructure:"SETTINGS_FILE"`

	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`

	// MetricsAddr is the Prometheus listen address; empty disables the server.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	// DeciderInterval is the tick of `decide --loop`.
	DeciderInterval time.Duration `mapstructure:"DECIDER_INTERVAL"`
	// BatchRetries sizes the lookback window for reports awaiting batch.
	BatchRetries int `mapstructure:"BATCH_RETRIES"`
}

// LoadFile reads envFile (if present), then builds and validates Config from
// the environment. Env vars override the file; a missing file is ignored.
func LoadFile(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore a missing file

	v.AutomaticEnv()

	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "reportflow.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BLOB_URL", "file://./blobs?create_dir=true")
	v.SetDefault("BLOB_COMPRESSION", "none")
	v.SetDefault("QUEUE_BACKEND", "memory")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_GROUP_ID", "reportflow-batch-worker")
	v.SetDefault("LEGACY_BATCH_QUEUE", "batch")
	v.SetDefault("UNIVERSAL_BATCH_QUEUE", "universal-batch")
	v.SetDefault("ENQUEUE_TIMEOUT", "5s")
	v.SetDefault("SETTINGS_FILE", "settings.yaml")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("DECIDER_INTERVAL", "1m")
	v.SetDefault("BATCH_RETRIES", 2)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			return errors.New("config: DATABASE_PATH must be set for sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for postgres")
		}
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.QueueBackend {
	case "memory":
	case "kafka":
		if len(c.KafkaBrokerList()) == 0 {
			return errors.New("config: KAFKA_BROKERS must be set for the kafka queue backend")
		}
	default:
		return fmt.Errorf("config: unknown QUEUE_BACKEND %q", c.QueueBackend)
	}

	if c.BlobCompression != "none" && c.BlobCompression != "zstd" {
		return fmt.Errorf("config: unknown BLOB_COMPRESSION %q", c.BlobCompression)
	}
	if c.LegacyBatchQueue == "" || c.UniversalBatchQueue == "" {
		return errors.New("config: batch queue names must be set")
	}
	if c.BatchRetries < 0 {
		return errors.New("config: BATCH_RETRIES must not be negative")
	}
	if c.DeciderInterval <= 0 {
		return errors.New("config: DECIDER_INTERVAL must be positive")
	}
	if c.EnqueueTimeout <= 0 {
		return errors.New("config: ENQUEUE_TIMEOUT must be positive")
	}
	return nil
}

// KafkaBrokerList returns broker addresses from the comma-separated config.
func (c *Config) KafkaBrokerList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
