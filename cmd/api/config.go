package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wms-platform/purchasing-service/internal/api/handlers"
	"github.com/wms-platform/purchasing-service/pkg/kafka"
	"github.com/wms-platform/purchasing-service/pkg/mongodb"
)

// Config holds application configuration. Values come from the optional
// YAML file named by CONFIG_FILE; environment variables override it.
type Config struct {
	ServerAddr  string `yaml:"serverAddr"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`

	MongoDB *mongodb.Config `yaml:"mongodb"`
	Kafka   KafkaConfig     `yaml:"kafka"`
	Blob    BlobConfig      `yaml:"blob"`
	Tracing TracingConfig   `yaml:"tracing"`

	LegacyUploadDir         string        `yaml:"legacyUploadDir"`
	MaxUploadBytes          int64         `yaml:"maxUploadBytes"`
	ExpirationCheckInterval time.Duration `yaml:"expirationCheckInterval"`
	OutboxPollInterval      time.Duration `yaml:"outboxPollInterval"`

	// ContractValidation checks requests and outgoing events against the
	// bundled OpenAPI and AsyncAPI documents.
	ContractValidation bool `yaml:"contractValidation"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type BlobConfig struct {
	BaseURL   string        `yaml:"baseUrl"`
	PublicURL string        `yaml:"publicUrl"`
	Timeout   time.Duration `yaml:"timeout"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

func defaultConfig() *Config {
	mongoCfg := mongodb.DefaultConfig()
	return &Config{
		ServerAddr:  ":8080",
		Environment: "development",
		LogLevel:    "info",
		MongoDB:     mongoCfg,
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   kafka.Topics.PurchaseOrders,
		},
		Blob: BlobConfig{
			BaseURL: "http://localhost:9000/purchasing",
			Timeout: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:  true,
			Endpoint: "localhost:4317",
		},
		LegacyUploadDir:         "./uploads",
		MaxUploadBytes:          handlers.DefaultMaxUploadBytes,
		ExpirationCheckInterval: time.Hour,
		OutboxPollInterval:      time.Second,
	}
}

func loadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MongoDB.URI = getEnv("MONGODB_URI", cfg.MongoDB.URI)
	cfg.MongoDB.Database = getEnv("MONGODB_DATABASE", cfg.MongoDB.Database)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = kafka.ParseBrokers(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Blob.BaseURL = getEnv("BLOB_BASE_URL", cfg.Blob.BaseURL)
	cfg.Blob.PublicURL = getEnv("BLOB_PUBLIC_URL", cfg.Blob.PublicURL)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.LegacyUploadDir = getEnv("LEGACY_UPLOAD_DIR", cfg.LegacyUploadDir)

	var err error
	if cfg.Tracing.Enabled, err = envBool("TRACING_ENABLED", cfg.Tracing.Enabled); err != nil {
		return nil, err
	}
	if cfg.ContractValidation, err = envBool("CONTRACT_VALIDATION", cfg.ContractValidation); err != nil {
		return nil, err
	}
	if cfg.ExpirationCheckInterval, err = envDuration("EXPIRATION_CHECK_INTERVAL", cfg.ExpirationCheckInterval); err != nil {
		return nil, err
	}
	if cfg.OutboxPollInterval, err = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return nil, err
	}
	if raw := os.Getenv("MAX_UPLOAD_BYTES"); raw != "" {
		if cfg.MaxUploadBytes, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", raw, err)
		}
	}

	if cfg.ExpirationCheckInterval <= 0 || cfg.OutboxPollInterval <= 0 {
		return nil, fmt.Errorf("check and poll intervals must be positive")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
