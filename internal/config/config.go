package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Classifier strategies selectable via CLASSIFIER_MODE.
const (
	ClassifierMock   = "mock"
	ClassifierRemote = "remote"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	Database DatabaseConfig

	// Scan loop.
	ScanInterval    time.Duration // full cycle cadence
	OverlapRetry    time.Duration // wait when a cycle is still in flight
	MaxConcurrency  int           // simultaneous camera pipelines
	AlertCooldown   time.Duration
	ClearSampleRate float64 // fraction of confidently-clear frames stored

	// Retention.
	RetentionHorizon time.Duration
	SweepBatchSize   int

	// Feed fetching.
	FeedTimeout time.Duration
	FeedReferer string

	// Classifier.
	ClassifierMode string
	ModelURL       string
	ModelTimeout   time.Duration

	// Image storage.
	ImageUploadURL string
	ImageUploadKey string
	ImageDir       string

	// Push / email delivery.
	FCMServerKey string
	SMTPAddr     string
	SMTPFrom     string

	// Broadcast.
	KafkaBrokers    []string
	KafkaAlertTopic string
}

// DatabaseConfig is the Postgres connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	scanInterval, err := envDuration("SCAN_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	overlapRetry, err := envDuration("SCAN_OVERLAP_RETRY", "1m")
	if err != nil {
		return nil, err
	}
	cooldown, err := envDuration("ALERT_COOLDOWN", "30m")
	if err != nil {
		return nil, err
	}
	horizon, err := envDuration("RETENTION_HORIZON", "168h")
	if err != nil {
		return nil, err
	}
	feedTimeout, err := envDuration("FEED_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	modelTimeout, err := envDuration("MODEL_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	sampleRate, err := envFloat("CLEAR_SAMPLE_RATE", 0.05)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Database: DatabaseConfig{
			Host:     envOrDefault("DB_HOST", "localhost"),
			Port:     envOrDefault("DB_PORT", "5432"),
			User:     envOrDefault("DB_USER", "postgres"),
			Password: envOrDefault("DB_PASSWORD", "postgres"),
			Name:     envOrDefault("DB_NAME", "rainvision"),
			SSLMode:  envOrDefault("DB_SSLMODE", "disable"),
		},

		ScanInterval:    scanInterval,
		OverlapRetry:    overlapRetry,
		MaxConcurrency:  envInt("SCAN_MAX_CONCURRENCY", 5),
		AlertCooldown:   cooldown,
		ClearSampleRate: sampleRate,

		RetentionHorizon: horizon,
		SweepBatchSize:   envInt("SWEEP_BATCH_SIZE", 100),

		FeedTimeout: feedTimeout,
		FeedReferer: envOrDefault("FEED_REFERER", "http://giaothong.hochiminhcity.gov.vn/"),

		ClassifierMode: envOrDefault("CLASSIFIER_MODE", ClassifierMock),
		ModelURL:       os.Getenv("MODEL_URL"),
		ModelTimeout:   modelTimeout,

		ImageUploadURL: os.Getenv("IMAGE_UPLOAD_URL"),
		ImageUploadKey: os.Getenv("IMAGE_UPLOAD_KEY"),
		ImageDir:       envOrDefault("IMAGE_DIR", "data/rain_logs"),

		FCMServerKey: os.Getenv("FCM_SERVER_KEY"),
		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPFrom:     envOrDefault("SMTP_FROM", "alerts@rainvision.local"),

		KafkaBrokers:    splitBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic: envOrDefault("KAFKA_ALERT_TOPIC", "rain-alerts"),
	}

	if cfg.ScanInterval <= 0 {
		return nil, errors.New("SCAN_INTERVAL must be positive")
	}
	if cfg.OverlapRetry <= 0 || cfg.OverlapRetry > cfg.ScanInterval {
		return nil, errors.New("SCAN_OVERLAP_RETRY must be positive and no longer than SCAN_INTERVAL")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, errors.New("SCAN_MAX_CONCURRENCY must be at least 1")
	}
	if cfg.ClearSampleRate < 0 || cfg.ClearSampleRate > 1 {
		return nil, errors.New("CLEAR_SAMPLE_RATE must be in [0,1]")
	}
	if cfg.SweepBatchSize < 1 {
		return nil, errors.New("SWEEP_BATCH_SIZE must be at least 1")
	}
	switch cfg.ClassifierMode {
	case ClassifierMock:
	case ClassifierRemote:
		if cfg.ModelURL == "" {
			return nil, errors.New("CLASSIFIER_MODE is remote but MODEL_URL is not set")
		}
	default:
		return nil, fmt.Errorf("unknown CLASSIFIER_MODE %q", cfg.ClassifierMode)
	}

	return cfg, nil
}

// BroadcastEnabled reports whether a Kafka alert broadcaster should be wired.
func (c *Config) BroadcastEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func splitBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
