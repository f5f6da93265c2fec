package config_test

import (
	"testing"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, time.Minute, cfg.OverlapRetry)
	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.AlertCooldown)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionHorizon)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, config.ClassifierMock, cfg.ClassifierMode)
	assert.False(t, cfg.BroadcastEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "2m")
	t.Setenv("SCAN_OVERLAP_RETRY", "30s")
	t.Setenv("SCAN_MAX_CONCURRENCY", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 30*time.Second, cfg.OverlapRetry)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.BroadcastEnabled())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "five minutes")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_OverlapRetryLongerThanInterval(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "1m")
	t.Setenv("SCAN_OVERLAP_RETRY", "5m")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_RemoteClassifierRequiresURL(t *testing.T) {
	t.Setenv("CLASSIFIER_MODE", "remote")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("MODEL_URL", "http://model:9000/predict")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.ClassifierRemote, cfg.ClassifierMode)
}

func TestLoad_UnknownClassifierMode(t *testing.T) {
	t.Setenv("CLASSIFIER_MODE", "onnx")
	_, err := config.Load()
	assert.Error(t, err)
}
