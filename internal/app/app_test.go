package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Smalik1203/ktscb-sub006/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			URL:           "https://gateway.test/push",
			AccessToken:   "tok",
			BatchLimit:    50,
			Timeout:       5 * time.Second,
			RatePerSecond: 3,
			UserAgent:     "test-agent",
		},
		Worker: config.WorkerConfig{
			BatchSize:       200,
			SendConcurrency: 2,
			TimeBudget:      10 * time.Second,
			LeaseTTL:        30 * time.Second,
			DeadlineReserve: 2 * time.Second,
		},
	}
}

func TestWorkerConfig(t *testing.T) {
	wc := WorkerConfig(testConfig())
	assert.Equal(t, 200, wc.BatchSize)
	assert.Equal(t, 50, wc.GatewayLimit)
	assert.Equal(t, 2, wc.SendConcurrency)
	assert.Equal(t, 10*time.Second, wc.TimeBudget)
	assert.Equal(t, 30*time.Second, wc.LeaseTTL)
	assert.Equal(t, 2*time.Second, wc.DeadlineReserve)
}

func TestNewGatewayClient(t *testing.T) {
	c := NewGatewayClient(testConfig())
	require.NotNil(t, c)
	assert.Equal(t, 50, c.BatchLimit())
}

func TestNewLogger_Levels(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			l := NewLogger(in)
			assert.True(t, l.Enabled(t.Context(), want))
			if want > slog.LevelDebug {
				assert.False(t, l.Enabled(t.Context(), want-4))
			}
		})
	}
}

func TestSlogAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	NewTypedLogger(base).With("job_id", "j-1").Warn("gateway slow", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "gateway slow", rec["msg"])
	assert.Equal(t, "j-1", rec["job_id"])
	assert.EqualValues(t, 2, rec["attempt"])
}
