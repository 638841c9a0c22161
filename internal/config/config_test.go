package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "DATABASE_URL", "STORE_DRIVER", "ENVIRONMENT", "LOG_LEVEL", "SERVICE_NAME",
	"TIMEZONE", "REDIS_ADDR", "REPORT_CACHE_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"TRACING_ENABLED", "JAEGER_ENDPOINT", "COMMIT_MAX_ATTEMPTS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadFileDefaultsForMemoryDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 3, cfg.CommitMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadFileRequiresDatabaseURLForPostgres(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadFileEnvironmentWinsOverDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://file\nPORT=9000\nTIMEZONE=Asia/Tehran\nKAFKA_BROKERS=a:9092, b:9092\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	t.Setenv("PORT", "9100")

	cfg, err := LoadFile(envPath)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "postgres://file", cfg.DatabaseURL)
	assert.Equal(t, "Asia/Tehran", cfg.Location.String())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                "abc",
		"STORE_DRIVER":        "mongo",
		"TIMEZONE":            "Mars/Olympus",
		"REPORT_CACHE_TTL":    "soon",
		"TRACING_ENABLED":     "maybe",
		"COMMIT_MAX_ATTEMPTS": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(key, value)

			_, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
