package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-portal/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "portal_session", cfg.SessionCookie)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "Require", cfg.PolicyConvention().Prefix)
	assert.Equal(t, "Permission", cfg.PolicyConvention().Suffix)
	assert.True(t, cfg.SyncLock)
	assert.False(t, cfg.EventsEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("AUTHZ_POLICY_PREFIX", "Needs")
	t.Setenv("AUTHZ_SYNC_LOCK", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.EventsEnabled())
	assert.Equal(t, "Needs", cfg.PolicyConvention().Prefix)
	assert.False(t, cfg.SyncLock)
}

func TestLoadConfigRejectsEmptyConvention(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("AUTHZ_POLICY_PREFIX", "")
	t.Setenv("AUTHZ_POLICY_SUFFIX", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warning "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSkipStartup(t *testing.T) {
	t.Setenv("PORTAL_TEST_MODE", "1")
	assert.True(t, SkipStartup("portal"))

	t.Setenv("PORTAL_TEST_MODE", "false")
	assert.False(t, SkipStartup("portal"))

	t.Setenv("PORTAL_TEST_MODE", "not-a-bool")
	assert.False(t, SkipStartup("portal"))
}

func TestLoggerCarriesRequestScope(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "debug"})

	logger.DebugContext(shared.WithRequestID(context.Background(), "req-9"), "checked")
	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}
