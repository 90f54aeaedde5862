package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogHandlerAddsRequestScope(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "42")
	logger.InfoContext(ctx, "checked")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "42", rec["caller_id"])
	assert.Equal(t, "test", rec["component"])
}

func TestLogHandlerSkipsEmptyScope(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(WithRequestID(context.Background(), ""), "anonymous")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "request_id")
	assert.NotContains(t, rec, "caller_id")
}

func TestSessionRoundTripsThroughContext(t *testing.T) {
	sess := &Session{}
	assert.Same(t, sess, SessionFromContext(ContextWithSession(context.Background(), sess)))
	assert.Nil(t, SessionFromContext(context.Background()))
}
