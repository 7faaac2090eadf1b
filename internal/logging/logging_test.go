package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_LevelGating(t *testing.T) {
	logger := New("error", "text")
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, StoreID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithStoreID(ctx, "store-9")
	assert.Equal(t, "req-123", RequestID(ctx))
	assert.Equal(t, "store-9", StoreID(ctx))
}

func TestFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestL_AnnotatesRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-abc")
	ctx = WithStoreID(ctx, "store-1")

	L(ctx).Info("plan upgraded", "plan", "pro")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "plan upgraded", rec["msg"])
	assert.Equal(t, "req-abc", rec["request_id"])
	assert.Equal(t, "store-1", rec["store_id"])
	assert.Equal(t, "pro", rec["plan"])
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.Info("webhook rejected",
		"signature", "t=1,v1=abc",
		"webhook_secret", "whsec_x",
		"gateway_secret_key", "sk_live_x",
		"token", "chk_123",
		"store", "store-1",
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[redacted]", rec["signature"])
	assert.Equal(t, "[redacted]", rec["webhook_secret"])
	assert.Equal(t, "[redacted]", rec["gateway_secret_key"])
	assert.Equal(t, "chk_123", rec["token"])
	assert.Equal(t, "store-1", rec["store"])
}

func TestL_NoIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))

	L(ctx).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	_, hasReq := rec["request_id"]
	assert.False(t, hasReq)
}
