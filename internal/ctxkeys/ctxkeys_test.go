package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	ctx := WithRequestID(context.Background(), "req-1")
	v, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok, "empty values are treated as unset")
}

func TestWithConversation(t *testing.T) {
	ctx := WithConversation(context.Background(), "conv-1", "")
	id, ok := ConversationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "conv-1", id)
	_, ok = ChannelRef(ctx)
	assert.False(t, ok)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithConversation(WithRequestID(context.Background(), "req-9"), "conv-2", "slack:C1")
	Logger(ctx, base).Info("hello")
	Logger(context.Background(), base).Info("bare")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{
		"request_id":      "req-9",
		"conversation_id": "conv-2",
		"channel_ref":     "slack:C1",
	}, entries[0].ContextMap())
	assert.Empty(t, entries[1].ContextMap())
}
