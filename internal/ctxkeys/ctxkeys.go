// Package ctxkeys 定义跨层传递的 context 键：HTTP 请求 id 与会话标识。
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey      contextKey = "request_id"
	conversationIDKey contextKey = "conversation_id"
	channelRefKey     contextKey = "channel_ref"
)

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 id
func RequestID(ctx context.Context) (string, bool) {
	return get(ctx, requestIDKey)
}

// WithConversation 设置会话 id 与所在频道
func WithConversation(ctx context.Context, conversationID, channelRef string) context.Context {
	if conversationID != "" {
		ctx = context.WithValue(ctx, conversationIDKey, conversationID)
	}
	if channelRef != "" {
		ctx = context.WithValue(ctx, channelRefKey, channelRef)
	}
	return ctx
}

// ConversationID 获取会话 id
func ConversationID(ctx context.Context) (string, bool) {
	return get(ctx, conversationIDKey)
}

// ChannelRef 获取频道引用
func ChannelRef(ctx context.Context) (string, bool) {
	return get(ctx, channelRefKey)
}

// LogFields 把 context 中已设置的键转成 zap 字段
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", v))
	}
	if v, ok := ConversationID(ctx); ok {
		fields = append(fields, zap.String("conversation_id", v))
	}
	if v, ok := ChannelRef(ctx); ok {
		fields = append(fields, zap.String("channel_ref", v))
	}
	return fields
}

// Logger 返回带 context 字段的子 logger
func Logger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if fields := LogFields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}
