package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID        contextKey = "trace_id"
	keyOperatorID     contextKey = "operator_id"
	keyRoles          contextKey = "roles"
	keyConversationID contextKey = "conversation_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithOperatorID records who issued a control signal (approve, resume, stop).
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, keyOperatorID, operatorID)
}

// OperatorID extracts the operator ID from context.
func OperatorID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyOperatorID).(string)
	return v, ok && v != ""
}

// WithRoles adds operator roles to context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, keyRoles, roles)
}

// Roles extracts operator roles from context.
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(keyRoles).([]string)
	return v, ok && len(v) > 0
}

// WithConversationID tags a context with the conversation being processed.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyConversationID, id)
}

// ConversationID extracts the conversation ID from context.
func ConversationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyConversationID).(string)
	return v, ok && v != ""
}
