package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for the orchestrated turn
	TurnIDKey ContextKey = "turn_id"
	// SessionIDKey is the context key for the dataset session
	SessionIDKey ContextKey = "session_id"
	// ChatIDKey is the context key for the chat
	ChatIDKey ContextKey = "chat_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TurnID    string
	SessionID string
	ChatID    string
	AgentID   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

func withValue(ctx context.Context, key ContextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func getValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return withValue(ctx, TurnIDKey, turnID)
}

// WithSessionID adds a dataset session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return withValue(ctx, SessionIDKey, sessionID)
}

// WithChatID adds a chat ID to the context
func WithChatID(ctx context.Context, chatID string) context.Context {
	return withValue(ctx, ChatIDKey, chatID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return withValue(ctx, AgentIDKey, agentID)
}

func GetTraceID(ctx context.Context) string   { return getValue(ctx, TraceIDKey) }
func GetTurnID(ctx context.Context) string    { return getValue(ctx, TurnIDKey) }
func GetSessionID(ctx context.Context) string { return getValue(ctx, SessionIDKey) }
func GetChatID(ctx context.Context) string    { return getValue(ctx, ChatIDKey) }
func GetAgentID(ctx context.Context) string   { return getValue(ctx, AgentIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TurnID:    GetTurnID(ctx),
		SessionID: GetSessionID(ctx),
		ChatID:    GetChatID(ctx),
		AgentID:   GetAgentID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}
