package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithChatID(ctx, "chat-1")
	ctx = WithAgentID(ctx, "sql_agent")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "turn-1", tc.TurnID)
	assert.Equal(t, "sess-1", tc.SessionID)
	assert.Equal(t, "chat-1", tc.ChatID)
	assert.Equal(t, "sql_agent", tc.AgentID)
}

func TestGetters_EmptyContext(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestStartSpan_SetsTraceID(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", "op")
	defer span.End()
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(WithTraceID(context.Background(), "trace-9"), "sess-9")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-9"`)
	assert.Contains(t, out, `"session_id":"sess-9"`)
	assert.NotContains(t, out, "agent_id")
}
