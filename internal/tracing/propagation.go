package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	c := logger.With()
	if tc.TraceID != "" {
		c = c.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		c = c.Str("turn_id", tc.TurnID)
	}
	if tc.SessionID != "" {
		c = c.Str("session_id", tc.SessionID)
	}
	if tc.ChatID != "" {
		c = c.Str("chat_id", tc.ChatID)
	}
	if tc.AgentID != "" {
		c = c.Str("agent_id", tc.AgentID)
	}

	return c.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
