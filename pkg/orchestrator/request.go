package orchestrator

import (
	"fmt"
	"strings"

	"github.com/harun/insightx/pkg/chatlog"
)

// TurnRequest is one user message and the conversation so far
type TurnRequest struct {
	SessionID   string            `json:"sessionId"`
	ChatID      string            `json:"chatId"`
	UserMessage string            `json:"message"`
	History     []chatlog.Message `json:"conversationHistory,omitempty"`
}

// ValidationError rejects a malformed turn request before the pipeline starts.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid turn request: %s is required", e.Field)
}

// Validate checks the required fields.
func (r TurnRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.SessionID) == "":
		return &ValidationError{Field: "sessionId"}
	case strings.TrimSpace(r.ChatID) == "":
		return &ValidationError{Field: "chatId"}
	case strings.TrimSpace(r.UserMessage) == "":
		return &ValidationError{Field: "message"}
	}
	for i, m := range r.History {
		if m.Role != chatlog.RoleUser && m.Role != chatlog.RoleAssistant {
			return &ValidationError{Field: fmt.Sprintf("conversationHistory[%d].role", i)}
		}
	}
	return nil
}
