package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentExhausted matches every ExhaustedError.
	ErrAgentExhausted = errors.New("agent exhausted")

	// ErrToolCyclesExceeded is returned when the model keeps requesting tools past the cycle ceiling.
	ErrToolCyclesExceeded = errors.New("tool cycle limit exceeded")

	// ErrNoToolProvider is returned when the model requests a tool and the run has no provider.
	ErrNoToolProvider = errors.New("agent requested tools but none are available")
)

// ExhaustedError is returned when every attempt of an agent run failed upstream.
type ExhaustedError struct {
	AgentID  string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("agent %s exhausted after %d attempts: %v", e.AgentID, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports ErrAgentExhausted as a match.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAgentExhausted
}
