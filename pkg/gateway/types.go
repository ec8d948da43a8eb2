package gateway

import (
	"context"

	"github.com/harun/insightx/pkg/credential"
	"github.com/harun/insightx/pkg/orchestrator"
)

// TurnRunner starts orchestrated turns
type TurnRunner interface {
	Run(ctx context.Context, req orchestrator.TurnRequest) (<-chan orchestrator.Event, error)
}

// KeyAdmin is the operator surface of the credential pool
type KeyAdmin interface {
	Metrics() []credential.Metrics
	KeyCount() int
	CurrentIndex() int
	ResetAll()
}

// KeysStatus is returned by GET /api/admin/keys
type KeysStatus struct {
	KeyCount     int                  `json:"key_count"`
	CurrentIndex int                  `json:"current_index"`
	Keys         []credential.Metrics `json:"keys"`
}

// ResetResult is returned by POST /api/admin/keys/reset
type ResetResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	KeyCount int    `json:"key_count"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// doneEvent ends a websocket turn.
type doneEvent struct {
	Type string `json:"type"`
}
