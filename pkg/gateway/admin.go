package gateway

import (
	"fmt"
	"net/http"

	"github.com/harun/insightx/internal/observability"
)

func (s *Server) handleKeysStatus(w http.ResponseWriter, _ *http.Request) {
	if s.keys == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "credential pool unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, KeysStatus{
		KeyCount:     s.keys.KeyCount(),
		CurrentIndex: s.keys.CurrentIndex(),
		Keys:         s.keys.Metrics(),
	})
}

// handleKeysReset returns every credential to healthy.
func (s *Server) handleKeysReset(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "credential pool unavailable"})
		return
	}

	s.keys.ResetAll()
	count := s.keys.KeyCount()
	observability.RecordAdminAudit(r.Context(), "keys.reset", actor(r), "success", map[string]interface{}{
		"key_count": count,
	})
	s.logger.Info().Int("keys", count).Str("actor", actor(r)).Msg("Credential pool reset by operator")

	writeJSON(w, http.StatusOK, ResetResult{
		Success:  true,
		Message:  fmt.Sprintf("Reset %d API keys to healthy", count),
		KeyCount: count,
	})
}
