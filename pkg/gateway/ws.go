package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/harun/insightx/pkg/orchestrator"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type inbound struct {
	req orchestrator.TurnRequest
	err error
}

// handleWebSocket serves turns over a websocket. Each text message is a turn request;
// its events are written back as JSON followed by {"type":"done"}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	clientID, _ := gonanoid.New()
	logger := s.logger.With().Str("client_id", clientID).Str("ip", r.RemoteAddr).Logger()
	logger.Info().Msg("Client connected")
	defer logger.Info().Msg("Client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages := make(chan inbound)
	go func() {
		defer close(messages)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("WebSocket error")
				}
				cancel()
				return
			}
			var msg inbound
			msg.err = json.Unmarshal(data, &msg.req)
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(data []byte) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	writeEvent := func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return send(data)
	}

	for msg := range messages {
		if msg.err != nil {
			if err := writeEvent(orchestrator.ErrorEvent{Message: "invalid request", Details: msg.err.Error()}); err != nil {
				return
			}
			continue
		}

		turnCtx, turnCancel := context.WithCancel(ctx)
		h, _, err := s.startTurn(turnCtx, clientID, msg.req)
		if err != nil {
			turnCancel()
			if err := writeEvent(orchestrator.ErrorEvent{Message: err.Error()}); err != nil {
				return
			}
			continue
		}

		s.relay(turnCtx, turnCancel, h, send)
		failed := turnCtx.Err() != nil
		turnCancel()
		if failed {
			return
		}
		if err := writeEvent(doneEvent{Type: "done"}); err != nil {
			return
		}
	}
}
