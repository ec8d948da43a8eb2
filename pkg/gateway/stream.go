package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/harun/insightx/internal/tracing"
	"github.com/harun/insightx/pkg/chatlog"
	"github.com/harun/insightx/pkg/orchestrator"
)

const maxRequestBody = 1 << 20

// turnHandle is a started turn and its stream slot.
type turnHandle struct {
	req     orchestrator.TurnRequest
	events  <-chan orchestrator.Event
	release func()
}

// startTurn validates the request, reserves a stream slot, fills missing history from the
// transcript, starts the turn and records the user message. It returns the HTTP status
// to use on failure.
func (s *Server) startTurn(ctx context.Context, client string, req orchestrator.TurnRequest) (*turnHandle, int, error) {
	if s.shuttingDown() {
		return nil, http.StatusServiceUnavailable, errors.New("server is shutting down")
	}
	if err := req.Validate(); err != nil {
		return nil, http.StatusBadRequest, err
	}

	release, ok, reason := s.limiter.Acquire(client)
	if !ok {
		return nil, http.StatusTooManyRequests, errors.New(reason)
	}

	if len(req.History) == 0 && s.transcripts != nil {
		history, err := s.transcripts.Load(ctx, req.ChatID)
		if err != nil {
			s.logger.Warn().Err(err).Str("chat_id", req.ChatID).Msg("Could not load chat history")
		} else {
			req.History = history
		}
	}

	events, err := s.turns.Run(ctx, req)
	if err != nil {
		release()
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			return nil, http.StatusBadRequest, err
		}
		return nil, http.StatusInternalServerError, err
	}
	s.appendTranscript(ctx, req, chatlog.Message{Role: chatlog.RoleUser, Content: req.UserMessage})

	s.inFlight.Add(1)
	return &turnHandle{
		req:    req,
		events: events,
		release: func() {
			release()
			s.inFlight.Done()
		},
	}, http.StatusOK, nil
}

// relay forwards every event to send and records the final answer. A send failure
// cancels the turn.
func (s *Server) relay(ctx context.Context, cancel context.CancelFunc, h *turnHandle, send func([]byte) error) {
	defer h.release()

	var final *orchestrator.FinalResponseEvent
	for e := range h.events {
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(e.Type())).Msg("Failed to encode event")
			continue
		}
		if err := send(data); err != nil {
			s.logger.Debug().Err(err).Str("chat_id", h.req.ChatID).Msg("Client went away, cancelling turn")
			cancel()
			return
		}
		if f, ok := e.(orchestrator.FinalResponseEvent); ok {
			final = &f
		}
	}

	if final == nil || final.Result == nil {
		return
	}
	meta := map[string]interface{}{"classification": string(final.Classification)}
	if final.Result.SQLUsed != "" {
		meta["sql_used"] = final.Result.SQLUsed
	}
	s.appendTranscript(ctx, h.req, chatlog.Message{
		Role:     chatlog.RoleAssistant,
		Content:  final.Result.Text,
		Metadata: meta,
	})
}

func (s *Server) appendTranscript(ctx context.Context, req orchestrator.TurnRequest, msg chatlog.Message) {
	if s.transcripts == nil || msg.Content == "" {
		return
	}
	ctx = tracing.WithSessionID(context.WithoutCancel(ctx), req.SessionID)
	if err := s.transcripts.Append(ctx, req.ChatID, msg); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", req.ChatID).Msg("Could not persist chat message")
	}
}

// handleChatStream serves one turn as server-sent events.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported"})
		return
	}

	var req orchestrator.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h, status, err := s.startTurn(ctx, clientKey(r), req)
	if err != nil {
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.relay(ctx, cancel, h, func(data []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	if ctx.Err() == nil {
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// handleTranscript returns the stored messages of a chat.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "transcripts are disabled"})
		return
	}

	chatID := chi.URLParam(r, "chatID")
	msgs, err := s.transcripts.Load(r.Context(), chatID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to load transcript", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chat_id":  chatID,
		"messages": msgs,
	})
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return r.RemoteAddr
}
