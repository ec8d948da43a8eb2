package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/insightx/internal/observability"
	"github.com/harun/insightx/pkg/chatlog"
	"github.com/rs/zerolog"
)

// Server is the HTTP gateway
type Server struct {
	addr        string
	turns       TurnRunner
	keys        KeyAdmin
	transcripts *chatlog.Store
	auth        *AdminAuth
	limiter     *StreamLimiter
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	server      *http.Server

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host                 string
	Port                 int
	AdminToken           string
	MaxConcurrentStreams int
	Orchestrator         TurnRunner
	Keys                 KeyAdmin
	Transcripts          *chatlog.Store
	Logger               zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	s := &Server{
		addr:        net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		turns:       cfg.Orchestrator,
		keys:        cfg.Keys,
		transcripts: cfg.Transcripts,
		auth:        NewAdminAuth(cfg.AdminToken),
		limiter:     NewStreamLimiter(cfg.MaxConcurrentStreams),
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if !s.auth.Enabled() {
		s.logger.Warn().Msg("No admin token configured, admin endpoints are open")
	}
	return s, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting gateway server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("gateway server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop rejects new streams, waits for open ones and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight streams completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
