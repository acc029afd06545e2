package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/nirmal91/omni-ask/internal/adapter/llm"
	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
	"github.com/nirmal91/omni-ask/internal/infra/middleware"
)

// Deps holds the collaborators the relay handlers need.
type Deps struct {
	Streamers  map[domain.Provider]llm.Streamer
	Keys       domain.CredentialStore      // caller-owned keys; can be nil
	SharedKeys map[domain.Provider]string  // config/env fallback credentials
	Logger     *slog.Logger
}

// Server is the HTTP stream relay: it accepts canonical chat requests and
// re-emits upstream provider streams as the outbound SSE event protocol.
type Server struct {
	cfg       config.RelayConfig
	auth      Authenticator
	deps      Deps
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a relay server.
func NewServer(cfg config.RelayConfig, auth Authenticator, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		auth:   auth,
		deps:   deps,
		logger: logger,
	}
}

// Handler builds the full HTTP handler with middleware applied. Exposed
// separately from Start so tests can drive it through httptest.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("PUT /api/v1/keys/{provider}", s.handlePutKey)
	mux.HandleFunc("DELETE /api/v1/keys/{provider}", s.handleDeleteKey)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	var h http.Handler = mux
	if rl := s.cfg.RateLimit; rl.Enabled {
		h = middleware.RateLimit(ctx, rl.RequestsPerMin, rl.BurstSize)(h)
	}
	h = middleware.CORS(s.cfg.CORS.AllowedOrigins)(h)
	h = middleware.SecurityHeaders(h)
	return h
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{Handler: s.Handler(ctx)}

	s.logger.Info("relay started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the relay server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Addr returns the bound listen address (useful with ":0").
func (s *Server) Addr() string { return s.boundAddr }

// authenticate extracts and validates the bearer token of a request.
func (s *Server) authenticate(r *http.Request) (*ClientInfo, error) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}
	return s.auth.Authenticate(token)
}
