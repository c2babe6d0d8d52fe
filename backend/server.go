package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server wraps http.Server with the timeouts the backend needs.
// WriteTimeout stays zero because the streaming endpoints hold their
// response open for up to two hours.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server listening on addr and serving handler.
func NewServer(addr string, handler http.Handler, options ...ServerOption) *Server {
	s := &Server{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
