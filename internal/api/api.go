// Package api provides HTTP handlers and the main API server logic for ChatFlow.
//
// It exposes RESTful endpoints for processing dialogue turns and managing
// participants. The API integrates the dialogue engine with the state store;
// message delivery to chat channels is the caller's concern.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ChatFlow/internal/engine"
	"github.com/BTreeMap/ChatFlow/internal/store"
)

// Default API server configuration
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on context cancellation
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string // listen address
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the dialogue engine and state store behind HTTP handlers.
type Server struct {
	eng  *engine.Engine
	st   store.StateStore
	cfg  engine.Config
	addr string
}

// NewServer creates an API server. The engine config supplies the entry cursor
// used when enrolling participants.
func NewServer(eng *engine.Engine, st store.StateStore, cfg engine.Config, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	slog.Debug("Creating API server", "addr", o.Addr)
	return &Server{eng: eng, st: st, cfg: cfg, addr: o.Addr}
}

// Handler returns the routed http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /turns", s.turnHandler)
	mux.HandleFunc("POST /participants", s.enrollHandler)
	mux.HandleFunc("GET /participants/{id}/state", s.stateHandler)
	mux.HandleFunc("GET /participants/{id}/answers", s.answersHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ChatFlow API running", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
			return err
		}
		return nil
	}
}
