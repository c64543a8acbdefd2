package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/websocket"
)

func NewServer(store interfaces.JobStore, hub *websocket.Hub, publisher SubmissionPublisher, port string) *Server {
	mux := http.NewServeMux()
	AddRoutes(mux, store, hub, publisher, validator.New(validator.WithRequiredStructEnabled()))

	return &Server{
		store: store,
		hub:   hub,
		port:  port,
		mux:   mux,
		http: &http.Server{
			Addr:        fmt.Sprintf(":%s", port),
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}
}

type Server struct {
	store interfaces.JobStore
	hub   *websocket.Hub
	port  string
	mux   *http.ServeMux
	http  *http.Server
}

// Handler exposes the routed mux, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	logger.Logger.Info().Str("addr", s.http.Addr).Msg("Starting server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	logger.Logger.Info().Msg("Shutting down server")
	return s.http.Shutdown(ctx)
}
