// Package api exposes the launch/stop contract and identity management over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"identity-orchestrator/internal/browser"
	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/models"
)

// Service is the inbound contract the API serves
type Service interface {
	LaunchProfile(req models.LaunchRequest) models.LaunchResult
	StopProfile(profileID string) models.StopResult
	Running() []browser.Entry
	Identity(profileID string) (models.Identity, error)
	MutateIdentity(profileID string, reason models.MutationReason, changes map[string]any) (models.Identity, error)
	DeleteIdentity(profileID string) error
	RegenerateBundle(profileID string) (string, error)
	History(profileID string, limit int) ([]*models.LaunchRecord, error)
	OnProfileClosed(fn func(models.ProfileClosedEvent))
}

// Server is the HTTP control surface
type Server struct {
	addr    string
	service Service
	router  *chi.Mux
	events  *hub
	logger  zerolog.Logger
}

// NewServer creates the router and subscribes to profile closed events
func NewServer(cfg *config.APIConfig, service Service, logger zerolog.Logger) *Server {
	s := &Server{
		addr:    cfg.ListenAddr,
		service: service,
		events:  newHub(),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	service.OnProfileClosed(s.events.publish)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/fields", s.handleFields)
		r.Get("/events", s.handleEvents)
		r.Get("/profiles/running", s.handleRunning)

		r.Route("/profiles/{profileID}", func(r chi.Router) {
			r.Post("/launch", s.handleLaunch)
			r.Post("/stop", s.handleStop)
			r.Get("/identity", s.handleGetIdentity)
			r.Delete("/identity", s.handleDeleteIdentity)
			r.Post("/identity/mutations", s.handleMutate)
			r.Post("/bundle", s.handleBundle)
			r.Get("/launches", s.handleLaunches)
		})
	})

	s.router = r
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.events.close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	s.logger.Info().Msg("API stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
