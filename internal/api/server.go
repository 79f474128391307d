package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/quill/internal/coordinator"
	"github.com/MikeSquared-Agency/quill/internal/feedback"
	"github.com/MikeSquared-Agency/quill/internal/intake"
)

// Coordinator is the part of the coordinator the API drives.
type Coordinator interface {
	Status(ctx context.Context) (coordinator.Status, error)
	Select(ctx context.Context, index int) (feedback.Record, error)
	SelectText(ctx context.Context, chosen string) (feedback.Record, error)
	ClearContext(ctx context.Context) error
	CopyAll(ctx context.Context) (string, error)
}

// MessageHandler runs injected text through intake and on to the
// coordinator.
type MessageHandler func(ctx context.Context, text string) intake.Decision

type Server struct {
	router  *chi.Mux
	port    int
	coord   Coordinator
	deliver MessageHandler
	logger  *slog.Logger
}

func NewServer(port int, apiToken string, coord Coordinator, deliver MessageHandler, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		coord:   coord,
		deliver: deliver,
		logger:  logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/quill", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/status", s.status)
		r.Post("/messages", s.postMessage)
		r.Post("/feedback", s.postFeedback)
		r.Post("/suggestions/copy", s.copyAll)
		r.Post("/context/clear", s.clearContext)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Agent string `json:"agent"`
	coordinator.Status
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Agent: "quill", Status: st})
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	d := s.deliver(r.Context(), req.Text)
	if !d.Accept {
		writeJSON(w, http.StatusOK, messageResponse{Reason: string(d.Reason)})
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Accepted: true})
}

type feedbackRequest struct {
	Index  *int   `json:"index,omitempty"`
	Chosen string `json:"chosen,omitempty"`
}

func (s *Server) postFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	var (
		rec feedback.Record
		err error
	)
	switch {
	case req.Index != nil:
		rec, err = s.coord.Select(r.Context(), *req.Index)
	case req.Chosen != "":
		rec, err = s.coord.SelectText(r.Context(), req.Chosen)
	default:
		writeError(w, http.StatusBadRequest, errors.New("index or chosen is required"))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) copyAll(w http.ResponseWriter, r *http.Request) {
	text, err := s.coord.CopyAll(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) clearContext(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ClearContext(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrNoSuggestions):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
