// Package server exposes health, status and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/model"
)

// ScheduleSource is the part of the scheduler the status page reads.
type ScheduleSource interface {
	State() model.ScheduleState
	ArmedAt() time.Time
	Busy() bool
	PendingWrite() bool
}

// Server is the read-only HTTP server.
type Server struct {
	router     *mux.Router
	server     *http.Server
	schedule   ScheduleSource
	lastReport func() *model.Report
	started    time.Time
}

// New builds the server. metrics may be nil.
func New(addr string, schedule ScheduleSource, lastReport func() *model.Report, metrics http.Handler) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		schedule:   schedule,
		lastReport: lastReport,
		started:    time.Now(),
	}
	s.router.Use(requestIDMiddleware, loggingMiddleware)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.status).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("http server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

type reportSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	MeanBalance *float64  `json:"mean_balance"`
	Gaps        []string  `json:"gaps,omitempty"`
}

type statusResponse struct {
	Schedule     model.ScheduleState `json:"schedule"`
	ArmedAt      *time.Time          `json:"armed_at,omitempty"`
	Running      bool                `json:"running"`
	PendingWrite bool                `json:"pending_write"`
	LastReport   *reportSummary      `json:"last_report,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Schedule:     s.schedule.State(),
		Running:      s.schedule.Busy(),
		PendingWrite: s.schedule.PendingWrite(),
	}
	if at := s.schedule.ArmedAt(); !at.IsZero() {
		resp.ArmedAt = &at
	}
	if s.lastReport != nil {
		if r := s.lastReport(); r != nil {
			sum := &reportSummary{
				ID:          r.ID,
				Title:       r.Title,
				GeneratedAt: r.GeneratedAt,
				Total:       r.Stats.Total,
				Succeeded:   r.Stats.Succeeded,
				Failed:      r.Stats.Failed,
				Gaps:        r.Gaps,
			}
			if r.Stats.HasData {
				mean := r.Stats.MeanBalance
				sum.MeanBalance = &mean
			}
			resp.LastReport = sum
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString()[:8])
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
