// Package server runs the HTTP sidecar: health and metrics for operators,
// plus the payment webhook that external settlement services call.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"thaibot/internal/metrics"
	"thaibot/internal/outbox"
	"thaibot/internal/payment"
	"thaibot/pkg/logx"
)

type Config struct {
	Addr     string
	Timezone string
}

// QueueStatus is the outbox surface /health reports.
type QueueStatus interface {
	Status() outbox.Status
}

// Activator is the verifier surface the webhook converges on.
type Activator interface {
	ActivateFromWebhook(ctx context.Context, userID int64, reference string) (payment.Result, error)
}

type Server struct {
	cfg       Config
	queue     QueueStatus
	activator Activator
	log       logx.Logger
	metrics   *metrics.Metrics

	srv *http.Server
}

func New(cfg Config, queue QueueStatus, activator Activator, log logx.Logger, m *metrics.Metrics) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:3000"
	}
	s := &Server{cfg: cfg, queue: queue, activator: activator, log: log, metrics: m}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Post("/webhook/payment", s.handlePaymentWebhook)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() {
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Thai Learning Bot API",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"timezone":  s.cfg.Timezone,
		"queue":     s.queue.Status(),
	})
}

type webhookRequest struct {
	UserID    int64  `json:"user_id"`
	Reference string `json:"payment_reference"`
}

// handlePaymentWebhook maps the external settlement callback onto the same
// idempotent activation path the interactive checker uses. Redeliveries are
// deduplicated inside the verifier; they answer 200 so the sender stops.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.UserID == 0 || strings.TrimSpace(req.Reference) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields"})
		return
	}

	s.log.Info("payment webhook received",
		logx.Int64("user", req.UserID), logx.String("reference", req.Reference))

	res, err := s.activator.ActivateFromWebhook(r.Context(), req.UserID, req.Reference)
	if err != nil {
		s.log.Error("webhook activation failed",
			logx.Int64("user", req.UserID), logx.String("reference", req.Reference), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	outcome := "activated"
	if res.Outcome == payment.OutcomeAlreadyResolved {
		outcome = "already_resolved"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "outcome": outcome})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
