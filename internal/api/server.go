package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"docparse-tracker/internal/config"
	"docparse-tracker/internal/models"
	"docparse-tracker/internal/orchestrator"
	"docparse-tracker/internal/signature"
	"docparse-tracker/internal/telemetry"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Limiter admits or rejects a request keyed by caller.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the tracker API.
type Server struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	poller  *orchestrator.Poller
	creds   *signature.Registry
	limiter Limiter
	log     zerolog.Logger
	started time.Time
	now     func() time.Time
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, orch *orchestrator.Orchestrator, poller *orchestrator.Poller, creds *signature.Registry, limiter Limiter, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		orch:    orch,
		poller:  poller,
		creds:   creds,
		limiter: limiter,
		log:     logger.With().Str("component", "api").Logger(),
		started: time.Now(),
		now:     time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.With(s.rateLimited("upload")).Post("/upload", s.handleUpload)
			r.Get("/list", s.handleList)
			r.Get("/stats", s.handleFileStats)
			r.Get("/{id}", s.handleGetFile)
			r.Delete("/{id}", s.handleDeleteFile)
			r.Get("/{id}/parsed-url", s.handleParsedURL)
			r.Get("/{id}/history", s.handleHistory)
		})
		r.Route("/callback", func(r chi.Router) {
			r.Post("/document", s.handleCallback)
			r.Post("/manual/{taskId}", s.handleManual)
			r.Post("/test", s.handleCallbackEcho)
		})
		r.Route("/status", func(r chi.Router) {
			r.Get("/task/{taskId}", s.handleTaskStatus)
			r.Get("/file/{id}", s.handleFileStatus)
			r.Post("/batch", s.handleBatch)
			r.Get("/stats", s.handleSystemStats)
			r.Get("/health", s.handleHealth)
		})
		r.Route("/signature", func(r chi.Router) {
			r.Use(s.rateLimited("signature"))
			r.Post("/generate", s.handleMeetingSignature)
			r.Post("/play", s.handlePlaySignature)
		})
	})
	return r
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorData(w, err, nil)
}

func writeErrorData(w http.ResponseWriter, err error, data any) {
	writeJSON(w, statusFor(err), envelope{Success: false, Error: err.Error(), Data: data})
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRemoteTransport), errors.Is(err, models.ErrRemoteRejected), errors.Is(err, models.ErrPollFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", models.ErrInvalidRequest)
	}
	return nil
}
