package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"docparse-tracker/internal/ratelimit"
	"docparse-tracker/internal/telemetry"
)

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// rateLimited applies the token bucket per client address within scope.
func (s *Server) rateLimited(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.Key(scope, r.RemoteAddr))
			if err != nil {
				s.log.Error().Err(err).Str("scope", scope).Msg("rate limit check")
				writeError(w, errors.New("rate limit error"))
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeJSON(w, http.StatusTooManyRequests, envelope{Success: false, Error: "rate limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
