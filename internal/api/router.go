// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelsec/authwatch/internal/config"
	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/metrics"
)

// NewRouter builds the HTTP routing tree for the API surface.
func NewRouter(cfg *config.Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.API.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	// Liveness stays outside the rate limiter so aggressive monitoring
	// never gets throttled into false alarms.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(instrument("/api/v1/health"))
		r.Get("/", handler.Health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			cfg.API.RateLimitRequests,
			cfg.API.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited),
		))

		r.With(instrument("/api/v1/events")).Post("/events", handler.IngestEvent)
		r.With(instrument("/api/v1/events/stats")).Get("/events/stats", handler.EventStats)
		r.With(instrument("/api/v1/alerts")).Get("/alerts", handler.Alerts)
		r.With(instrument("/api/v1/alerts/stats")).Get("/alerts/stats", handler.AlertStats)
		r.Get("/ws", handler.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("endpoint not found")
	})

	return r
}

// requestIDWithLogging accepts an X-Request-ID header or generates one,
// echoes it back, and stores it in the request context for log and
// response correlation.
func requestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// instrument records request count and latency under a stable endpoint
// label, keeping metric cardinality independent of raw URL paths.
func instrument(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			metrics.RecordAPIRequest(r.Method, endpoint, ww.Status(), time.Since(start))
		})
	}
}

// rateLimited writes the standardized envelope for throttled requests.
func rateLimited(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Error(http.StatusTooManyRequests, ErrCodeTooManyRequests,
		"rate limit exceeded, retry later")
}
