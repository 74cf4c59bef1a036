// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentinelsec/authwatch/internal/config"
	"github.com/sentinelsec/authwatch/internal/detection"
	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/ingest"
	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/models"
	ws "github.com/sentinelsec/authwatch/internal/websocket"
)

// maxIngestBodyBytes bounds a single HTTP ingest payload.
const maxIngestBodyBytes = 1 << 20

// Datastore is the query surface the handlers need from the database.
type Datastore interface {
	Ping(ctx context.Context) error
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	GetAlertStats(ctx context.Context, window time.Duration) (*models.AlertStats, error)
	GetEventStats(ctx context.Context, window time.Duration) (*models.EventStats, error)
}

// EngineStatus exposes the detection loop state to the health endpoint.
type EngineStatus interface {
	Status() detection.Status
}

// Handler holds the dependencies for all HTTP endpoints.
type Handler struct {
	cfg      *config.Config
	gateway  *ingest.Gateway
	db       Datastore
	store    eventstore.Store
	engine   EngineStatus
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the API handler set.
func NewHandler(cfg *config.Config, gateway *ingest.Gateway, db Datastore, store eventstore.Store, engine EngineStatus, hub *ws.Hub) *Handler {
	allowAll := false
	for _, origin := range cfg.API.CORSOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	return &Handler{
		cfg:     cfg,
		gateway: gateway,
		db:      db,
		store:   store,
		engine:  engine,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.API.CORSOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// ingestResponse is the payload returned for an accepted event.
type ingestResponse struct {
	Index      uint64    `json:"index"`
	ReceivedAt time.Time `json:"received_at"`
}

// IngestEvent handles POST /api/v1/events: one JSON event envelope per
// request, queued for the detection loop.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBodyBytes+1))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}
	if len(body) > maxIngestBodyBytes {
		rw.BadRequest("request body too large")
		return
	}

	event, index, err := h.gateway.Accept(r.Context(), body, "http")
	switch {
	case errors.Is(err, ingest.ErrParse):
		rw.BadRequest("malformed JSON payload")
		return
	case errors.Is(err, ingest.ErrValidation):
		rw.ValidationError("event failed validation", err.Error())
		return
	case err != nil:
		logging.Error().Err(err).Msg("Event ingestion failed")
		rw.InternalError("failed to accept event")
		return
	}

	rw.Accepted(ingestResponse{
		Index:      index,
		ReceivedAt: event.ReceivedAt,
	})
}

// Alerts handles GET /api/v1/alerts?limit=N: newest alerts first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := h.cfg.Alerts.RecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}

	alerts, err := h.db.RecentAlerts(r.Context(), limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	rw.Success(alerts)
}

// AlertStats handles GET /api/v1/alerts/stats?window=24h.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	window, ok := h.statsWindow(rw, r)
	if !ok {
		return
	}
	stats, err := h.db.GetAlertStats(r.Context(), window)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(stats)
}

// eventStatsResponse joins database aggregates with live pipeline state.
type eventStatsResponse struct {
	*models.EventStats
	StoreEvents uint64 `json:"store_events"`
	Cursor      uint64 `json:"detection_cursor"`
}

// EventStats handles GET /api/v1/events/stats?window=24h.
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	window, ok := h.statsWindow(rw, r)
	if !ok {
		return
	}
	stats, err := h.db.GetEventStats(r.Context(), window)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	total, err := h.store.Len(r.Context())
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to read event store length")
	}

	rw.Success(eventStatsResponse{
		EventStats:  stats,
		StoreEvents: total,
		Cursor:      h.engine.Status().Cursor,
	})
}

// healthResponse is the payload of the health endpoint.
type healthResponse struct {
	Status    string           `json:"status"`
	Database  string           `json:"database"`
	Detection detection.Status `json:"detection"`
	Clients   int              `json:"websocket_clients"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Database:  "up",
		Detection: h.engine.Status(),
		Clients:   h.hub.GetClientCount(),
	}
	if err := h.db.Ping(ctx); err != nil {
		logging.Error().Err(err).Msg("Health check database ping failed")
		resp.Status = "degraded"
		resp.Database = "down"
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    resp,
			Error: &APIError{
				Code:    ErrCodeServiceUnavailable,
				Message: "database unreachable",
			},
			Meta: rw.meta(),
		})
		return
	}
	rw.Success(resp)
}

// WebSocket handles GET /api/v1/ws: upgrades the connection and attaches
// the client to the hub for live alert delivery.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// statsWindow parses the optional ?window= duration parameter.
func (h *Handler) statsWindow(rw *ResponseWriter, r *http.Request) (time.Duration, bool) {
	window := h.cfg.Alerts.StatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			rw.BadRequest("window must be a positive duration such as 24h")
			return 0, false
		}
		window = parsed
	}
	return window, true
}
