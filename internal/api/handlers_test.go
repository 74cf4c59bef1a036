// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentinelsec/authwatch/internal/config"
	"github.com/sentinelsec/authwatch/internal/detection"
	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/ingest"
	"github.com/sentinelsec/authwatch/internal/models"
	ws "github.com/sentinelsec/authwatch/internal/websocket"
)

type mockDatastore struct {
	pingErr    error
	alerts     []models.Alert
	alertsErr  error
	lastLimit  int
	alertStats *models.AlertStats
	eventStats *models.EventStats
	lastWindow time.Duration
}

func (m *mockDatastore) Ping(context.Context) error { return m.pingErr }

func (m *mockDatastore) RecentAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	m.lastLimit = limit
	return m.alerts, m.alertsErr
}

func (m *mockDatastore) GetAlertStats(_ context.Context, window time.Duration) (*models.AlertStats, error) {
	m.lastWindow = window
	if m.alertStats == nil {
		return &models.AlertStats{}, nil
	}
	return m.alertStats, nil
}

func (m *mockDatastore) GetEventStats(_ context.Context, window time.Duration) (*models.EventStats, error) {
	m.lastWindow = window
	if m.eventStats == nil {
		return &models.EventStats{}, nil
	}
	return m.eventStats, nil
}

type mockEngine struct {
	status detection.Status
}

func (m *mockEngine) Status() detection.Status { return m.status }

type testAPI struct {
	router http.Handler
	db     *mockDatastore
	store  eventstore.Store
}

func testConfig() *config.Config {
	return &config.Config{
		Alerts: config.AlertsConfig{
			RecentLimit: 50,
			StatsWindow: 24 * time.Hour,
		},
		API: config.APIConfig{
			RateLimitRequests: 1000,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
			MaxPageSize:       500,
		},
	}
}

func newTestAPI(t *testing.T, cfg *config.Config) *testAPI {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	store := eventstore.NewMemoryStore()
	db := &mockDatastore{}
	engine := &mockEngine{status: detection.Status{Trained: true, Cursor: 7, Generation: 2}}

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	handler := NewHandler(cfg, ingest.NewGateway(store, nil), db, store, engine, hub)
	return &testAPI{
		router: NewRouter(cfg, handler),
		db:     db,
		store:  store,
	}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

const testEventPayload = `{
	"timestamp": "2026-08-28T09:15:00Z",
	"hostname": "web-server-01",
	"event_type": "ssh_login_success",
	"details": {"user": "deploy", "source_ip": "192.168.1.10"}
}`

func TestIngestEndpointAcceptsEvent(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(testEventPayload))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	if idx, _ := data["index"].(float64); idx != 1 {
		t.Errorf("index = %v, want 1", data["index"])
	}
	if n, _ := api.store.Len(context.Background()); n != 1 {
		t.Errorf("store has %d events, want 1", n)
	}
}

func TestIngestEndpointRejectsMalformedJSON(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{broken`))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeBadRequest)
	}
}

func TestIngestEndpointRejectsMissingFields(t *testing.T) {
	api := newTestAPI(t, nil)

	payload := `{"timestamp":"t","hostname":"h","event_type":"e","details":{"user":"u"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeValidationFailed)
	}
}

func TestAlertsEndpointClampsLimit(t *testing.T) {
	api := newTestAPI(t, nil)
	api.db.alerts = []models.Alert{{User: "root", AnomalyScore: 0.91}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit=99999", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if api.db.lastLimit != 500 {
		t.Errorf("limit passed to store = %d, want clamped 500", api.db.lastLimit)
	}
}

func TestAlertsEndpointRejectsBadLimit(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, limit := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit="+limit, nil)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestAlertsEndpointReturnsEmptyListNotNull(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want empty array data", rec.Body.String())
	}
}

func TestAlertsEndpointDatabaseError(t *testing.T) {
	api := newTestAPI(t, nil)
	api.db.alertsErr = errors.New("io error")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeDatabaseError {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeDatabaseError)
	}
}

func TestAlertStatsEndpointParsesWindow(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/stats?window=1h30m", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if api.db.lastWindow != 90*time.Minute {
		t.Errorf("window = %s, want 1h30m", api.db.lastWindow)
	}
}

func TestAlertStatsEndpointRejectsBadWindow(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/stats?window=yesterday", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventStatsEndpointIncludesPipelineState(t *testing.T) {
	api := newTestAPI(t, nil)
	for i := 0; i < 3; i++ {
		if _, err := api.store.Append(context.Background(), models.Event{User: "deploy"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stats", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	if n, _ := data["store_events"].(float64); n != 3 {
		t.Errorf("store_events = %v, want 3", data["store_events"])
	}
	if c, _ := data["detection_cursor"].(float64); c != 7 {
		t.Errorf("detection_cursor = %v, want 7", data["detection_cursor"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	if data["status"] != "ok" || data["database"] != "up" {
		t.Errorf("health = %v, want ok/up", data)
	}
}

func TestHealthEndpointDatabaseDown(t *testing.T) {
	api := newTestAPI(t, nil)
	api.db.pingErr = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeServiceUnavailable)
	}
}

func TestRateLimitReturnsEnvelope(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimitRequests = 2
	api := newTestAPI(t, cfg)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
		req.RemoteAddr = "10.1.2.3:4567"
		last = httptest.NewRecorder()
		api.router.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	resp := decodeResponse(t, last)
	if resp.Error == nil || resp.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeTooManyRequests)
	}
}

func TestRequestIDEchoedAndPropagated(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-12345")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-12345" {
		t.Errorf("X-Request-ID header = %q, want req-12345", got)
	}
	resp := decodeResponse(t, rec)
	if resp.Meta == nil || resp.Meta.RequestID != "req-12345" {
		t.Errorf("meta = %+v, want request ID in meta", resp.Meta)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeNotFound)
	}
}
