// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/models"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL string
	// FailureThreshold is the number of consecutive delivery failures that
	// opens the circuit breaker.
	FailureThreshold uint32
	// CooldownPeriod is how long the breaker stays open before probing.
	CooldownPeriod time.Duration
}

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint. Deliveries run
// through a circuit breaker so a dead endpoint stops consuming goroutines
// and timeouts after a few consecutive failures.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWebhookNotifier creates a webhook notifier for the given endpoint.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "alert-webhook",
		Timeout: cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		client:  &http.Client{},
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Name identifies the notifier in logs and metrics.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify delivers the alert, honoring the context deadline set by the sink.
func (w *WebhookNotifier) Notify(ctx context.Context, alert models.Alert) error {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, alert)
	})
	return err
}

func (w *WebhookNotifier) post(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
