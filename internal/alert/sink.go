// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package alert persists anomaly alerts and fans them out to notifiers.
//
// Persistence is the mandatory half: an alert exists once it is stored, and
// a storage failure is reported to the caller. Notification is best effort;
// notifiers run on their own goroutines with a short deadline so a slow or
// failing channel can never stall the detection loop.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/models"
)

// Store persists alerts.
type Store interface {
	SaveAlert(ctx context.Context, alert models.Alert) error
}

// Notifier delivers an alert to one external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert models.Alert) error
}

const defaultNotifyTimeout = 2 * time.Second

// Sink records alerts: persist first, then notify asynchronously.
type Sink struct {
	store         Store
	notifiers     []Notifier
	notifyTimeout time.Duration
	log           zerolog.Logger
	wg            sync.WaitGroup
}

// Option configures a Sink.
type Option func(*Sink)

// WithNotifyTimeout overrides the per-notifier delivery deadline.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewSink creates a sink writing to store and fanning out to notifiers.
func NewSink(store Store, notifiers []Notifier, opts ...Option) *Sink {
	s := &Sink{
		store:         store,
		notifiers:     notifiers,
		notifyTimeout: defaultNotifyTimeout,
		log:           logging.With().Str("component", "alert").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record assigns the alert an ID, persists it, and kicks off best-effort
// notification. It returns only the persistence error; notification
// failures are logged and counted but never surfaced to the caller.
func (s *Sink) Record(ctx context.Context, alert models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.AlertTimestamp.IsZero() {
		alert.AlertTimestamp = time.Now().UTC()
	}

	if err := s.store.SaveAlert(ctx, alert); err != nil {
		metrics.AlertPersistErrors.Inc()
		return err
	}
	metrics.AlertsRaised.Inc()

	s.log.Warn().
		Str("alert_id", alert.ID).
		Str("user", alert.User).
		Str("source_ip", alert.SourceIP).
		Str("hostname", alert.Hostname).
		Float64("anomaly_score", alert.AnomalyScore).
		Str("reason", alert.Reason).
		Msg("Anomaly alert raised")

	for _, n := range s.notifiers {
		s.wg.Add(1)
		go func(n Notifier) {
			defer s.wg.Done()
			// Detached from the caller's context so cursor commit in the
			// detection loop never waits on delivery.
			nctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
			defer cancel()

			err := n.Notify(nctx, alert)
			metrics.RecordNotification(n.Name(), err)
			if err != nil {
				s.log.Error().
					Err(err).
					Str("notifier", n.Name()).
					Str("alert_id", alert.ID).
					Msg("Alert notification failed")
			}
		}(n)
	}
	return nil
}

// Close waits for in-flight notifications to finish.
func (s *Sink) Close() {
	s.wg.Wait()
}
