// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detection runs the periodic anomaly-detection loop.
//
// A single goroutine owns the loop: it drains new events from the ordered
// event store, feeds them through feature extraction exactly once, and
// either trains the model or scores the batch. Because one goroutine does
// everything, a tick can never overlap itself and no event is ever both
// trained on and scored.
//
// The engine moves between two states. Before the first successful training
// it accumulates events and trains as soon as enough have arrived; that
// bootstrap batch produces no alerts. Once trained it scores every new
// event against the published snapshot, re-fitting the model on the recent
// window when the retrain interval elapses. Events consumed by a retrain
// tick join the training window and are not scored.
package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/features"
	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/model"
	"github.com/sentinelsec/authwatch/internal/models"
)

// Recorder persists and fans out one alert.
type Recorder interface {
	Record(ctx context.Context, alert models.Alert) error
}

// TrainObserver is notified after every successful training run.
type TrainObserver interface {
	ModelTrained(generation uint64, trainingSize int, threshold float64)
}

// Option configures optional engine behavior.
type Option func(*Engine)

// WithTrainObserver registers an observer for successful training runs,
// used to push model updates to live dashboard clients.
func WithTrainObserver(obs TrainObserver) Option {
	return func(e *Engine) { e.observer = obs }
}

// Config controls the detection loop.
type Config struct {
	// TickInterval is the polling period of the loop.
	TickInterval time.Duration
	// TrainingWindow is the number of most recent events retained for
	// training and retraining.
	TrainingWindow int
	// RetrainInterval forces a re-fit on the recent window after this much
	// time has passed since the last successful training.
	RetrainInterval time.Duration
	// RetrainAfterScored forces a re-fit after this many events have been
	// scored since the last training. 0 disables the count trigger.
	RetrainAfterScored int
}

const (
	defaultTickInterval    = 10 * time.Second
	defaultTrainingWindow  = 1000
	defaultRetrainInterval = 6 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.TrainingWindow <= 0 {
		c.TrainingWindow = defaultTrainingWindow
	}
	if c.RetrainInterval <= 0 {
		c.RetrainInterval = defaultRetrainInterval
	}
	return c
}

// Status is a point-in-time view of the loop for the health endpoint.
type Status struct {
	Trained       bool      `json:"trained"`
	Generation    uint64    `json:"model_generation"`
	Cursor        uint64    `json:"cursor"`
	WindowSize    int       `json:"window_size"`
	ScoredTotal   uint64    `json:"events_scored"`
	AlertsRaised  uint64    `json:"alerts_raised"`
	LastTick      time.Time `json:"last_tick"`
	LastTrainedAt time.Time `json:"last_trained_at"`
}

// Engine is the detection loop. Create with NewEngine and run via Serve
// under a supervisor; all other methods are safe to call concurrently.
type Engine struct {
	cfg       Config
	store     eventstore.Store
	extractor *features.Extractor
	manager   *model.Manager
	recorder  Recorder
	observer  TrainObserver
	log       zerolog.Logger

	// Loop-owned state, never touched outside tick().
	cursor      uint64
	window      [][]float64
	scoredSince int
	scoredTotal uint64
	lastTrained time.Time

	statusMu sync.RWMutex
	status   Status
}

// NewEngine wires the detection loop. The extractor's state and the cursor
// are owned by the loop goroutine from here on.
func NewEngine(cfg Config, store eventstore.Store, extractor *features.Extractor, manager *model.Manager, recorder Recorder, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		store:     store,
		extractor: extractor,
		manager:   manager,
		recorder:  recorder,
		log:       logging.With().Str("component", "detection").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns the current loop status.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// Serve runs the loop until ctx is canceled. It satisfies suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	e.log.Info().
		Dur("tick_interval", e.cfg.TickInterval).
		Int("training_window", e.cfg.TrainingWindow).
		Dur("retrain_interval", e.cfg.RetrainInterval).
		Msg("Detection engine started")

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Uint64("cursor", e.cursor).Msg("Detection engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick performs one poll-extract-train-or-score cycle.
func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	outcome := e.run(ctx)
	metrics.DetectionTicks.WithLabelValues(outcome).Inc()
	metrics.DetectionTickDuration.Observe(time.Since(start).Seconds())
	metrics.DetectionCursor.Set(float64(e.cursor))
	e.publishStatus()
}

func (e *Engine) run(ctx context.Context) (outcome string) {
	batch, newCursor, err := e.store.ReadSince(ctx, e.cursor)
	if err != nil {
		if errors.Is(err, eventstore.ErrUnavailable) {
			e.log.Warn().Err(err).Uint64("cursor", e.cursor).
				Msg("Event store unavailable, skipping tick")
		} else {
			e.log.Error().Err(err).Uint64("cursor", e.cursor).
				Msg("Event store read failed, skipping tick")
		}
		return "skipped"
	}

	if len(batch) == 0 && e.manager.Trained() && !e.retrainDue() {
		return "idle"
	}

	// Each event passes through feature extraction exactly once, in store
	// order, whether it ends up trained on or scored.
	vectors := make([][]float64, len(batch))
	for i := range batch {
		vectors[i] = e.extractor.Extract(&batch[i])
	}
	e.appendWindow(vectors)

	switch {
	case !e.manager.Trained():
		if len(e.window) < e.manager.MinTrainingSize() {
			e.cursor = newCursor
			return "idle"
		}
		if !e.train() {
			return "error"
		}
		e.cursor = newCursor
		return "trained"

	case e.retrainDue():
		// The batch joins the training window and is never scored.
		if !e.train() {
			return "error"
		}
		e.cursor = newCursor
		return "trained"

	default:
		e.score(ctx, batch, vectors)
		e.cursor = newCursor
		return "scored"
	}
}

// train fits a new snapshot on the recent window. Insufficient data leaves
// the engine in its current state; any other failure aborts the tick so the
// cursor is not committed.
func (e *Engine) train() bool {
	start := time.Now()
	snap, err := e.manager.Train(e.window)
	switch {
	case errors.Is(err, model.ErrInsufficientData):
		metrics.RecordTrainingRun("insufficient_data", 0, 0, 0)
		return true
	case err != nil:
		metrics.RecordTrainingRun("error", 0, 0, 0)
		e.log.Error().Err(err).Int("window_size", len(e.window)).
			Msg("Model training failed")
		return false
	}

	e.lastTrained = time.Now()
	e.scoredSince = 0
	metrics.RecordTrainingRun("success", time.Since(start), snap.Generation, snap.Threshold)
	if e.observer != nil {
		e.observer.ModelTrained(snap.Generation, snap.TrainingSize, snap.Threshold)
	}
	return true
}

// score runs every event in the batch against the published snapshot and
// records an alert for each one crossing the threshold. A failure on one
// event is logged and does not stop the batch.
func (e *Engine) score(ctx context.Context, batch []models.Event, vectors [][]float64) {
	for i := range batch {
		anomalous, scoreVal, err := e.manager.Score(vectors[i])
		if err != nil {
			e.log.Error().Err(err).
				Str("user", batch[i].User).
				Str("source_ip", batch[i].SourceIP).
				Msg("Scoring failed for event")
			continue
		}
		metrics.EventsScored.Inc()
		e.scoredSince++
		e.scoredTotal++

		if !anomalous {
			continue
		}
		if err := e.recordAlert(ctx, &batch[i], scoreVal); err != nil {
			e.log.Error().Err(err).
				Str("user", batch[i].User).
				Str("source_ip", batch[i].SourceIP).
				Msg("Failed to record alert")
		}
	}
}

func (e *Engine) recordAlert(ctx context.Context, event *models.Event, score float64) error {
	eventTime, ok := event.Time()
	if !ok {
		eventTime = event.ReceivedAt
	}
	alert := models.Alert{
		AlertTimestamp: time.Now().UTC(),
		EventTimestamp: eventTime.UTC(),
		Hostname:       event.Hostname,
		User:           event.User,
		SourceIP:       event.SourceIP,
		AnomalyScore:   score,
		Reason:         "Anomalous login pattern detected by Isolation Forest model",
		EventDetails:   event.DetailsJSON(),
	}
	if err := e.recorder.Record(ctx, alert); err != nil {
		return err
	}

	e.statusMu.Lock()
	e.status.AlertsRaised++
	e.statusMu.Unlock()
	return nil
}

// retrainDue reports whether the time or scored-count trigger has fired.
func (e *Engine) retrainDue() bool {
	if !e.manager.Trained() {
		return false
	}
	if time.Since(e.lastTrained) >= e.cfg.RetrainInterval {
		return true
	}
	return e.cfg.RetrainAfterScored > 0 && e.scoredSince >= e.cfg.RetrainAfterScored
}

// appendWindow adds vectors to the training window, dropping the oldest
// entries beyond the configured size.
func (e *Engine) appendWindow(vectors [][]float64) {
	e.window = append(e.window, vectors...)
	if excess := len(e.window) - e.cfg.TrainingWindow; excess > 0 {
		e.window = append([][]float64(nil), e.window[excess:]...)
	}
}

func (e *Engine) publishStatus() {
	snap := e.manager.Current()

	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.Trained = snap != nil
	if snap != nil {
		e.status.Generation = snap.Generation
		e.status.LastTrainedAt = snap.TrainedAt
	}
	e.status.Cursor = e.cursor
	e.status.WindowSize = len(e.window)
	e.status.ScoredTotal = e.scoredTotal
	e.status.LastTick = time.Now().UTC()
}
