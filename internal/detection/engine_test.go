// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/features"
	"github.com/sentinelsec/authwatch/internal/model"
	"github.com/sentinelsec/authwatch/internal/models"
)

type mockRecorder struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (m *mockRecorder) Record(_ context.Context, alert models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// flakyStore wraps a store and fails ReadSince while failing is set.
type flakyStore struct {
	eventstore.Store
	failing bool
}

func (f *flakyStore) ReadSince(ctx context.Context, cursor uint64) ([]models.Event, uint64, error) {
	if f.failing {
		return nil, cursor, eventstore.ErrUnavailable
	}
	return f.Store.ReadSince(ctx, cursor)
}

// businessHoursEvent is an in-profile login: weekday business hours, known
// user, one of a small pool of IPs.
func businessHoursEvent(i int) models.Event {
	hour := 9 + i%8
	return models.Event{
		Timestamp: fmt.Sprintf("2026-08-26T%02d:00:00Z", hour),
		Hostname:  "web-server-01",
		EventType: models.EventTypeSSHLoginSuccess,
		User:      "deploy",
		SourceIP:  fmt.Sprintf("192.168.1.%d", 10+i%5),
	}
}

func offHoursEvent() models.Event {
	return models.Event{
		Timestamp: "2026-08-26T03:00:00Z",
		Hostname:  "web-server-01",
		EventType: models.EventTypeSSHLoginSuccess,
		User:      "root",
		SourceIP:  "203.0.113.99",
	}
}

func newTestEngine(store eventstore.Store, recorder Recorder, cfg Config) (*Engine, *model.Manager) {
	manager := model.NewManager(model.Config{MinTrainingSize: 50, Seed: 17})
	state := features.NewState([]string{"ubuntu", "ec2-user", "admin", "deploy"}, 0)
	engine := NewEngine(cfg, store, features.NewExtractor(state), manager, recorder)
	return engine, manager
}

func appendEvents(t *testing.T, store eventstore.Store, events ...models.Event) {
	t.Helper()
	for i := range events {
		if _, err := store.Append(context.Background(), events[i]); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestEngineStaysUntrainedBelowMinimum(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, manager := newTestEngine(store, recorder, Config{})

	for i := 0; i < 49; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}

	if outcome := engine.run(context.Background()); outcome != "idle" {
		t.Errorf("outcome = %q, want idle", outcome)
	}
	if manager.Trained() {
		t.Error("model trained on 49 events, minimum is 50")
	}
	if recorder.count() != 0 {
		t.Errorf("%d alerts raised while untrained, want 0", recorder.count())
	}
	if engine.cursor != 49 {
		t.Errorf("cursor = %d, want 49 (events consumed even while untrained)", engine.cursor)
	}
}

func TestEngineTrainsAtMinimumWithoutAlerting(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, manager := newTestEngine(store, recorder, Config{})

	for i := 0; i < 50; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}

	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Errorf("outcome = %q, want trained", outcome)
	}
	if !manager.Trained() {
		t.Fatal("model not trained at 50 events")
	}
	// The bootstrap batch is training data, never scored.
	if recorder.count() != 0 {
		t.Errorf("%d alerts raised from the training batch, want 0", recorder.count())
	}
	if engine.cursor != 50 {
		t.Errorf("cursor = %d, want 50", engine.cursor)
	}
}

func TestEngineFlagsOffHoursNovelActorAfterTraining(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, _ := newTestEngine(store, recorder, Config{})

	for i := 0; i < 200; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Fatalf("training tick outcome = %q, want trained", outcome)
	}

	appendEvents(t, store, offHoursEvent())
	if outcome := engine.run(context.Background()); outcome != "scored" {
		t.Fatalf("scoring tick outcome = %q, want scored", outcome)
	}

	if recorder.count() != 1 {
		t.Fatalf("%d alerts raised, want 1", recorder.count())
	}
	alert := recorder.alerts[0]
	if alert.User != "root" || alert.SourceIP != "203.0.113.99" {
		t.Errorf("alert = %+v, want root@203.0.113.99", alert)
	}
	if alert.AnomalyScore <= 0 {
		t.Errorf("alert score = %v, want > 0", alert.AnomalyScore)
	}
	if alert.EventTimestamp.Hour() != 3 {
		t.Errorf("alert event hour = %d, want 3", alert.EventTimestamp.Hour())
	}
}

func TestEngineScoresEachEventAtMostOnce(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, _ := newTestEngine(store, recorder, Config{})

	for i := 0; i < 100; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Fatalf("training tick outcome = %q, want trained", outcome)
	}

	appendEvents(t, store, offHoursEvent())
	if outcome := engine.run(context.Background()); outcome != "scored" {
		t.Fatalf("scoring tick outcome = %q, want scored", outcome)
	}
	alerts := recorder.count()

	// Ticks with no new events score nothing and re-alert nothing.
	for i := 0; i < 3; i++ {
		if outcome := engine.run(context.Background()); outcome != "idle" {
			t.Errorf("empty tick %d outcome = %q, want idle", i, outcome)
		}
	}
	if recorder.count() != alerts {
		t.Errorf("alert count changed from %d to %d across empty ticks", alerts, recorder.count())
	}
}

func TestEngineSkipsTickOnStoreFailure(t *testing.T) {
	inner := eventstore.NewMemoryStore()
	store := &flakyStore{Store: inner}
	recorder := &mockRecorder{}
	engine, _ := newTestEngine(store, recorder, Config{})

	for i := 0; i < 60; i++ {
		appendEvents(t, inner, businessHoursEvent(i))
	}

	store.failing = true
	if outcome := engine.run(context.Background()); outcome != "skipped" {
		t.Errorf("outcome = %q, want skipped", outcome)
	}
	if engine.cursor != 0 {
		t.Errorf("cursor = %d after failed tick, want 0", engine.cursor)
	}

	// The next healthy tick picks up exactly where the cursor left off.
	store.failing = false
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Errorf("recovery tick outcome = %q, want trained", outcome)
	}
	if engine.cursor != 60 {
		t.Errorf("cursor = %d after recovery, want 60", engine.cursor)
	}
}

func TestEngineRetrainBatchIsNeverScored(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, manager := newTestEngine(store, recorder, Config{RetrainInterval: time.Nanosecond})

	for i := 0; i < 100; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Fatalf("training tick outcome = %q, want trained", outcome)
	}

	// The retrain interval has already elapsed, so this tick re-fits on the
	// window including the outlier instead of scoring it.
	appendEvents(t, store, offHoursEvent())
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Fatalf("retrain tick outcome = %q, want trained", outcome)
	}
	if recorder.count() != 0 {
		t.Errorf("%d alerts raised from a retrain batch, want 0", recorder.count())
	}
	if got := manager.Generations(); got != 2 {
		t.Errorf("model generations = %d, want 2", got)
	}
	if engine.cursor != 101 {
		t.Errorf("cursor = %d, want 101", engine.cursor)
	}
}

func TestEngineScoredCountTriggersRetrain(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, manager := newTestEngine(store, recorder, Config{RetrainAfterScored: 10})

	for i := 0; i < 100; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Fatalf("training tick outcome = %q, want trained", outcome)
	}

	for i := 0; i < 10; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	if outcome := engine.run(context.Background()); outcome != "scored" {
		t.Fatalf("scoring tick outcome = %q, want scored", outcome)
	}

	// The scored-count trigger has fired; the next batch is trained on.
	appendEvents(t, store, businessHoursEvent(0))
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Errorf("post-threshold tick outcome = %q, want trained", outcome)
	}
	if got := manager.Generations(); got != 2 {
		t.Errorf("model generations = %d, want 2", got)
	}
}

func TestEngineStatusReflectsProgress(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	engine, _ := newTestEngine(store, recorder, Config{})

	for i := 0; i < 80; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	engine.tick(context.Background())

	status := engine.Status()
	if !status.Trained {
		t.Error("status.Trained = false after training tick")
	}
	if status.Generation != 1 {
		t.Errorf("status.Generation = %d, want 1", status.Generation)
	}
	if status.Cursor != 80 {
		t.Errorf("status.Cursor = %d, want 80", status.Cursor)
	}
	if status.LastTick.IsZero() {
		t.Error("status.LastTick not set")
	}
}

type mockTrainObserver struct {
	calls        int
	generation   uint64
	trainingSize int
}

func (m *mockTrainObserver) ModelTrained(generation uint64, trainingSize int, _ float64) {
	m.calls++
	m.generation = generation
	m.trainingSize = trainingSize
}

func TestEngineNotifiesObserverOnTraining(t *testing.T) {
	store := eventstore.NewMemoryStore()
	recorder := &mockRecorder{}
	manager := model.NewManager(model.Config{MinTrainingSize: 50, Seed: 17})
	state := features.NewState([]string{"ubuntu", "ec2-user", "admin", "deploy"}, 0)
	observer := &mockTrainObserver{}
	engine := NewEngine(Config{}, store, features.NewExtractor(state), manager, recorder,
		WithTrainObserver(observer))

	for i := 0; i < 60; i++ {
		appendEvents(t, store, businessHoursEvent(i))
	}
	if outcome := engine.run(context.Background()); outcome != "trained" {
		t.Fatalf("outcome = %q, want trained", outcome)
	}

	if observer.calls != 1 {
		t.Fatalf("observer notified %d times, want 1", observer.calls)
	}
	if observer.generation != 1 {
		t.Errorf("observer generation = %d, want 1", observer.generation)
	}
	if observer.trainingSize != 60 {
		t.Errorf("observer training size = %d, want 60", observer.trainingSize)
	}
}
