// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model owns the anomaly model lifecycle: fitting a scaler and an
// isolation forest over a training batch, deriving the alert threshold, and
// publishing the result as an immutable snapshot that scoring reads without
// locks.
package model

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinelsec/authwatch/internal/logging"
)

// Config controls training. Zero values fall back to the defaults below.
type Config struct {
	// MinTrainingSize is the smallest batch Train accepts.
	MinTrainingSize int
	// Contamination is the expected fraction of outliers in training data.
	// The alert threshold is placed at the (1-Contamination) quantile of
	// the training batch's own scores.
	Contamination float64
	// Trees and SampleSize size the isolation forest.
	Trees      int
	SampleSize int
	// Seed fixes the training RNG; 0 seeds from the clock.
	Seed int64
}

const (
	defaultMinTrainingSize = 50
	defaultContamination   = 0.1
)

func (c Config) withDefaults() Config {
	if c.MinTrainingSize <= 0 {
		c.MinTrainingSize = defaultMinTrainingSize
	}
	if c.Contamination <= 0 || c.Contamination >= 1 {
		c.Contamination = defaultContamination
	}
	if c.Trees <= 0 {
		c.Trees = defaultTrees
	}
	if c.SampleSize <= 0 {
		c.SampleSize = defaultSampleSize
	}
	return c
}

// Snapshot is one fully trained model generation: scaler, forest, and the
// threshold derived from the training batch. Snapshots are immutable after
// publication; scoring always sees a matched scaler/forest/threshold triple.
type Snapshot struct {
	Generation   uint64
	TrainedAt    time.Time
	TrainingSize int
	Threshold    float64

	scaler *StandardScaler
	forest *IsolationForest
}

// Score returns the anomaly score of the raw (unscaled) vector and whether
// it crosses the snapshot's threshold.
func (s *Snapshot) Score(vector []float64) (anomalous bool, score float64, err error) {
	if len(vector) != s.scaler.Dims() {
		return false, 0, ErrDimensionMismatch
	}
	score = s.forest.Score(s.scaler.Transform(vector))
	return score > s.Threshold, score, nil
}

// Manager trains model generations and publishes them atomically. Readers
// call Current or Score at any time and either see no snapshot at all or a
// complete one, never a half-replaced mixture. Train calls are serialized;
// they do not block readers.
type Manager struct {
	cfg      Config
	current  atomic.Pointer[Snapshot]
	trainMu  sync.Mutex
	rng      *rand.Rand
	log      zerolog.Logger
	trainedN atomic.Uint64
}

// NewManager creates a manager with no published snapshot.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Manager{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		log: logging.With().Str("component", "model").Logger(),
	}
}

// MinTrainingSize returns the smallest batch Train accepts.
func (m *Manager) MinTrainingSize() int {
	return m.cfg.MinTrainingSize
}

// Trained reports whether a snapshot has been published.
func (m *Manager) Trained() bool {
	return m.current.Load() != nil
}

// Current returns the published snapshot, or nil before the first Train.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Generations returns the number of snapshots published so far.
func (m *Manager) Generations() uint64 {
	return m.trainedN.Load()
}

// Train fits a new scaler and forest on the batch, derives the threshold,
// and publishes the result. On ErrInsufficientData the previous snapshot
// stays published untouched.
func (m *Manager) Train(vectors [][]float64) (*Snapshot, error) {
	if len(vectors) < m.cfg.MinTrainingSize {
		return nil, ErrInsufficientData
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	start := time.Now()
	scaler := FitScaler(vectors)
	scaled := scaler.TransformAll(vectors)
	forest := BuildForest(scaled, m.cfg.Trees, m.cfg.SampleSize, m.rng)

	// Score the training batch itself and place the threshold so that
	// roughly a Contamination fraction of it lands above.
	scores := make([]float64, len(scaled))
	for i, v := range scaled {
		scores[i] = forest.Score(v)
	}
	threshold := quantile(scores, 1-m.cfg.Contamination)

	snap := &Snapshot{
		Generation:   m.trainedN.Add(1),
		TrainedAt:    time.Now().UTC(),
		TrainingSize: len(vectors),
		Threshold:    threshold,
		scaler:       scaler,
		forest:       forest,
	}
	m.current.Store(snap)

	m.log.Info().
		Uint64("generation", snap.Generation).
		Int("training_size", snap.TrainingSize).
		Float64("threshold", snap.Threshold).
		Dur("duration", time.Since(start)).
		Msg("Model snapshot published")
	return snap, nil
}

// Score scores the vector against the currently published snapshot.
func (m *Manager) Score(vector []float64) (anomalous bool, score float64, err error) {
	snap := m.current.Load()
	if snap == nil {
		return false, 0, ErrNotTrained
	}
	return snap.Score(vector)
}

// quantile returns the q-th quantile (0..1) of values by nearest-rank on a
// sorted copy.
func quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
