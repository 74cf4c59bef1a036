// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventstore provides the append-only ordered event log shared
// between the ingestion gateway and the detection engine.
//
// The store is the only state shared between producer goroutines and the
// detection loop. Producers call Append concurrently; the detection loop
// is the single reader and owns its cursor. Indexes are 1-based and
// monotonically increasing: ReadSince(cursor) returns every event with
// index > cursor in append order, so ReadSince(0) replays the full log.
package eventstore

import (
	"context"
	"errors"
	"sync"

	"github.com/sentinelsec/authwatch/internal/models"
)

// ErrUnavailable is returned by store implementations backed by a remote
// database when the backend is unreachable. The detection engine treats it
// as "no new data this tick" and retries on the next tick.
var ErrUnavailable = errors.New("eventstore: backing store unavailable")

// Store is the append-only ordered event log contract.
//
// Append adds one event at the end and returns its index. ReadSince returns
// all events with index > cursor in append order together with the new
// cursor, which equals the index of the last returned event (or the cursor
// unchanged when there is nothing new). Both operations are safe under
// arbitrary concurrent callers. Events are never mutated or deleted.
type Store interface {
	Append(ctx context.Context, event models.Event) (uint64, error)
	ReadSince(ctx context.Context, cursor uint64) ([]models.Event, uint64, error)

	// Len returns the total number of events appended so far.
	Len(ctx context.Context) (uint64, error)
}

// MemoryStore is the in-process Store implementation. A mutex guards only
// the slice mutation itself; no lock is ever held across I/O.
type MemoryStore struct {
	mu     sync.RWMutex
	events []models.Event
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds one event at the end of the log and returns its 1-based index.
func (s *MemoryStore) Append(_ context.Context, event models.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return uint64(len(s.events)), nil
}

// ReadSince returns all events with index > cursor in append order.
// A cursor at or beyond the log tail returns no events and the cursor
// unchanged.
func (s *MemoryStore) ReadSince(_ context.Context, cursor uint64) ([]models.Event, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := uint64(len(s.events))
	if cursor >= total {
		return nil, cursor, nil
	}

	// Copy so callers never observe later appends through the same slice.
	batch := make([]models.Event, total-cursor)
	copy(batch, s.events[cursor:])
	return batch, total, nil
}

// Len returns the total number of events appended so far.
func (s *MemoryStore) Len(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}
