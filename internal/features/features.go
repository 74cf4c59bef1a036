// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package features converts authentication events into fixed-length numeric
// feature vectors for the model manager.
//
// The vector layout is fixed for the lifetime of a model generation:
//
//	[hour_of_day, is_weekend, ip_is_new, user_is_rare]
//
// The same ordering is used at training time and at scoring time; training
// and scoring through different layouts is a correctness bug, which is why
// the layout lives here and nowhere else.
//
// Extraction has one deliberate side effect: computing ip_is_new records the
// IP in the online state, so the second occurrence of an IP always yields 0.
// The state is owned by the detection loop and mutated exactly once per
// event; it is never shared with producer goroutines.
package features

import (
	"time"

	"github.com/sentinelsec/authwatch/internal/models"
)

// VectorLen is the number of features in an extracted vector.
const VectorLen = 4

// Feature indexes into an extracted vector.
const (
	IdxHourOfDay = iota
	IdxIsWeekend
	IdxIPIsNew
	IdxUserIsRare
)

// Neutral fallback for events whose timestamp cannot be parsed: midday on a
// weekday, an availability-over-precision choice so one bad producer clock
// never fails a whole batch.
const fallbackHour = 12

// State is the mutable memory of previously observed actors used to compute
// novelty features. It is owned exclusively by the detection loop; no
// internal locking is done.
//
// The seen-IP set may be bounded (maxTrackedIPs > 0), in which case the
// oldest tracked IPs are evicted first and ip_is_new means "not seen within
// the retention window".
type State struct {
	seenIPs       map[string]struct{}
	ipOrder       []string
	maxTrackedIPs int
	knownUsers    map[string]struct{}
}

// NewState creates online feature state with the given known-user allow-list
// and seen-IP cap (0 = unbounded).
func NewState(knownUsers []string, maxTrackedIPs int) *State {
	users := make(map[string]struct{}, len(knownUsers))
	for _, u := range knownUsers {
		users[u] = struct{}{}
	}
	return &State{
		seenIPs:       make(map[string]struct{}),
		maxTrackedIPs: maxTrackedIPs,
		knownUsers:    users,
	}
}

// observeIP reports whether ip was already tracked and records it.
func (s *State) observeIP(ip string) (seen bool) {
	if _, ok := s.seenIPs[ip]; ok {
		return true
	}
	s.seenIPs[ip] = struct{}{}
	s.ipOrder = append(s.ipOrder, ip)

	if s.maxTrackedIPs > 0 && len(s.ipOrder) > s.maxTrackedIPs {
		oldest := s.ipOrder[0]
		s.ipOrder = s.ipOrder[1:]
		delete(s.seenIPs, oldest)
	}
	return false
}

// knownUser reports whether user is on the allow-list.
func (s *State) knownUser(user string) bool {
	_, ok := s.knownUsers[user]
	return ok
}

// TrackedIPs returns the number of IPs currently tracked.
func (s *State) TrackedIPs() int {
	return len(s.seenIPs)
}

// Extractor is the stateful feature-extraction stage.
type Extractor struct {
	state *State
}

// NewExtractor creates an extractor bound to the given online state.
func NewExtractor(state *State) *Extractor {
	return &Extractor{state: state}
}

// Extract converts one event into its feature vector, recording the event's
// source IP in the online state before returning. Reprocessing the same
// event therefore yields ip_is_new=0 on the second pass.
func (x *Extractor) Extract(event *models.Event) []float64 {
	hour, weekend := eventClock(event)

	ipIsNew := 0.0
	if !x.state.observeIP(event.SourceIP) {
		ipIsNew = 1.0
	}

	userIsRare := 0.0
	if !x.state.knownUser(event.User) {
		userIsRare = 1.0
	}

	return []float64{hour, weekend, ipIsNew, userIsRare}
}

// eventClock returns the hour-of-day and weekend features, falling back to
// the neutral midday-weekday values when the timestamp is unparsable.
func eventClock(event *models.Event) (hour, weekend float64) {
	t, ok := event.Time()
	if !ok {
		return fallbackHour, 0
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1
	}
	return float64(t.Hour()), weekend
}
