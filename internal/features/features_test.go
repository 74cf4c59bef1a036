// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package features

import (
	"fmt"
	"testing"

	"github.com/sentinelsec/authwatch/internal/models"
)

var defaultKnownUsers = []string{"ubuntu", "ec2-user", "admin", "deploy"}

func event(ts, user, ip string) *models.Event {
	return &models.Event{
		Timestamp: ts,
		Hostname:  "web-server-01",
		EventType: models.EventTypeSSHLoginSuccess,
		User:      user,
		SourceIP:  ip,
	}
}

func TestExtractVectorLayout(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		user string
		want []float64
	}{
		{
			// 2026-08-26 is a Wednesday.
			name: "weekday business hours known user",
			ts:   "2026-08-26T09:30:00Z",
			user: "deploy",
			want: []float64{9, 0, 1, 0},
		},
		{
			// 2026-08-29 is a Saturday.
			name: "weekend rare user",
			ts:   "2026-08-29T03:00:00Z",
			user: "root",
			want: []float64{3, 1, 1, 1},
		},
		{
			name: "unparsable timestamp falls back to neutral midday weekday",
			ts:   "not-a-date",
			user: "ubuntu",
			want: []float64{12, 0, 1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewExtractor(NewState(defaultKnownUsers, 0))
			got := x.Extract(event(tt.ts, tt.user, "10.1.2.3"))
			if len(got) != VectorLen {
				t.Fatalf("vector length = %d, want %d", len(got), VectorLen)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("feature[%d] = %v, want %v (vector %v)", i, got[i], tt.want[i], got)
				}
			}
		})
	}
}

func TestExtractIPNoveltyMutatesStateOnce(t *testing.T) {
	x := NewExtractor(NewState(defaultKnownUsers, 0))

	first := x.Extract(event("2026-08-26T10:00:00Z", "deploy", "8.8.8.8"))
	if first[IdxIPIsNew] != 1 {
		t.Errorf("first occurrence of IP: ip_is_new = %v, want 1", first[IdxIPIsNew])
	}

	// Every subsequent occurrence of the same IP yields 0.
	for i := 0; i < 3; i++ {
		again := x.Extract(event("2026-08-26T11:00:00Z", "deploy", "8.8.8.8"))
		if again[IdxIPIsNew] != 0 {
			t.Errorf("occurrence %d of IP: ip_is_new = %v, want 0", i+2, again[IdxIPIsNew])
		}
	}

	other := x.Extract(event("2026-08-26T12:00:00Z", "deploy", "9.9.9.9"))
	if other[IdxIPIsNew] != 1 {
		t.Errorf("different IP: ip_is_new = %v, want 1", other[IdxIPIsNew])
	}
}

func TestExtractDeterministicForFixedState(t *testing.T) {
	// Two extractors with identical state must produce identical vectors
	// for the same event.
	a := NewExtractor(NewState(defaultKnownUsers, 0))
	b := NewExtractor(NewState(defaultKnownUsers, 0))

	ev := event("2026-08-28T14:15:00Z", "guest", "203.0.113.7")
	va := a.Extract(ev)
	vb := b.Extract(ev)
	for i := range va {
		if va[i] != vb[i] {
			t.Errorf("feature[%d]: %v != %v", i, va[i], vb[i])
		}
	}
}

func TestStateEvictsOldestIPsBeyondCap(t *testing.T) {
	state := NewState(defaultKnownUsers, 3)
	x := NewExtractor(state)

	for i := 0; i < 4; i++ {
		x.Extract(event("2026-08-26T10:00:00Z", "deploy", fmt.Sprintf("10.0.0.%d", i)))
	}
	if state.TrackedIPs() != 3 {
		t.Fatalf("tracked IPs = %d, want 3", state.TrackedIPs())
	}

	// 10.0.0.0 was evicted, so it is novel again.
	v := x.Extract(event("2026-08-26T10:05:00Z", "deploy", "10.0.0.0"))
	if v[IdxIPIsNew] != 1 {
		t.Errorf("evicted IP: ip_is_new = %v, want 1", v[IdxIPIsNew])
	}

	// 10.0.0.3 is still within the retention window.
	v = x.Extract(event("2026-08-26T10:06:00Z", "deploy", "10.0.0.3"))
	if v[IdxIPIsNew] != 0 {
		t.Errorf("retained IP: ip_is_new = %v, want 0", v[IdxIPIsNew])
	}
}

func TestKnownUsersAllowList(t *testing.T) {
	x := NewExtractor(NewState(defaultKnownUsers, 0))

	for _, u := range defaultKnownUsers {
		v := x.Extract(event("2026-08-26T10:00:00Z", u, "10.0.0.1"))
		if v[IdxUserIsRare] != 0 {
			t.Errorf("known user %q: user_is_rare = %v, want 0", u, v[IdxUserIsRare])
		}
	}
	for _, u := range []string{"root", "guest", "testuser"} {
		v := x.Extract(event("2026-08-26T10:00:00Z", u, "10.0.0.1"))
		if v[IdxUserIsRare] != 1 {
			t.Errorf("rare user %q: user_is_rare = %v, want 1", u, v[IdxUserIsRare])
		}
	}
}
