// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sentinelsec/authwatch/internal/config"
	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/models"
)

type mockPersister struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (m *mockPersister) InsertEvent(_ context.Context, event models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockPersister) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

const validPayload = `{
	"timestamp": "2026-08-28T09:15:00Z",
	"hostname": "web-server-01",
	"event_type": "ssh_login_success",
	"details": {
		"user": "deploy",
		"source_ip": "192.168.1.10",
		"authentication_method": "publickey"
	}
}`

func TestGatewayAcceptsValidEvent(t *testing.T) {
	store := eventstore.NewMemoryStore()
	persister := &mockPersister{}
	g := NewGateway(store, persister)

	event, index, err := g.Accept(context.Background(), []byte(validPayload), "http")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if index != 1 {
		t.Errorf("index = %d, want 1", index)
	}
	if event.User != "deploy" || event.SourceIP != "192.168.1.10" {
		t.Errorf("event = %+v, want deploy@192.168.1.10", event)
	}
	if event.AuthMethod != "publickey" {
		t.Errorf("auth method = %q, want publickey", event.AuthMethod)
	}
	if event.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
	if persister.count() != 1 {
		t.Errorf("persisted %d events, want 1", persister.count())
	}
}

func TestGatewayAcceptsUnparsableTimestamp(t *testing.T) {
	g := NewGateway(eventstore.NewMemoryStore(), nil)

	payload := `{"timestamp":"not-a-date","hostname":"h1","event_type":"ssh_login_success",` +
		`"details":{"user":"root","source_ip":"10.0.0.1"}}`
	event, _, err := g.Accept(context.Background(), []byte(payload), "http")
	if err != nil {
		t.Fatalf("Accept rejected unparsable timestamp: %v", err)
	}
	if event.Timestamp != "not-a-date" {
		t.Errorf("timestamp = %q, want it preserved verbatim", event.Timestamp)
	}
}

func TestGatewayRejectsMalformedJSON(t *testing.T) {
	store := eventstore.NewMemoryStore()
	g := NewGateway(store, nil)

	_, _, err := g.Accept(context.Background(), []byte(`{not json`), "http")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("error = %v, want ErrParse", err)
	}
	if n, _ := store.Len(context.Background()); n != 0 {
		t.Errorf("store has %d events after rejected payload, want 0", n)
	}
}

func TestGatewayRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing event_type", `{"timestamp":"t","hostname":"h","details":{"user":"u","source_ip":"i"}}`},
		{"missing hostname", `{"timestamp":"t","event_type":"e","details":{"user":"u","source_ip":"i"}}`},
		{"missing user", `{"timestamp":"t","hostname":"h","event_type":"e","details":{"source_ip":"i"}}`},
		{"missing source_ip", `{"timestamp":"t","hostname":"h","event_type":"e","details":{"user":"u"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(eventstore.NewMemoryStore(), nil)
			if _, _, err := g.Accept(context.Background(), []byte(tt.payload), "http"); !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestGatewayPersistenceFailureDoesNotRejectEvent(t *testing.T) {
	store := eventstore.NewMemoryStore()
	persister := &mockPersister{err: errors.New("disk full")}
	g := NewGateway(store, persister)

	if _, _, err := g.Accept(context.Background(), []byte(validPayload), "http"); err != nil {
		t.Fatalf("Accept failed on persistence error: %v", err)
	}
	if n, _ := store.Len(context.Background()); n != 1 {
		t.Errorf("store has %d events, want 1", n)
	}
}

func TestTCPServerIngestsNewlineDelimitedEvents(t *testing.T) {
	store := eventstore.NewMemoryStore()
	server := NewTCPServer(config.TCPConfig{Host: "127.0.0.1", Port: 0}, NewGateway(store, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the listener to bind.
	deadline := time.After(2 * time.Second)
	for server.Addr() == nil {
		select {
		case <-deadline:
			t.Fatal("TCP server did not bind")
		case <-time.After(5 * time.Millisecond):
		}
	}

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	for i := 0; i < 3; i++ {
		line := fmt.Sprintf(`{"timestamp":"2026-08-28T09:15:00Z","hostname":"h1","event_type":"ssh_login_success",`+
			`"details":{"user":"user-%d","source_ip":"10.0.0.%d"}}`+"\n", i, i)
		if _, err := conn.Write([]byte(line)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	// One malformed line must not kill the connection.
	if _, err := conn.Write([]byte("garbage\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line := `{"timestamp":"2026-08-28T09:20:00Z","hostname":"h1","event_type":"ssh_login_success",` +
		`"details":{"user":"late","source_ip":"10.0.0.99"}}` + "\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for {
		n, err := store.Len(context.Background())
		if err != nil {
			t.Fatalf("Len failed: %v", err)
		}
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("store has %d events, want 4", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	events, _, err := store.ReadSince(context.Background(), 0)
	if err != nil {
		t.Fatalf("ReadSince failed: %v", err)
	}
	if events[3].User != "late" {
		t.Errorf("last event user = %q, want late (connection survived bad line)", events[3].User)
	}
}
