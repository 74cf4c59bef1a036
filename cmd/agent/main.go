// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is a synthetic login-event generator for exercising an
// Authwatch server. It emits a stream of mostly-normal authentication
// events with a configurable fraction of anomalous logins (unusual
// accounts, odd hours, fresh source addresses), which is useful for
// demos, load testing, and watching the model train and start flagging.
//
// Events are sent either as newline-delimited JSON over TCP or as
// individual HTTP POSTs:
//
//	authwatch-agent -target localhost:9999 -rate 50
//	authwatch-agent -transport http -target http://localhost:8080 -rate 10 -anomaly 0.05
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/models"
)

var (
	normalUsers  = []string{"ubuntu", "ec2-user", "admin", "deploy"}
	anomalyUsers = []string{"root", "guest", "testuser", "oracle"}
	hostnames    = []string{"web-server-01", "web-server-02", "db-server-01", "bastion"}
	authMethods  = []string{"publickey", "password"}

	// Normal traffic comes from a small stable pool of office addresses.
	officeIPs = []string{
		"192.168.1.10", "192.168.1.11", "192.168.1.12",
		"10.0.5.20", "10.0.5.21",
	}
)

type generator struct {
	rng         *rand.Rand
	anomalyRate float64
}

// next produces one event envelope. A normal event is a known user from
// an office address during business hours; an anomalous one is a rare
// account from a random public address at an odd hour.
func (g *generator) next() models.EventEnvelope {
	now := time.Now().UTC()
	env := models.EventEnvelope{
		Hostname:  hostnames[g.rng.Intn(len(hostnames))],
		EventType: "ssh_login_success",
	}

	if g.rng.Float64() < g.anomalyRate {
		ts := time.Date(now.Year(), now.Month(), now.Day(),
			g.rng.Intn(5), g.rng.Intn(60), g.rng.Intn(60), 0, time.UTC)
		env.Timestamp = ts.Format(time.RFC3339)
		env.Details.User = anomalyUsers[g.rng.Intn(len(anomalyUsers))]
		env.Details.SourceIP = fmt.Sprintf("203.0.113.%d", g.rng.Intn(254)+1)
		env.Details.AuthenticationMethod = "password"
		return env
	}

	ts := time.Date(now.Year(), now.Month(), now.Day(),
		9+g.rng.Intn(8), g.rng.Intn(60), g.rng.Intn(60), 0, time.UTC)
	env.Timestamp = ts.Format(time.RFC3339)
	env.Details.User = normalUsers[g.rng.Intn(len(normalUsers))]
	env.Details.SourceIP = officeIPs[g.rng.Intn(len(officeIPs))]
	env.Details.AuthenticationMethod = authMethods[g.rng.Intn(len(authMethods))]
	return env
}

// sender delivers one serialized event.
type sender interface {
	send(ctx context.Context, payload []byte) error
	close()
}

type tcpSender struct {
	conn net.Conn
}

func newTCPSender(target string) (*tcpSender, error) {
	conn, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &tcpSender{conn: conn}, nil
}

func (s *tcpSender) send(_ context.Context, payload []byte) error {
	_, err := s.conn.Write(append(payload, '\n'))
	return err
}

func (s *tcpSender) close() { _ = s.conn.Close() }

type httpSender struct {
	client *http.Client
	url    string
}

func newHTTPSender(target string) *httpSender {
	return &httpSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    target + "/api/v1/events",
	}
}

func (s *httpSender) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func (s *httpSender) close() { s.client.CloseIdleConnections() }

func main() {
	transport := flag.String("transport", "tcp", "delivery transport: tcp or http")
	target := flag.String("target", "localhost:9999", "server address (host:port for tcp, base URL for http)")
	eventsPerSec := flag.Float64("rate", 10, "events per second")
	anomalyRate := flag.Float64("anomaly", 0.1, "fraction of anomalous events in (0, 1)")
	count := flag.Int("count", 0, "total events to send, 0 for unlimited")
	seed := flag.Int64("seed", 0, "random seed, 0 uses current time")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gen := &generator{
		rng:         rand.New(rand.NewSource(*seed)),
		anomalyRate: *anomalyRate,
	}

	var (
		snd sender
		err error
	)
	switch *transport {
	case "tcp":
		snd, err = newTCPSender(*target)
	case "http":
		snd = newHTTPSender(*target)
	default:
		err = fmt.Errorf("unknown transport %q", *transport)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Agent startup failed")
	}
	defer snd.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := rate.NewLimiter(rate.Limit(*eventsPerSec), 1)
	logging.Info().
		Str("transport", *transport).
		Str("target", *target).
		Float64("rate", *eventsPerSec).
		Float64("anomaly", *anomalyRate).
		Int64("seed", *seed).
		Msg("Agent streaming events")

	sent := 0
	for *count == 0 || sent < *count {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		payload, err := json.Marshal(gen.next())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to encode event")
		}
		if err := sendWithRetry(ctx, snd, payload); err != nil {
			logging.Error().Err(err).Msg("Delivery failed after retries")
			os.Exit(1)
		}
		sent++
		if sent%100 == 0 {
			logging.Info().Int("sent", sent).Msg("Progress")
		}
	}
	logging.Info().Int("sent", sent).Msg("Agent finished")
}

// sendWithRetry retries a failed delivery with doubling backoff.
func sendWithRetry(ctx context.Context, snd sender, payload []byte) error {
	const attempts = 3
	backoff := 250 * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = snd.send(ctx, payload); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		logging.Warn().Err(err).Dur("backoff", backoff).Msg("Delivery failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
