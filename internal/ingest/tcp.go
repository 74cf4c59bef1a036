// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sentinelsec/authwatch/internal/config"
	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/metrics"
)

// TCPServer accepts newline-delimited JSON events over raw TCP, one event
// per line. Producers that cannot speak HTTP (syslog shippers, minimal
// agents) use this surface.
type TCPServer struct {
	cfg     config.TCPConfig
	gateway *Gateway
	log     zerolog.Logger

	// listener is swapped in by Serve; tests read the bound address.
	mu       sync.Mutex
	listener net.Listener
}

// NewTCPServer creates the TCP ingestion server.
func NewTCPServer(cfg config.TCPConfig, gateway *Gateway) *TCPServer {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	return &TCPServer{
		cfg:     cfg,
		gateway: gateway,
		log:     logging.With().Str("component", "tcp-ingest").Logger(),
	}
}

// Addr returns the bound listener address, or nil before Serve has bound.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens and accepts connections until ctx is canceled. It
// satisfies suture.Service.
func (s *TCPServer) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("TCP ingest listening")

	// Closing the listener unblocks Accept when the context ends.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.MaxConnections)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				s.log.Info().Msg("TCP ingest stopped")
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			wg.Wait()
			return fmt.Errorf("accept failed: %w", err)
		}

		select {
		case sem <- struct{}{}:
		default:
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).
				Msg("Connection limit reached, rejecting producer")
			_ = conn.Close()
			continue
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer func() { <-sem }()
			s.handleConn(ctx, conn)
		}(conn)
	}
}

// handleConn reads newline-delimited events until EOF or cancellation.
// A malformed line is rejected and logged; the connection stays open.
func (s *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	metrics.TCPConnections.Inc()
	defer metrics.TCPConnections.Dec()
	defer func() { _ = conn.Close() }()

	// Closing the connection unblocks the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	s.log.Debug().Str("remote", remote).Msg("Producer connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), s.cfg.MaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, _, err := s.gateway.Accept(ctx, line, "tcp"); err != nil {
			s.log.Warn().Err(err).Str("remote", remote).Msg("Rejected event")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.log.Debug().Err(err).Str("remote", remote).Msg("Producer read failed")
	}
}
