// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the Authwatch server.
//
// Authwatch ingests authentication events from host agents, extracts
// behavioral features, and scores each login with an Isolation Forest
// model trained online from the observed traffic. Anomalous logins are
// persisted to DuckDB and pushed to subscribers over WebSocket and an
// optional webhook.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML file, env)
//  2. Database: DuckDB for durable events and alerts
//  3. Pipeline: event store, feature extractor, model manager, alert sink
//  4. Detection engine: periodic scoring loop
//  5. Transports: TCP line gateway and HTTP API with WebSocket feed
//  6. Supervision: suture tree with per-layer failure isolation
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, DUCKDB_PATH, DETECTION_TICK_INTERVAL, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the TCP listener closes, the
// detection loop finishes its current tick, and the database is
// checkpointed before close.
//
// # Example Usage
//
//	export DUCKDB_PATH=/data/authwatch.duckdb
//	export ALERT_WEBHOOK_URL=https://hooks.example.com/authwatch
//	./authwatch
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sentinelsec/authwatch/internal/alert"
	"github.com/sentinelsec/authwatch/internal/api"
	"github.com/sentinelsec/authwatch/internal/config"
	"github.com/sentinelsec/authwatch/internal/database"
	"github.com/sentinelsec/authwatch/internal/detection"
	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/features"
	"github.com/sentinelsec/authwatch/internal/ingest"
	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/model"
	"github.com/sentinelsec/authwatch/internal/supervisor"
	ws "github.com/sentinelsec/authwatch/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Int("http_port", cfg.Server.Port).
		Bool("tcp_enabled", cfg.TCP.Enabled).
		Str("database", cfg.Database.Path).
		Msg("Starting Authwatch")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// Pipeline components. The event store is the ordered buffer between
	// ingestion and the detection loop; DuckDB holds the durable copy.
	store := eventstore.NewMemoryStore()
	state := features.NewState(cfg.Features.KnownUsers, cfg.Features.MaxTrackedIPs)
	extractor := features.NewExtractor(state)
	manager := model.NewManager(model.Config{
		MinTrainingSize: cfg.Model.MinTrainingSize,
		Contamination:   cfg.Model.Contamination,
		Trees:           cfg.Model.Trees,
		SampleSize:      cfg.Model.SampleSize,
	})

	hub := ws.NewHub()
	wsNotifier := ws.NewNotifier(hub)

	notifiers := []alert.Notifier{wsNotifier}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(alert.WebhookConfig{
			URL:              cfg.Alerts.WebhookURL,
			FailureThreshold: cfg.Alerts.WebhookFailureThreshold,
			CooldownPeriod:   cfg.Alerts.WebhookCooldown,
		}))
		logging.Info().Str("url", cfg.Alerts.WebhookURL).Msg("Webhook notifications enabled")
	}
	sink := alert.NewSink(db, notifiers, alert.WithNotifyTimeout(cfg.Alerts.NotifyTimeout))
	defer sink.Close()

	engine := detection.NewEngine(detection.Config{
		TickInterval:       cfg.Detection.TickInterval,
		TrainingWindow:     cfg.Detection.TrainingWindow,
		RetrainInterval:    cfg.Detection.RetrainInterval,
		RetrainAfterScored: cfg.Detection.RetrainAfterScored,
	}, store, extractor, manager, sink, detection.WithTrainObserver(wsNotifier))

	gateway := ingest.NewGateway(store, db)

	handler := api.NewHandler(cfg, gateway, db, store, engine, hub)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(cfg, handler),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(hub)
	tree.AddPipelineService(engine)
	if cfg.TCP.Enabled {
		tree.AddIngestService(ingest.NewTCPServer(cfg.TCP, gateway))
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("Supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop before timeout")
		}
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}
