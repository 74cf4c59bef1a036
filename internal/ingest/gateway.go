// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest accepts authentication events from producers and hands
// them to the ordered event store. The same gateway backs both transports:
// HTTP POST bodies and newline-delimited JSON over raw TCP.
//
// Acceptance is deliberately lenient about content: validation only
// requires the identifying fields to be present. A timestamp that does not
// parse is still accepted; feature extraction downstream substitutes a
// neutral value rather than losing the event.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/sentinelsec/authwatch/internal/eventstore"
	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/models"
)

var (
	// ErrParse reports a payload that is not valid JSON.
	ErrParse = errors.New("ingest: malformed JSON payload")

	// ErrValidation reports a payload missing required fields.
	ErrValidation = errors.New("ingest: event failed validation")
)

// EventPersister stores accepted events durably. It may be nil, in which
// case events live only in the in-process event store.
type EventPersister interface {
	InsertEvent(ctx context.Context, event models.Event) error
}

// Gateway validates incoming payloads and appends them to the event store.
type Gateway struct {
	store     eventstore.Store
	persister EventPersister
	validate  *validator.Validate
}

// NewGateway creates a gateway writing to store, optionally persisting
// accepted events through persister.
func NewGateway(store eventstore.Store, persister EventPersister) *Gateway {
	return &Gateway{
		store:     store,
		persister: persister,
		validate:  validator.New(),
	}
}

// Accept parses, validates, and stores one event payload. transport names
// the ingest surface for metrics ("http" or "tcp"). On success it returns
// the accepted event and its store index.
//
// Parse and validation failures reject only the offending payload; they
// carry ErrParse or ErrValidation for transport-specific status mapping.
func (g *Gateway) Accept(ctx context.Context, payload []byte, transport string) (*models.Event, uint64, error) {
	metrics.IngestBatchBytes.Observe(float64(len(payload)))

	var env models.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		metrics.EventsRejected.WithLabelValues(transport, "parse").Inc()
		return nil, 0, fmt.Errorf("%w: %s", ErrParse, err)
	}
	if err := g.validate.Struct(&env); err != nil {
		metrics.EventsRejected.WithLabelValues(transport, "validation").Inc()
		return nil, 0, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	event := env.ToEvent(time.Now())
	index, err := g.store.Append(ctx, event)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(transport, "store").Inc()
		return nil, 0, fmt.Errorf("failed to append event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues(transport).Inc()
	metrics.EventStoreSize.Set(float64(index))

	// Durable persistence is best effort: the event is already in the
	// store the detection loop reads from.
	if g.persister != nil {
		if err := g.persister.InsertEvent(ctx, event); err != nil {
			logging.Error().Err(err).
				Str("user", event.User).
				Str("source_ip", event.SourceIP).
				Msg("Failed to persist event")
		}
	}
	return &event, index, nil
}
