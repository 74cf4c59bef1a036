// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines the core data types shared across Authwatch:
// authentication events as accepted by the ingestion gateway, and the
// alerts produced by the detection engine.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventTypeSSHLoginSuccess is the event type emitted by SSH login producers.
const EventTypeSSHLoginSuccess = "ssh_login_success"

// Event is one authentication telemetry record. Events are immutable once
// accepted by the gateway: stored once, never mutated or deleted.
//
// Timestamp is kept as the raw string submitted by the producer. An
// unparsable timestamp is not a validation failure; downstream feature
// extraction falls back to a neutral time value instead.
type Event struct {
	Timestamp  string    `json:"timestamp"`
	Hostname   string    `json:"hostname"`
	EventType  string    `json:"event_type"`
	User       string    `json:"user"`
	SourceIP   string    `json:"source_ip"`
	AuthMethod string    `json:"auth_method,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// timestampLayouts are the accepted producer timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Time parses the event timestamp. The second return value reports whether
// the timestamp was parsable; callers decide their own fallback.
func (e *Event) Time() (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EventDetails is the nested details object of an ingestion submission.
type EventDetails struct {
	User                 string `json:"user" validate:"required"`
	SourceIP             string `json:"source_ip" validate:"required"`
	AuthenticationMethod string `json:"authentication_method,omitempty"`
}

// EventEnvelope is the wire format accepted by the ingestion gateway,
// one JSON object per submission:
//
//	{
//	  "timestamp": "2026-08-28T09:15:00Z",
//	  "hostname": "web-server-01",
//	  "event_type": "ssh_login_success",
//	  "details": {
//	    "user": "deploy",
//	    "source_ip": "192.168.1.10",
//	    "authentication_method": "publickey"
//	  }
//	}
//
// Validation requires timestamp, hostname, event_type, details.user and
// details.source_ip to be present. The timestamp only has to be present,
// not parsable; see Event.Timestamp.
type EventEnvelope struct {
	Timestamp string       `json:"timestamp" validate:"required"`
	Hostname  string       `json:"hostname" validate:"required"`
	EventType string       `json:"event_type" validate:"required"`
	Details   EventDetails `json:"details" validate:"required"`
}

// ToEvent converts a validated envelope into the internal event record.
func (env *EventEnvelope) ToEvent(receivedAt time.Time) Event {
	return Event{
		Timestamp:  env.Timestamp,
		Hostname:   env.Hostname,
		EventType:  env.EventType,
		User:       env.Details.User,
		SourceIP:   env.Details.SourceIP,
		AuthMethod: env.Details.AuthenticationMethod,
		ReceivedAt: receivedAt.UTC(),
	}
}

// DetailsJSON renders the event's detail fields as an opaque JSON object,
// used for the alert event_details column and notification payloads.
func (e *Event) DetailsJSON() json.RawMessage {
	details := map[string]string{
		"user":      e.User,
		"source_ip": e.SourceIP,
	}
	if e.AuthMethod != "" {
		details["authentication_method"] = e.AuthMethod
	}
	b, err := json.Marshal(details)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
