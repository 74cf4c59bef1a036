// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Alert is a persisted record that one event was scored as an outlier.
// Alerts are created by the detection engine, persisted once by the alert
// sink, and immutable afterward. An event produces at most one alert.
type Alert struct {
	ID             string          `json:"alert_id"`
	AlertTimestamp time.Time       `json:"alert_timestamp"`
	EventTimestamp time.Time       `json:"event_timestamp"`
	Hostname       string          `json:"hostname"`
	User           string          `json:"user"`
	SourceIP       string          `json:"source_ip"`
	AnomalyScore   float64         `json:"anomaly_score"`
	Reason         string          `json:"reason"`
	EventDetails   json.RawMessage `json:"event_details,omitempty"`
}

// AlertStats is the aggregate view served to the dashboard: counts in a
// trailing time window, per-user alert counts, and a per-hour histogram.
type AlertStats struct {
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Total       int64       `json:"total"`
	PerUser     []UserCount `json:"per_user"`
	PerHour     []HourCount `json:"per_hour"`
}

// EventStats is the aggregate view of ingested events in a trailing window.
type EventStats struct {
	WindowStart   time.Time   `json:"window_start"`
	WindowEnd     time.Time   `json:"window_end"`
	Total         int64       `json:"total"`
	DistinctUsers int64       `json:"distinct_users"`
	DistinctIPs   int64       `json:"distinct_ips"`
	PerUser       []UserCount `json:"per_user"`
}

// UserCount is one row of a per-user breakdown.
type UserCount struct {
	User  string `json:"user"`
	Count int64  `json:"count"`
}

// HourCount is one bucket of a per-hour histogram (0-23).
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}
