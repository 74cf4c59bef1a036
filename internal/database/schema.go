// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"fmt"
)

// createTables creates the events and alerts tables and their indexes.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR PRIMARY KEY,
			received_at TIMESTAMP NOT NULL,
			event_timestamp TIMESTAMP,
			raw_timestamp VARCHAR,
			hostname VARCHAR NOT NULL,
			event_type VARCHAR NOT NULL,
			username VARCHAR NOT NULL,
			source_ip VARCHAR NOT NULL,
			auth_method VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id VARCHAR PRIMARY KEY,
			alert_timestamp TIMESTAMP NOT NULL,
			event_timestamp TIMESTAMP NOT NULL,
			hostname VARCHAR NOT NULL,
			username VARCHAR NOT NULL,
			source_ip VARCHAR NOT NULL,
			anomaly_score DOUBLE NOT NULL,
			reason VARCHAR NOT NULL,
			event_details VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_received_at ON events (received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_username ON events (username)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts (alert_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_username ON alerts (username)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
