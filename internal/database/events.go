// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/models"
)

// InsertEvent persists one ingested event. The raw producer timestamp is
// kept verbatim; the parsed timestamp column is NULL when it is unparsable.
func (db *DB) InsertEvent(ctx context.Context, event models.Event) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var eventTime sql.NullTime
	if t, ok := event.Time(); ok {
		eventTime = sql.NullTime{Time: t.UTC(), Valid: true}
	}

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO events (id, received_at, event_timestamp, raw_timestamp,
			hostname, event_type, username, source_ip, auth_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		event.ReceivedAt.UTC(),
		eventTime,
		event.Timestamp,
		event.Hostname,
		event.EventType,
		event.User,
		event.SourceIP,
		event.AuthMethod,
	)
	metrics.RecordDBQuery("insert", "events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// EventCount returns the total number of persisted events.
func (db *DB) EventCount(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	start := time.Now()
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	metrics.RecordDBQuery("count", "events", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// GetEventStats aggregates events received in the trailing window: totals,
// distinct actors, and the top users by event count.
func (db *DB) GetEventStats(ctx context.Context, window time.Duration) (*models.EventStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	end := time.Now().UTC()
	stats := &models.EventStats{
		WindowStart: end.Add(-window),
		WindowEnd:   end,
	}

	start := time.Now()
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT username), COUNT(DISTINCT source_ip)
		FROM events
		WHERE received_at >= ?`,
		stats.WindowStart,
	).Scan(&stats.Total, &stats.DistinctUsers, &stats.DistinctIPs)
	metrics.RecordDBQuery("stats_totals", "events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate event totals: %w", err)
	}

	start = time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT username, COUNT(*) AS n
		FROM events
		WHERE received_at >= ?
		GROUP BY username
		ORDER BY n DESC, username
		LIMIT 20`,
		stats.WindowStart,
	)
	metrics.RecordDBQuery("stats_per_user", "events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events per user: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var uc models.UserCount
		if err := rows.Scan(&uc.User, &uc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan per-user event count: %w", err)
		}
		stats.PerUser = append(stats.PerUser, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read per-user event counts: %w", err)
	}
	return stats, nil
}
