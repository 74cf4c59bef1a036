// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/models"
)

// SaveAlert persists one anomaly alert. It satisfies alert.Store.
func (db *DB) SaveAlert(ctx context.Context, alert models.Alert) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, alert_timestamp, event_timestamp,
			hostname, username, source_ip, anomaly_score, reason, event_details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.AlertTimestamp.UTC(),
		alert.EventTimestamp.UTC(),
		alert.Hostname,
		alert.User,
		alert.SourceIP,
		alert.AnomalyScore,
		alert.Reason,
		string(alert.EventDetails),
	)
	metrics.RecordDBQuery("insert", "alerts", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest alerts, most recent first.
func (db *DB) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT alert_id, alert_timestamp, event_timestamp, hostname,
			username, source_ip, anomaly_score, reason, event_details
		FROM alerts
		ORDER BY alert_timestamp DESC
		LIMIT ?`,
		limit,
	)
	metrics.RecordDBQuery("recent", "alerts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var details sql.NullString
		if err := rows.Scan(&a.ID, &a.AlertTimestamp, &a.EventTimestamp,
			&a.Hostname, &a.User, &a.SourceIP, &a.AnomalyScore, &a.Reason, &details); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if details.Valid && details.String != "" {
			a.EventDetails = []byte(details.String)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}

// GetAlertStats aggregates alerts raised in the trailing window: the total,
// a per-user breakdown, and a per-hour histogram keyed on the alert time.
func (db *DB) GetAlertStats(ctx context.Context, window time.Duration) (*models.AlertStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	end := time.Now().UTC()
	stats := &models.AlertStats{
		WindowStart: end.Add(-window),
		WindowEnd:   end,
	}

	start := time.Now()
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts WHERE alert_timestamp >= ?`,
		stats.WindowStart,
	).Scan(&stats.Total)
	metrics.RecordDBQuery("stats_total", "alerts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	start = time.Now()
	userRows, err := db.conn.QueryContext(ctx, `
		SELECT username, COUNT(*) AS n
		FROM alerts
		WHERE alert_timestamp >= ?
		GROUP BY username
		ORDER BY n DESC, username
		LIMIT 20`,
		stats.WindowStart,
	)
	metrics.RecordDBQuery("stats_per_user", "alerts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alerts per user: %w", err)
	}
	defer func() { _ = userRows.Close() }()

	for userRows.Next() {
		var uc models.UserCount
		if err := userRows.Scan(&uc.User, &uc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan per-user alert count: %w", err)
		}
		stats.PerUser = append(stats.PerUser, uc)
	}
	if err := userRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read per-user alert counts: %w", err)
	}

	start = time.Now()
	hourRows, err := db.conn.QueryContext(ctx, `
		SELECT CAST(EXTRACT(hour FROM event_timestamp) AS INTEGER) AS h, COUNT(*) AS n
		FROM alerts
		WHERE alert_timestamp >= ?
		GROUP BY h
		ORDER BY h`,
		stats.WindowStart,
	)
	metrics.RecordDBQuery("stats_per_hour", "alerts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alerts per hour: %w", err)
	}
	defer func() { _ = hourRows.Close() }()

	for hourRows.Next() {
		var hc models.HourCount
		if err := hourRows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan per-hour alert count: %w", err)
		}
		stats.PerHour = append(stats.PerHour, hc)
	}
	if err := hourRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read per-hour alert counts: %w", err)
	}
	return stats, nil
}
