// ABOUTME: Traffic history and usage snapshot operations for the SQLite store
// ABOUTME: Feeds the scheduled daily/weekly/monthly usage reports

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveTrafficDay upserts one day of traffic for a client email
func (s *SQLiteStore) SaveTrafficDay(ctx context.Context, day *TrafficDay) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traffic_history (email, up, down, date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email, date) DO UPDATE SET
			up = excluded.up,
			down = excluded.down
	`, day.Email, day.Up, day.Down, day.Date)
	if err != nil {
		return fmt.Errorf("saving traffic day %s/%s: %w", day.Email, day.Date, err)
	}
	return nil
}

// PeriodStats aggregates traffic_history over [startDate, endDate]
// inclusive, busiest clients first. Dates are YYYY-MM-DD, which sorts
// lexicographically.
func (s *SQLiteStore) PeriodStats(ctx context.Context, startDate, endDate string) ([]*PeriodStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email,
		       SUM(up + down) AS total,
		       COUNT(CASE WHEN up + down > 0 THEN 1 END) AS active_days
		FROM traffic_history
		WHERE date >= ? AND date <= ?
		GROUP BY email
		ORDER BY total DESC
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("aggregating traffic %s..%s: %w", startDate, endDate, err)
	}
	defer rows.Close()

	var stats []*PeriodStat
	for rows.Next() {
		var st PeriodStat
		if err := rows.Scan(&st.Email, &st.PeriodTraffic, &st.ActiveDays); err != nil {
			return nil, fmt.Errorf("scanning period stat: %w", err)
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// SaveSnapshot upserts a client's cumulative traffic counters for one date
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_snapshots (email, up, down, all_time, date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email, date) DO UPDATE SET
			up = excluded.up,
			down = excluded.down,
			all_time = excluded.all_time
	`, snap.Email, snap.Up, snap.Down, snap.AllTime, snap.Date)
	if err != nil {
		return fmt.Errorf("saving snapshot %s/%s: %w", snap.Email, snap.Date, err)
	}
	return nil
}

// GetSnapshot returns the snapshot recorded for email on date
func (s *SQLiteStore) GetSnapshot(ctx context.Context, email, date string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT email, up, down, all_time, date
		FROM usage_snapshots WHERE email = ? AND date = ?
	`, email, date).Scan(&snap.Email, &snap.Up, &snap.Down, &snap.AllTime, &snap.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s/%s: %w", email, date, err)
	}
	return &snap, nil
}

// ListSnapshots returns up to maxDays of the most recent snapshots for
// email, newest first
func (s *SQLiteStore) ListSnapshots(ctx context.Context, email string, maxDays int) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, up, down, all_time, date
		FROM usage_snapshots
		WHERE email = ?
		ORDER BY date DESC
		LIMIT ?
	`, email, maxDays)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", email, err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.Email, &snap.Up, &snap.Down, &snap.AllTime, &snap.Date); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}
