package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertDailyTraffic accumulates rx/tx and increments session_count by one
// for (user_id, date), preserving created_at across updates.
func (s *Store) UpsertDailyTraffic(ctx context.Context, userID int64, date string, rx, tx int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traffic_stats (user_id, date, daily_rx, daily_tx, session_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			daily_rx = daily_rx + excluded.daily_rx,
			daily_tx = daily_tx + excluded.daily_tx,
			session_count = session_count + 1,
			updated_at = excluded.updated_at
	`, userID, date, rx, tx, now, now)
	if err != nil {
		return fmt.Errorf("upsert daily traffic: %w", err)
	}
	return nil
}

// TrafficChartDay is one row of the last-N-days chart.
type TrafficChartDay struct {
	Date string `json:"date"`
	DailyRx int64 `json:"daily_rx"`
	DailyTx int64 `json:"daily_tx"`
}

// TrafficChart sums traffic across all users per day for the last `days` days.
func (s *Store) TrafficChart(ctx context.Context, days int) ([]TrafficChartDay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, SUM(daily_rx), SUM(daily_tx)
		FROM traffic_stats
		WHERE date >= date('now', ?)
		GROUP BY date
		ORDER BY date ASC
	`, fmt.Sprintf("-%d days", days-1))
	if err != nil {
		return nil, fmt.Errorf("traffic chart: %w", err)
	}
	defer rows.Close()

	var out []TrafficChartDay
	for rows.Next() {
		var d TrafficChartDay
		if err := rows.Scan(&d.Date, &d.DailyRx, &d.DailyTx); err != nil {
			return nil, fmt.Errorf("scan traffic chart day: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TrafficForUserDate returns the traffic_stats row for (user_id, date), or
// ErrNotFound if there is none.
func (s *Store) TrafficForUserDate(ctx context.Context, userID int64, date string) (*TrafficStat, error) {
	var t TrafficStat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, daily_rx, daily_tx, session_count, created_at, updated_at
		FROM traffic_stats WHERE user_id = ? AND date = ?
	`, userID, date).Scan(&t.ID, &t.UserID, &t.Date, &t.DailyRx, &t.DailyTx, &t.SessionCount, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("traffic for user date: %w", err)
	}
	return &t, nil
}

// SystemStatsUpsert are the computed values for today's system_stats row.
// TotalRx/TotalTx replace the stored value (they are lifetime sums, not
// deltas); PeakConcurrent is merged via MAX.
type SystemStatsUpsert struct {
	Date string
	TotalUsers int64
	ActiveUsers int64
	TotalRx int64
	TotalTx int64
	PeakConcurrent int64
	AvgSessionDuration float64
}

// UpsertSystemStats writes today's rollup, preserving created_at and taking
// MAX(existing, current) for peak_concurrent.
func (s *Store) UpsertSystemStats(ctx context.Context, u SystemStatsUpsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_stats (
			date, total_users, active_users, total_rx, total_tx,
			peak_concurrent, avg_session_duration, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_users = excluded.total_users,
			active_users = excluded.active_users,
			total_rx = excluded.total_rx,
			total_tx = excluded.total_tx,
			peak_concurrent = MAX(system_stats.peak_concurrent, excluded.peak_concurrent),
			avg_session_duration = excluded.avg_session_duration,
			updated_at = excluded.updated_at
	`, u.Date, u.TotalUsers, u.ActiveUsers, u.TotalRx, u.TotalTx,
		u.PeakConcurrent, u.AvgSessionDuration, now, now)
	if err != nil {
		return fmt.Errorf("upsert system stats: %w", err)
	}
	return nil
}

// GetSystemStats returns today's row, if any.
func (s *Store) GetSystemStats(ctx context.Context, date string) (*SystemStat, error) {
	var st SystemStat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, total_users, active_users, total_rx, total_tx,
			peak_concurrent, avg_session_duration, created_at, updated_at
		FROM system_stats WHERE date = ?
	`, date).Scan(&st.ID, &st.Date, &st.TotalUsers, &st.ActiveUsers, &st.TotalRx, &st.TotalTx,
		&st.PeakConcurrent, &st.AvgSessionDuration, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get system stats: %w", err)
	}
	return &st, nil
}

// LifetimeTotals sums total_rx/total_tx across enabled users, and counts
// total/active users, for the dashboard and system-stats rollup.
type LifetimeTotals struct {
	TotalUsers int64
	ActiveUsers int64
	TotalRx int64
	TotalTx int64
}

// ComputeLifetimeTotals computes the enabled-user aggregate used both by
// update_system_stats and the dashboard endpoint.
func (s *Store) ComputeLifetimeTotals(ctx context.Context) (LifetimeTotals, error) {
	var t LifetimeTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 1),
			COALESCE(SUM(total_rx), 0),
			COALESCE(SUM(total_tx), 0)
		FROM users WHERE enabled = 1
	`).Scan(&t.TotalUsers, &t.ActiveUsers, &t.TotalRx, &t.TotalTx)
	if err != nil {
		return t, fmt.Errorf("compute lifetime totals: %w", err)
	}
	return t, nil
}

// UserCounts is the raw count breakdown behind GET /api/status.
type UserCounts struct {
	Total int64
	Online int64
	Enabled int64
	Disabled int64
}

// CountUsers computes the status/enabled breakdown over all users.
func (s *Store) CountUsers(ctx context.Context) (UserCounts, error) {
	var c UserCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 1),
			count(*) FILTER (WHERE enabled = 1),
			count(*) FILTER (WHERE enabled = 0)
		FROM users
	`).Scan(&c.Total, &c.Online, &c.Enabled, &c.Disabled)
	if err != nil {
		return c, fmt.Errorf("count users: %w", err)
	}
	return c, nil
}

// AvgSessionDurationToday averages duration_seconds over today's events with
// duration > 0.
func (s *Store) AvgSessionDurationToday(ctx context.Context, date string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(duration_seconds) FROM events
		WHERE duration_seconds > 0 AND substr(start_time, 1, 10) = ?
	`, date).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg session duration today: %w", err)
	}
	return avg.Float64, nil
}
