package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const eventColumns = `
	id, user_id, start_time, end_time, last_update,
	session_rx, session_tx, login_ip, endpoint_info, status, duration_seconds
`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	if err := row.Scan(
		&e.ID, &e.UserID, &e.StartTime, &e.EndTime, &e.LastUpdate,
		&e.SessionRx, &e.SessionTx, &e.LoginIP, &e.EndpointInfo, &e.Status, &e.DurationSeconds,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// OpenEventParams are the columns written at ABSENT -> OPEN.
type OpenEventParams struct {
	UserID int64
	StartTime time.Time
	EndpointInfo *string
}

// OpenEvent creates a new OPEN event row for a user.
func (s *Store) OpenEvent(ctx context.Context, p OpenEventParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatTime(p.StartTime)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			user_id, start_time, end_time, last_update,
			session_rx, session_tx, login_ip, endpoint_info, status, duration_seconds
		) VALUES (?, ?, NULL, ?, 0, 0, NULL, ?, ?, 0)
	`, p.UserID, now, now, p.EndpointInfo, EventStatusOnline)
	if err != nil {
		return 0, fmt.Errorf("open event: %w", err)
	}
	return res.LastInsertId()
}

// UpdateEventTraffic writes the latest session_rx/session_tx and last_update
// for an OPEN event.
func (s *Store) UpdateEventTraffic(ctx context.Context, eventID int64, rx, tx int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET session_rx = ?, session_tx = ?, last_update = ? WHERE id = ?
	`, rx, tx, FormatTime(now), eventID)
	if err != nil {
		return fmt.Errorf("update event traffic: %w", err)
	}
	return nil
}

// CloseEvent closes an OPEN event.
func (s *Store) CloseEvent(ctx context.Context, eventID int64, now time.Time, durationSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endTime := FormatTime(now)
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, end_time = ?, duration_seconds = ? WHERE id = ?
	`, EventStatusOffline, endTime, durationSeconds, eventID)
	if err != nil {
		return fmt.Errorf("close event: %w", err)
	}
	return nil
}

// GetEvent fetches a single event row by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// OpenEventForUser returns the user's single OPEN event, if any.
func (s *Store) OpenEventForUser(ctx context.Context, userID int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE user_id = ? AND status = ? LIMIT 1
	`, userID, EventStatusOnline)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open event for user: %w", err)
	}
	return e, nil
}

// LatestEventPerUser returns the most recent event for every user, up to
// limit rows, for GET /api/events.
func (s *Store) LatestEventPerUser(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events e
		WHERE e.id = (
			SELECT MAX(id) FROM events WHERE user_id = e.user_id
		)
		ORDER BY e.start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("latest event per user: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// EventFilter narrows ListEventsPage.
type EventFilter struct {
	UserID int64 // 0 means "any user"
	Status string // all | online | offline
	Limit int
	Offset int
}

// ListEventsPage returns a page of events plus the total matching count.
func (s *Store) ListEventsPage(ctx context.Context, f EventFilter) ([]Event, int, error) {
	where := "WHERE 1=1"
	args := []any{}

	if f.UserID != 0 {
		where += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	switch f.Status {
	case "online":
		where += " AND status = ?"
		args = append(args, EventStatusOnline)
	case "offline":
		where += " AND status = ?"
		args = append(args, EventStatusOffline)
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM events `+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events `+where+`
		ORDER BY start_time DESC LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events page: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

// FirstEventStartTime returns the start_time of the earliest event ever
// recorded, for the dashboard's uptime calculation.
func (s *Store) FirstEventStartTime(ctx context.Context) (string, error) {
	var t sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MIN(start_time) FROM events`).Scan(&t)
	if err != nil {
		return "", fmt.Errorf("first event start time: %w", err)
	}
	return t.String, nil
}
