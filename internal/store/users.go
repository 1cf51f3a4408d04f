package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("conflict")

// CreateUserParams are the insertable columns for a new user. ClientIP is a
// pointer because a peer discovered passively by the Session Engine has no allocated IP yet; a nil here (rather than "")
// avoids colliding with the client_ip UNIQUE constraint across multiple
// such rows.
type CreateUserParams struct {
	PeerPubkey string
	ClientIP *string
	Nickname *string
	Mail *string
	Phone *string
	Note *string
	BandwidthLimit int64
	DataLimit int64
	ExpiryDate *string
	WgConfig *string
}

// CreateUser inserts a new user row. Returns ErrConflict if the pubkey or
// client_ip already exists.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			peer_pubkey, client_ip, nickname, mail, phone, note,
			bandwidth_limit, data_limit, expiry_date, status, enabled,
			total_rx, total_tx, wg_config, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, 0, 0, ?, ?, ?)
	`, p.PeerPubkey, p.ClientIP, p.Nickname, p.Mail, p.Phone, p.Note,
		p.BandwidthLimit, p.DataLimit, p.ExpiryDate, p.WgConfig, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLite's error text rather than a typed
	// constraint error; matching on the message is what the driver's own
	// consumers do absent a stable error code type.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.PeerPubkey, &u.ClientIP, &u.Nickname, &u.Mail, &u.Phone, &u.Note,
		&u.BandwidthLimit, &u.DataLimit, &u.ExpiryDate, &u.Status, &u.Enabled,
		&u.TotalRx, &u.TotalTx, &u.LastLogin, &u.LoginIP, &u.WgConfig,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

const userColumns = `
	id, peer_pubkey, client_ip, nickname, mail, phone, note,
	bandwidth_limit, data_limit, expiry_date, status, enabled,
	total_rx, total_tx, last_login, login_ip, wg_config,
	created_at, updated_at
`

// GetUserByID looks up a user by surrogate id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByPubkey looks up a user by its WireGuard public key.
func (s *Store) GetUserByPubkey(ctx context.Context, pubkey string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE peer_pubkey = ?`, pubkey)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by pubkey: %w", err)
	}
	return u, nil
}

// ListUsers returns every user row, ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// UserFilter narrows ListUsersPage by status/search.
type UserFilter struct {
	Search string // matches nickname, mail, peer_pubkey, client_ip (substring)
	Status string // all | online | offline | enabled | disabled
	Limit int
	Offset int
}

// ListUsersPage returns a page of users plus the total matching count, for
// GET /api/users/management.
func (s *Store) ListUsersPage(ctx context.Context, f UserFilter) ([]User, int, error) {
	where := "WHERE 1=1"
	args := []any{}

	if f.Search != "" {
		where += ` AND (
			peer_pubkey LIKE ? OR
			COALESCE(nickname, '') LIKE ? OR
			COALESCE(mail, '') LIKE ? OR
			COALESCE(client_ip, '') LIKE ?
		)`
		like := "%" + f.Search + "%"
		args = append(args, like, like, like, like)
	}

	switch f.Status {
	case "online":
		where += " AND status = 1"
	case "offline":
		where += " AND status = 0"
	case "enabled":
		where += " AND enabled = 1"
	case "disabled":
		where += " AND enabled = 0"
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users `+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query users page: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

// UpdateUserFields is the whitelisted set of mutable fields for User Admin's
// update operation. Nil means "leave unchanged".
type UpdateUserFields struct {
	Nickname *string
	Mail *string
	Phone *string
	BandwidthLimit *int64
	DataLimit *int64
	ExpiryDate *string
	Enabled *int
	Note *string
}

// UpdateUser applies a whitelisted partial update.
func (s *Store) UpdateUser(ctx context.Context, id int64, f UpdateUserFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if f.Nickname != nil {
		add("nickname", *f.Nickname)
	}
	if f.Mail != nil {
		add("mail", *f.Mail)
	}
	if f.Phone != nil {
		add("phone", *f.Phone)
	}
	if f.BandwidthLimit != nil {
		add("bandwidth_limit", *f.BandwidthLimit)
	}
	if f.DataLimit != nil {
		add("data_limit", *f.DataLimit)
	}
	if f.ExpiryDate != nil {
		add("expiry_date", *f.ExpiryDate)
	}
	if f.Enabled != nil {
		add("enabled", *f.Enabled)
	}
	if f.Note != nil {
		add("note", *f.Note)
	}
	if len(sets) == 0 {
		return nil
	}
	add2 := "updated_at = ?"
	sets = append(sets, add2)
	args = append(args, FormatTime(time.Now()))
	args = append(args, id)

	query := "UPDATE users SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserStatus sets the live online/offline flag (Session Engine's exclusive
// write).
func (s *Store) SetUserStatus(ctx context.Context, id int64, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		status, FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	return nil
}

// DisableExpiredUser flips enabled to 0 for an expired user.
func (s *Store) DisableExpiredUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE users SET enabled = 0, updated_at = ? WHERE id = ?`,
		FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("disable expired user: %w", err)
	}
	return nil
}

// ResetUserCounters zeroes a user's lifetime rx/tx counters.
func (s *Store) ResetUserCounters(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET total_rx = 0, total_tx = 0, updated_at = ? WHERE id = ?
	`, FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("reset user counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUserLifetimeTotals accumulates rx/tx onto the user's lifetime counters
// and bumps last_login.
func (s *Store) AddUserLifetimeTotals(ctx context.Context, id int64, rx, tx int64, loginAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET total_rx = total_rx + ?, total_tx = total_tx + ?, last_login = ?, updated_at = ?
		WHERE id = ?
	`, rx, tx, FormatTime(loginAt), FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("add user lifetime totals: %w", err)
	}
	return nil
}

// DeleteUser removes the user row; cascades to events and traffic_stats.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListClientIPs returns every allocated client_ip, for IP allocation.
func (s *Store) ListClientIPs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_ip FROM users WHERE client_ip IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list client ips: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan client ip: %w", err)
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}
