// ABOUTME: User operations for the SQLite store
// ABOUTME: Upserts, lookups, and time-limited blocks for Telegram users

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveUser inserts the user or refreshes their identity fields if they
// already exist. Block state is preserved on update.
func (s *SQLiteStore) SaveUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name
	`, user.ID, user.Username, user.FirstName, user.LastName,
		user.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving user %d: %w", user.ID, err)
	}
	return nil
}

// GetUser returns the user with the given Telegram ID
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, first_name, last_name, blocked_until, created_at
		FROM users WHERE id = ?
	`, id)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	return user, nil
}

// CountUsers returns the number of known users
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// BlockUser blocks the user for the given duration from now
func (s *SQLiteStore) BlockUser(ctx context.Context, id int64, d time.Duration) error {
	until := time.Now().UTC().Add(d).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET blocked_until = ? WHERE id = ?`, until, id)
	if err != nil {
		return fmt.Errorf("blocking user %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("blocking user %d: %w", id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UnblockUser clears the user's block. Unblocking a user who is not
// blocked is a no-op.
func (s *SQLiteStore) UnblockUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET blocked_until = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("unblocking user %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unblocking user %d: %w", id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// IsBlocked reports whether the user is currently blocked. Unknown users
// are not blocked.
func (s *SQLiteStore) IsBlocked(ctx context.Context, id int64) (bool, error) {
	user, err := s.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Blocked(time.Now().UTC()), nil
}

// ListBlocked returns users whose block has not yet expired
func (s *SQLiteStore) ListBlocked(ctx context.Context) ([]*User, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, first_name, last_name, blocked_until, created_at
		FROM users
		WHERE blocked_until IS NOT NULL AND blocked_until > ?
		ORDER BY blocked_until
	`, now)
	if err != nil {
		return nil, fmt.Errorf("listing blocked users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blocked user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		user         User
		blockedUntil sql.NullString
		createdAt    string
	)
	err := row.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName,
		&blockedUntil, &createdAt)
	if err != nil {
		return nil, err
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if blockedUntil.Valid {
		user.BlockedUntil, err = time.Parse(time.RFC3339, blockedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parsing blocked_until: %w", err)
		}
	}
	return &user, nil
}
