// ABOUTME: Key binding operations for the SQLite store
// ABOUTME: Maps panel client emails to the Telegram users that hold them

package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AddKey binds a panel client email to a user. Binding the same email to
// the same user twice yields ErrDuplicateKey.
func (s *SQLiteStore) AddKey(ctx context.Context, key *Key) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_keys (user_id, email, inbound_id, comment, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, key.UserID, key.Email, key.InboundID, key.Comment,
		key.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("adding key %s for user %d: %w", key.Email, key.UserID, err)
	}

	key.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("adding key %s for user %d: %w", key.Email, key.UserID, err)
	}
	return nil
}

// ListKeysByUser returns the keys bound to one user, oldest first
func (s *SQLiteStore) ListKeysByUser(ctx context.Context, userID int64) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, email, inbound_id, comment, created_at
		FROM user_keys WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing keys for user %d: %w", userID, err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		var (
			key       Key
			createdAt string
		)
		if err := rows.Scan(&key.ID, &key.UserID, &key.Email, &key.InboundID,
			&key.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		key.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing key created_at: %w", err)
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

// RemoveKey unbinds one email from one user
func (s *SQLiteStore) RemoveKey(ctx context.Context, userID int64, email string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_keys WHERE user_id = ? AND email = ?`, userID, email)
	if err != nil {
		return fmt.Errorf("removing key %s for user %d: %w", email, userID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing key %s for user %d: %w", email, userID, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsersByEmail returns how many users hold a binding to the email.
// Used to decide whether deleting a panel client would strand other users.
func (s *SQLiteStore) CountUsersByEmail(ctx context.Context, email string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM user_keys WHERE email = ?`, email).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users for email %s: %w", email, err)
	}
	return count, nil
}

// ListKeysWithUsers returns every binding joined with its user, grouped
// by email for admin listings
func (s *SQLiteStore) ListKeysWithUsers(ctx context.Context) ([]*KeyBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.email, k.inbound_id, k.comment, u.id, u.username, u.first_name
		FROM user_keys k
		JOIN users u ON u.id = k.user_id
		ORDER BY k.email, u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing key bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*KeyBinding
	for rows.Next() {
		var b KeyBinding
		if err := rows.Scan(&b.Email, &b.InboundID, &b.Comment,
			&b.UserID, &b.Username, &b.FirstName); err != nil {
			return nil, fmt.Errorf("scanning key binding: %w", err)
		}
		bindings = append(bindings, &b)
	}
	return bindings, rows.Err()
}

// CountKeys returns the total number of key bindings
func (s *SQLiteStore) CountKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_keys`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting keys: %w", err)
	}
	return count, nil
}
