// ABOUTME: Pending request operations for the SQLite store
// ABOUTME: Key requests live here until an admin accepts, assigns, or rejects them

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRequest stores a new pending request
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *Request) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_requests (id, user_id, username, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, req.ID, req.UserID, req.Username, req.FirstName, req.LastName,
		req.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating request %s: %w", req.ID, err)
	}
	return nil
}

// GetRequest returns the pending request with the given ID
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, first_name, last_name, created_at
		FROM pending_requests WHERE id = ?
	`, id)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting request %s: %w", id, err)
	}
	return req, nil
}

// DeleteRequest removes a pending request. Deleting a request that was
// already resolved yields ErrNotFound, which callers use to detect
// double-clicks on stale admin keyboards.
func (s *SQLiteStore) DeleteRequest(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting request %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting request %s: %w", id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRequestsByUser returns the user's pending requests, oldest first
func (s *SQLiteStore) ListRequestsByUser(ctx context.Context, userID int64) ([]*Request, error) {
	return s.listRequests(ctx, `
		SELECT id, user_id, username, first_name, last_name, created_at
		FROM pending_requests WHERE user_id = ?
		ORDER BY created_at
	`, userID)
}

// ListRequests returns all pending requests, oldest first
func (s *SQLiteStore) ListRequests(ctx context.Context) ([]*Request, error) {
	return s.listRequests(ctx, `
		SELECT id, user_id, username, first_name, last_name, created_at
		FROM pending_requests
		ORDER BY created_at
	`)
}

func (s *SQLiteStore) listRequests(ctx context.Context, query string, args ...any) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var reqs []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req       Request
		createdAt string
	)
	err := row.Scan(&req.ID, &req.UserID, &req.Username, &req.FirstName,
		&req.LastName, &createdAt)
	if err != nil {
		return nil, err
	}

	req.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing request created_at: %w", err)
	}
	return &req, nil
}
