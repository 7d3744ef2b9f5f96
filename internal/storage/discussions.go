package storage

import (
	"context"
	"time"

	apperrors "swapsmith/pkg/errors"
)

// Discussion is one community discussion thread shown by the facade.
type Discussion struct {
	ID        int64
	UserID    string
	Title     string
	Body      string
	CreatedAt time.Time
}

// InsertDiscussion persists a new thread.
func (s *Store) InsertDiscussion(ctx context.Context, d *Discussion) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO discussions (user_id, title, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		d.UserID, d.Title, d.Body,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return &apperrors.PersistenceError{Op: "insert_discussion", Err: err}
	}
	return nil
}

// ListDiscussions returns recent threads, newest first.
func (s *Store) ListDiscussions(ctx context.Context, limit int) ([]Discussion, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, body, created_at
		FROM discussions
		ORDER BY created_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_discussions", Err: err}
	}
	defer rows.Close()

	var ds []Discussion
	for rows.Next() {
		var d Discussion
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Body, &d.CreatedAt); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_discussion", Err: err}
		}
		ds = append(ds, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_discussions", Err: err}
	}
	return ds, nil
}
