package postgres

import (
	"context"
	"fmt"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// ProgressStore implements docs.ProgressStore on Postgres.
//
// Schema:
//
//	CREATE TABLE progress_messages (
//		id TEXT PRIMARY KEY,
//		job_id TEXT NOT NULL REFERENCES jobs(id),
//		kind TEXT NOT NULL,
//		text TEXT NOT NULL DEFAULT '',
//		screenshot_url TEXT NOT NULL DEFAULT '',
//		at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX progress_messages_job_at ON progress_messages (job_id, at);
type ProgressStore struct {
	pool Pool
}

// NewProgressStore creates a Postgres-backed ProgressStore.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool Pool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AppendMessage appends one message to a job's progress log.
func (s *ProgressStore) AppendMessage(ctx context.Context, msg docs.ProgressMessage) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	query := `
		INSERT INTO progress_messages (id, job_id, kind, text, screenshot_url, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query,
		msg.ID, msg.JobID, msg.Kind, msg.Text, msg.ScreenshotURL, msg.At,
	); err != nil {
		return fmt.Errorf("append progress message: %w", err)
	}
	return nil
}

// ListMessages returns a job's messages oldest-first. A positive limit
// restricts the result to the most recent messages.
func (s *ProgressStore) ListMessages(ctx context.Context, jobID string, limit int) ([]docs.ProgressMessage, error) {
	query := `
		SELECT id, job_id, kind, text, screenshot_url, at
		FROM progress_messages
		WHERE job_id = $1
		ORDER BY at ASC, id ASC;
	`
	args := []any{jobID}
	if limit > 0 {
		query = `
		SELECT id, job_id, kind, text, screenshot_url, at
		FROM (
			SELECT id, job_id, kind, text, screenshot_url, at
			FROM progress_messages
			WHERE job_id = $1
			ORDER BY at DESC, id DESC
			LIMIT $2
		) tail
		ORDER BY at ASC, id ASC;
		`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress messages: %w", err)
	}
	defer rows.Close()

	var msgs []docs.ProgressMessage
	for rows.Next() {
		var m docs.ProgressMessage
		if err := rows.Scan(&m.ID, &m.JobID, &m.Kind, &m.Text, &m.ScreenshotURL, &m.At); err != nil {
			return nil, fmt.Errorf("scan progress message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list progress messages: %w", err)
	}
	return msgs, nil
}
