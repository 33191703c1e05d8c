package postgres

import (
	"context"
	"fmt"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// ScreenStore implements docs.ScreenStore on Postgres.
//
// Schema:
//
//	CREATE TABLE screens (
//		id TEXT PRIMARY KEY,
//		job_id TEXT NOT NULL REFERENCES jobs(id),
//		journey_id TEXT NOT NULL,
//		step_index INT NOT NULL,
//		url TEXT NOT NULL,
//		route TEXT NOT NULL,
//		breadcrumb TEXT NOT NULL DEFAULT '',
//		screenshot_url TEXT NOT NULL DEFAULT '',
//		thumbnail_url TEXT NOT NULL DEFAULT '',
//		dom TEXT NOT NULL DEFAULT '',
//		kind TEXT NOT NULL,
//		created_entity_id TEXT NOT NULL DEFAULT '',
//		status TEXT NOT NULL,
//		order_index INT NOT NULL,
//		captured_at TIMESTAMPTZ NOT NULL,
//		UNIQUE (job_id, order_index)
//	);
type ScreenStore struct {
	pool Pool
}

// NewScreenStore creates a Postgres-backed ScreenStore.
func NewScreenStore(ctx context.Context, cfg Config) (*ScreenStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ScreenStore{pool: pool}, nil
}

// NewScreenStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewScreenStoreWithPool(pool Pool) (*ScreenStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScreenStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ScreenStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertScreen persists one captured screen.
func (s *ScreenStore) InsertScreen(ctx context.Context, screen docs.Screen) error {
	if screen.ID == "" {
		return fmt.Errorf("screen id is required")
	}
	query := `
		INSERT INTO screens (
			id, job_id, journey_id, step_index, url, route, breadcrumb,
			screenshot_url, thumbnail_url, dom, kind, created_entity_id,
			status, order_index, captured_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
		)`
	if _, err := s.pool.Exec(ctx, query,
		screen.ID,
		screen.JobID,
		screen.JourneyID,
		screen.StepIndex,
		screen.URL,
		screen.Route,
		screen.Breadcrumb,
		screen.ScreenshotURL,
		screen.ThumbnailURL,
		screen.DOM,
		screen.Kind,
		screen.CreatedEntityID,
		screen.Status,
		screen.OrderIndex,
		screen.CapturedAt,
	); err != nil {
		return fmt.Errorf("insert screen: %w", err)
	}
	return nil
}

// UpdateScreenStatus moves a screen through its lifecycle.
func (s *ScreenStore) UpdateScreenStatus(ctx context.Context, screenID string, status docs.ScreenStatus) error {
	query := `UPDATE screens SET status = $2 WHERE id = $1;`
	res, err := s.pool.Exec(ctx, query, screenID, status)
	if err != nil {
		return fmt.Errorf("update screen status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("screen %s: %w", screenID, ErrNotFound)
	}
	return nil
}

// ListScreens returns a job's screens ordered by capture sequence.
func (s *ScreenStore) ListScreens(ctx context.Context, jobID string) ([]docs.Screen, error) {
	query := `
		SELECT id, job_id, journey_id, step_index, url, route, breadcrumb,
		       screenshot_url, thumbnail_url, dom, kind, created_entity_id,
		       status, order_index, captured_at
		FROM screens
		WHERE job_id = $1
		ORDER BY order_index ASC;
	`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}
	defer rows.Close()

	var screens []docs.Screen
	for rows.Next() {
		var sc docs.Screen
		err := rows.Scan(
			&sc.ID,
			&sc.JobID,
			&sc.JourneyID,
			&sc.StepIndex,
			&sc.URL,
			&sc.Route,
			&sc.Breadcrumb,
			&sc.ScreenshotURL,
			&sc.ThumbnailURL,
			&sc.DOM,
			&sc.Kind,
			&sc.CreatedEntityID,
			&sc.Status,
			&sc.OrderIndex,
			&sc.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan screen row: %w", err)
		}
		screens = append(screens, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}
	return screens, nil
}

// CountScreens reports how many screens a job has captured.
func (s *ScreenStore) CountScreens(ctx context.Context, jobID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM screens WHERE job_id = $1;`
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count screens: %w", err)
	}
	return count, nil
}
