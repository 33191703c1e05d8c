package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// JobStore implements docs.JobStore on Postgres.
//
// Schema:
//
//	CREATE TABLE jobs (
//		id TEXT PRIMARY KEY,
//		user_id TEXT NOT NULL,
//		status TEXT NOT NULL,
//		input JSONB NOT NULL,
//		credentials JSONB,
//		budget JSONB NOT NULL,
//		progress JSONB NOT NULL,
//		result_url TEXT NOT NULL DEFAULT '',
//		error_text TEXT NOT NULL DEFAULT '',
//		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
//		flagged_for_review BOOLEAN NOT NULL DEFAULT FALSE,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
type JobStore struct {
	pool Pool
}

// NewJobStore creates a Postgres-backed JobStore.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row. Credentials live in their own column
// so the crawl stage can scrub them without touching the rest of the input.
func (s *JobStore) CreateJob(ctx context.Context, job docs.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var credsJSON []byte
	if job.Input.Credentials != nil {
		credsJSON, err = json.Marshal(job.Input.Credentials)
		if err != nil {
			return fmt.Errorf("marshal credentials: %w", err)
		}
	}
	budgetJSON, err := json.Marshal(job.Budget)
	if err != nil {
		return fmt.Errorf("marshal budget: %w", err)
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	now := time.Now().UTC()
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	query := `
		INSERT INTO jobs (id, user_id, status, input, credentials, budget, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	if _, err := s.pool.Exec(ctx, query,
		job.ID, job.UserID, job.Status, inputJSON, credsJSON, budgetJSON, progressJSON, createdAt,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (docs.Job, error) {
	query := `
		SELECT id, user_id, status, input, credentials, budget, progress,
		       result_url, error_text, quality_score, flagged_for_review,
		       created_at, updated_at
		FROM jobs
		WHERE id = $1;
	`
	var (
		job          docs.Job
		inputJSON    []byte
		credsJSON    []byte
		budgetJSON   []byte
		progressJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&inputJSON,
		&credsJSON,
		&budgetJSON,
		&progressJSON,
		&job.ResultURL,
		&job.ErrorText,
		&job.QualityScore,
		&job.FlaggedForReview,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return docs.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return docs.Job{}, fmt.Errorf("get job: %w", err)
	}
	if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
		return docs.Job{}, fmt.Errorf("unmarshal input: %w", err)
	}
	if len(credsJSON) > 0 {
		creds := &docs.Credentials{}
		if err := json.Unmarshal(credsJSON, creds); err != nil {
			return docs.Job{}, fmt.Errorf("unmarshal credentials: %w", err)
		}
		job.Input.Credentials = creds
	}
	if err := json.Unmarshal(budgetJSON, &job.Budget); err != nil {
		return docs.Job{}, fmt.Errorf("unmarshal budget: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
		return docs.Job{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return job, nil
}

// AdvanceStage persists a forward stage transition with a progress
// snapshot. The status guard is enforced in the UPDATE itself so
// concurrent writers cannot move a job backward.
func (s *JobStore) AdvanceStage(ctx context.Context, jobID string, stage docs.JobStatus, progress docs.Progress) error {
	from := advanceableFrom(stage)
	if len(from) == 0 {
		return fmt.Errorf("job %s: no stage may advance to %s", jobID, stage)
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := `
		UPDATE jobs
		SET status = $2, progress = $3, updated_at = $4
		WHERE id = $1 AND status = ANY($5);
	`
	res, err := s.pool.Exec(ctx, query, jobID, stage, progressJSON, time.Now().UTC(), from)
	if err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	if res.RowsAffected() == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s: illegal transition %s -> %s", jobID, job.Status, stage)
	}
	return nil
}

// UpdateBudget replaces the job's budget snapshot.
func (s *JobStore) UpdateBudget(ctx context.Context, jobID string, budget docs.Budget) error {
	budgetJSON, err := json.Marshal(budget)
	if err != nil {
		return fmt.Errorf("marshal budget: %w", err)
	}
	query := `UPDATE jobs SET budget = $2, updated_at = $3 WHERE id = $1;`
	res, err := s.pool.Exec(ctx, query, jobID, budgetJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// FailJob moves a non-terminal job into the failed state.
func (s *JobStore) FailJob(ctx context.Context, jobID string, errText string) error {
	query := `
		UPDATE jobs
		SET status = $2, error_text = $3, updated_at = $4
		WHERE id = $1 AND status NOT IN ($5, $6);
	`
	res, err := s.pool.Exec(ctx, query,
		jobID, docs.JobStatusFailed, errText, time.Now().UTC(),
		docs.JobStatusCompleted, docs.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if res.RowsAffected() == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s already terminal in %s", jobID, job.Status)
	}
	return nil
}

// CompleteJob records the terminal success state and final outputs.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, resultURL string, quality float64, flagged bool, actualCents int) error {
	from := advanceableFrom(docs.JobStatusCompleted)
	query := `
		UPDATE jobs
		SET status = $2, result_url = $3, quality_score = $4, flagged_for_review = $5,
		    budget = jsonb_set(budget, '{actual_cents}', to_jsonb($6::int)),
		    updated_at = $7
		WHERE id = $1 AND status = ANY($8);
	`
	res, err := s.pool.Exec(ctx, query,
		jobID, docs.JobStatusCompleted, resultURL, quality, flagged, actualCents, time.Now().UTC(), from,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if res.RowsAffected() == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s: illegal transition %s -> %s", jobID, job.Status, docs.JobStatusCompleted)
	}
	return nil
}

// ScrubCredentials erases the stored credentials for a job.
func (s *JobStore) ScrubCredentials(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET credentials = NULL, updated_at = $2 WHERE id = $1;`
	res, err := s.pool.Exec(ctx, query, jobID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("scrub credentials: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// advanceableFrom lists the stages a job may legally be in when moving
// to next, per docs.JobStatus.CanAdvance.
func advanceableFrom(next docs.JobStatus) []string {
	all := []docs.JobStatus{
		docs.JobStatusQueued,
		docs.JobStatusAnalyzingCode,
		docs.JobStatusAnalyzingPRD,
		docs.JobStatusDiscovering,
		docs.JobStatusPlanningJourneys,
		docs.JobStatusCrawling,
		docs.JobStatusAnalyzingScreens,
		docs.JobStatusGeneratingDocs,
	}
	var from []string
	for _, s := range all {
		if s.CanAdvance(next) {
			from = append(from, string(s))
		}
	}
	return from
}
