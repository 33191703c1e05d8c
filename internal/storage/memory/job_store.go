// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = fmt.Errorf("not found")

// JobStore keeps jobs in a map guarded by a RWMutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]docs.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]docs.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job docs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (docs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return docs.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

// AdvanceStage moves a job forward through the pipeline. Backward or
// skipped-state transitions are rejected.
func (s *JobStore) AdvanceStage(_ context.Context, jobID string, stage docs.JobStatus, progress docs.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if !job.Status.CanAdvance(stage) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", jobID, job.Status, stage)
	}
	job.Status = stage
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// UpdateBudget replaces the job's budget snapshot.
func (s *JobStore) UpdateBudget(_ context.Context, jobID string, budget docs.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	job.Budget = budget
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// FailJob moves a job to the failed terminal state with an error text.
func (s *JobStore) FailJob(_ context.Context, jobID string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already terminal in %s", jobID, job.Status)
	}
	job.Status = docs.JobStatusFailed
	job.ErrorText = errText
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// CompleteJob records the terminal success state and final outputs.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, resultURL string, quality float64, flagged bool, actualCents int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if !job.Status.CanAdvance(docs.JobStatusCompleted) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", jobID, job.Status, docs.JobStatusCompleted)
	}
	job.Status = docs.JobStatusCompleted
	job.ResultURL = resultURL
	job.QualityScore = quality
	job.FlaggedForReview = flagged
	job.Budget.ActualCents = actualCents
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// ScrubCredentials erases stored credentials for a job.
func (s *JobStore) ScrubCredentials(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	job.Input.Credentials = nil
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}
