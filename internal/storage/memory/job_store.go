// Package memory provides an in-process job store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/apkfetch/internal/downloader"
	"github.com/JakeFAU/apkfetch/internal/jobs"
)

// JobStore keeps jobs in a map guarded by a RWMutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]jobs.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock selects UTC wall time.
func NewJobStore(clock jobs.Clock) *JobStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		jobs: make(map[string]jobs.Job),
		now:  now,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// StartJob marks a job running.
func (s *JobStore) StartJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("start %s: %w", jobID, jobs.ErrJobNotFound)
	}
	job.Status = jobs.StatusRunning
	if job.Started == nil {
		job.Started = pointerTime(s.now())
	}
	s.jobs[jobID] = job
	return nil
}

// FinishJob records the terminal status and result for a job.
func (s *JobStore) FinishJob(_ context.Context, jobID string, status jobs.Status, result *downloader.Result) error {
	if !status.Terminal() {
		return fmt.Errorf("finish %s: status %q is not terminal", jobID, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("finish %s: %w", jobID, jobs.ErrJobNotFound)
	}
	job.Status = status
	job.Result = result
	job.Finished = pointerTime(s.now())
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
