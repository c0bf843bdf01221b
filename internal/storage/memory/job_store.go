// Package memory keeps harvest job state in process memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/keyword-harvester/internal/harvest"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStore provides an in-memory implementation of harvest.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
	done map[string]chan struct{}
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]harvest.Job),
		done: make(map[string]chan struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = harvest.StatusQueued
	}
	s.jobs[job.ID] = job
	s.done[job.ID] = make(chan struct{})
	return nil
}

// UpdateJobStatus moves a job to status, stamping start and finish times.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status harvest.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(jobID, status, errText, nil)
}

// Complete stores the job's keywords and terminal status.
func (s *JobStore) Complete(
	_ context.Context,
	jobID string,
	status harvest.Status,
	errText string,
	keywords []keyword.Keyword,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if keywords == nil {
		keywords = []keyword.Keyword{}
	}
	return s.update(jobID, status, errText, slices.Clone(keywords))
}

func (s *JobStore) update(jobID string, status harvest.Status, errText string, keywords []keyword.Keyword) error {
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = status
	job.Error = errText
	if keywords != nil {
		job.Keywords = keywords
	}
	now := s.now()
	if status == harvest.StatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
		close(s.done[jobID])
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	job.Keywords = slices.Clone(job.Keywords)
	return job, nil
}

// Wait blocks until the job finishes or ctx ends.
func (s *JobStore) Wait(ctx context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	done, ok := s.done[jobID]
	s.mu.RUnlock()
	if !ok {
		return harvest.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	select {
	case <-done:
		return s.GetJob(ctx, jobID)
	case <-ctx.Done():
		return harvest.Job{}, fmt.Errorf("wait for job %s: %w", jobID, ctx.Err())
	}
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
