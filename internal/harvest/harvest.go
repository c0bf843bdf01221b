// Package harvest defines harvest jobs and the collaborators the worker pool
// depends on.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/keyword-harvester/internal/keyword"
)

// Status represents the lifecycle phase of a job.
type Status string

// Job lifecycle states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Request asks for up to Limit keywords related to Term from one source.
type Request struct {
	Source string `json:"source"`
	Term   string `json:"term"`
	Limit  int    `json:"limit"`
}

// Validate checks the request is runnable.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Source) == "" {
		errs = append(errs, errors.New("source must not be empty"))
	}
	if strings.TrimSpace(r.Term) == "" {
		errs = append(errs, errors.New("term must not be empty"))
	}
	if r.Limit <= 0 {
		errs = append(errs, fmt.Errorf("limit must be > 0, got %d", r.Limit))
	}
	return errors.Join(errs...)
}

// Job is one harvest request and its outcome.
type Job struct {
	ID        string            `json:"id"`
	Request   Request           `json:"request"`
	Status    Status            `json:"status"`
	Error     string            `json:"error,omitempty"`
	Keywords  []keyword.Keyword `json:"keywords"`
	Submitted time.Time         `json:"submitted"`
	Started   *time.Time        `json:"started,omitempty"`
	Finished  *time.Time        `json:"finished,omitempty"`
}

// ErrQueueClosed is returned by a Queue after shutdown.
var ErrQueueClosed = errors.New("queue closed")

// Queue abstracts the job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// JobStore persists job state and results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status Status, errText string) error
	Complete(ctx context.Context, jobID string, status Status, errText string, keywords []keyword.Keyword) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// Wait blocks until the job reaches a terminal status or ctx ends.
	Wait(ctx context.Context, jobID string) (Job, error)
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
