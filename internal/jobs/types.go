// Package jobs defines the types and interfaces shared by the serve-mode
// subsystems: API, queue, store and workers.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/apkfetch/internal/downloader"
)

// ErrJobNotFound is returned by a JobStore for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned by Queue.Dequeue once the queue is shut down.
var ErrQueueClosed = errors.New("queue closed")

// Status represents the lifecycle state of a download job.
type Status string

// Job status values persisted in the job store.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Job is the metadata kept for each submitted download request.
type Job struct {
	ID        string             `json:"id"`
	Package   string             `json:"package"`
	Status    Status             `json:"status"`
	Submitted time.Time          `json:"submitted_at"`
	Started   *time.Time         `json:"started_at,omitempty"`
	Finished  *time.Time         `json:"finished_at,omitempty"`
	Result    *downloader.Result `json:"result,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID   string
	Package string
}

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	StartJob(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID string, status Status, result *downloader.Result) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Queue provides enqueue/dequeue semantics for download jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Downloader runs the resolution pipeline for one package.
type Downloader interface {
	Download(ctx context.Context, pkg string) downloader.Result
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
