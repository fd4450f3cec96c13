package interfaces

import (
	"context"

	"github.com/ternarybob/praedium/internal/models"
)

// JobHandler is a function that executes a specific job type and reports
// what the run produced. Handlers must honor context cancellation at
// their iteration checkpoints.
type JobHandler func(ctx context.Context, job *models.Job) (*models.CollectResult, error)

// EnqueueOptions carries optional enqueue parameters. Zero values fall
// back to configured defaults.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
	EnqueuedBy  string
}

// ExecuteSummary reports the outcome of a synchronous queue drain
type ExecuteSummary struct {
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Remaining int `json:"remaining"`
}

// JobOrchestrator manages job lifecycle and queue integration
type JobOrchestrator interface {
	// Enqueue validates and persists a new pending job. Returns a
	// models.DuplicateJobError when an identical active job exists.
	Enqueue(ctx context.Context, jobType models.JobType, spec models.JobSpec, opts EnqueueOptions) (*models.Job, error)

	// Cancel stops a pending job immediately or flags a running job for
	// cooperative cancellation.
	Cancel(ctx context.Context, jobID string) error

	// GetJob returns a job by ID
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// ListJobs returns jobs matching the filter plus the total match count
	ListJobs(ctx context.Context, filter *JobFilter) ([]*models.Job, int, error)

	// GetHistory returns the status transition audit trail for a job
	GetHistory(ctx context.Context, jobID string) ([]models.StatusTransition, error)

	// ExecutePending drains due pending jobs synchronously on the calling
	// goroutine, up to limit (0 means the configured batch limit).
	ExecutePending(ctx context.Context, limit int) (*ExecuteSummary, error)
}

// WorkerPool manages concurrent job processing
type WorkerPool interface {
	RegisterHandler(jobType models.JobType, handler JobHandler)
	Start() error
	Stop() error
}
