// -----------------------------------------------------------------------
// Command Service - Host-facing surface over the collection pipeline
// -----------------------------------------------------------------------

package command

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/coverage"
)

const (
	// defaultPageSize bounds list results when the caller does not set a limit
	defaultPageSize = 50

	// maxPageSize caps a single page regardless of the requested limit
	maxPageSize = 500
)

// EnqueueRequest is the host-facing payload for a new collection job.
// Zero Priority and MaxAttempts fall back to configured defaults.
type EnqueueRequest struct {
	JobType     models.JobType `json:"job_type"`
	Spec        models.JobSpec `json:"spec"`
	Priority    int            `json:"priority,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	EnqueuedBy  string         `json:"enqueued_by,omitempty"`
}

// JobPage is one page of the job list plus the pre-pagination total
type JobPage struct {
	Jobs   []*models.Job `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// JobDetail is a job with its audit trail and captured log tail
type JobDetail struct {
	Job     *models.Job               `json:"job"`
	History []models.StatusTransition `json:"history"`
	Logs    []models.JobLogEntry      `json:"logs"`
}

// ChangePage is one page of the change ledger plus the pre-pagination total
type ChangePage struct {
	Changes []*models.Change `json:"changes"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ReviewRequest carries one operator verdict
type ReviewRequest struct {
	ChangeID string                   `json:"change_id"`
	Verdict  interfaces.ReviewVerdict `json:"verdict"`
	Reviewer string                   `json:"reviewer"`
	Note     string                   `json:"note,omitempty"`
}

// BulkReviewRequest carries one verdict across many changes
type BulkReviewRequest struct {
	ChangeIDs []string                 `json:"change_ids"`
	Verdict   interfaces.ReviewVerdict `json:"verdict"`
	Reviewer  string                   `json:"reviewer"`
}

// BackfillRequest scopes a coverage backfill sweep
type BackfillRequest struct {
	Market string `json:"market,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// Service is the command surface the embedding host calls. Every method
// returns (result, error) with the typed errors from the underlying
// services; nothing panics across this boundary. The service holds no
// state of its own, so hosts may call it from any goroutine.
type Service struct {
	config   *common.Config
	queue    interfaces.JobOrchestrator
	review   interfaces.ReviewService
	changes  interfaces.ChangeStorage
	jobLogs  interfaces.JobLogStorage
	coverage *coverage.Service
	logger   arbor.ILogger
}

// NewService creates the command service over the pipeline's services
func NewService(config *common.Config, queue interfaces.JobOrchestrator, review interfaces.ReviewService,
	changes interfaces.ChangeStorage, jobLogs interfaces.JobLogStorage, coverageSvc *coverage.Service,
	logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		config:   config,
		queue:    queue,
		review:   review,
		changes:  changes,
		jobLogs:  jobLogs,
		coverage: coverageSvc,
		logger:   logger,
	}
}

// EnqueueJob validates and persists a new pending collection job.
// Returns models.ErrInvalidSpec for a malformed request and
// models.DuplicateJobError when an identical job is already active.
func (s *Service) EnqueueJob(ctx context.Context, req EnqueueRequest) (*models.Job, error) {
	if req.JobType == "" {
		return nil, fmt.Errorf("%w: job type is required", models.ErrInvalidSpec)
	}
	return s.queue.Enqueue(ctx, req.JobType, req.Spec, interfaces.EnqueueOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		EnqueuedBy:  req.EnqueuedBy,
	})
}

// CancelJob cancels a job and returns its updated row. Pending jobs
// settle immediately; running jobs are flagged and settle at the
// worker's next checkpoint. Returns models.ErrNotFound for an unknown
// job and models.ErrTerminalJob for one already settled.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job ID is required", models.ErrInvalidSpec)
	}
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		return nil, err
	}
	return s.queue.GetJob(ctx, jobID)
}

// ExecutePending drains due pending jobs on the calling goroutine, up to
// max (0 means the configured batch limit). Batch hosts call this
// instead of running the worker pool.
func (s *Service) ExecutePending(ctx context.Context, max int) (*interfaces.ExecuteSummary, error) {
	return s.queue.ExecutePending(ctx, max)
}

// ListJobs returns one page of jobs in queue order. A nil filter lists
// everything, first page.
func (s *Service) ListJobs(ctx context.Context, filter *interfaces.JobFilter) (*JobPage, error) {
	normalized := normalizeJobFilter(filter)
	jobs, total, err := s.queue.ListJobs(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return &JobPage{Jobs: jobs, Total: total, Limit: normalized.Limit, Offset: normalized.Offset}, nil
}

// GetJob returns a job with its status history and captured log tail.
// The tail length comes from logging config; history and logs are
// best-effort once the job row itself is found.
func (s *Service) GetJob(ctx context.Context, jobID string) (*JobDetail, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job ID is required", models.ErrInvalidSpec)
	}
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	detail := &JobDetail{Job: job}
	if detail.History, err = s.queue.GetHistory(ctx, jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to load job history")
		detail.History = nil
	}
	if detail.Logs, err = s.jobLogs.GetEntries(ctx, jobID, s.config.Logging.JobLogTailCap); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to load job log tail")
		detail.Logs = nil
	}
	return detail, nil
}

// ListChanges returns one page of the change ledger, newest first
func (s *Service) ListChanges(ctx context.Context, filter *interfaces.ChangeFilter) (*ChangePage, error) {
	normalized := normalizeChangeFilter(filter)
	changes, err := s.changes.ListChanges(ctx, normalized)
	if err != nil {
		return nil, err
	}
	// Count before pagination so the host can render page controls
	countFilter := *normalized
	countFilter.Limit = 0
	countFilter.Offset = 0
	total, err := s.changes.CountChanges(ctx, &countFilter)
	if err != nil {
		return nil, err
	}
	return &ChangePage{Changes: changes, Total: total, Limit: normalized.Limit, Offset: normalized.Offset}, nil
}

// ReviewChange applies one verdict to one change. Typed review errors
// pass through: ErrNotFound, ErrAlreadyReviewed, StaleChangeError,
// AmbiguousMatchError.
func (s *Service) ReviewChange(ctx context.Context, req ReviewRequest) (*models.Change, error) {
	if req.ChangeID == "" {
		return nil, fmt.Errorf("%w: change ID is required", models.ErrInvalidSpec)
	}
	if err := validVerdict(req.Verdict); err != nil {
		return nil, err
	}
	return s.review.ReviewChange(ctx, req.ChangeID, req.Verdict, req.Reviewer, req.Note)
}

// ReviewBulk applies one verdict across many changes. Members that fail
// are skipped with a reason; the batch never aborts.
func (s *Service) ReviewBulk(ctx context.Context, req BulkReviewRequest) (*interfaces.BulkResult, error) {
	if len(req.ChangeIDs) == 0 {
		return nil, fmt.Errorf("%w: change IDs are required", models.ErrInvalidSpec)
	}
	if err := validVerdict(req.Verdict); err != nil {
		return nil, err
	}
	return s.review.ReviewBulk(ctx, req.ChangeIDs, req.Verdict, req.Reviewer)
}

// ReviewStats reports ledger counts and the oldest pending age
func (s *Service) ReviewStats(ctx context.Context) (*interfaces.ReviewStats, error) {
	return s.review.Stats(ctx)
}

// CoverageReport computes the per-market coverage picture
func (s *Service) CoverageReport(ctx context.Context) (*coverage.CoverageReport, error) {
	return s.coverage.Report(ctx)
}

// Backfill sweeps coverage gaps and enqueues the jobs that close them.
// Dry runs report the would-enqueue list without writing anything.
func (s *Service) Backfill(ctx context.Context, req BackfillRequest) (*coverage.BackfillReport, error) {
	return s.coverage.Backfill(ctx, coverage.BackfillOptions{Market: req.Market, DryRun: req.DryRun})
}

func validVerdict(v interfaces.ReviewVerdict) error {
	switch v {
	case interfaces.VerdictApprove, interfaces.VerdictReject:
		return nil
	}
	return fmt.Errorf("%w: verdict must be approve or reject, got %q", models.ErrInvalidSpec, v)
}

func normalizeJobFilter(filter *interfaces.JobFilter) *interfaces.JobFilter {
	normalized := interfaces.JobFilter{}
	if filter != nil {
		normalized = *filter
	}
	normalized.Limit = clampPageSize(normalized.Limit)
	if normalized.Offset < 0 {
		normalized.Offset = 0
	}
	return &normalized
}

func normalizeChangeFilter(filter *interfaces.ChangeFilter) *interfaces.ChangeFilter {
	normalized := interfaces.ChangeFilter{}
	if filter != nil {
		normalized = *filter
	}
	normalized.Limit = clampPageSize(normalized.Limit)
	if normalized.Offset < 0 {
		normalized.Offset = 0
	}
	return &normalized
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
