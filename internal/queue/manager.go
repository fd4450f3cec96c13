// -----------------------------------------------------------------------
// Queue manager - Enqueue, cancel, and inspect persistent collection jobs
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// Manager owns the job queue: validated enqueue with spec-hash dedupe,
// cooperative cancellation, startup recovery, and the handler registry
// jobs dispatch through. The worker pool and the synchronous drain share
// its settle logic, so a job settles the same way no matter who ran it.
type Manager struct {
	config  *common.Config
	jobs    interfaces.JobStorage
	history interfaces.HistoryStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	// enqueueMu serializes the dedupe lookup with the insert so two
	// concurrent enqueues of the same spec cannot both land.
	enqueueMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[models.JobType]interfaces.JobHandler
}

// NewManager creates a queue manager over job and history storage.
func NewManager(config *common.Config, jobs interfaces.JobStorage, history interfaces.HistoryStorage,
	events interfaces.EventService, logger arbor.ILogger) *Manager {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Manager{
		config:   config,
		jobs:     jobs,
		history:  history,
		events:   events,
		logger:   logger,
		handlers: make(map[models.JobType]interfaces.JobHandler),
	}
}

// RegisterHandler binds a job type to the function that executes it
func (m *Manager) RegisterHandler(jobType models.JobType, handler interfaces.JobHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers[jobType] = handler
	m.logger.Info().
		Str("job_type", string(jobType)).
		Msg("Job handler registered")
}

func (m *Manager) handlerFor(jobType models.JobType) interfaces.JobHandler {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	return m.handlers[jobType]
}

// Enqueue validates the spec and persists a new pending job. An identical
// spec already pending or running returns a DuplicateJobError carrying the
// existing job's ID so the caller can adopt the in-flight run.
func (m *Manager) Enqueue(ctx context.Context, jobType models.JobType, spec models.JobSpec, opts interfaces.EnqueueOptions) (*models.Job, error) {
	if err := spec.Validate(jobType); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	specHash := spec.Hash(jobType)
	existing, err := m.jobs.FindActiveBySpecHash(ctx, jobType, specHash)
	if err != nil {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}
	if existing != nil {
		return nil, &models.DuplicateJobError{ExistingID: existing.ID}
	}

	enqueuedBy := opts.EnqueuedBy
	if enqueuedBy == "" {
		enqueuedBy = "operator"
	}

	now := time.Now()
	job := &models.Job{
		ID:          common.NewPublicID(common.PrefixJob),
		Type:        jobType,
		EntityType:  jobType.EntityType(),
		Status:      models.JobStatusPending,
		Priority:    m.normalizePriority(opts.Priority),
		Spec:        spec,
		SpecHash:    specHash,
		MaxAttempts: m.normalizeMaxAttempts(opts.MaxAttempts),
		EnqueuedBy:  enqueuedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	m.appendHistory(ctx, job.ID, "", models.JobStatusPending, "enqueued", enqueuedBy)

	m.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(jobType)).
		Int("priority", job.Priority).
		Str("enqueued_by", enqueuedBy).
		Msg("Job enqueued")
	return job, nil
}

// Cancel stops a pending job immediately. A running job is flagged for
// cooperative cancellation; its worker observes the flag at the next
// heartbeat and settles the job cancelled.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("job %s is already %s: %w", jobID, job.Status, models.ErrTerminalJob)
	}

	switch job.Status {
	case models.JobStatusPending:
		job.MarkCancelled()
		if err := m.jobs.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("persist cancellation: %w", err)
		}
		m.appendHistory(ctx, jobID, models.JobStatusPending, models.JobStatusCancelled, "cancelled by operator", "operator")
		m.logger.Info().Str("job_id", jobID).Msg("Pending job cancelled")

	case models.JobStatusRunning:
		job.CancelRequested = true
		job.UpdatedAt = time.Now()
		if err := m.jobs.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("persist cancel request: %w", err)
		}
		m.appendHistory(ctx, jobID, models.JobStatusRunning, models.JobStatusRunning, "cancel requested", "operator")
		m.logger.Info().Str("job_id", jobID).Msg("Cancel requested for running job")
	}
	return nil
}

// GetJob returns a job by ID
func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return m.jobs.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filter in queue order plus the total
// match count before pagination.
func (m *Manager) ListJobs(ctx context.Context, filter *interfaces.JobFilter) ([]*models.Job, int, error) {
	jobs, err := m.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	total := len(jobs)
	if filter != nil && (filter.Limit > 0 || filter.Offset > 0) {
		countFilter := *filter
		countFilter.Limit = 0
		countFilter.Offset = 0
		if total, err = m.jobs.CountJobs(ctx, &countFilter); err != nil {
			return nil, 0, err
		}
	}
	return jobs, total, nil
}

// GetHistory returns the status transition audit trail for a job, capped
// at the configured page size with the newest rows winning.
func (m *Manager) GetHistory(ctx context.Context, jobID string) ([]models.StatusTransition, error) {
	if _, err := m.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	transitions, err := m.history.GetTransitions(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if limit := m.config.Queue.HistoryPageSize; limit > 0 && len(transitions) > limit {
		transitions = transitions[len(transitions)-limit:]
	}
	return transitions, nil
}

// RecoverOnStartup returns jobs left running by a previous process to the
// queue. Their interrupted attempt is refunded; each recovery is recorded
// in the job's history.
func (m *Manager) RecoverOnStartup(ctx context.Context) (int, error) {
	if !m.config.Queue.RecoverOnStartup {
		return 0, nil
	}
	recovered, err := m.jobs.RecoverOrphaned(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned jobs: %w", err)
	}
	for _, job := range recovered {
		m.appendHistory(ctx, job.ID, models.JobStatusRunning, models.JobStatusPending,
			"lease expired; recovered on startup", "startup")
	}
	if len(recovered) > 0 {
		m.logger.Info().
			Int("count", len(recovered)).
			Msg("Recovered jobs left running by previous process")
	}
	return len(recovered), nil
}

func (m *Manager) acquire(ctx context.Context, owner string) (*models.Job, error) {
	return m.jobs.AcquireNext(ctx, owner, m.config.Queue.LeaseTTLDuration())
}

func (m *Manager) normalizePriority(priority int) int {
	if priority == 0 {
		priority = m.config.Queue.DefaultJobPriority
	}
	if priority < models.PriorityMin {
		return models.PriorityMin
	}
	if priority > models.PriorityMax {
		return models.PriorityMax
	}
	return priority
}

func (m *Manager) normalizeMaxAttempts(maxAttempts int) int {
	if maxAttempts > 0 {
		return maxAttempts
	}
	if m.config.Queue.MaxAttempts > 0 {
		return m.config.Queue.MaxAttempts
	}
	return models.DefaultMaxAttempts
}

func (m *Manager) appendHistory(ctx context.Context, jobID string, from, to models.JobStatus, reason, actor string) {
	transition := &models.StatusTransition{
		JobID:  jobID,
		From:   from,
		To:     to,
		Reason: reason,
		Actor:  actor,
		At:     time.Now(),
	}
	if err := m.history.AppendTransition(ctx, transition); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append status history")
	}
}

func (m *Manager) publishCompleted(ctx context.Context, job *models.Job) {
	if m.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: interfaces.JobEventPayload{
			JobID:  job.ID,
			Type:   job.Type,
			Status: job.Status,
			Result: job.Result,
		},
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job.completed event")
	}
}
