// -----------------------------------------------------------------------
// Worker pool - Concurrent lease-based job execution with heartbeats
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// Pool runs N workers that poll the queue, claim jobs under a lease, and
// dispatch them through the manager's handler registry.
type Pool struct {
	manager *Manager
	config  *common.Config
	logger  arbor.ILogger
	size    int

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a worker pool over the queue manager. Pool size comes
// from config; zero or negative falls back to 4 workers.
func NewPool(manager *Manager, config *common.Config, logger arbor.ILogger) *Pool {
	if logger == nil {
		logger = common.GetLogger()
	}
	size := config.Queue.WorkerPoolSize
	if size <= 0 {
		size = 4
	}
	return &Pool{
		manager: manager,
		config:  config,
		logger:  logger,
		size:    size,
	}
}

// RegisterHandler binds a job type to its executor on the shared registry
func (p *Pool) RegisterHandler(jobType models.JobType, handler interfaces.JobHandler) {
	p.manager.RegisterHandler(jobType, handler)
}

// Start launches the workers. Safe to call once; subsequent calls error.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.logger.Info().
		Int("workers", p.size).
		Str("poll_interval", p.config.Queue.PollIntervalDuration().String()).
		Msg("Starting worker pool")

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs up to the
// configured shutdown grace. Jobs still running after the grace were
// already released back to pending by their settle path.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping worker pool")
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := p.config.Queue.ShutdownGraceDuration()
	select {
	case <-done:
		p.logger.Info().Msg("Worker pool stopped")
	case <-time.After(grace):
		p.logger.Warn().
			Str("grace", grace.String()).
			Msg("Worker pool shutdown grace elapsed with jobs still in flight")
	}
	return nil
}

func (p *Pool) runWorker(workerID int) {
	defer p.wg.Done()
	owner := fmt.Sprintf("worker-%d", workerID)
	poll := p.config.Queue.PollIntervalDuration()

	// Stagger startup so the workers do not hit the store in lockstep
	stagger := poll / time.Duration(p.size) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-time.After(stagger):
		case <-p.ctx.Done():
			return
		}
	}

	p.logger.Debug().Int("worker_id", workerID).Msg("Worker started")
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", workerID).Msg("Worker stopping")
			return
		case <-ticker.C:
			p.drain(owner)
		}
	}
}

// drain claims and runs jobs until the queue has nothing due
func (p *Pool) drain(owner string) {
	for p.ctx.Err() == nil {
		job, err := p.manager.acquire(p.ctx, owner)
		if err != nil {
			p.logger.Warn().Err(err).Str("owner", owner).Msg("Failed to acquire next job")
			return
		}
		if job == nil {
			return
		}
		p.manager.runJob(p.ctx, job, owner)
	}
}

// runJob executes one leased job and settles its outcome. The caller must
// hold the lease for owner; acquisition already counted the attempt.
func (m *Manager) runJob(ctx context.Context, job *models.Job, owner string) models.JobStatus {
	jobLogger := m.logger.WithCorrelationId(job.ID)
	m.appendHistory(ctx, job.ID, models.JobStatusPending, models.JobStatusRunning,
		fmt.Sprintf("lease acquired (attempt %d/%d)", job.Attempts, job.MaxAttempts), owner)
	jobLogger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("attempt", job.Attempts).
		Str("owner", owner).
		Msg("Job started")

	var result *models.CollectResult
	var runErr error
	if handler := m.handlerFor(job.Type); handler != nil {
		result, runErr = m.invokeHandler(ctx, job, owner, jobLogger, handler)
	} else {
		runErr = models.Fatal(fmt.Errorf("no handler registered for job type %s", job.Type))
	}
	return m.settleJob(ctx, job, owner, result, runErr, jobLogger)
}

// invokeHandler runs the handler under the per-job deadline with a lease
// heartbeat alongside. The heartbeat also observes cancel requests; either
// a lost lease or a cancel flag unwinds the handler through its context.
func (m *Manager) invokeHandler(parentCtx context.Context, job *models.Job, owner string,
	jobLogger arbor.ILogger, handler interfaces.JobHandler) (result *models.CollectResult, runErr error) {

	jobCtx, cancel := context.WithTimeout(parentCtx, m.config.Queue.JobDeadlineDuration())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			runErr = models.Fatal(fmt.Errorf("handler panic: %v", r))
			jobLogger.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprint(r)).
				Msg("Job handler panicked")
		}
	}()

	ttl := m.config.Queue.LeaseTTLDuration()
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		interval := ttl / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if err := m.jobs.ExtendLease(jobCtx, job.ID, owner, ttl); err != nil {
					jobLogger.Warn().Err(err).Str("job_id", job.ID).Msg("Lease renewal failed, abandoning run")
					cancel()
					return
				}
				current, err := m.jobs.GetJob(jobCtx, job.ID)
				if err == nil && current.CancelRequested {
					jobLogger.Info().Str("job_id", job.ID).Msg("Cancel observed, stopping job")
					cancel()
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		<-stopped
	}()

	return handler(jobCtx, job)
}

// settleJob reloads the job and records the run's outcome. Settlement only
// happens while we still hold the lease; a job the reaper or another
// worker took over keeps their verdict and ours is dropped.
func (m *Manager) settleJob(ctx context.Context, job *models.Job, owner string,
	result *models.CollectResult, runErr error, jobLogger arbor.ILogger) models.JobStatus {

	current, err := m.jobs.GetJob(ctx, job.ID)
	if err != nil {
		jobLogger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to reload job for settlement")
		current = job
	}
	if current.Status != models.JobStatusRunning || current.LeaseOwner != owner {
		jobLogger.Warn().
			Str("job_id", job.ID).
			Str("status", string(current.Status)).
			Msg("Job was settled elsewhere, dropping outcome")
		return current.Status
	}

	var reason string
	switch {
	case runErr == nil:
		current.MarkCompleted(result)
		reason = "completed"

	case current.CancelRequested:
		current.MarkCancelled()
		reason = "cancel honored"

	case ctx.Err() != nil:
		// Shutdown interrupted the run; refund the attempt
		current.MarkReleased()
		reason = "released on shutdown"

	case models.IsFatal(runErr):
		current.MarkFailed(fmt.Sprintf("Fatal: %v", runErr))
		reason = "fatal error"

	case current.Attempts >= current.MaxAttempts:
		current.MarkFailed(fmt.Sprintf("Transient: %v", runErr))
		reason = fmt.Sprintf("attempts exhausted (%d/%d)", current.Attempts, current.MaxAttempts)

	default:
		backoff := retryBackoff(m.config.Queue.RetryBaseDuration(), m.config.Queue.RetryCapDuration(), current.Attempts)
		current.MarkRetry(backoff, fmt.Sprintf("Transient: %v", runErr))
		reason = fmt.Sprintf("retry scheduled (attempt %d/%d)", current.Attempts, current.MaxAttempts)
		jobLogger.Warn().
			Err(runErr).
			Str("job_id", job.ID).
			Str("backoff", backoff.String()).
			Msg("Job failed, retry scheduled")
	}

	if err := m.jobs.SaveJob(ctx, current); err != nil {
		jobLogger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job settlement")
		return current.Status
	}
	m.appendHistory(ctx, current.ID, models.JobStatusRunning, current.Status, reason, owner)

	switch current.Status {
	case models.JobStatusCompleted:
		event := jobLogger.Info().Str("job_id", current.ID).Str("type", string(current.Type))
		if current.Result != nil {
			event = event.
				Int("entities_seen", current.Result.EntitiesSeen).
				Int("changes_created", current.Result.ChangesCreated).
				Int("auto_approved", current.Result.AutoApproved)
		}
		event.Msg("Job completed")
		m.publishCompleted(ctx, current)
	case models.JobStatusFailed:
		jobLogger.Error().
			Str("job_id", current.ID).
			Str("error", current.Error).
			Msg("Job failed")
	case models.JobStatusCancelled:
		jobLogger.Info().Str("job_id", current.ID).Msg("Job cancelled")
	}

	*job = *current
	return current.Status
}

// retryBackoff doubles the base delay per consumed attempt up to the cap,
// with 10% jitter so correlated failures spread out on requeue.
func retryBackoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if limit < base {
		limit = base
	}
	backoff := base
	for i := 1; i < attempt && backoff < limit; i++ {
		backoff *= 2
	}
	if backoff > limit {
		backoff = limit
	}
	if jitter := backoff / 10; jitter > 0 {
		backoff += rand.N(2*jitter) - jitter
	}
	return backoff
}
