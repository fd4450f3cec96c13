// -----------------------------------------------------------------------
// Scheduler - Cron-driven maintenance sweeps over the collection pipeline
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/coverage"
)

// Built-in maintenance job names
const (
	JobEntityRefresh = "entity-refresh"
	JobCoverageScan  = "coverage-scan"
	JobLeaseReaper   = "lease-reaper"
)

// schedulerActor names the refresh sweep in enqueue records
const schedulerActor = "scheduler"

// jobEntry tracks one registered job and its run state
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	enabled     bool
	autoStart   bool
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// Service runs registered maintenance jobs on cron schedules. One job
// runs at a time; overlapping fires queue behind the global mutex.
type Service struct {
	config   *common.Config
	entities interfaces.EntityStorage
	jobStore interfaces.JobStorage
	history  interfaces.HistoryStorage
	queue    interfaces.JobOrchestrator
	coverage *coverage.Service
	cron     *cron.Cron
	logger   arbor.ILogger
	jobMu    sync.Mutex // Protects jobs map and running flag
	globalMu sync.Mutex // Prevents concurrent job execution
	jobs     map[string]*jobEntry
	running  bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates the scheduler over its maintenance dependencies
func NewService(config *common.Config, entities interfaces.EntityStorage, jobStore interfaces.JobStorage,
	history interfaces.HistoryStorage, queue interfaces.JobOrchestrator, coverageSvc *coverage.Service,
	logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		config:   config,
		entities: entities,
		jobStore: jobStore,
		history:  history,
		queue:    queue,
		coverage: coverageSvc,
		cron:     cron.New(),
		logger:   logger,
		jobs:     make(map[string]*jobEntry),
	}
}

// RegisterBuiltins registers the maintenance jobs driven by [scheduler]
// config. A built-in with an empty schedule stays unregistered.
func (s *Service) RegisterBuiltins() error {
	builtins := []struct {
		name        string
		schedule    string
		description string
		handler     func() error
	}{
		{JobEntityRefresh, s.config.Scheduler.EntityRefreshSchedule, "Re-collect entities whose data has gone stale", s.runEntityRefresh},
		{JobCoverageScan, s.config.Scheduler.CoverageScanSchedule, "Enqueue collection jobs for catalog coverage gaps", s.runCoverageScan},
		{JobLeaseReaper, s.config.Scheduler.LeaseReaperSchedule, "Reclaim job leases abandoned by dead workers", s.runLeaseReaper},
	}

	for _, builtin := range builtins {
		if builtin.schedule == "" {
			s.logger.Debug().Str("job_name", builtin.name).Msg("Built-in job has no schedule, skipping")
			continue
		}
		if err := s.RegisterJob(builtin.name, builtin.schedule, builtin.description, false, builtin.handler); err != nil {
			return fmt.Errorf("register %s: %w", builtin.name, err)
		}
	}
	return nil
}

// Start launches the cron loop and fires auto-start jobs once
func (s *Service) Start() error {
	s.jobMu.Lock()
	if s.running {
		s.jobMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	registered := len(s.jobs)
	s.jobMu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", registered).Msg("Scheduler started")

	go s.executeAutoStartJobs()
	return nil
}

// Stop halts the cron loop and waits briefly for an in-flight job
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(s.config.Queue.ShutdownGraceDuration()):
		s.logger.Warn().Msg("Scheduler shutdown grace elapsed with a job still running")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// RegisterJob adds a named job to the cron registry. Jobs with autoStart
// run once right after Start in addition to their schedule.
func (s *Service) RegisterJob(name string, schedule string, description string, autoStart bool, handler func() error) error {
	if err := common.ValidateJobSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
		enabled:     true,
		autoStart:   autoStart,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// EnableJob resumes a disabled job's schedule
func (s *Service) EnableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if entry.enabled {
		return nil
	}

	cronID, err := s.cron.AddFunc(entry.schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	entry.enabled = true

	s.logger.Info().Str("job_name", name).Msg("Job enabled")
	return nil
}

// DisableJob removes a job from the cron loop without forgetting it
func (s *Service) DisableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if !entry.enabled {
		return nil
	}

	s.cron.Remove(entry.cronID)
	entry.enabled = false

	s.logger.Info().Str("job_name", name).Msg("Job disabled")
	return nil
}

// TriggerJob runs a registered job immediately, outside its schedule.
// Disabled jobs can still be triggered by hand.
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s is already running", name)
	}
	s.jobMu.Unlock()

	s.logger.Info().Str("job_name", name).Msg("Manually triggering job")
	go s.executeJob(name)
	return nil
}

// GetJobStatus reports one job's schedule and last run outcome
func (s *Service) GetJobStatus(name string) (*interfaces.ScheduleStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	var nextRun *time.Time
	if entry.enabled {
		for _, cronEntry := range s.cron.Entries() {
			if cronEntry.ID == entry.cronID {
				next := cronEntry.Next
				nextRun = &next
				break
			}
		}
	}

	return &interfaces.ScheduleStatus{
		Name:        entry.name,
		Enabled:     entry.enabled,
		AutoStart:   entry.autoStart,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.isRunning,
		LastError:   entry.lastError,
	}, nil
}

// GetAllJobStatuses reports every registered job keyed by name
func (s *Service) GetAllJobStatuses() map[string]*interfaces.ScheduleStatus {
	s.jobMu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.jobMu.Unlock()

	statuses := make(map[string]*interfaces.ScheduleStatus, len(names))
	for _, name := range names {
		if status, err := s.GetJobStatus(name); err == nil {
			statuses[name] = status
		}
	}
	return statuses
}

// executeAutoStartJobs fires jobs flagged autoStart once after Start
func (s *Service) executeAutoStartJobs() {
	// Let the cron loop settle before firing
	time.Sleep(100 * time.Millisecond)

	s.jobMu.Lock()
	autoStart := make([]string, 0)
	for name, entry := range s.jobs {
		if entry.enabled && entry.autoStart {
			autoStart = append(autoStart, name)
		}
	}
	s.jobMu.Unlock()

	for _, name := range autoStart {
		s.logger.Info().Str("job_name", name).Msg("Executing auto-start job")
		go s.executeJob(name)
	}
}

// executeJob wraps one job run with the global mutex, panic recovery,
// and run-state tracking
func (s *Service) executeJob(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprint(r)).
				Msg("Recovered panic in scheduled job")

			s.jobMu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.jobMu.Unlock()
		}
	}()

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	s.logger.Info().Str("job_name", name).Msg("Scheduled job started")

	err := handler()

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Scheduled job failed")
	} else {
		s.logger.Info().
			Str("job_name", name).
			Dur("duration", time.Since(started)).
			Msg("Scheduled job completed")
	}
}

// runEntityRefresh enqueues re-collection jobs for entities whose last
// update predates the refresh window. Active duplicates count as skips,
// so the sweep can fire every night without stacking work.
func (s *Service) runEntityRefresh() error {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.config.Scheduler.RefreshAfterDuration())
	limit := s.config.Scheduler.RefreshBatchLimit

	enqueued, skipped := 0, 0

	communities, err := s.entities.StaleCommunities(ctx, cutoff, limit)
	if err != nil {
		return fmt.Errorf("find stale communities: %w", err)
	}
	for _, community := range communities {
		if s.refresh(ctx, models.JobTypeCommunityDetail, community.ID) {
			enqueued++
		} else {
			skipped++
		}
	}

	properties, err := s.entities.StaleProperties(ctx, cutoff, limit)
	if err != nil {
		return fmt.Errorf("find stale properties: %w", err)
	}
	for _, property := range properties {
		if s.refresh(ctx, models.JobTypePropertyUpdate, property.ID) {
			enqueued++
		} else {
			skipped++
		}
	}

	s.logger.Info().
		Int("enqueued", enqueued).
		Int("skipped", skipped).
		Msg("Entity refresh swept")
	return nil
}

// refresh enqueues one re-collection job, treating active duplicates and
// enqueue failures as skips
func (s *Service) refresh(ctx context.Context, jobType models.JobType, entityID string) bool {
	_, err := s.queue.Enqueue(ctx, jobType, models.JobSpec{EntityID: entityID}, interfaces.EnqueueOptions{
		EnqueuedBy: schedulerActor,
	})
	if err != nil {
		var dup *models.DuplicateJobError
		if !errors.As(err, &dup) {
			s.logger.Warn().Err(err).
				Str("job_type", string(jobType)).
				Str("entity_id", entityID).
				Msg("Refresh enqueue failed")
		}
		return false
	}
	return true
}

// runCoverageScan fills catalog coverage gaps with real enqueues
func (s *Service) runCoverageScan() error {
	report, err := s.coverage.Backfill(context.Background(), coverage.BackfillOptions{})
	if err != nil {
		return fmt.Errorf("coverage backfill: %w", err)
	}

	s.logger.Info().
		Int("enqueued", report.Enqueued).
		Int("skipped", report.Skipped).
		Msg("Coverage scan completed")
	return nil
}

// runLeaseReaper settles running jobs whose lease expired without a
// heartbeat and records the reclaim in their history
func (s *Service) runLeaseReaper() error {
	ctx := context.Background()
	reaped, err := s.jobStore.ReapExpiredLeases(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("reap expired leases: %w", err)
	}
	if len(reaped) == 0 {
		return nil
	}

	for _, job := range reaped {
		transition := &models.StatusTransition{
			JobID:  job.ID,
			From:   models.JobStatusRunning,
			To:     job.Status,
			Reason: "lease expired",
			Actor:  JobLeaseReaper,
			At:     time.Now(),
		}
		if err := s.history.AppendTransition(ctx, transition); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record lease reclaim")
		}
	}

	s.logger.Warn().Int("count", len(reaped)).Msg("Expired job leases reclaimed")
	return nil
}
