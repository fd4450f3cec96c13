package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger.
// Lease claims serialize behind leaseMu; Badger holds an exclusive lock
// on the data directory, so in-process serialization is sufficient for
// exactly-once delivery per lease.
type JobStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	leaseMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.logger.Trace().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("BadgerDB: Upserting job")

	if err := s.db.Store().Upsert(job.ID, *job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("BadgerDB: Failed to upsert job")
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, filter *interfaces.JobFilter) ([]*models.Job, error) {
	jobs, err := s.findJobs(filter)
	if err != nil {
		return nil, err
	}

	// Queue order: priority desc, then created_at asc as FIFO tie-break
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(jobs) {
				return nil, nil
			}
			jobs = jobs[filter.Offset:]
		}
		if filter.Limit > 0 && len(jobs) > filter.Limit {
			jobs = jobs[:filter.Limit]
		}
	}
	return jobs, nil
}

func (s *JobStorage) CountJobs(ctx context.Context, filter *interfaces.JobFilter) (int, error) {
	jobs, err := s.findJobs(filter)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// FindActiveBySpecHash returns a pending or running job carrying the same
// spec hash, or nil when none exists.
func (s *JobStorage) FindActiveBySpecHash(ctx context.Context, jobType models.JobType, specHash string) (*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("SpecHash").Eq(specHash).Index("SpecHash")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to find jobs by spec hash: %w", err)
	}

	for i := range jobs {
		if jobs[i].Type != jobType {
			continue
		}
		if jobs[i].Status == models.JobStatusPending || jobs[i].Status == models.JobStatusRunning {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

// AcquireNext atomically claims the best runnable pending job for owner.
// Selection order is priority desc, created_at asc. Returns nil when no
// job is due.
func (s *JobStorage) AcquireNext(ctx context.Context, owner string, leaseTTL time.Duration) (*models.Job, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	var candidates []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusPending).Index("Status")
	if err := s.db.Store().Find(&candidates, query); err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}

	now := time.Now()
	runnable := candidates[:0]
	for i := range candidates {
		if candidates[i].Runnable(now) {
			runnable = append(runnable, candidates[i])
		}
	}
	if len(runnable) == 0 {
		return nil, nil
	}

	sort.Slice(runnable, func(i, j int) bool {
		if runnable[i].Priority != runnable[j].Priority {
			return runnable[i].Priority > runnable[j].Priority
		}
		return runnable[i].CreatedAt.Before(runnable[j].CreatedAt)
	})

	job := runnable[0]
	job.MarkRunning(owner, leaseTTL)
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	s.logger.Trace().
		Str("job_id", job.ID).
		Str("owner", owner).
		Int("attempt", job.Attempts).
		Msg("BadgerDB: Job lease acquired")

	return &job, nil
}

// ExtendLease pushes the lease expiry forward for a running job still
// owned by the caller.
func (s *JobStorage) ExtendLease(ctx context.Context, jobID, owner string, leaseTTL time.Duration) error {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status != models.JobStatusRunning || job.LeaseOwner != owner {
		return fmt.Errorf("lease on job %s not held by %s", jobID, owner)
	}

	expires := time.Now().Add(leaseTTL)
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	return nil
}

// RecoverOrphaned returns jobs stuck running from a previous process run
// to pending. The interrupted attempt is refunded.
func (s *JobStorage) RecoverOrphaned(ctx context.Context) ([]*models.Job, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).Index("Status")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}

	recovered := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		jobs[i].MarkReleased()
		if err := s.db.Store().Upsert(jobs[i].ID, jobs[i]); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobs[i].ID).Msg("BadgerDB: Failed to recover orphaned job")
			continue
		}
		recovered = append(recovered, &jobs[i])
	}

	if len(recovered) > 0 {
		s.logger.Info().Int("count", len(recovered)).Msg("Recovered orphaned running jobs")
	}
	return recovered, nil
}

// ReapExpiredLeases settles running jobs whose lease lapsed: back to
// pending while attempts remain, failed once exhausted.
func (s *JobStorage) ReapExpiredLeases(ctx context.Context, now time.Time) ([]*models.Job, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).Index("Status")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}

	reaped := make([]*models.Job, 0)
	for i := range jobs {
		if !jobs[i].LeaseExpired(now) {
			continue
		}
		if jobs[i].Attempts >= jobs[i].MaxAttempts {
			jobs[i].MarkFailed(fmt.Sprintf("Transient: lease expired after %d attempts", jobs[i].Attempts))
		} else {
			jobs[i].MarkRetry(0, "Transient: lease expired")
		}
		if err := s.db.Store().Upsert(jobs[i].ID, jobs[i]); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobs[i].ID).Msg("BadgerDB: Failed to reap expired lease")
			continue
		}
		reaped = append(reaped, &jobs[i])
	}
	return reaped, nil
}

func (s *JobStorage) findJobs(filter *interfaces.JobFilter) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, jobQuery(filter)); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if !matchesJobFilter(filter, &jobs[i]) {
			continue
		}
		result = append(result, &jobs[i])
	}
	return result, nil
}

func jobQuery(filter *interfaces.JobFilter) *badgerhold.Query {
	if filter != nil && filter.Type != "" {
		return badgerhold.Where("Type").Eq(filter.Type).Index("Type")
	}
	return nil
}

func matchesJobFilter(filter *interfaces.JobFilter, job *models.Job) bool {
	if filter == nil {
		return true
	}
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if job.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
