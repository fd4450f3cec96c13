// -----------------------------------------------------------------------
// Storage interfaces for entities, changes, jobs, and audit history
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/praedium/internal/models"
)

// EntityFilter narrows entity list and count operations
type EntityFilter struct {
	Market         string
	Status         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// EntityStorage - interface for community, builder, and property persistence
type EntityStorage interface {
	// Community operations
	SaveCommunity(ctx context.Context, community *models.Community) error
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	FindCommunitiesByFingerprint(ctx context.Context, fingerprint string) ([]*models.Community, error)
	ListCommunities(ctx context.Context, filter *EntityFilter) ([]*models.Community, error)
	CountCommunities(ctx context.Context, filter *EntityFilter) (int, error)
	StaleCommunities(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Community, error)

	// Builder operations
	SaveBuilder(ctx context.Context, builder *models.Builder) error
	GetBuilder(ctx context.Context, id string) (*models.Builder, error)
	FindBuildersByFingerprint(ctx context.Context, fingerprint string) ([]*models.Builder, error)
	ListBuilders(ctx context.Context, filter *EntityFilter) ([]*models.Builder, error)
	CountBuilders(ctx context.Context, filter *EntityFilter) (int, error)

	// Property operations
	SaveProperty(ctx context.Context, property *models.Property) error
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	FindPropertiesByFingerprint(ctx context.Context, fingerprint string) ([]*models.Property, error)
	ListPropertiesByCommunity(ctx context.Context, communityID string) ([]*models.Property, error)
	CountProperties(ctx context.Context, filter *EntityFilter) (int, error)
	StaleProperties(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Property, error)
}

// ChangeFilter narrows change list and count operations. Since keeps
// changes created at or after the cutoff; EntityID combined with a
// pending status is the pending-for-entity lookup.
type ChangeFilter struct {
	Status     []models.ChangeStatus
	EntityType models.EntityType
	EntityID   string
	JobID      string
	Since      time.Time
	Limit      int
	Offset     int
}

// ChangeStorage - interface for the change ledger
type ChangeStorage interface {
	SaveChange(ctx context.Context, change *models.Change) error
	GetChange(ctx context.Context, id string) (*models.Change, error)
	ListChanges(ctx context.Context, filter *ChangeFilter) ([]*models.Change, error)
	CountChanges(ctx context.Context, filter *ChangeFilter) (int, error)
	CountByStatus(ctx context.Context) (map[models.ChangeStatus]int, error)
	OldestPending(ctx context.Context) (*models.Change, error)
}

// JobFilter narrows job list and count operations
type JobFilter struct {
	Status []models.JobStatus
	Type   models.JobType
	Limit  int
	Offset int
}

// JobStorage - interface for job persistence and lease acquisition
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter *JobFilter) ([]*models.Job, error)
	CountJobs(ctx context.Context, filter *JobFilter) (int, error)

	// FindActiveBySpecHash returns a pending or running job with the given
	// spec hash, or nil when none exists. Used for enqueue deduplication.
	FindActiveBySpecHash(ctx context.Context, jobType models.JobType, specHash string) (*models.Job, error)

	// AcquireNext atomically claims the highest-priority runnable pending
	// job for the given owner. Returns nil without error when no job is due.
	AcquireNext(ctx context.Context, owner string, leaseTTL time.Duration) (*models.Job, error)

	// ExtendLease pushes the lease expiry forward for a running job still
	// owned by the caller.
	ExtendLease(ctx context.Context, jobID, owner string, leaseTTL time.Duration) error

	// RecoverOrphaned returns running jobs to pending without consuming an
	// attempt. Called once at startup. Returns the recovered jobs so the
	// caller can append audit history.
	RecoverOrphaned(ctx context.Context) ([]*models.Job, error)

	// ReapExpiredLeases settles running jobs whose lease lapsed without a
	// heartbeat: back to pending while attempts remain, failed otherwise.
	// Returns the affected jobs.
	ReapExpiredLeases(ctx context.Context, now time.Time) ([]*models.Job, error)
}

// HistoryStorage - interface for the job status audit trail
type HistoryStorage interface {
	AppendTransition(ctx context.Context, transition *models.StatusTransition) error
	GetTransitions(ctx context.Context, jobID string) ([]models.StatusTransition, error)
}

// JobLogStorage - interface for per-job log persistence
type JobLogStorage interface {
	AppendEntries(ctx context.Context, jobID string, entries []models.JobLogEntry) error
	GetEntries(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error)
	CountEntries(ctx context.Context, jobID string) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	Entities() EntityStorage
	Changes() ChangeStorage
	Jobs() JobStorage
	History() HistoryStorage
	JobLogs() JobLogStorage
	DB() interface{}
	Close() error
}
