// -----------------------------------------------------------------------
// Collection Job - Persistent queue entry driving an LLM collection run
// -----------------------------------------------------------------------

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobStatus represents the state of a collection job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
// No transition leaves a terminal status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType identifies the collection operation a job performs.
// The first segment names the entity type the job targets.
type JobType string

const (
	JobTypeCommunityDiscovery JobType = "community.discovery" // Find communities matching search filters
	JobTypeCommunityDetail    JobType = "community.detail"    // Fill the full schema for one community
	JobTypeCommunityInventory JobType = "community.inventory" // List the properties inside a community
	JobTypeBuilderDiscovery   JobType = "builder.discovery"   // Find builder profiles by name or market
	JobTypeBuilderDetail      JobType = "builder.detail"      // Fill the full schema for one builder
	JobTypePropertyUpdate     JobType = "property.update"     // Refresh price/status for one property
)

// ValidJobType reports whether t is a known collection job type
func ValidJobType(t JobType) bool {
	switch t {
	case JobTypeCommunityDiscovery, JobTypeCommunityDetail, JobTypeCommunityInventory,
		JobTypeBuilderDiscovery, JobTypeBuilderDetail, JobTypePropertyUpdate:
		return true
	}
	return false
}

// EntityType returns the entity family a job type targets
func (t JobType) EntityType() EntityType {
	segment, _, _ := strings.Cut(string(t), ".")
	return EntityType(segment)
}

const (
	// PriorityMin and PriorityMax bound job priorities. Higher runs first.
	PriorityMin = 1
	PriorityMax = 10

	// DefaultMaxAttempts applies when the enqueue request does not set one
	DefaultMaxAttempts = 3
)

// SearchFilters scope a discovery job
type SearchFilters struct {
	CommunityName string `json:"community_name,omitempty" validate:"omitempty,min=2"`
	BuilderName   string `json:"builder_name,omitempty" validate:"omitempty,min=2"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty" validate:"omitempty,len=2"`
	Market        string `json:"market,omitempty"`
	Query         string `json:"query,omitempty"`
	MaxResults    int    `json:"max_results,omitempty" validate:"omitempty,gte=1,lte=50"`
}

// Empty reports whether no filter field is set
func (f SearchFilters) Empty() bool {
	return f.CommunityName == "" && f.BuilderName == "" && f.City == "" &&
		f.State == "" && f.Market == "" && f.Query == ""
}

// JobSpec is the immutable work order snapshot for a collection job
type JobSpec struct {
	// EntityID anchors detail/inventory/update jobs to a stored entity.
	// Discovery jobs leave it empty; detail jobs created ahead of their
	// parent community also leave it empty until cascade resolution.
	EntityID      string            `json:"entity_id,omitempty"`
	SearchFilters SearchFilters     `json:"search_filters,omitempty"`
	TargetURL     string            `json:"target_url,omitempty" validate:"omitempty,url"`
	Params        map[string]string `json:"params,omitempty"`
}

var specValidator = validator.New()

// Validate enforces per-type spec requirements
func (s *JobSpec) Validate(jobType JobType) error {
	if !ValidJobType(jobType) {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	if err := specValidator.Struct(s); err != nil {
		return fmt.Errorf("spec field validation: %w", err)
	}

	switch jobType {
	case JobTypeCommunityDiscovery, JobTypeBuilderDiscovery:
		if s.SearchFilters.Empty() {
			return fmt.Errorf("%s requires search filters", jobType)
		}
		if s.SearchFilters.Market == "" && s.SearchFilters.Query == "" &&
			s.SearchFilters.CommunityName == "" && s.SearchFilters.BuilderName == "" &&
			(s.SearchFilters.City == "" || s.SearchFilters.State == "") {
			return fmt.Errorf("%s requires a market, a query, a name, or city+state", jobType)
		}
	case JobTypeCommunityDetail, JobTypeCommunityInventory:
		if s.EntityID == "" && s.TargetURL == "" && s.SearchFilters.CommunityName == "" {
			return fmt.Errorf("%s requires an entity ID, a target URL, or a community name filter", jobType)
		}
	case JobTypeBuilderDetail:
		if s.EntityID == "" && s.TargetURL == "" && s.SearchFilters.BuilderName == "" {
			return fmt.Errorf("%s requires an entity ID, a target URL, or a builder name filter", jobType)
		}
	case JobTypePropertyUpdate:
		if s.EntityID == "" {
			return fmt.Errorf("%s requires an entity ID", jobType)
		}
	}
	return nil
}

// Hash produces a stable digest of (type, spec) used for enqueue dedupe.
// Params are serialized in key order so logically equal specs collide.
func (s *JobSpec) Hash(jobType JobType) string {
	h := sha256.New()
	h.Write([]byte(jobType))
	h.Write([]byte{0})
	h.Write([]byte(s.EntityID))
	h.Write([]byte{0})
	filters, _ := json.Marshal(s.SearchFilters)
	h.Write(filters)
	h.Write([]byte{0})
	h.Write([]byte(s.TargetURL))
	h.Write([]byte{0})
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{1})
		h.Write([]byte(s.Params[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CollectResult summarizes what a completed collection run produced
type CollectResult struct {
	EntitiesSeen   int `json:"entities_seen"`
	ChangesCreated int `json:"changes_created"`
	AutoApproved   int `json:"auto_approved"`
	Duplicates     int `json:"duplicates"`
	Ambiguous      int `json:"ambiguous"`
	Skipped        int `json:"skipped"` // No-op diffs against existing records
}

// Add accumulates another result into this one
func (r *CollectResult) Add(other CollectResult) {
	r.EntitiesSeen += other.EntitiesSeen
	r.ChangesCreated += other.ChangesCreated
	r.AutoApproved += other.AutoApproved
	r.Duplicates += other.Duplicates
	r.Ambiguous += other.Ambiguous
	r.Skipped += other.Skipped
}

// Job is the persistent queue entry for one collection run.
// The Spec is snapshot at enqueue time; runtime state lives in the
// status/lease/attempt fields and every transition is recorded as a
// StatusTransition row.
type Job struct {
	ID         string     `json:"id" badgerhold:"key"`
	Type       JobType    `json:"type" badgerhold:"index"`
	EntityType EntityType `json:"entity_type"`
	Status     JobStatus  `json:"status" badgerhold:"index"`
	Priority   int        `json:"priority"` // 1..10, higher first
	Spec       JobSpec    `json:"spec"`
	SpecHash   string     `json:"spec_hash" badgerhold:"index"`

	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NotBefore   time.Time `json:"not_before"` // Retry backoff gate; zero means runnable now

	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	CancelRequested bool   `json:"cancel_requested"`
	EnqueuedBy      string `json:"enqueued_by,omitempty"`

	// Error holds a concise description of the last failure.
	// Format: "Category: brief description".
	Error  string         `json:"error,omitempty"`
	Result *CollectResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Runnable reports whether the job is eligible for lease acquisition at t
func (j *Job) Runnable(t time.Time) bool {
	return j.Status == JobStatusPending && !j.CancelRequested && !j.NotBefore.After(t)
}

// MarkRunning transitions the job onto a worker lease and counts the attempt
func (j *Job) MarkRunning(owner string, leaseTTL time.Duration) {
	now := time.Now()
	j.Status = JobStatusRunning
	j.LeaseOwner = owner
	expires := now.Add(leaseTTL)
	j.LeaseExpiresAt = &expires
	j.Attempts++
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted records a successful run and its counters
func (j *Job) MarkCompleted(result *CollectResult) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.clearLease()
}

// MarkFailed dead-letters the job with a terminal error
func (j *Job) MarkFailed(errMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.clearLease()
}

// MarkCancelled records operator cancellation. CompletedAt stays nil;
// it marks work that finished, not work that was stopped.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	j.UpdatedAt = time.Now()
	j.clearLease()
}

// MarkRetry returns the job to the queue gated behind a backoff delay.
// Attempts are preserved; the next lease acquisition increments them.
func (j *Job) MarkRetry(backoff time.Duration, errMsg string) {
	now := time.Now()
	j.Status = JobStatusPending
	j.Error = errMsg
	j.NotBefore = now.Add(backoff)
	j.UpdatedAt = now
	j.clearLease()
}

// MarkReleased returns a leased job to the queue without consuming the
// attempt, used when a shutdown or expired lease interrupts the run.
func (j *Job) MarkReleased() {
	j.Status = JobStatusPending
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.UpdatedAt = time.Now()
	j.clearLease()
}

func (j *Job) clearLease() {
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
}

// LeaseExpired reports whether the job holds a lease that lapsed before t
func (j *Job) LeaseExpired(t time.Time) bool {
	return j.Status == JobStatusRunning && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(t)
}
