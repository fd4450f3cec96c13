package models

import (
	"testing"
	"time"
)

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	open := []JobStatus{JobStatusPending, JobStatusRunning}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestJobTypeEntityType(t *testing.T) {
	tests := []struct {
		jobType JobType
		want    EntityType
	}{
		{JobTypeCommunityDiscovery, EntityTypeCommunity},
		{JobTypeCommunityDetail, EntityTypeCommunity},
		{JobTypeCommunityInventory, EntityTypeCommunity},
		{JobTypeBuilderDiscovery, EntityTypeBuilder},
		{JobTypeBuilderDetail, EntityTypeBuilder},
		{JobTypePropertyUpdate, EntityTypeProperty},
	}
	for _, tt := range tests {
		if got := tt.jobType.EntityType(); got != tt.want {
			t.Errorf("%s.EntityType() = %s, want %s", tt.jobType, got, tt.want)
		}
	}
}

func TestJobSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		jobType JobType
		spec    JobSpec
		wantErr bool
	}{
		{
			name:    "discovery with market",
			jobType: JobTypeCommunityDiscovery,
			spec:    JobSpec{SearchFilters: SearchFilters{Market: "Austin"}},
			wantErr: false,
		},
		{
			name:    "discovery with city and state",
			jobType: JobTypeCommunityDiscovery,
			spec:    JobSpec{SearchFilters: SearchFilters{City: "Austin", State: "TX"}},
			wantErr: false,
		},
		{
			name:    "discovery with only city",
			jobType: JobTypeCommunityDiscovery,
			spec:    JobSpec{SearchFilters: SearchFilters{City: "Austin"}},
			wantErr: true,
		},
		{
			name:    "discovery with no filters",
			jobType: JobTypeCommunityDiscovery,
			spec:    JobSpec{},
			wantErr: true,
		},
		{
			name:    "detail with entity id",
			jobType: JobTypeCommunityDetail,
			spec:    JobSpec{EntityID: "CMY-1699564234-A7K9M2"},
			wantErr: false,
		},
		{
			name:    "detail with community name only",
			jobType: JobTypeCommunityDetail,
			spec:    JobSpec{SearchFilters: SearchFilters{CommunityName: "Sunfield"}},
			wantErr: false,
		},
		{
			name:    "detail with nothing",
			jobType: JobTypeCommunityDetail,
			spec:    JobSpec{},
			wantErr: true,
		},
		{
			name:    "property update without entity id",
			jobType: JobTypePropertyUpdate,
			spec:    JobSpec{TargetURL: "https://example.com/home/1"},
			wantErr: true,
		},
		{
			name:    "property update with entity id",
			jobType: JobTypePropertyUpdate,
			spec:    JobSpec{EntityID: "PRP-1699564234-A7K9M2"},
			wantErr: false,
		},
		{
			name:    "bad target url",
			jobType: JobTypeCommunityDetail,
			spec:    JobSpec{TargetURL: "not a url"},
			wantErr: true,
		},
		{
			name:    "bad state code",
			jobType: JobTypeBuilderDiscovery,
			spec:    JobSpec{SearchFilters: SearchFilters{City: "Austin", State: "Texas"}},
			wantErr: true,
		},
		{
			name:    "unknown job type",
			jobType: JobType("community.teleport"),
			spec:    JobSpec{EntityID: "CMY-1699564234-A7K9M2"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(tt.jobType)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobSpecHashStable(t *testing.T) {
	a := JobSpec{
		SearchFilters: SearchFilters{City: "Austin", State: "TX"},
		Params:        map[string]string{"b": "2", "a": "1"},
	}
	b := JobSpec{
		SearchFilters: SearchFilters{City: "Austin", State: "TX"},
		Params:        map[string]string{"a": "1", "b": "2"},
	}

	if a.Hash(JobTypeCommunityDiscovery) != b.Hash(JobTypeCommunityDiscovery) {
		t.Error("equal specs with different param insertion order produced different hashes")
	}
	if a.Hash(JobTypeCommunityDiscovery) == a.Hash(JobTypeBuilderDiscovery) {
		t.Error("same spec under different job types produced identical hashes")
	}

	c := a
	c.EntityID = "CMY-1699564234-A7K9M2"
	if a.Hash(JobTypeCommunityDiscovery) == c.Hash(JobTypeCommunityDiscovery) {
		t.Error("different specs produced identical hashes")
	}
}

func TestJobMarkTransitions(t *testing.T) {
	job := &Job{
		ID:          "JOB-1699564234-A7K9M2",
		Type:        JobTypeCommunityDiscovery,
		Status:      JobStatusPending,
		MaxAttempts: 3,
	}

	job.MarkRunning("worker-1", 3*time.Minute)
	if job.Status != JobStatusRunning {
		t.Fatalf("status = %s, want running", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if job.LeaseOwner != "worker-1" || job.LeaseExpiresAt == nil {
		t.Error("lease not recorded")
	}
	if job.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	job.MarkRetry(time.Minute, "Transient: provider timeout")
	if job.Status != JobStatusPending {
		t.Fatalf("status = %s, want pending after retry", job.Status)
	}
	if job.LeaseOwner != "" || job.LeaseExpiresAt != nil {
		t.Error("lease not cleared on retry")
	}
	if !job.NotBefore.After(time.Now()) {
		t.Error("NotBefore not pushed into the future")
	}
	if job.Runnable(time.Now()) {
		t.Error("job runnable before backoff elapsed")
	}
	if !job.Runnable(time.Now().Add(2 * time.Minute)) {
		t.Error("job not runnable after backoff elapsed")
	}

	job.MarkRunning("worker-2", 3*time.Minute)
	result := &CollectResult{ChangesCreated: 4, AutoApproved: 1}
	job.MarkCompleted(result)
	if job.Status != JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if !job.IsTerminal() {
		t.Error("completed job not terminal")
	}
	if job.Result == nil || job.Result.ChangesCreated != 4 {
		t.Error("result counters not recorded")
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestJobMarkReleasedRestoresAttempt(t *testing.T) {
	job := &Job{ID: "JOB-1699564234-B7K9M2", Status: JobStatusPending, MaxAttempts: 3}
	job.MarkRunning("worker-1", time.Minute)
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}

	job.MarkReleased()
	if job.Status != JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 after release", job.Attempts)
	}
	if job.LeaseOwner != "" {
		t.Error("lease not cleared on release")
	}
}

func TestJobLeaseExpired(t *testing.T) {
	job := &Job{ID: "JOB-1699564234-C7K9M2", Status: JobStatusPending}
	job.MarkRunning("worker-1", time.Minute)

	if job.LeaseExpired(time.Now()) {
		t.Error("fresh lease reported expired")
	}
	if !job.LeaseExpired(time.Now().Add(2 * time.Minute)) {
		t.Error("lapsed lease not reported expired")
	}
}

func TestCollectResultAdd(t *testing.T) {
	total := CollectResult{}
	total.Add(CollectResult{EntitiesSeen: 3, ChangesCreated: 2, Duplicates: 1})
	total.Add(CollectResult{EntitiesSeen: 1, AutoApproved: 1, Ambiguous: 1, Skipped: 2})

	if total.EntitiesSeen != 4 || total.ChangesCreated != 2 || total.AutoApproved != 1 ||
		total.Duplicates != 1 || total.Ambiguous != 1 || total.Skipped != 2 {
		t.Errorf("unexpected totals: %+v", total)
	}
}
