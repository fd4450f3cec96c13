package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/queue"
	"github.com/ternarybob/praedium/internal/services/catalog"
	"github.com/ternarybob/praedium/internal/services/coverage"
	"github.com/ternarybob/praedium/internal/services/events"
	"github.com/ternarybob/praedium/internal/services/review"
	"github.com/ternarybob/praedium/internal/storage/badger"
)

// commandHarness wires the command service over real storage and the
// real queue, review, and coverage services
type commandHarness struct {
	svc      *Service
	manager  *queue.Manager
	entities interfaces.EntityStorage
	changes  interfaces.ChangeStorage
	jobs     interfaces.JobStorage
	jobLogs  interfaces.JobLogStorage
}

func newTestCommand(t *testing.T) *commandHarness {
	t.Helper()
	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := common.NewDefaultConfig()

	entities := badger.NewEntityStorage(db, logger)
	changes := badger.NewChangeStorage(db, logger)
	jobs := badger.NewJobStorage(db, logger)
	history := badger.NewHistoryStorage(db, logger)
	jobLogs := badger.NewJobLogStorage(db, logger)
	bus := events.NewService(logger)

	manager := queue.NewManager(cfg, jobs, history, bus, logger)
	reviewSvc := review.NewService(cfg, entities, changes, bus, logger)

	catalogDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "markets.yaml"), []byte(`markets:
  - name: austin-tx
    city: Austin
    state: TX
    priority: 8
`), 0o644))
	cat, err := catalog.Load(catalogDir, logger)
	require.NoError(t, err)
	coverageSvc := coverage.NewService(cat, entities, changes, jobs, manager, logger)

	return &commandHarness{
		svc:      NewService(cfg, manager, reviewSvc, changes, jobLogs, coverageSvc, logger),
		manager:  manager,
		entities: entities,
		changes:  changes,
		jobs:     jobs,
		jobLogs:  jobLogs,
	}
}

func discoveryRequest(market string) EnqueueRequest {
	return EnqueueRequest{
		JobType: models.JobTypeCommunityDiscovery,
		Spec: models.JobSpec{
			SearchFilters: models.SearchFilters{Market: market},
		},
		EnqueuedBy: "test-host",
	}
}

func TestEnqueueJobPersistsPendingJob(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	job, err := h.svc.EnqueueJob(ctx, discoveryRequest("austin-tx"))
	require.NoError(t, err)
	assert.True(t, common.HasPrefix(job.ID, common.PrefixJob))
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "test-host", job.EnqueuedBy)

	stored, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeCommunityDiscovery, stored.Type)
}

func TestEnqueueJobRejectsInvalidRequests(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	_, err := h.svc.EnqueueJob(ctx, EnqueueRequest{})
	assert.ErrorIs(t, err, models.ErrInvalidSpec)

	// Orchestrator-level validation surfaces through the same sentinel
	_, err = h.svc.EnqueueJob(ctx, EnqueueRequest{
		JobType: models.JobTypeCommunityDiscovery,
		Spec:    models.JobSpec{},
	})
	assert.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestEnqueueJobReportsDuplicate(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	first, err := h.svc.EnqueueJob(ctx, discoveryRequest("austin-tx"))
	require.NoError(t, err)

	_, err = h.svc.EnqueueJob(ctx, discoveryRequest("austin-tx"))
	var dup *models.DuplicateJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)
}

func TestCancelJobReturnsUpdatedRow(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	job, err := h.svc.EnqueueJob(ctx, discoveryRequest("austin-tx"))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	// A settled job cannot be cancelled again
	_, err = h.svc.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrTerminalJob)

	_, err = h.svc.CancelJob(ctx, "JOB-0000000000-XXXXXX")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.svc.CancelJob(ctx, "")
	assert.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestExecutePendingDrainsQueue(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	h.manager.RegisterHandler(models.JobTypeCommunityDiscovery,
		func(ctx context.Context, job *models.Job) (*models.CollectResult, error) {
			return &models.CollectResult{EntitiesSeen: 2, ChangesCreated: 1}, nil
		})

	job, err := h.svc.EnqueueJob(ctx, discoveryRequest("austin-tx"))
	require.NoError(t, err)

	summary, err := h.svc.ExecutePending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Remaining)

	done, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 2, done.Result.EntitiesSeen)
}

func TestListJobsPaginatesInQueueOrder(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	markets := []string{"austin-tx", "raleigh-nc", "boise-id"}
	priorities := []int{3, 9, 6}
	for i, market := range markets {
		req := discoveryRequest(market)
		req.Priority = priorities[i]
		_, err := h.svc.EnqueueJob(ctx, req)
		require.NoError(t, err)
	}

	page, err := h.svc.ListJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, defaultPageSize, page.Limit)
	require.Len(t, page.Jobs, 3)
	assert.Equal(t, 9, page.Jobs[0].Priority)
	assert.Equal(t, 6, page.Jobs[1].Priority)

	short, err := h.svc.ListJobs(ctx, &interfaces.JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, short.Total)
	assert.Len(t, short.Jobs, 2)

	rest, err := h.svc.ListJobs(ctx, &interfaces.JobFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest.Jobs, 1)
	assert.Equal(t, 3, rest.Jobs[0].Priority)
}

func TestGetJobReturnsDetailWithHistoryAndLogs(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	job, err := h.svc.EnqueueJob(ctx, discoveryRequest("austin-tx"))
	require.NoError(t, err)

	require.NoError(t, h.jobLogs.AppendEntries(ctx, job.ID, []models.JobLogEntry{
		{Timestamp: "10:00:01", FullTime: time.Now().Format(time.RFC3339), Level: "INF", Message: "Collection started"},
		{Timestamp: "10:00:02", FullTime: time.Now().Format(time.RFC3339), Level: "WRN", Message: "Provider responded slowly"},
	}))

	detail, err := h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, detail.Job.ID)

	require.NotEmpty(t, detail.History)
	assert.Equal(t, models.JobStatusPending, detail.History[len(detail.History)-1].To)
	assert.Equal(t, "enqueued", detail.History[len(detail.History)-1].Reason)

	require.Len(t, detail.Logs, 2)
	assert.Equal(t, "Collection started", detail.Logs[0].Message)
}

func TestGetJobUnknownID(t *testing.T) {
	h := newTestCommand(t)
	_, err := h.svc.GetJob(context.Background(), "JOB-0000000000-XXXXXX")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.svc.GetJob(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestListChangesPaginatesWithTotals(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		change := &models.Change{
			ID:         common.NewPublicID(common.PrefixChange),
			EntityType: models.EntityTypeCommunity,
			ChangeType: models.ChangeTypeCreate,
			JobID:      common.NewPublicID(common.PrefixJob),
			Status:     models.ChangeStatusPending,
			Confidence: 0.8,
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, h.changes.SaveChange(ctx, change))
	}

	page, err := h.svc.ListChanges(ctx, &interfaces.ChangeFilter{
		Status: []models.ChangeStatus{models.ChangeStatusPending},
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Changes, 2)
	assert.Equal(t, 2, page.Limit)
}

func TestReviewChangeAppliesVerdict(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	change := &models.Change{
		ID:         common.NewPublicID(common.PrefixChange),
		EntityType: models.EntityTypeCommunity,
		ChangeType: models.ChangeTypeCreate,
		JobID:      common.NewPublicID(common.PrefixJob),
		Status:     models.ChangeStatusPending,
		Hint:       models.DuplicateHint{Kind: models.HintNew},
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, change.SetPayload(&models.Community{
		Name: "Sunfield", City: "Buda", State: "TX", Market: "austin-tx",
	}))
	require.NoError(t, h.changes.SaveChange(ctx, change))

	reviewed, err := h.svc.ReviewChange(ctx, ReviewRequest{
		ChangeID: change.ID,
		Verdict:  interfaces.VerdictApprove,
		Reviewer: "alice",
		Note:     "checks out",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChangeStatusApproved, reviewed.Status)
	require.NotEmpty(t, reviewed.EntityID)

	created, err := h.entities.GetCommunity(ctx, reviewed.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Sunfield", created.Name)
}

func TestReviewChangeValidatesArguments(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	_, err := h.svc.ReviewChange(ctx, ReviewRequest{Verdict: interfaces.VerdictApprove, Reviewer: "alice"})
	assert.ErrorIs(t, err, models.ErrInvalidSpec)

	_, err = h.svc.ReviewChange(ctx, ReviewRequest{ChangeID: "CHG-X", Verdict: "maybe", Reviewer: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidSpec)
	assert.Contains(t, err.Error(), "verdict")
}

func TestReviewBulkRejectsChanges(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		change := &models.Change{
			ID:         common.NewPublicID(common.PrefixChange),
			EntityType: models.EntityTypeCommunity,
			ChangeType: models.ChangeTypeCreate,
			JobID:      common.NewPublicID(common.PrefixJob),
			Status:     models.ChangeStatusPending,
			Confidence: 0.5,
			CreatedAt:  time.Now(),
		}
		require.NoError(t, h.changes.SaveChange(ctx, change))
		ids = append(ids, change.ID)
	}

	result, err := h.svc.ReviewBulk(ctx, BulkReviewRequest{
		ChangeIDs: ids,
		Verdict:   interfaces.VerdictReject,
		Reviewer:  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rejected)
	assert.Empty(t, result.Skipped)

	_, err = h.svc.ReviewBulk(ctx, BulkReviewRequest{Verdict: interfaces.VerdictReject, Reviewer: "alice"})
	assert.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestReviewStatsReportsLedger(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	change := &models.Change{
		ID:         common.NewPublicID(common.PrefixChange),
		EntityType: models.EntityTypeCommunity,
		ChangeType: models.ChangeTypeCreate,
		JobID:      common.NewPublicID(common.PrefixJob),
		Status:     models.ChangeStatusPending,
		Confidence: 0.7,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, h.changes.SaveChange(ctx, change))

	stats, err := h.svc.ReviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[models.ChangeStatusPending])
	require.NotNil(t, stats.OldestPendingAt)
}

func TestCoverageReportAndBackfill(t *testing.T) {
	h := newTestCommand(t)
	ctx := context.Background()

	report, err := h.svc.CoverageReport(ctx)
	require.NoError(t, err)
	require.Len(t, report.Markets, 1)
	assert.Equal(t, "austin-tx", report.Markets[0].Market)
	assert.Equal(t, 0, report.Markets[0].Communities)

	// Dry run previews the discovery job without enqueueing it
	preview, err := h.svc.Backfill(ctx, BackfillRequest{DryRun: true})
	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	require.Len(t, preview.Actions, 1)
	assert.Equal(t, models.JobTypeCommunityDiscovery, preview.Actions[0].JobType)
	assert.Equal(t, 0, preview.Enqueued)

	jobs, err := h.jobs.ListJobs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// Real run writes the job through the queue
	swept, err := h.svc.Backfill(ctx, BackfillRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, swept.Enqueued)
	require.Len(t, swept.Actions, 1)
	assert.NotEmpty(t, swept.Actions[0].JobID)

	job, err := h.jobs.GetJob(ctx, swept.Actions[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeCommunityDiscovery, job.Type)
}

func TestReviewChangeUnknownPassesThrough(t *testing.T) {
	h := newTestCommand(t)

	_, err := h.svc.ReviewChange(context.Background(), ReviewRequest{
		ChangeID: "CHG-0000000000-XXXXXX",
		Verdict:  interfaces.VerdictReject,
		Reviewer: "alice",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
