package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/events"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
	"github.com/ternarybob/praedium/internal/storage/badger"
)

type enqueueCall struct {
	jobType models.JobType
	spec    models.JobSpec
	opts    interfaces.EnqueueOptions
}

// fakeOrchestrator records enqueues and can simulate spec hash collisions
type fakeOrchestrator struct {
	mu       sync.Mutex
	enqueued []enqueueCall
	calls    int
	dupFor   map[string]string // builder name -> existing job ID
}

func (f *fakeOrchestrator) Enqueue(ctx context.Context, jobType models.JobType, spec models.JobSpec, opts interfaces.EnqueueOptions) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if id, ok := f.dupFor[spec.SearchFilters.BuilderName]; ok {
		return nil, &models.DuplicateJobError{ExistingID: id}
	}
	f.enqueued = append(f.enqueued, enqueueCall{jobType: jobType, spec: spec, opts: opts})
	return &models.Job{ID: common.NewPublicID(common.PrefixJob), Type: jobType, Spec: spec}, nil
}

func (f *fakeOrchestrator) Cancel(ctx context.Context, jobID string) error {
	return errors.New("not implemented")
}

func (f *fakeOrchestrator) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrchestrator) ListJobs(ctx context.Context, filter *interfaces.JobFilter) ([]*models.Job, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (f *fakeOrchestrator) GetHistory(ctx context.Context, jobID string) ([]models.StatusTransition, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrchestrator) ExecutePending(ctx context.Context, limit int) (*interfaces.ExecuteSummary, error) {
	return nil, errors.New("not implemented")
}

type resolverHarness struct {
	resolver *Resolver
	entities interfaces.EntityStorage
	jobs     interfaces.JobStorage
	history  interfaces.HistoryStorage
	queue    *fakeOrchestrator
	bus      interfaces.EventService
}

func newTestResolver(t *testing.T) *resolverHarness {
	t.Helper()
	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &resolverHarness{
		entities: badger.NewEntityStorage(db, logger),
		jobs:     badger.NewJobStorage(db, logger),
		history:  badger.NewHistoryStorage(db, logger),
		queue:    &fakeOrchestrator{},
		bus:      events.NewService(logger),
	}
	h.resolver = NewResolver(h.entities, h.jobs, h.history, h.queue, h.bus, logger)
	return h
}

func saveCommunity(t *testing.T, entities interfaces.EntityStorage, c *models.Community) *models.Community {
	t.Helper()
	now := time.Now()
	if c.ID == "" {
		c.ID = common.NewPublicID(common.PrefixCommunity)
	}
	if c.Fingerprint == "" {
		c.Fingerprint = fingerprint.Community(c.Name, c.City, c.State)
	}
	if c.Version == 0 {
		c.Version = 1
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	require.NoError(t, entities.SaveCommunity(context.Background(), c))
	return c
}

func savePendingJob(t *testing.T, jobs interfaces.JobStorage, jobType models.JobType, spec models.JobSpec, priority int) *models.Job {
	t.Helper()
	now := time.Now()
	job := &models.Job{
		ID:          common.NewPublicID(common.PrefixJob),
		Type:        jobType,
		EntityType:  jobType.EntityType(),
		Status:      models.JobStatusPending,
		Priority:    priority,
		Spec:        spec,
		SpecHash:    spec.Hash(jobType),
		MaxAttempts: models.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, jobs.SaveJob(context.Background(), job))
	return job
}

func communityCreated(communityID, jobID string) interfaces.Event {
	return interfaces.Event{
		Type: interfaces.EventEntityCreated,
		Payload: interfaces.EntityEventPayload{
			EntityType: models.EntityTypeCommunity,
			EntityID:   communityID,
			JobID:      jobID,
		},
	}
}

func builderCreated(builderID string) interfaces.Event {
	return interfaces.Event{
		Type: interfaces.EventEntityCreated,
		Payload: interfaces.EntityEventPayload{
			EntityType: models.EntityTypeBuilder,
			EntityID:   builderID,
		},
	}
}

func TestAnchorsPendingDetailJobs(t *testing.T) {
	h := newTestResolver(t)
	ctx := context.Background()

	waiting := savePendingJob(t, h.jobs, models.JobTypeCommunityDetail, models.JobSpec{
		SearchFilters: models.SearchFilters{CommunityName: "sunfield", State: "TX"},
	}, 5)
	otherName := savePendingJob(t, h.jobs, models.JobTypeCommunityDetail, models.JobSpec{
		SearchFilters: models.SearchFilters{CommunityName: "Easton Park"},
	}, 5)
	alreadyAnchored := savePendingJob(t, h.jobs, models.JobTypeCommunityInventory, models.JobSpec{
		EntityID:      "CMY-OTHER-000000",
		SearchFilters: models.SearchFilters{CommunityName: "Sunfield"},
	}, 5)

	community := saveCommunity(t, h.entities, &models.Community{Name: "Sunfield", City: "Buda", State: "TX"})
	require.NoError(t, h.resolver.handleEntityEvent(ctx, communityCreated(community.ID, "")))

	anchored, err := h.jobs.GetJob(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, community.ID, anchored.Spec.EntityID)
	assert.Equal(t, anchored.Spec.Hash(anchored.Type), anchored.SpecHash, "spec hash tracks the anchored spec")

	transitions, err := h.history.GetTransitions(ctx, waiting.ID)
	require.NoError(t, err)
	require.NotEmpty(t, transitions)
	last := transitions[len(transitions)-1]
	assert.Equal(t, "anchored by cascade", last.Reason)
	assert.Equal(t, "cascade", last.Actor)

	untouched, err := h.jobs.GetJob(ctx, otherName.ID)
	require.NoError(t, err)
	assert.Empty(t, untouched.Spec.EntityID)

	kept, err := h.jobs.GetJob(ctx, alreadyAnchored.ID)
	require.NoError(t, err)
	assert.Equal(t, "CMY-OTHER-000000", kept.Spec.EntityID)
}

func TestAnchorRespectsCityFilter(t *testing.T) {
	h := newTestResolver(t)
	ctx := context.Background()

	elsewhere := savePendingJob(t, h.jobs, models.JobTypeCommunityDetail, models.JobSpec{
		SearchFilters: models.SearchFilters{CommunityName: "Sunfield", City: "Round Rock", State: "TX"},
	}, 5)

	community := saveCommunity(t, h.entities, &models.Community{Name: "Sunfield", City: "Buda", State: "TX"})
	require.NoError(t, h.resolver.handleEntityEvent(ctx, communityCreated(community.ID, "")))

	after, err := h.jobs.GetJob(ctx, elsewhere.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Spec.EntityID, "a different city must not anchor")
}

func TestBuilderLinksCardsAcrossCommunities(t *testing.T) {
	h := newTestResolver(t)
	ctx := context.Background()

	first := saveCommunity(t, h.entities, &models.Community{
		Name: "Sunfield", City: "Buda", State: "TX",
		BuilderCards: []models.BuilderCard{{CardID: "card-1", Name: "Lennar"}},
	})
	second := saveCommunity(t, h.entities, &models.Community{
		Name: "Easton Park", City: "Austin", State: "TX",
		BuilderCards: []models.BuilderCard{
			{CardID: "card-2", Name: "lennar"},
			{CardID: "card-3", Name: "Perry Homes", BuilderProfileID: "BLD-PERRY-000000"},
		},
	})

	updated := make(chan interfaces.Event, 4)
	require.NoError(t, h.bus.Subscribe(interfaces.EventEntityUpdated, func(ctx context.Context, e interfaces.Event) error {
		updated <- e
		return nil
	}))

	now := time.Now()
	builder := &models.Builder{
		ID: common.NewPublicID(common.PrefixBuilder), Name: "Lennar", City: "Austin", State: "TX",
		Fingerprint: fingerprint.Builder("Lennar", "Austin", "TX"),
		Version:     1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.entities.SaveBuilder(ctx, builder))
	require.NoError(t, h.resolver.handleEntityEvent(ctx, builderCreated(builder.ID)))

	afterFirst, err := h.entities.GetCommunity(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, builder.ID, afterFirst.BuilderCards[0].BuilderProfileID)
	assert.Equal(t, 2, afterFirst.Version)

	afterSecond, err := h.entities.GetCommunity(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, builder.ID, afterSecond.BuilderCards[0].BuilderProfileID)
	assert.Equal(t, "BLD-PERRY-000000", afterSecond.BuilderCards[1].BuilderProfileID, "linked cards stay linked")

	for i := 0; i < 2; i++ {
		select {
		case e := <-updated:
			payload := e.Payload.(interfaces.EntityEventPayload)
			assert.Equal(t, models.EntityTypeCommunity, payload.EntityType)
		case <-time.After(2 * time.Second):
			t.Fatal("card link update event never arrived")
		}
	}
}

func TestBuilderLinkIsIdempotent(t *testing.T) {
	h := newTestResolver(t)
	ctx := context.Background()

	community := saveCommunity(t, h.entities, &models.Community{
		Name: "Sunfield", City: "Buda", State: "TX",
		BuilderCards: []models.BuilderCard{{CardID: "card-1", Name: "Lennar"}},
	})

	now := time.Now()
	builder := &models.Builder{
		ID: common.NewPublicID(common.PrefixBuilder), Name: "Lennar",
		Fingerprint: fingerprint.Builder("Lennar", "", ""),
		Version:     1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.entities.SaveBuilder(ctx, builder))

	require.NoError(t, h.resolver.handleEntityEvent(ctx, builderCreated(builder.ID)))
	require.NoError(t, h.resolver.handleEntityEvent(ctx, builderCreated(builder.ID)))

	after, err := h.entities.GetCommunity(ctx, community.ID)
	require.NoError(t, err)
	assert.Equal(t, builder.ID, after.BuilderCards[0].BuilderProfileID)
	assert.Equal(t, 2, after.Version, "replayed event must not bump the version again")
}

func TestBackfillEnqueuesDiscoveryForUnlinkedCards(t *testing.T) {
	h := newTestResolver(t)
	ctx := context.Background()

	// Perry Homes already has a profile in this market; only Lennar and
	// Highland need collection.
	now := time.Now()
	perry := &models.Builder{
		ID: common.NewPublicID(common.PrefixBuilder), Name: "Perry Homes", City: "Buda", State: "TX",
		Fingerprint: fingerprint.Builder("Perry Homes", "Buda", "TX"),
		Version:     1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.entities.SaveBuilder(ctx, perry))

	parent := savePendingJob(t, h.jobs, models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{Market: "austin-tx"},
	}, 5)

	community := saveCommunity(t, h.entities, &models.Community{
		Name: "Sunfield", City: "Buda", State: "TX", Market: "austin-tx",
		BuilderCards: []models.BuilderCard{
			{CardID: "card-1", Name: "Lennar"},
			{CardID: "card-2", Name: "lennar"}, // Same brand, different casing
			{CardID: "card-3", Name: "Highland Homes"},
			{CardID: "card-4", Name: "Perry Homes"},
		},
	})

	require.NoError(t, h.resolver.handleEntityEvent(ctx, communityCreated(community.ID, parent.ID)))

	require.Len(t, h.queue.enqueued, 2)
	names := []string{
		h.queue.enqueued[0].spec.SearchFilters.BuilderName,
		h.queue.enqueued[1].spec.SearchFilters.BuilderName,
	}
	assert.ElementsMatch(t, []string{"Lennar", "Highland Homes"}, names)
	for _, call := range h.queue.enqueued {
		assert.Equal(t, models.JobTypeBuilderDiscovery, call.jobType)
		assert.Equal(t, "cascade", call.opts.EnqueuedBy)
		assert.Equal(t, 4, call.opts.Priority, "one below the parent")
		assert.Equal(t, "Buda", call.spec.SearchFilters.City)
		assert.Equal(t, "TX", call.spec.SearchFilters.State)
		assert.Equal(t, "austin-tx", call.spec.SearchFilters.Market)
	}
}

func TestBackfillToleratesDuplicateJobs(t *testing.T) {
	h := newTestResolver(t)
	h.queue.dupFor = map[string]string{"Lennar": "JOB-EXISTING-000000"}
	ctx := context.Background()

	community := saveCommunity(t, h.entities, &models.Community{
		Name: "Sunfield", City: "Buda", State: "TX",
		BuilderCards: []models.BuilderCard{
			{CardID: "card-1", Name: "Lennar"},
			{CardID: "card-2", Name: "Highland Homes"},
		},
	})

	require.NoError(t, h.resolver.handleEntityEvent(ctx, communityCreated(community.ID, "")))

	assert.Equal(t, 2, h.queue.calls, "a duplicate must not stop the scan")
	require.Len(t, h.queue.enqueued, 1)
	assert.Equal(t, "Highland Homes", h.queue.enqueued[0].spec.SearchFilters.BuilderName)
}

func TestSubscribeWiresHandlers(t *testing.T) {
	h := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, h.resolver.Subscribe())

	waiting := savePendingJob(t, h.jobs, models.JobTypeCommunityDetail, models.JobSpec{
		SearchFilters: models.SearchFilters{CommunityName: "Sunfield"},
	}, 5)
	community := saveCommunity(t, h.entities, &models.Community{Name: "Sunfield", City: "Buda", State: "TX"})

	require.NoError(t, h.bus.PublishSync(ctx, communityCreated(community.ID, "")))

	anchored, err := h.jobs.GetJob(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, community.ID, anchored.Spec.EntityID)
}
