package collector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
	"github.com/ternarybob/praedium/internal/storage/badger"
)

// scriptedLLM plays back canned responses and errors in call order,
// repeating the final response once the script runs out.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Collect(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.responses) == 0 {
		return "", errors.New("scripted llm: no responses")
	}
	if i >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[i], nil
}

func (s *scriptedLLM) Name() string                          { return "scripted" }
func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

// fakeReview records auto-approval calls without touching storage
type fakeReview struct {
	fire     bool
	approved []string
}

func (f *fakeReview) ReviewChange(ctx context.Context, changeID string, verdict interfaces.ReviewVerdict, reviewer, note string) (*models.Change, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReview) ReviewBulk(ctx context.Context, changeIDs []string, verdict interfaces.ReviewVerdict, reviewer string) (*interfaces.BulkResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReview) AutoApprove(ctx context.Context, change *models.Change) (bool, error) {
	if !f.fire {
		return false, nil
	}
	f.approved = append(f.approved, change.ID)
	return true, nil
}

func (f *fakeReview) Stats(ctx context.Context) (*interfaces.ReviewStats, error) {
	return nil, errors.New("not implemented")
}

func newTestService(t *testing.T, llmSvc interfaces.LLMService, review interfaces.ReviewService) (*Service, interfaces.EntityStorage, interfaces.ChangeStorage) {
	t.Helper()
	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := badger.NewEntityStorage(db, logger)
	changes := badger.NewChangeStorage(db, logger)
	detector := fingerprint.NewDetector(entities, logger)

	cfg := &common.Config{}
	cfg.LLM.MaxRetries = 3
	return NewService(cfg, llmSvc, detector, entities, changes, review, logger), entities, changes
}

func runningJob(jobType models.JobType, spec models.JobSpec) *models.Job {
	return &models.Job{
		ID:         common.NewPublicID(common.PrefixJob),
		Type:       jobType,
		EntityType: jobType.EntityType(),
		Status:     models.JobStatusRunning,
		Priority:   5,
		Spec:       spec,
	}
}

const twoCommunitiesJSON = `{
  "communities": [
    {"name": "Sunfield", "city": "Buda", "state": "TX", "price_min": 300000,
     "amenities": ["pool"], "builders": [{"name": "Lennar"}], "confidence": 0.92},
    {"name": "Easton Park", "city": "Austin", "state": "TX", "confidence": 0.88}
  ]
}`

func TestRunDiscoveryCreatesChanges(t *testing.T) {
	llmSvc := &scriptedLLM{responses: []string{"```json\n" + twoCommunitiesJSON + "\n```"}}
	svc, _, changes := newTestService(t, llmSvc, nil)
	ctx := context.Background()

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{City: "Buda", State: "TX", Market: "austin-tx"},
	})

	result, err := svc.Run(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, 2, result.EntitiesSeen)
	assert.Equal(t, 2, result.ChangesCreated)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.AutoApproved)

	saved, err := changes.ListChanges(ctx, &interfaces.ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, change := range saved {
		assert.Equal(t, models.ChangeTypeCreate, change.ChangeType)
		assert.Equal(t, models.ChangeStatusPending, change.Status)
		assert.Equal(t, models.HintNew, change.Hint.Kind)
		assert.Empty(t, change.EntityID, "create changes get an entity ID at apply time")

		var candidate models.Community
		require.NoError(t, json.Unmarshal(change.Payload, &candidate))
		assert.NotEmpty(t, candidate.Fingerprint, "detection must stamp the fingerprint")
		assert.Equal(t, "austin-tx", candidate.Market, "market flows from the search filters")
	}

	require.Len(t, llmSvc.prompts, 1)
	assert.Contains(t, llmSvc.prompts[0], "Buda")
}

func TestRunDiscoveryUpdatesExisting(t *testing.T) {
	response := `{"communities": [
      {"name": "Sunfield", "city": "Buda", "state": "TX", "price_min": 310000,
       "amenities": ["pool", "dog park"], "confidence": 0.9}
    ]}`
	llmSvc := &scriptedLLM{responses: []string{response}}
	svc, entities, changes := newTestService(t, llmSvc, nil)
	ctx := context.Background()

	stored := &models.Community{
		ID:          "CMY-1699564234-A7K9M2",
		Name:        "Sunfield",
		City:        "Buda",
		State:       "TX",
		Status:      models.CommunityStatusActive,
		PriceMin:    290000,
		Amenities:   []string{"pool"},
		Version:     3,
		Fingerprint: fingerprint.Community("Sunfield", "Buda", "TX"),
	}
	require.NoError(t, entities.SaveCommunity(ctx, stored))

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{City: "Buda", State: "TX"},
	})

	result, err := svc.Run(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.ChangesCreated)
	assert.Zero(t, result.Skipped)

	saved, err := changes.ListChanges(ctx, &interfaces.ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	change := saved[0]
	assert.Equal(t, models.ChangeTypeUpdate, change.ChangeType)
	assert.Equal(t, stored.ID, change.EntityID)
	assert.Equal(t, 3, change.BaseVersion)
	assert.Equal(t, models.HintExisting, change.Hint.Kind)

	fields := change.DiffFields()
	assert.Contains(t, fields, "price_min")
	assert.Contains(t, fields, "amenities")
	assert.NotContains(t, fields, "name", "unchanged identity must not appear in the diff")
}

func TestRunDiscoverySkipsNoOp(t *testing.T) {
	response := `{"communities": [
      {"name": "Sunfield", "city": "Buda", "state": "TX", "confidence": 0.9}
    ]}`
	llmSvc := &scriptedLLM{responses: []string{response}}
	svc, entities, changes := newTestService(t, llmSvc, nil)
	ctx := context.Background()

	require.NoError(t, entities.SaveCommunity(ctx, &models.Community{
		ID:          "CMY-1699564234-A7K9M2",
		Name:        "Sunfield",
		City:        "Buda",
		State:       "TX",
		Status:      models.CommunityStatusActive,
		Fingerprint: fingerprint.Community("Sunfield", "Buda", "TX"),
	}))

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{City: "Buda", State: "TX"},
	})

	result, err := svc.Run(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Duplicates)
	assert.Zero(t, result.ChangesCreated)

	saved, err := changes.ListChanges(ctx, &interfaces.ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Empty(t, saved, "no-op diffs must not write ledger entries")
}

func TestRunAnchoredDetail(t *testing.T) {
	response := `{"community":
      {"name": "Sunfield", "city": "Buda", "state": "TX",
       "description": "A 2,400-home master-planned community south of Austin.",
       "confidence": 0.95}
    }`
	llmSvc := &scriptedLLM{responses: []string{response}}
	svc, entities, changes := newTestService(t, llmSvc, nil)
	ctx := context.Background()

	stored := &models.Community{
		ID:          "CMY-1699564234-A7K9M2",
		Name:        "Sunfield",
		City:        "Buda",
		State:       "TX",
		Status:      models.CommunityStatusActive,
		Version:     2,
		Fingerprint: fingerprint.Community("Sunfield", "Buda", "TX"),
	}
	require.NoError(t, entities.SaveCommunity(ctx, stored))

	job := runningJob(models.JobTypeCommunityDetail, models.JobSpec{EntityID: stored.ID})

	result, err := svc.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChangesCreated)
	assert.Zero(t, result.Duplicates, "anchored runs are not duplicate detections")

	saved, err := changes.ListChanges(ctx, &interfaces.ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, models.ChangeTypeUpdate, saved[0].ChangeType)
	assert.Equal(t, stored.ID, saved[0].EntityID)
	assert.Equal(t, 2, saved[0].BaseVersion)
	assert.Equal(t, []string{"description"}, saved[0].DiffFields())

	// The prompt names the anchored entity even though the spec only
	// carried its ID.
	require.Len(t, llmSvc.prompts, 1)
	assert.Contains(t, llmSvc.prompts[0], "Sunfield")
}

func TestRunAnchoredDetailMissingEntityFatal(t *testing.T) {
	llmSvc := &scriptedLLM{responses: []string{`{}`}}
	svc, _, _ := newTestService(t, llmSvc, nil)

	job := runningJob(models.JobTypeCommunityDetail, models.JobSpec{EntityID: "CMY-1699564234-ZZZZZZ"})

	_, err := svc.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, models.IsFatal(err), "missing anchor entity cannot be retried away")
	assert.Zero(t, llmSvc.calls, "no LLM spend on a broken anchor")
}

func TestRunSchemaInvalidTwiceIsFatal(t *testing.T) {
	llmSvc := &scriptedLLM{responses: []string{`{"notes": "nothing found"}`}}
	svc, _, _ := newTestService(t, llmSvc, nil)

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{Market: "austin-tx"},
	})

	_, err := svc.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, models.IsFatal(err))
	assert.Equal(t, 2, llmSvc.calls, "one fresh collection attempt per schema miss")
}

func TestRunMalformedJSONStaysTransient(t *testing.T) {
	llmSvc := &scriptedLLM{responses: []string{"here are the results: pool, park"}}
	svc, _, _ := newTestService(t, llmSvc, nil)

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{Market: "austin-tx"},
	})

	_, err := svc.Run(context.Background(), job)
	require.Error(t, err)
	assert.False(t, models.IsFatal(err), "garbled output is worth a job retry")
}

func TestRunRetriesRateLimit(t *testing.T) {
	llmSvc := &scriptedLLM{
		errs:      []error{errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")},
		responses: []string{"", twoCommunitiesJSON},
	}
	svc, _, _ := newTestService(t, llmSvc, nil)

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{Market: "austin-tx"},
	})

	result, err := svc.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, llmSvc.calls)
	assert.Equal(t, 2, result.ChangesCreated)
}

func TestRunNonRetryableErrorFailsFast(t *testing.T) {
	llmSvc := &scriptedLLM{errs: []error{errors.New("invalid api key")}}
	svc, _, _ := newTestService(t, llmSvc, nil)

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{Market: "austin-tx"},
	})

	_, err := svc.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 1, llmSvc.calls, "non-retryable provider errors burn one call")
}

func TestRunAutoApprovesCreates(t *testing.T) {
	llmSvc := &scriptedLLM{responses: []string{twoCommunitiesJSON}}
	review := &fakeReview{fire: true}
	svc, _, _ := newTestService(t, llmSvc, review)

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{Market: "austin-tx"},
	})

	result, err := svc.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AutoApproved)
	assert.Len(t, review.approved, 2)
}

func TestRunInventoryAttachesCommunity(t *testing.T) {
	response := `{"properties": [
      {"address1": "123 Kestrel Way", "postal_code": "78610", "price": 425000,
       "beds": 4, "baths": 2.5, "status": "for_sale", "confidence": 0.85}
    ]}`
	llmSvc := &scriptedLLM{responses: []string{response}}
	svc, entities, changes := newTestService(t, llmSvc, nil)
	ctx := context.Background()

	community := &models.Community{
		ID:          "CMY-1699564234-A7K9M2",
		Name:        "Sunfield",
		City:        "Buda",
		State:       "TX",
		Status:      models.CommunityStatusActive,
		Fingerprint: fingerprint.Community("Sunfield", "Buda", "TX"),
	}
	require.NoError(t, entities.SaveCommunity(ctx, community))

	job := runningJob(models.JobTypeCommunityInventory, models.JobSpec{EntityID: community.ID})

	result, err := svc.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChangesCreated)

	saved, err := changes.ListChanges(ctx, &interfaces.ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, models.EntityTypeProperty, saved[0].EntityType)

	var candidate models.Property
	require.NoError(t, json.Unmarshal(saved[0].Payload, &candidate))
	assert.Equal(t, community.ID, candidate.CommunityID)
	assert.Equal(t, "Buda", candidate.City, "inventory candidates inherit the community location")
}

func TestRunAmbiguousStaysPending(t *testing.T) {
	response := `{"communities": [
      {"name": "Sunfield", "city": "Buda", "state": "TX", "confidence": 0.9}
    ]}`
	llmSvc := &scriptedLLM{responses: []string{response}}
	svc, entities, changes := newTestService(t, llmSvc, nil)
	ctx := context.Background()

	fp := fingerprint.Community("Sunfield", "Buda", "TX")
	for _, id := range []string{"CMY-1699564234-A7K9M2", "CMY-1699564235-B7K9M2"} {
		require.NoError(t, entities.SaveCommunity(ctx, &models.Community{
			ID: id, Name: "Sunfield", City: "Buda", State: "TX",
			Status: models.CommunityStatusActive, Fingerprint: fp,
		}))
	}

	job := runningJob(models.JobTypeCommunityDiscovery, models.JobSpec{
		SearchFilters: models.SearchFilters{City: "Buda", State: "TX"},
	})

	result, err := svc.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Ambiguous)
	assert.Equal(t, 1, result.ChangesCreated)

	saved, err := changes.ListChanges(ctx, &interfaces.ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, models.HintAmbiguous, saved[0].Hint.Kind)
	assert.Len(t, saved[0].Hint.CandidateIDs, 2)
	assert.Equal(t, models.ChangeTypeCreate, saved[0].ChangeType)
}
