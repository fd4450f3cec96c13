package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/storage/badger"
)

func newTestDetector(t *testing.T) (*Detector, interfaces.EntityStorage) {
	t.Helper()
	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := badger.NewEntityStorage(db, logger)
	return NewDetector(entities, logger), entities
}

func TestDetectCommunityNew(t *testing.T) {
	detector, _ := newTestDetector(t)
	ctx := context.Background()

	candidate := &models.Community{Name: "Sunfield", City: "Buda", State: "TX"}
	hint, err := detector.DetectCommunity(ctx, candidate)
	require.NoError(t, err)

	assert.Equal(t, models.HintNew, hint.Kind)
	assert.Empty(t, hint.MatchID)
	assert.Equal(t, Community("Sunfield", "Buda", "TX"), candidate.Fingerprint,
		"detector must fill the candidate fingerprint")
}

func TestDetectCommunityExisting(t *testing.T) {
	detector, entities := newTestDetector(t)
	ctx := context.Background()

	stored := &models.Community{
		ID:          "CMY-1699564234-A7K9M2",
		Name:        "Sunfield",
		City:        "Buda",
		State:       "TX",
		Status:      models.CommunityStatusActive,
		Fingerprint: Community("Sunfield", "Buda", "TX"),
	}
	require.NoError(t, entities.SaveCommunity(ctx, stored))

	// Different casing and spacing still hits the stored row
	candidate := &models.Community{Name: " SUNFIELD ", City: "buda", State: "tx"}
	hint, err := detector.DetectCommunity(ctx, candidate)
	require.NoError(t, err)

	assert.Equal(t, models.HintExisting, hint.Kind)
	assert.Equal(t, stored.ID, hint.MatchID)
}

func TestDetectCommunityAmbiguous(t *testing.T) {
	detector, entities := newTestDetector(t)
	ctx := context.Background()

	fp := Community("Sunfield", "Buda", "TX")
	for _, id := range []string{"CMY-1699564234-A7K9M2", "CMY-1699564235-B7K9M2"} {
		require.NoError(t, entities.SaveCommunity(ctx, &models.Community{
			ID: id, Name: "Sunfield", City: "Buda", State: "TX",
			Status: models.CommunityStatusActive, Fingerprint: fp,
		}))
	}

	hint, err := detector.DetectCommunity(ctx, &models.Community{Name: "Sunfield", City: "Buda", State: "TX"})
	require.NoError(t, err)

	assert.Equal(t, models.HintAmbiguous, hint.Kind)
	assert.Len(t, hint.CandidateIDs, 2)
	assert.Equal(t, []string{"CMY-1699564234-A7K9M2", "CMY-1699564235-B7K9M2"}, hint.CandidateIDs,
		"candidate IDs must be sorted")
}

func TestDetectExcludesSoftDeleted(t *testing.T) {
	detector, entities := newTestDetector(t)
	ctx := context.Background()

	deleted := &models.Builder{
		ID:          "BLD-1699564234-A7K9M2",
		Name:        "Lennar",
		City:        "Austin",
		State:       "TX",
		Fingerprint: Builder("Lennar", "Austin", "TX"),
	}
	require.NoError(t, entities.SaveBuilder(ctx, deleted))

	// Soft delete and re-save
	now := deleted.UpdatedAt
	deleted.DeletedAt = &now
	require.NoError(t, entities.SaveBuilder(ctx, deleted))

	hint, err := detector.DetectBuilder(ctx, &models.Builder{Name: "Lennar", City: "Austin", State: "TX"})
	require.NoError(t, err)

	assert.Equal(t, models.HintNew, hint.Kind, "soft-deleted rows must not match")
}

func TestDetectPropertyBySuffixVariant(t *testing.T) {
	detector, entities := newTestDetector(t)
	ctx := context.Background()

	stored := &models.Property{
		ID:          "PRP-1699564234-A7K9M2",
		Address1:    "123 Main Street",
		PostalCode:  "78610",
		Status:      models.PropertyStatusForSale,
		Fingerprint: Property("123 Main Street", "78610"),
	}
	require.NoError(t, entities.SaveProperty(ctx, stored))

	hint, err := detector.DetectProperty(ctx, &models.Property{Address1: "123 Main St.", PostalCode: "78610"})
	require.NoError(t, err)

	assert.Equal(t, models.HintExisting, hint.Kind)
	assert.Equal(t, stored.ID, hint.MatchID)
}
