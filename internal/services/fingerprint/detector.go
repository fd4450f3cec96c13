// -----------------------------------------------------------------------
// Duplicate Detector - Classifies candidates as NEW, EXISTING, or AMBIGUOUS
// -----------------------------------------------------------------------

package fingerprint

import (
	"context"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// Detector matches collected candidates against stored entities by
// identity fingerprint. Soft-deleted rows never match, so re-collection
// after a delete produces a fresh entity.
//
// Verdicts:
//   - NEW: no live row carries the fingerprint
//   - EXISTING: exactly one live row matches; MatchID identifies it
//   - AMBIGUOUS: two or more live rows collide; the change ledger keeps
//     the candidate pending until an operator disambiguates
type Detector struct {
	entities interfaces.EntityStorage
	logger   arbor.ILogger
}

// NewDetector creates a duplicate detector over the entity store
func NewDetector(entities interfaces.EntityStorage, logger arbor.ILogger) *Detector {
	return &Detector{
		entities: entities,
		logger:   logger,
	}
}

// DetectCommunity classifies a community candidate. The candidate's
// Fingerprint field is filled as a side effect.
func (d *Detector) DetectCommunity(ctx context.Context, candidate *models.Community) (models.DuplicateHint, error) {
	candidate.Fingerprint = Community(candidate.Name, candidate.City, candidate.State)

	matches, err := d.entities.FindCommunitiesByFingerprint(ctx, candidate.Fingerprint)
	if err != nil {
		return models.DuplicateHint{}, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return d.classify("community", candidate.Name, ids), nil
}

// DetectBuilder classifies a builder candidate. The candidate's
// Fingerprint field is filled as a side effect.
func (d *Detector) DetectBuilder(ctx context.Context, candidate *models.Builder) (models.DuplicateHint, error) {
	candidate.Fingerprint = Builder(candidate.Name, candidate.City, candidate.State)

	matches, err := d.entities.FindBuildersByFingerprint(ctx, candidate.Fingerprint)
	if err != nil {
		return models.DuplicateHint{}, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return d.classify("builder", candidate.Name, ids), nil
}

// DetectProperty classifies a property candidate. The candidate's
// Fingerprint field is filled as a side effect.
func (d *Detector) DetectProperty(ctx context.Context, candidate *models.Property) (models.DuplicateHint, error) {
	candidate.Fingerprint = Property(candidate.Address1, candidate.PostalCode)

	matches, err := d.entities.FindPropertiesByFingerprint(ctx, candidate.Fingerprint)
	if err != nil {
		return models.DuplicateHint{}, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return d.classify("property", candidate.Address1, ids), nil
}

// classify maps a fingerprint match set onto a duplicate hint
func (d *Detector) classify(entityType, label string, matchIDs []string) models.DuplicateHint {
	switch len(matchIDs) {
	case 0:
		return models.DuplicateHint{Kind: models.HintNew}
	case 1:
		d.logger.Trace().
			Str("entity_type", entityType).
			Str("candidate", label).
			Str("match_id", matchIDs[0]).
			Msg("Duplicate detector matched existing entity")
		return models.DuplicateHint{Kind: models.HintExisting, MatchID: matchIDs[0]}
	default:
		sort.Strings(matchIDs)
		d.logger.Warn().
			Str("entity_type", entityType).
			Str("candidate", label).
			Int("candidates", len(matchIDs)).
			Msg("Duplicate detector found ambiguous fingerprint collision")
		return models.DuplicateHint{Kind: models.HintAmbiguous, CandidateIDs: matchIDs}
	}
}
