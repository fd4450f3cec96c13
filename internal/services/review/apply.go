// -----------------------------------------------------------------------
// Apply - Entity writes behind an approved change
// -----------------------------------------------------------------------

package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
)

// applyOutcome reports what an apply actually did
type applyOutcome struct {
	entityID  string
	eventType interfaces.EventType // empty when nothing was written
	note      string
}

// applyChange performs the entity write a change proposes. Contested
// applies return StaleChangeError/AmbiguousMatchError; broken ones wrap
// ErrIntegrity.
func (s *Service) applyChange(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	switch change.ChangeType {
	case models.ChangeTypeCreate:
		return s.applyCreate(ctx, change)
	case models.ChangeTypeUpdate:
		return s.applyUpdate(ctx, change)
	case models.ChangeTypeDelete:
		return s.applyDelete(ctx, change)
	}
	return nil, fmt.Errorf("%w: unknown change type %q", models.ErrIntegrity, change.ChangeType)
}

func (s *Service) applyCreate(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	// Ambiguous identity cannot be resolved automatically: the operator
	// must reject or re-collect. The change stays pending.
	if change.Hint.Kind == models.HintAmbiguous {
		return nil, &models.AmbiguousMatchError{ChangeID: change.ID, CandidateIDs: change.Hint.CandidateIDs}
	}

	switch change.EntityType {
	case models.EntityTypeCommunity:
		return s.createCommunity(ctx, change)
	case models.EntityTypeBuilder:
		return s.createBuilder(ctx, change)
	case models.EntityTypeProperty:
		return s.createProperty(ctx, change)
	}
	return nil, fmt.Errorf("%w: unknown entity type %q", models.ErrIntegrity, change.EntityType)
}

func (s *Service) applyUpdate(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	if change.EntityID == "" {
		return nil, fmt.Errorf("%w: update change carries no entity ID", models.ErrIntegrity)
	}
	switch change.EntityType {
	case models.EntityTypeCommunity:
		return s.updateCommunity(ctx, change)
	case models.EntityTypeBuilder:
		return s.updateBuilder(ctx, change)
	case models.EntityTypeProperty:
		return s.updateProperty(ctx, change)
	}
	return nil, fmt.Errorf("%w: unknown entity type %q", models.ErrIntegrity, change.EntityType)
}

// ---- Community ----

func (s *Service) createCommunity(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	var candidate models.Community
	if err := json.Unmarshal(change.Payload, &candidate); err != nil {
		return nil, fmt.Errorf("%w: payload does not decode as a community: %v", models.ErrIntegrity, err)
	}

	// A create whose candidate matched a stored row downgrades to an
	// update against the match.
	if change.Hint.Kind == models.HintExisting && change.Hint.MatchID != "" {
		existing, err := s.entities.GetCommunity(ctx, change.Hint.MatchID)
		if err != nil {
			return nil, fmt.Errorf("%w: matched community %s: %v", models.ErrIntegrity, change.Hint.MatchID, err)
		}
		diff := models.DiffCommunity(existing, &candidate)
		if len(diff) == 0 {
			return &applyOutcome{entityID: existing.ID, note: "no-op against existing"}, nil
		}
		change.Diff = diff
		if err := models.ApplyCommunityDiff(existing, diff); err != nil {
			return nil, err
		}
		s.stampCommunity(existing)
		if err := s.entities.SaveCommunity(ctx, existing); err != nil {
			return nil, fmt.Errorf("save community: %w", err)
		}
		return &applyOutcome{entityID: existing.ID, eventType: interfaces.EventEntityUpdated}, nil
	}

	now := time.Now()
	candidate.ID = common.NewPublicID(common.PrefixCommunity)
	if candidate.Fingerprint == "" {
		candidate.Fingerprint = fingerprint.Community(candidate.Name, candidate.City, candidate.State)
	}
	if candidate.Status == "" {
		candidate.Status = models.CommunityStatusActive
	}
	for i := range candidate.BuilderCards {
		if candidate.BuilderCards[i].CardID == "" {
			candidate.BuilderCards[i].CardID = uuid.New().String()
		}
	}
	candidate.Version = 1
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	if err := s.entities.SaveCommunity(ctx, &candidate); err != nil {
		return nil, fmt.Errorf("save community: %w", err)
	}
	return &applyOutcome{entityID: candidate.ID, eventType: interfaces.EventEntityCreated}, nil
}

func (s *Service) updateCommunity(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	current, err := s.entities.GetCommunity(ctx, change.EntityID)
	if err != nil {
		return nil, fmt.Errorf("%w: community %s: %v", models.ErrIntegrity, change.EntityID, err)
	}
	if current.IsDeleted() {
		return nil, fmt.Errorf("%w: community %s was deleted", models.ErrIntegrity, current.ID)
	}
	if conflicts := models.CommunityConflicts(current, change.Diff); len(conflicts) > 0 {
		return nil, &models.StaleChangeError{ChangeID: change.ID, EntityID: current.ID, ConflictingFields: conflicts}
	}
	if err := models.ApplyCommunityDiff(current, change.Diff); err != nil {
		return nil, err
	}
	s.stampCommunity(current)
	if err := s.entities.SaveCommunity(ctx, current); err != nil {
		return nil, fmt.Errorf("save community: %w", err)
	}
	return &applyOutcome{entityID: current.ID, eventType: interfaces.EventEntityUpdated}, nil
}

// stampCommunity refreshes derived fields after a write. Identity edits
// move the fingerprint with them.
func (s *Service) stampCommunity(c *models.Community) {
	c.Fingerprint = fingerprint.Community(c.Name, c.City, c.State)
	c.Version++
	c.UpdatedAt = time.Now()
}

// ---- Builder ----

func (s *Service) createBuilder(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	var candidate models.Builder
	if err := json.Unmarshal(change.Payload, &candidate); err != nil {
		return nil, fmt.Errorf("%w: payload does not decode as a builder: %v", models.ErrIntegrity, err)
	}

	if change.Hint.Kind == models.HintExisting && change.Hint.MatchID != "" {
		existing, err := s.entities.GetBuilder(ctx, change.Hint.MatchID)
		if err != nil {
			return nil, fmt.Errorf("%w: matched builder %s: %v", models.ErrIntegrity, change.Hint.MatchID, err)
		}
		diff := models.DiffBuilder(existing, &candidate)
		if len(diff) == 0 {
			return &applyOutcome{entityID: existing.ID, note: "no-op against existing"}, nil
		}
		change.Diff = diff
		if err := models.ApplyBuilderDiff(existing, diff); err != nil {
			return nil, err
		}
		s.stampBuilder(existing)
		if err := s.entities.SaveBuilder(ctx, existing); err != nil {
			return nil, fmt.Errorf("save builder: %w", err)
		}
		return &applyOutcome{entityID: existing.ID, eventType: interfaces.EventEntityUpdated}, nil
	}

	now := time.Now()
	candidate.ID = common.NewPublicID(common.PrefixBuilder)
	if candidate.Fingerprint == "" {
		candidate.Fingerprint = fingerprint.Builder(candidate.Name, candidate.City, candidate.State)
	}
	candidate.Version = 1
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	if err := s.entities.SaveBuilder(ctx, &candidate); err != nil {
		return nil, fmt.Errorf("save builder: %w", err)
	}
	return &applyOutcome{entityID: candidate.ID, eventType: interfaces.EventEntityCreated}, nil
}

func (s *Service) updateBuilder(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	current, err := s.entities.GetBuilder(ctx, change.EntityID)
	if err != nil {
		return nil, fmt.Errorf("%w: builder %s: %v", models.ErrIntegrity, change.EntityID, err)
	}
	if current.IsDeleted() {
		return nil, fmt.Errorf("%w: builder %s was deleted", models.ErrIntegrity, current.ID)
	}
	if conflicts := models.BuilderConflicts(current, change.Diff); len(conflicts) > 0 {
		return nil, &models.StaleChangeError{ChangeID: change.ID, EntityID: current.ID, ConflictingFields: conflicts}
	}
	if err := models.ApplyBuilderDiff(current, change.Diff); err != nil {
		return nil, err
	}
	s.stampBuilder(current)
	if err := s.entities.SaveBuilder(ctx, current); err != nil {
		return nil, fmt.Errorf("save builder: %w", err)
	}
	return &applyOutcome{entityID: current.ID, eventType: interfaces.EventEntityUpdated}, nil
}

func (s *Service) stampBuilder(b *models.Builder) {
	b.Fingerprint = fingerprint.Builder(b.Name, b.City, b.State)
	b.Version++
	b.UpdatedAt = time.Now()
}

// ---- Property ----

func (s *Service) createProperty(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	var candidate models.Property
	if err := json.Unmarshal(change.Payload, &candidate); err != nil {
		return nil, fmt.Errorf("%w: payload does not decode as a property: %v", models.ErrIntegrity, err)
	}

	if change.Hint.Kind == models.HintExisting && change.Hint.MatchID != "" {
		existing, err := s.entities.GetProperty(ctx, change.Hint.MatchID)
		if err != nil {
			return nil, fmt.Errorf("%w: matched property %s: %v", models.ErrIntegrity, change.Hint.MatchID, err)
		}
		diff := models.DiffProperty(existing, &candidate)
		if existing.CommunityID == "" && candidate.CommunityID != "" {
			diff = append(diff, models.FieldDiff{Field: "community_id", New: candidate.CommunityID})
		}
		if len(diff) == 0 {
			return &applyOutcome{entityID: existing.ID, note: "no-op against existing"}, nil
		}
		change.Diff = diff
		if err := models.ApplyPropertyDiff(existing, diff); err != nil {
			return nil, err
		}
		s.stampProperty(existing)
		if err := s.entities.SaveProperty(ctx, existing); err != nil {
			return nil, fmt.Errorf("save property: %w", err)
		}
		return &applyOutcome{entityID: existing.ID, eventType: interfaces.EventEntityUpdated}, nil
	}

	now := time.Now()
	candidate.ID = common.NewPublicID(common.PrefixProperty)
	if candidate.Fingerprint == "" {
		candidate.Fingerprint = fingerprint.Property(candidate.Address1, candidate.PostalCode)
	}
	if candidate.Status == "" {
		candidate.Status = models.PropertyStatusForSale
	}
	candidate.Version = 1
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	if err := s.entities.SaveProperty(ctx, &candidate); err != nil {
		return nil, fmt.Errorf("save property: %w", err)
	}
	return &applyOutcome{entityID: candidate.ID, eventType: interfaces.EventEntityCreated}, nil
}

func (s *Service) updateProperty(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	current, err := s.entities.GetProperty(ctx, change.EntityID)
	if err != nil {
		return nil, fmt.Errorf("%w: property %s: %v", models.ErrIntegrity, change.EntityID, err)
	}
	if current.IsDeleted() {
		return nil, fmt.Errorf("%w: property %s was deleted", models.ErrIntegrity, current.ID)
	}
	if conflicts := models.PropertyConflicts(current, change.Diff); len(conflicts) > 0 {
		return nil, &models.StaleChangeError{ChangeID: change.ID, EntityID: current.ID, ConflictingFields: conflicts}
	}
	if err := models.ApplyPropertyDiff(current, change.Diff); err != nil {
		return nil, err
	}
	s.stampProperty(current)
	if err := s.entities.SaveProperty(ctx, current); err != nil {
		return nil, fmt.Errorf("save property: %w", err)
	}
	return &applyOutcome{entityID: current.ID, eventType: interfaces.EventEntityUpdated}, nil
}

func (s *Service) stampProperty(p *models.Property) {
	p.Fingerprint = fingerprint.Property(p.Address1, p.PostalCode)
	p.Version++
	p.UpdatedAt = time.Now()
}

// ---- Delete ----

// applyDelete soft-deletes the target. Idempotent: an absent or
// already-deleted entity is a success, the goal state holds.
func (s *Service) applyDelete(ctx context.Context, change *models.Change) (*applyOutcome, error) {
	if change.EntityID == "" {
		return nil, fmt.Errorf("%w: delete change carries no entity ID", models.ErrIntegrity)
	}
	now := time.Now()

	switch change.EntityType {
	case models.EntityTypeCommunity:
		current, err := s.entities.GetCommunity(ctx, change.EntityID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return &applyOutcome{entityID: change.EntityID, note: "already absent"}, nil
			}
			return nil, err
		}
		if current.IsDeleted() {
			return &applyOutcome{entityID: current.ID, note: "already deleted"}, nil
		}
		current.DeletedAt = &now
		current.UpdatedAt = now
		if err := s.entities.SaveCommunity(ctx, current); err != nil {
			return nil, fmt.Errorf("save community: %w", err)
		}
		return &applyOutcome{entityID: current.ID}, nil

	case models.EntityTypeBuilder:
		current, err := s.entities.GetBuilder(ctx, change.EntityID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return &applyOutcome{entityID: change.EntityID, note: "already absent"}, nil
			}
			return nil, err
		}
		if current.IsDeleted() {
			return &applyOutcome{entityID: current.ID, note: "already deleted"}, nil
		}
		current.DeletedAt = &now
		current.UpdatedAt = now
		if err := s.entities.SaveBuilder(ctx, current); err != nil {
			return nil, fmt.Errorf("save builder: %w", err)
		}
		return &applyOutcome{entityID: current.ID}, nil

	case models.EntityTypeProperty:
		current, err := s.entities.GetProperty(ctx, change.EntityID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return &applyOutcome{entityID: change.EntityID, note: "already absent"}, nil
			}
			return nil, err
		}
		if current.IsDeleted() {
			return &applyOutcome{entityID: current.ID, note: "already deleted"}, nil
		}
		current.DeletedAt = &now
		current.UpdatedAt = now
		if err := s.entities.SaveProperty(ctx, current); err != nil {
			return nil, fmt.Errorf("save property: %w", err)
		}
		return &applyOutcome{entityID: current.ID}, nil
	}
	return nil, fmt.Errorf("%w: unknown entity type %q", models.ErrIntegrity, change.EntityType)
}
