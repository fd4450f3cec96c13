package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EntityStorage implements the EntityStorage interface for Badger.
// Communities, builders, and properties are stored as separate badgerhold
// types keyed by their public IDs.
type EntityStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEntityStorage creates a new EntityStorage instance
func NewEntityStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EntityStorage {
	return &EntityStorage{
		db:     db,
		logger: logger,
	}
}

// ---- Community operations ----

func (s *EntityStorage) SaveCommunity(ctx context.Context, community *models.Community) error {
	if community.ID == "" {
		return fmt.Errorf("community ID is required")
	}
	now := time.Now()
	if community.CreatedAt.IsZero() {
		community.CreatedAt = now
	}
	community.UpdatedAt = now

	s.logger.Trace().
		Str("community_id", community.ID).
		Str("fingerprint", community.Fingerprint).
		Msg("BadgerDB: Upserting community")

	// Dereference pointer to keep a consistent type prefix with Find operations
	if err := s.db.Store().Upsert(community.ID, *community); err != nil {
		s.logger.Error().Err(err).Str("community_id", community.ID).Msg("BadgerDB: Failed to upsert community")
		return fmt.Errorf("failed to save community: %w", err)
	}
	return nil
}

func (s *EntityStorage) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	var community models.Community
	if err := s.db.Store().Get(id, &community); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("community %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get community: %w", err)
	}
	return &community, nil
}

// FindCommunitiesByFingerprint returns live communities with the given
// fingerprint. Soft-deleted rows are excluded so re-collection after a
// delete produces a fresh entity.
func (s *EntityStorage) FindCommunitiesByFingerprint(ctx context.Context, fingerprint string) ([]*models.Community, error) {
	var matches []models.Community
	if err := s.db.Store().Find(&matches, badgerhold.Where("Fingerprint").Eq(fingerprint).Index("Fingerprint")); err != nil {
		return nil, fmt.Errorf("failed to find communities by fingerprint: %w", err)
	}

	result := make([]*models.Community, 0, len(matches))
	for i := range matches {
		if matches[i].IsDeleted() {
			continue
		}
		result = append(result, &matches[i])
	}
	return result, nil
}

func (s *EntityStorage) ListCommunities(ctx context.Context, filter *interfaces.EntityFilter) ([]*models.Community, error) {
	var communities []models.Community
	if err := s.db.Store().Find(&communities, communityQuery(filter)); err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}

	result := make([]*models.Community, 0, len(communities))
	for i := range communities {
		if !matchesEntityFilter(filter, communities[i].IsDeleted(), string(communities[i].Status)) {
			continue
		}
		result = append(result, &communities[i])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return paginate(result, filter), nil
}

func (s *EntityStorage) CountCommunities(ctx context.Context, filter *interfaces.EntityFilter) (int, error) {
	unpaged := stripPagination(filter)
	communities, err := s.ListCommunities(ctx, unpaged)
	if err != nil {
		return 0, err
	}
	return len(communities), nil
}

// StaleCommunities returns live communities not updated since the given
// cutoff, oldest first. Used by the scheduled refresh sweep.
func (s *EntityStorage) StaleCommunities(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Community, error) {
	var communities []models.Community
	if err := s.db.Store().Find(&communities, badgerhold.Where("UpdatedAt").Lt(updatedBefore)); err != nil {
		return nil, fmt.Errorf("failed to find stale communities: %w", err)
	}

	result := make([]*models.Community, 0, len(communities))
	for i := range communities {
		if communities[i].IsDeleted() {
			continue
		}
		result = append(result, &communities[i])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ---- Builder operations ----

func (s *EntityStorage) SaveBuilder(ctx context.Context, builder *models.Builder) error {
	if builder.ID == "" {
		return fmt.Errorf("builder ID is required")
	}
	now := time.Now()
	if builder.CreatedAt.IsZero() {
		builder.CreatedAt = now
	}
	builder.UpdatedAt = now

	s.logger.Trace().
		Str("builder_id", builder.ID).
		Str("fingerprint", builder.Fingerprint).
		Msg("BadgerDB: Upserting builder")

	if err := s.db.Store().Upsert(builder.ID, *builder); err != nil {
		s.logger.Error().Err(err).Str("builder_id", builder.ID).Msg("BadgerDB: Failed to upsert builder")
		return fmt.Errorf("failed to save builder: %w", err)
	}
	return nil
}

func (s *EntityStorage) GetBuilder(ctx context.Context, id string) (*models.Builder, error) {
	var builder models.Builder
	if err := s.db.Store().Get(id, &builder); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("builder %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get builder: %w", err)
	}
	return &builder, nil
}

func (s *EntityStorage) FindBuildersByFingerprint(ctx context.Context, fingerprint string) ([]*models.Builder, error) {
	var matches []models.Builder
	if err := s.db.Store().Find(&matches, badgerhold.Where("Fingerprint").Eq(fingerprint).Index("Fingerprint")); err != nil {
		return nil, fmt.Errorf("failed to find builders by fingerprint: %w", err)
	}

	result := make([]*models.Builder, 0, len(matches))
	for i := range matches {
		if matches[i].IsDeleted() {
			continue
		}
		result = append(result, &matches[i])
	}
	return result, nil
}

func (s *EntityStorage) ListBuilders(ctx context.Context, filter *interfaces.EntityFilter) ([]*models.Builder, error) {
	var builders []models.Builder
	if err := s.db.Store().Find(&builders, nil); err != nil {
		return nil, fmt.Errorf("failed to list builders: %w", err)
	}

	result := make([]*models.Builder, 0, len(builders))
	for i := range builders {
		if !matchesEntityFilter(filter, builders[i].IsDeleted(), "") {
			continue
		}
		result = append(result, &builders[i])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return paginate(result, filter), nil
}

func (s *EntityStorage) CountBuilders(ctx context.Context, filter *interfaces.EntityFilter) (int, error) {
	builders, err := s.ListBuilders(ctx, stripPagination(filter))
	if err != nil {
		return 0, err
	}
	return len(builders), nil
}

// ---- Property operations ----

func (s *EntityStorage) SaveProperty(ctx context.Context, property *models.Property) error {
	if property.ID == "" {
		return fmt.Errorf("property ID is required")
	}
	now := time.Now()
	if property.CreatedAt.IsZero() {
		property.CreatedAt = now
	}
	property.UpdatedAt = now

	s.logger.Trace().
		Str("property_id", property.ID).
		Str("community_id", property.CommunityID).
		Msg("BadgerDB: Upserting property")

	if err := s.db.Store().Upsert(property.ID, *property); err != nil {
		s.logger.Error().Err(err).Str("property_id", property.ID).Msg("BadgerDB: Failed to upsert property")
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

func (s *EntityStorage) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	var property models.Property
	if err := s.db.Store().Get(id, &property); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("property %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &property, nil
}

func (s *EntityStorage) FindPropertiesByFingerprint(ctx context.Context, fingerprint string) ([]*models.Property, error) {
	var matches []models.Property
	if err := s.db.Store().Find(&matches, badgerhold.Where("Fingerprint").Eq(fingerprint).Index("Fingerprint")); err != nil {
		return nil, fmt.Errorf("failed to find properties by fingerprint: %w", err)
	}

	result := make([]*models.Property, 0, len(matches))
	for i := range matches {
		if matches[i].IsDeleted() {
			continue
		}
		result = append(result, &matches[i])
	}
	return result, nil
}

func (s *EntityStorage) ListPropertiesByCommunity(ctx context.Context, communityID string) ([]*models.Property, error) {
	var properties []models.Property
	if err := s.db.Store().Find(&properties, badgerhold.Where("CommunityID").Eq(communityID).Index("CommunityID")); err != nil {
		return nil, fmt.Errorf("failed to list properties by community: %w", err)
	}

	result := make([]*models.Property, 0, len(properties))
	for i := range properties {
		if properties[i].IsDeleted() {
			continue
		}
		result = append(result, &properties[i])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address1 < result[j].Address1 })
	return result, nil
}

func (s *EntityStorage) CountProperties(ctx context.Context, filter *interfaces.EntityFilter) (int, error) {
	var properties []models.Property
	if err := s.db.Store().Find(&properties, nil); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}

	count := 0
	for i := range properties {
		if !matchesEntityFilter(filter, properties[i].IsDeleted(), string(properties[i].Status)) {
			continue
		}
		count++
	}
	return count, nil
}

// StaleProperties returns live properties not updated since the given
// cutoff, oldest first. Used by the scheduled refresh sweep.
func (s *EntityStorage) StaleProperties(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Property, error) {
	var properties []models.Property
	if err := s.db.Store().Find(&properties, badgerhold.Where("UpdatedAt").Lt(updatedBefore)); err != nil {
		return nil, fmt.Errorf("failed to find stale properties: %w", err)
	}

	result := make([]*models.Property, 0, len(properties))
	for i := range properties {
		if properties[i].IsDeleted() {
			continue
		}
		result = append(result, &properties[i])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ---- Filter helpers ----

// communityQuery narrows the badgerhold scan by market when set. Status
// and soft-delete filtering happen in memory because badgerhold pointer
// queries on nullable fields are unreliable.
func communityQuery(filter *interfaces.EntityFilter) *badgerhold.Query {
	if filter != nil && filter.Market != "" {
		return badgerhold.Where("Market").Eq(filter.Market).Index("Market")
	}
	return nil
}

func matchesEntityFilter(filter *interfaces.EntityFilter, deleted bool, status string) bool {
	if filter == nil {
		return !deleted
	}
	if deleted && !filter.IncludeDeleted {
		return false
	}
	if filter.Status != "" && filter.Status != status {
		return false
	}
	return true
}

func stripPagination(filter *interfaces.EntityFilter) *interfaces.EntityFilter {
	if filter == nil {
		return nil
	}
	copied := *filter
	copied.Limit = 0
	copied.Offset = 0
	return &copied
}

func paginate[T any](items []T, filter *interfaces.EntityFilter) []T {
	if filter == nil {
		return items
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return nil
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items
}
