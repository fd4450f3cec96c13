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

// ChangeStorage implements the ChangeStorage interface for Badger
type ChangeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChangeStorage creates a new ChangeStorage instance
func NewChangeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ChangeStorage {
	return &ChangeStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChangeStorage) SaveChange(ctx context.Context, change *models.Change) error {
	if change.ID == "" {
		return fmt.Errorf("change ID is required")
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}

	s.logger.Trace().
		Str("change_id", change.ID).
		Str("status", string(change.Status)).
		Msg("BadgerDB: Upserting change")

	if err := s.db.Store().Upsert(change.ID, *change); err != nil {
		s.logger.Error().Err(err).Str("change_id", change.ID).Msg("BadgerDB: Failed to upsert change")
		return fmt.Errorf("failed to save change: %w", err)
	}
	return nil
}

func (s *ChangeStorage) GetChange(ctx context.Context, id string) (*models.Change, error) {
	var change models.Change
	if err := s.db.Store().Get(id, &change); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("change %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get change: %w", err)
	}
	return &change, nil
}

func (s *ChangeStorage) ListChanges(ctx context.Context, filter *interfaces.ChangeFilter) ([]*models.Change, error) {
	var changes []models.Change
	if err := s.db.Store().Find(&changes, changeQuery(filter)); err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	result := make([]*models.Change, 0, len(changes))
	for i := range changes {
		if !matchesChangeFilter(filter, &changes[i]) {
			continue
		}
		result = append(result, &changes[i])
	}

	// Newest first so pending review queues surface recent collections
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(result) {
				return nil, nil
			}
			result = result[filter.Offset:]
		}
		if filter.Limit > 0 && len(result) > filter.Limit {
			result = result[:filter.Limit]
		}
	}
	return result, nil
}

func (s *ChangeStorage) CountChanges(ctx context.Context, filter *interfaces.ChangeFilter) (int, error) {
	var changes []models.Change
	if err := s.db.Store().Find(&changes, changeQuery(filter)); err != nil {
		return 0, fmt.Errorf("failed to count changes: %w", err)
	}

	count := 0
	for i := range changes {
		if matchesChangeFilter(filter, &changes[i]) {
			count++
		}
	}
	return count, nil
}

func (s *ChangeStorage) CountByStatus(ctx context.Context) (map[models.ChangeStatus]int, error) {
	var changes []models.Change
	if err := s.db.Store().Find(&changes, nil); err != nil {
		return nil, fmt.Errorf("failed to count changes by status: %w", err)
	}

	counts := make(map[models.ChangeStatus]int)
	for i := range changes {
		counts[changes[i].Status]++
	}
	return counts, nil
}

// OldestPending returns the longest-waiting pending change, or nil when
// the review queue is empty.
func (s *ChangeStorage) OldestPending(ctx context.Context) (*models.Change, error) {
	var changes []models.Change
	query := badgerhold.Where("Status").Eq(models.ChangeStatusPending).Index("Status").
		SortBy("CreatedAt").Limit(1)
	if err := s.db.Store().Find(&changes, query); err != nil {
		return nil, fmt.Errorf("failed to find oldest pending change: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &changes[0], nil
}

// changeQuery narrows the scan by the indexed JobID when set. Remaining
// filters apply in memory.
func changeQuery(filter *interfaces.ChangeFilter) *badgerhold.Query {
	if filter != nil && filter.JobID != "" {
		return badgerhold.Where("JobID").Eq(filter.JobID).Index("JobID")
	}
	return nil
}

func matchesChangeFilter(filter *interfaces.ChangeFilter, change *models.Change) bool {
	if filter == nil {
		return true
	}
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if change.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.EntityType != "" && change.EntityType != filter.EntityType {
		return false
	}
	if filter.EntityID != "" && change.EntityID != filter.EntityID {
		return false
	}
	if !filter.Since.IsZero() && change.CreatedAt.Before(filter.Since) {
		return false
	}
	return true
}
