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

// HistoryStorage implements the HistoryStorage interface for Badger.
// Transition rows are append-only; rows are never updated or deleted.
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *HistoryStorage) AppendTransition(ctx context.Context, transition *models.StatusTransition) error {
	if transition.JobID == "" {
		return fmt.Errorf("transition job ID is required")
	}
	if transition.At.IsZero() {
		transition.At = time.Now()
	}

	if err := s.db.Store().Insert(badgerhold.NextSequence(), transition); err != nil {
		s.logger.Error().Err(err).Str("job_id", transition.JobID).Msg("BadgerDB: Failed to append status transition")
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (s *HistoryStorage) GetTransitions(ctx context.Context, jobID string) ([]models.StatusTransition, error) {
	var transitions []models.StatusTransition
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if err := s.db.Store().Find(&transitions, query); err != nil {
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}

	// Oldest first so the audit trail reads top-down
	sort.Slice(transitions, func(i, j int) bool {
		if transitions[i].At.Equal(transitions[j].At) {
			return transitions[i].ID < transitions[j].ID
		}
		return transitions[i].At.Before(transitions[j].At)
	})
	return transitions, nil
}
