package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// logSequence breaks key ordering ties for entries stored within the
// same nanosecond
var logSequence uint64

// JobLogStorage persists captured per-job log entries on the raw Badger
// store. Keys embed a zero-padded timestamp so lexicographic key order
// is chronological order; reads are plain prefix scans with no index or
// post-sort.
//
// Key format: joblog:{jobID}:{020d unixnano}:{seq}
type JobLogStorage struct {
	db     *badger.DB
	logger arbor.ILogger
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:     db.Store().Badger(),
		logger: logger,
	}
}

func (s *JobLogStorage) AppendEntries(ctx context.Context, jobID string, entries []models.JobLogEntry) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	now := time.Now().UnixNano()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal job log entry: %w", err)
			}
			seq := atomic.AddUint64(&logSequence, 1)
			if err := txn.Set(logKey(jobID, now, seq), data); err != nil {
				return fmt.Errorf("failed to append job log: %w", err)
			}
		}
		return nil
	})
}

// GetEntries returns up to limit entries of the job's log tail in
// chronological order. Zero limit returns the full log.
func (s *JobLogStorage) GetEntries(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error) {
	var entries []models.JobLogEntry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := logPrefix(jobID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry models.JobLogEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("failed to decode job log entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *JobLogStorage) CountEntries(ctx context.Context, jobID string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // Key-only scan
		prefix := logPrefix(jobID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count job logs: %w", err)
	}
	return count, nil
}

func logPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("joblog:%s:", jobID))
}

func logKey(jobID string, unixNano int64, seq uint64) []byte {
	// Zero pad both parts so string sorting matches numeric sorting
	return []byte(fmt.Sprintf("joblog:%s:%020d:%020d", jobID, unixNano, seq))
}
