package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	entities interfaces.EntityStorage
	changes  interfaces.ChangeStorage
	jobs     interfaces.JobStorage
	history  interfaces.HistoryStorage
	jobLogs  interfaces.JobLogStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		entities: NewEntityStorage(db, logger),
		changes:  NewChangeStorage(db, logger),
		jobs:     NewJobStorage(db, logger),
		history:  NewHistoryStorage(db, logger),
		jobLogs:  NewJobLogStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Entities returns the entity storage interface
func (m *Manager) Entities() interfaces.EntityStorage {
	return m.entities
}

// Changes returns the change ledger storage interface
func (m *Manager) Changes() interfaces.ChangeStorage {
	return m.changes
}

// Jobs returns the job storage interface
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// History returns the status transition storage interface
func (m *Manager) History() interfaces.HistoryStorage {
	return m.history
}

// JobLogs returns the job log storage interface
func (m *Manager) JobLogs() interfaces.JobLogStorage {
	return m.jobLogs
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
