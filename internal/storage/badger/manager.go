package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	run          interfaces.RunStorage
	page         interfaces.PageStorage
	link         interfaces.LinkStorage
	relationship interfaces.RelationshipStorage
	source       interfaces.SourceStorage
	change       interfaces.ChangeStorage
	schedule     interfaces.ScheduleStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		run:          NewRunStorage(db, logger),
		page:         NewPageStorage(db, logger),
		link:         NewLinkStorage(db, logger),
		relationship: NewRelationshipStorage(db, logger),
		source:       NewSourceStorage(db, logger),
		change:       NewChangeStorage(db, logger),
		schedule:     NewScheduleStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// RunStorage returns the analysis run storage interface
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.run
}

// PageStorage returns the page record storage interface
func (m *Manager) PageStorage() interfaces.PageStorage {
	return m.page
}

// LinkStorage returns the link record storage interface
func (m *Manager) LinkStorage() interfaces.LinkStorage {
	return m.link
}

// RelationshipStorage returns the topology storage interface
func (m *Manager) RelationshipStorage() interfaces.RelationshipStorage {
	return m.relationship
}

// SourceStorage returns the source body storage interface
func (m *Manager) SourceStorage() interfaces.SourceStorage {
	return m.source
}

// ChangeStorage returns the change detection storage interface
func (m *Manager) ChangeStorage() interfaces.ChangeStorage {
	return m.change
}

// ScheduleStorage returns the schedule storage interface
func (m *Manager) ScheduleStorage() interfaces.ScheduleStorage {
	return m.schedule
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
