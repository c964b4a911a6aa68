package badger

import (
	"context"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	job          interfaces.JobStorage
	project      interfaces.ProjectStorage
	knowledge    interfaces.KnowledgeStorage
	extraction   interfaces.ExtractionStorage
	bibliography interfaces.BibliographyStorage
	conflict     interfaces.ConflictStorage
	pageText     interfaces.PageTextStorage
	manifest     interfaces.ManifestStorage
	checkpoint   interfaces.CheckpointStorage
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
		job:          NewJobStorage(db, logger),
		project:      NewProjectStorage(db, logger),
		knowledge:    NewKnowledgeStorage(db, logger),
		extraction:   NewExtractionStorage(db, logger),
		bibliography: NewBibliographyStorage(db, logger),
		conflict:     NewConflictStorage(db, logger),
		pageText:     NewPageTextStorage(db, logger),
		manifest:     NewManifestStorage(db, logger),
		checkpoint:   NewCheckpointStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ProjectStorage returns the Project storage interface
func (m *Manager) ProjectStorage() interfaces.ProjectStorage {
	return m.project
}

// KnowledgeStorage returns the Knowledge storage interface
func (m *Manager) KnowledgeStorage() interfaces.KnowledgeStorage {
	return m.knowledge
}

// ExtractionStorage returns the Extraction storage interface
func (m *Manager) ExtractionStorage() interfaces.ExtractionStorage {
	return m.extraction
}

// BibliographyStorage returns the Bibliography storage interface
func (m *Manager) BibliographyStorage() interfaces.BibliographyStorage {
	return m.bibliography
}

// ConflictStorage returns the Conflict storage interface
func (m *Manager) ConflictStorage() interfaces.ConflictStorage {
	return m.conflict
}

// PageTextStorage returns the PageText storage interface
func (m *Manager) PageTextStorage() interfaces.PageTextStorage {
	return m.pageText
}

// ManifestStorage returns the Manifest storage interface
func (m *Manager) ManifestStorage() interfaces.ManifestStorage {
	return m.manifest
}

// CheckpointStorage returns the Checkpoint storage interface
func (m *Manager) CheckpointStorage() interfaces.CheckpointStorage {
	return m.checkpoint
}

// HealthCheck verifies the database answers a trivial query
func (m *Manager) HealthCheck(ctx context.Context) error {
	_, err := m.db.Store().Count(&models.Job{}, badgerhold.Where("ID").Eq("__health__"))
	return err
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
