package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// BibliographyStorage implements the BibliographyStorage interface for Badger
type BibliographyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBibliographyStorage creates a new BibliographyStorage instance
func NewBibliographyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BibliographyStorage {
	return &BibliographyStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BibliographyStorage) SaveEntry(ctx context.Context, entry *models.BibliographyEntry) error {
	if entry == nil || entry.ProjectID == "" || entry.CitationKey == "" {
		return fmt.Errorf("bibliography entry requires project_id and citation_key")
	}

	entry.ID = fmt.Sprintf("%s|%s", entry.ProjectID, entry.CitationKey)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to save bibliography entry: %w", err)
	}
	return nil
}

func (s *BibliographyStorage) HasCitationKey(ctx context.Context, projectID, citationKey string) (bool, error) {
	var entry models.BibliographyEntry
	err := s.db.Store().Get(fmt.Sprintf("%s|%s", projectID, citationKey), &entry)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check citation key: %w", err)
	}
	return true, nil
}

func (s *BibliographyStorage) ListKeys(ctx context.Context, projectID string) ([]string, error) {
	var entries []models.BibliographyEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("ProjectID").Eq(projectID)); err != nil {
		return nil, fmt.Errorf("failed to list bibliography keys: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.CitationKey)
	}
	sort.Strings(keys)
	return keys, nil
}
