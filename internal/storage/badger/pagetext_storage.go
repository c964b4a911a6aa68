package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// pageTextRecord is the database tier of the page-text cache
type pageTextRecord struct {
	Key     string `badgerhold:"key"` // doc_hash|page
	DocHash string
	Page    int
	Text    string
	SavedAt time.Time
}

// PageTextStorage implements the PageTextStorage interface for Badger
type PageTextStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageTextStorage creates a new PageTextStorage instance
func NewPageTextStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageTextStorage {
	return &PageTextStorage{
		db:     db,
		logger: logger,
	}
}

func pageTextKey(docHash string, page int) string {
	return fmt.Sprintf("%s|%d", docHash, page)
}

func (s *PageTextStorage) GetPageText(ctx context.Context, docHash string, page int) (string, bool, error) {
	var record pageTextRecord
	if err := s.db.Store().Get(pageTextKey(docHash, page), &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get page text: %w", err)
	}
	return record.Text, true, nil
}

func (s *PageTextStorage) SavePageText(ctx context.Context, docHash string, page int, text string) error {
	if docHash == "" || page < 1 {
		return fmt.Errorf("page text requires doc_hash and a 1-based page")
	}

	record := pageTextRecord{
		Key:     pageTextKey(docHash, page),
		DocHash: docHash,
		Page:    page,
		Text:    text,
		SavedAt: time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(record.Key, &record); err != nil {
		return fmt.Errorf("failed to save page text: %w", err)
	}
	return nil
}
