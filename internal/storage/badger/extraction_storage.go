// -----------------------------------------------------------------------
// Extraction storage - normalized extraction payloads keyed by job, and
// versioned manuscript blocks. Block versions are append-only: every save
// writes a new (block_id, version) record and reads return the latest.
// -----------------------------------------------------------------------

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

// extractionRecord keys a normalized extraction by the job that produced it
type extractionRecord struct {
	JobID      string `badgerhold:"key"`
	Extraction models.ExtractedJSON
	SavedAt    time.Time
}

// blockRecord is one immutable version of a manuscript block
type blockRecord struct {
	Key       string `badgerhold:"key"` // block_id|version
	BlockID   string
	ProjectID string
	Version   int
	Block     models.ManuscriptBlock
}

// ExtractionStorage implements the ExtractionStorage interface for Badger
type ExtractionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewExtractionStorage creates a new ExtractionStorage instance
func NewExtractionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ExtractionStorage {
	return &ExtractionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ExtractionStorage) SaveExtraction(ctx context.Context, jobID string, extraction *models.ExtractedJSON) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if extraction == nil {
		return fmt.Errorf("extraction is required")
	}

	record := extractionRecord{
		JobID:      jobID,
		Extraction: *extraction,
		SavedAt:    time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(jobID, &record); err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

func (s *ExtractionStorage) GetExtraction(ctx context.Context, jobID string) (*models.ExtractedJSON, error) {
	var record extractionRecord
	if err := s.db.Store().Get(jobID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("extraction not found for job: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	return &record.Extraction, nil
}

func (s *ExtractionStorage) SaveBlock(ctx context.Context, block *models.ManuscriptBlock) error {
	if block == nil || block.BlockID == "" {
		return fmt.Errorf("block ID is required")
	}
	if block.Version < 1 {
		return fmt.Errorf("block version must be >= 1, got %d", block.Version)
	}

	now := time.Now().UTC()
	block.UpdatedAt = now
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}

	record := blockRecord{
		Key:       fmt.Sprintf("%s|%06d", block.BlockID, block.Version),
		BlockID:   block.BlockID,
		ProjectID: block.ProjectID,
		Version:   block.Version,
		Block:     *block,
	}
	if err := s.db.Store().Upsert(record.Key, &record); err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

// GetBlocksByProject returns the latest version of every block in a
// project, ordered by OrderIndex.
func (s *ExtractionStorage) GetBlocksByProject(ctx context.Context, projectID string) ([]*models.ManuscriptBlock, error) {
	var records []blockRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("ProjectID").Eq(projectID)); err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}

	latest := make(map[string]*blockRecord)
	for i := range records {
		record := &records[i]
		if current, ok := latest[record.BlockID]; !ok || record.Version > current.Version {
			latest[record.BlockID] = record
		}
	}

	blocks := make([]*models.ManuscriptBlock, 0, len(latest))
	for _, record := range latest {
		block := record.Block
		blocks = append(blocks, &block)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].OrderIndex != blocks[j].OrderIndex {
			return blocks[i].OrderIndex < blocks[j].OrderIndex
		}
		return blocks[i].BlockID < blocks[j].BlockID
	})
	return blocks, nil
}

// NextBlockVersion returns 1 + the highest stored version for a block, or 1
// when the block is new.
func (s *ExtractionStorage) NextBlockVersion(ctx context.Context, blockID, projectID string) (int, error) {
	var records []blockRecord
	query := badgerhold.Where("BlockID").Eq(blockID).And("ProjectID").Eq(projectID)
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to query block versions: %w", err)
	}

	max := 0
	for _, record := range records {
		if record.Version > max {
			max = record.Version
		}
	}
	return max + 1, nil
}
