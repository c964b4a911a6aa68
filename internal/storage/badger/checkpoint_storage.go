package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// checkpointRecord stores workflow state keyed by thread_id. Only the
// latest checkpoint per thread is kept; a resumed run overwrites it after
// every node.
type checkpointRecord struct {
	ThreadID string `badgerhold:"key"`
	State    models.WorkflowState
	SavedAt  time.Time
}

// CheckpointStorage implements the CheckpointStorage interface for Badger
type CheckpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCheckpointStorage creates a new CheckpointStorage instance
func NewCheckpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CheckpointStorage {
	return &CheckpointStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CheckpointStorage) SaveCheckpoint(ctx context.Context, threadID string, state *models.WorkflowState) error {
	if threadID == "" {
		return fmt.Errorf("thread ID is required")
	}
	if state == nil {
		return fmt.Errorf("state is required")
	}

	record := checkpointRecord{
		ThreadID: threadID,
		State:    *state,
		SavedAt:  time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(threadID, &record); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStorage) GetCheckpoint(ctx context.Context, threadID string) (*models.WorkflowState, error) {
	var record checkpointRecord
	if err := s.db.Store().Get(threadID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("checkpoint not found: %s", threadID)
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &record.State, nil
}

func (s *CheckpointStorage) DeleteCheckpoint(ctx context.Context, threadID string) error {
	if err := s.db.Store().Delete(threadID, &checkpointRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
