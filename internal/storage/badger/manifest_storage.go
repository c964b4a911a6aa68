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

// ManifestStorage implements the ManifestStorage interface for Badger
type ManifestStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewManifestStorage creates a new ManifestStorage instance
func NewManifestStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ManifestStorage {
	return &ManifestStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ManifestStorage) SaveManifest(ctx context.Context, manifest *models.ArtifactManifest) error {
	if manifest == nil || manifest.ID == "" {
		return fmt.Errorf("manifest ID is required")
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(manifest.ID, manifest); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

func (s *ManifestStorage) GetManifest(ctx context.Context, manifestID string) (*models.ArtifactManifest, error) {
	var manifest models.ArtifactManifest
	if err := s.db.Store().Get(manifestID, &manifest); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("manifest not found: %s", manifestID)
		}
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	return &manifest, nil
}

func (s *ManifestStorage) GetManifestByJob(ctx context.Context, jobID string) (*models.ArtifactManifest, error) {
	var manifests []models.ArtifactManifest
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&manifests, query); err != nil {
		return nil, fmt.Errorf("failed to query manifests: %w", err)
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("no manifest for job: %s", jobID)
	}
	return &manifests[0], nil
}
