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

// ProjectStorage implements the ProjectStorage interface for Badger
type ProjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProjectStorage creates a new ProjectStorage instance
func NewProjectStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProjectStorage) SaveProject(ctx context.Context, project *models.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project ID is required")
	}
	if err := project.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}

	project.LastUpdated = time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = project.LastUpdated
	}

	if err := s.db.Store().Upsert(project.ID, project); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func (s *ProjectStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	if err := s.db.Store().Get(projectID, &project); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("project not found: %s", projectID)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

func (s *ProjectStorage) ListProjects(ctx context.Context, includeArchived bool) ([]*models.Project, error) {
	query := badgerhold.Where("ID").Ne("")
	if !includeArchived {
		query = query.And("Archived").Eq(false)
	}
	query = query.SortBy("LastUpdated").Reverse()

	var projects []models.Project
	if err := s.db.Store().Find(&projects, query); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	result := make([]*models.Project, len(projects))
	for i := range projects {
		result[i] = &projects[i]
	}
	return result, nil
}

func (s *ProjectStorage) DeleteProject(ctx context.Context, projectID string) error {
	if err := s.db.Store().Delete(projectID, &models.Project{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}
