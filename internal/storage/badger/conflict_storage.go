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

// ConflictStorage implements the ConflictStorage interface for Badger.
// Reports and proposals are immutable once stored.
type ConflictStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConflictStorage creates a new ConflictStorage instance
func NewConflictStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ConflictStorage {
	return &ConflictStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ConflictStorage) SaveReport(ctx context.Context, report *models.ConflictReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("conflict report ID is required")
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	// Immutability: a report id is written once
	var existing models.ConflictReport
	if err := s.db.Store().Get(report.ID, &existing); err == nil {
		return fmt.Errorf("conflict report already exists: %s", report.ID)
	} else if err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to check conflict report: %w", err)
	}

	if err := s.db.Store().Insert(report.ID, report); err != nil {
		return fmt.Errorf("failed to save conflict report: %w", err)
	}
	return nil
}

func (s *ConflictStorage) GetReport(ctx context.Context, reportID string) (*models.ConflictReport, error) {
	var report models.ConflictReport
	if err := s.db.Store().Get(reportID, &report); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("conflict report not found: %s", reportID)
		}
		return nil, fmt.Errorf("failed to get conflict report: %w", err)
	}
	return &report, nil
}

func (s *ConflictStorage) GetReportByJob(ctx context.Context, jobID string) (*models.ConflictReport, error) {
	var reports []models.ConflictReport
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&reports, query); err != nil {
		return nil, fmt.Errorf("failed to query conflict reports: %w", err)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no conflict report for job: %s", jobID)
	}
	return &reports[0], nil
}

func (s *ConflictStorage) SaveProposal(ctx context.Context, proposal *models.ReframingProposal) error {
	if proposal == nil || proposal.ID == "" {
		return fmt.Errorf("reframing proposal ID is required")
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Insert(proposal.ID, proposal); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("reframing proposal already exists: %s", proposal.ID)
		}
		return fmt.Errorf("failed to save reframing proposal: %w", err)
	}
	return nil
}

func (s *ConflictStorage) GetProposal(ctx context.Context, proposalID string) (*models.ReframingProposal, error) {
	var proposal models.ReframingProposal
	if err := s.db.Store().Get(proposalID, &proposal); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("reframing proposal not found: %s", proposalID)
		}
		return nil, fmt.Errorf("failed to get reframing proposal: %w", err)
	}
	return &proposal, nil
}
