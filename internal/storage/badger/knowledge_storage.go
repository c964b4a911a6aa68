// -----------------------------------------------------------------------
// Knowledge storage - canonical claims, candidate claims, and external
// references. Canonical and candidate claims live in separate record
// types so promotion is an explicit copy, never an in-place flag flip.
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// canonicalClaim is the stored form of an expert-verified claim. Subject
// and Object are duplicated normalized for entity lookups.
type canonicalClaim struct {
	ID          string `badgerhold:"key"`
	ProjectID   string
	IngestionID string
	Subject     string // normalized
	Object      string // normalized
	Claim       models.Claim
	SavedAt     time.Time
}

// candidateClaim is an extracted, not-yet-verified claim
type candidateClaim struct {
	ID          string `badgerhold:"key"`
	ProjectID   string
	IngestionID string
	Claim       models.Claim
	SavedAt     time.Time
}

// KnowledgeStorage implements the KnowledgeStorage interface for Badger
type KnowledgeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKnowledgeStorage creates a new KnowledgeStorage instance
func NewKnowledgeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KnowledgeStorage {
	return &KnowledgeStorage{
		db:     db,
		logger: logger,
	}
}

func normalizeEntity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func (s *KnowledgeStorage) SaveCanonicalClaims(ctx context.Context, claims []models.Claim) error {
	now := time.Now().UTC()
	for _, claim := range claims {
		if claim.ID == "" {
			return fmt.Errorf("canonical claim missing ID")
		}
		record := canonicalClaim{
			ID:          claim.ID,
			ProjectID:   claim.ProjectID,
			IngestionID: claim.IngestionID,
			Subject:     normalizeEntity(claim.Subject),
			Object:      normalizeEntity(claim.Object),
			Claim:       claim,
			SavedAt:     now,
		}
		if err := s.db.Store().Upsert(record.ID, &record); err != nil {
			return fmt.Errorf("failed to save canonical claim %s: %w", claim.ID, err)
		}
	}
	return nil
}

func (s *KnowledgeStorage) SaveCandidateClaims(ctx context.Context, claims []models.Claim) error {
	now := time.Now().UTC()
	for _, claim := range claims {
		if claim.ID == "" {
			return fmt.Errorf("candidate claim missing ID")
		}
		record := candidateClaim{
			ID:          claim.ID,
			ProjectID:   claim.ProjectID,
			IngestionID: claim.IngestionID,
			Claim:       claim,
			SavedAt:     now,
		}
		if err := s.db.Store().Upsert(record.ID, &record); err != nil {
			return fmt.Errorf("failed to save candidate claim %s: %w", claim.ID, err)
		}
	}
	return nil
}

// GetCanonicalByEntities returns verified claims whose subject or object
// matches any of the given entities, scoped to one project.
func (s *KnowledgeStorage) GetCanonicalByEntities(ctx context.Context, projectID string, entities []string) ([]models.Claim, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		if n := normalizeEntity(e); n != "" {
			wanted[n] = true
		}
	}

	var records []canonicalClaim
	if err := s.db.Store().Find(&records, badgerhold.Where("ProjectID").Eq(projectID)); err != nil {
		return nil, fmt.Errorf("failed to query canonical claims: %w", err)
	}

	var claims []models.Claim
	for _, record := range records {
		if wanted[record.Subject] || wanted[record.Object] {
			claims = append(claims, record.Claim)
		}
	}
	return claims, nil
}

// GetClaimsByProject returns candidate claims for a project, optionally
// narrowed to one ingestion.
func (s *KnowledgeStorage) GetClaimsByProject(ctx context.Context, projectID, ingestionID string) ([]models.Claim, error) {
	query := badgerhold.Where("ProjectID").Eq(projectID)
	if ingestionID != "" {
		query = query.And("IngestionID").Eq(ingestionID)
	}

	var records []candidateClaim
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to query candidate claims: %w", err)
	}

	claims := make([]models.Claim, len(records))
	for i := range records {
		claims[i] = records[i].Claim
	}
	return claims, nil
}

// GetClaim looks a claim up by id, candidates first then canonical
func (s *KnowledgeStorage) GetClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	var candidate candidateClaim
	if err := s.db.Store().Get(claimID, &candidate); err == nil {
		return &candidate.Claim, nil
	} else if err != badgerhold.ErrNotFound {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}

	var canonical canonicalClaim
	if err := s.db.Store().Get(claimID, &canonical); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("claim not found: %s", claimID)
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return &canonical.Claim, nil
}

func (s *KnowledgeStorage) GetExternalReference(ctx context.Context, referenceID string) (*models.ExternalReference, error) {
	var ref models.ExternalReference
	if err := s.db.Store().Get(referenceID, &ref); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("external reference not found: %s", referenceID)
		}
		return nil, fmt.Errorf("failed to get external reference: %w", err)
	}
	return &ref, nil
}

func (s *KnowledgeStorage) SaveExternalReference(ctx context.Context, ref *models.ExternalReference) error {
	if ref == nil || ref.ID == "" {
		return fmt.Errorf("external reference ID is required")
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(ref.ID, ref); err != nil {
		return fmt.Errorf("failed to save external reference: %w", err)
	}
	return nil
}
