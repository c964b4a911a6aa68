package interfaces

import (
	"context"

	"github.com/loomworks/loom/internal/models"
)

// JobListOptions filters job listings
type JobListOptions struct {
	ProjectID string
	Status    string
	Limit     int
	Offset    int
}

// JobStorage persists durable job records (the "jobs" collection)
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	CountJobsByStatus(ctx context.Context, status string) (int, error)
}

// ProjectStorage persists the "projects" collection
type ProjectStorage interface {
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context, includeArchived bool) ([]*models.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// KnowledgeStorage persists canonical and candidate claims plus external
// references (the graph-store collections).
type KnowledgeStorage interface {
	SaveCanonicalClaims(ctx context.Context, claims []models.Claim) error
	SaveCandidateClaims(ctx context.Context, claims []models.Claim) error
	GetCanonicalByEntities(ctx context.Context, projectID string, entities []string) ([]models.Claim, error)
	GetClaimsByProject(ctx context.Context, projectID, ingestionID string) ([]models.Claim, error)
	GetClaim(ctx context.Context, claimID string) (*models.Claim, error)
	GetExternalReference(ctx context.Context, referenceID string) (*models.ExternalReference, error)
	SaveExternalReference(ctx context.Context, ref *models.ExternalReference) error
}

// ExtractionStorage persists extraction documents and manuscript blocks
type ExtractionStorage interface {
	SaveExtraction(ctx context.Context, jobID string, extraction *models.ExtractedJSON) error
	GetExtraction(ctx context.Context, jobID string) (*models.ExtractedJSON, error)
	SaveBlock(ctx context.Context, block *models.ManuscriptBlock) error
	GetBlocksByProject(ctx context.Context, projectID string) ([]*models.ManuscriptBlock, error)
	NextBlockVersion(ctx context.Context, blockID, projectID string) (int, error)
}

// BibliographyStorage persists the "project_bibliography" collection
type BibliographyStorage interface {
	SaveEntry(ctx context.Context, entry *models.BibliographyEntry) error
	HasCitationKey(ctx context.Context, projectID, citationKey string) (bool, error)
	ListKeys(ctx context.Context, projectID string) ([]string, error)
}

// ConflictStorage persists conflict reports and reframing proposals
type ConflictStorage interface {
	SaveReport(ctx context.Context, report *models.ConflictReport) error
	GetReport(ctx context.Context, reportID string) (*models.ConflictReport, error)
	GetReportByJob(ctx context.Context, jobID string) (*models.ConflictReport, error)
	SaveProposal(ctx context.Context, proposal *models.ReframingProposal) error
	GetProposal(ctx context.Context, proposalID string) (*models.ReframingProposal, error)
}

// PageTextStorage is the database tier of the PDF page-text cache
type PageTextStorage interface {
	GetPageText(ctx context.Context, docHash string, page int) (string, bool, error)
	SavePageText(ctx context.Context, docHash string, page int, text string) error
}

// ManifestStorage persists artifact manifests
type ManifestStorage interface {
	SaveManifest(ctx context.Context, manifest *models.ArtifactManifest) error
	GetManifest(ctx context.Context, manifestID string) (*models.ArtifactManifest, error)
	GetManifestByJob(ctx context.Context, jobID string) (*models.ArtifactManifest, error)
}

// CheckpointStorage persists workflow state keyed by thread_id
type CheckpointStorage interface {
	SaveCheckpoint(ctx context.Context, threadID string, state *models.WorkflowState) error
	GetCheckpoint(ctx context.Context, threadID string) (*models.WorkflowState, error)
	DeleteCheckpoint(ctx context.Context, threadID string) error
}

// StorageManager aggregates the document-store collections
type StorageManager interface {
	JobStorage() JobStorage
	ProjectStorage() ProjectStorage
	KnowledgeStorage() KnowledgeStorage
	ExtractionStorage() ExtractionStorage
	BibliographyStorage() BibliographyStorage
	ConflictStorage() ConflictStorage
	PageTextStorage() PageTextStorage
	ManifestStorage() ManifestStorage
	CheckpointStorage() CheckpointStorage
	HealthCheck(ctx context.Context) error
	Close() error
}
