package interfaces

import (
	"context"

	"github.com/loomworks/loom/internal/models"
)

// VectorSearchOptions scope a retrieval. ProjectID and IngestionID are
// mandatory; the client refuses unscoped queries.
type VectorSearchOptions struct {
	ProjectID   string
	IngestionID string
	TopK        int
}

// VectorStorage is the semantic search engine seam
type VectorStorage interface {
	RegisterChunks(ctx context.Context, chunks []models.DocumentChunk) error
	Search(ctx context.Context, query string, opts VectorSearchOptions) ([]models.DocumentChunk, error)
	HealthCheck(ctx context.Context) error
}
