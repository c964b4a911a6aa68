// -----------------------------------------------------------------------
// Ingestion service. Turns a source document into anchored chunks in the
// vector store: page text is extracted (or taken raw), split into
// overlapping chunks with character spans, and registered under
// deterministic chunk ids scoped to the owning project and ingestion.
// -----------------------------------------------------------------------

package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/pagecache"
	"github.com/ternarybob/arbor"
)

const (
	defaultChunkSize    = 1200 // characters
	defaultChunkOverlap = 200
)

// Result summarizes one ingestion run
type Result struct {
	IngestionID string `json:"ingestion_id"`
	DocHash     string `json:"doc_hash"`
	Pages       int    `json:"pages"`
	Chunks      int    `json:"chunks"`
}

// Service ingests documents for a project
type Service struct {
	vector       interfaces.VectorStorage
	cache        *pagecache.Cache
	logger       arbor.ILogger
	chunkSize    int
	chunkOverlap int
}

// NewService creates the ingestion service
func NewService(vector interfaces.VectorStorage, cache *pagecache.Cache, logger arbor.ILogger) *Service {
	return &Service{
		vector:       vector,
		cache:        cache,
		logger:       logger,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

// HashFile computes the document hash: lowercase hex SHA-256 of the bytes
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashText computes the document hash for raw text input
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IngestPDF warms the page cache from a PDF and registers every page's
// chunks in the vector store.
func (s *Service) IngestPDF(ctx context.Context, projectID, pdfPath string, rigor models.RigorLevel) (*Result, error) {
	docHash, err := HashFile(pdfPath)
	if err != nil {
		return nil, err
	}
	ingestionID := common.NewIngestionID()

	pages, err := s.cache.WarmFromPDF(ctx, docHash, pdfPath)
	if err != nil {
		return nil, fmt.Errorf("warm page cache: %w", err)
	}
	if pages == 0 {
		return nil, fmt.Errorf("no extractable pages in %s", pdfPath)
	}

	total := 0
	lookup := s.cache.Lookup(ctx)
	for page := 1; page <= pages; page++ {
		text, ok := lookup(docHash, page)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		chunks, err := s.buildChunks(projectID, ingestionID, docHash, page, text, rigor)
		if err != nil {
			return nil, err
		}
		if err := s.vector.RegisterChunks(ctx, chunks); err != nil {
			return nil, err
		}
		total += len(chunks)
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("ingestion_id", ingestionID).
		Str("doc_hash", docHash).
		Int("pages", pages).
		Int("chunks", total).
		Msg("PDF ingested")

	return &Result{IngestionID: ingestionID, DocHash: docHash, Pages: pages, Chunks: total}, nil
}

// IngestText registers raw text as a single-page document. Used when the
// caller submits prose directly instead of a file.
func (s *Service) IngestText(ctx context.Context, projectID, text string, rigor models.RigorLevel) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is empty")
	}

	docHash := HashText(text)
	ingestionID := common.NewIngestionID()

	s.cache.StorePageText(ctx, docHash, 1, text)

	chunks, err := s.buildChunks(projectID, ingestionID, docHash, 1, text, rigor)
	if err != nil {
		return nil, err
	}
	if err := s.vector.RegisterChunks(ctx, chunks); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("ingestion_id", ingestionID).
		Int("chunks", len(chunks)).
		Msg("Raw text ingested")

	return &Result{IngestionID: ingestionID, DocHash: docHash, Pages: 1, Chunks: len(chunks)}, nil
}

// buildChunks splits one page into overlapping chunks with span anchors
func (s *Service) buildChunks(projectID, ingestionID, docHash string, page int, text string, rigor models.RigorLevel) ([]models.DocumentChunk, error) {
	spans := splitSpans(text, s.chunkSize, s.chunkOverlap)

	chunks := make([]models.DocumentChunk, 0, len(spans))
	for i, span := range spans {
		chunkText := text[span.Start:span.End]
		payload := models.ChunkAnchorPayload{
			FileHash:        docHash,
			IngestionID:     ingestionID,
			ProjectID:       projectID,
			PageNumber:      page,
			ChunkIndex:      i,
			ChunkTextLength: len(chunkText),
			Span:            &models.Span{Start: span.Start, End: span.End},
		}
		if err := payload.Validate(rigor); err != nil {
			return nil, fmt.Errorf("page %d chunk %d: %w", page, i, err)
		}
		chunks = append(chunks, models.DocumentChunk{
			ID:      common.ChunkID(docHash, page, i),
			Text:    chunkText,
			Payload: payload,
		})
	}
	return chunks, nil
}

type chunkSpan struct {
	Start int
	End   int
}

// splitSpans produces overlapping character windows, breaking on whitespace
// near the window edge so words stay intact.
func splitSpans(text string, size, overlap int) []chunkSpan {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var spans []chunkSpan
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			spans = append(spans, chunkSpan{Start: start, End: len(text)})
			break
		}

		// Pull the cut back to the last whitespace inside the window
		cut := end
		for cut > start && !isSpace(text[cut-1]) {
			cut--
		}
		if cut == start {
			cut = end // one unbroken token; hard cut
		}

		spans = append(spans, chunkSpan{Start: start, End: cut})

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return spans
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
