package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/pagecache"
)

// memVector records registered chunks
type memVector struct {
	mu     sync.Mutex
	chunks []models.DocumentChunk
}

func (v *memVector) RegisterChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks = append(v.chunks, chunks...)
	return nil
}

func (v *memVector) Search(ctx context.Context, query string, opts interfaces.VectorSearchOptions) ([]models.DocumentChunk, error) {
	return nil, nil
}

func (v *memVector) HealthCheck(ctx context.Context) error { return nil }

// memPageStore is a minimal PageTextStorage
type memPageStore struct {
	mu    sync.Mutex
	pages map[string]string
}

func (s *memPageStore) GetPageText(ctx context.Context, docHash string, page int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.pages[fmt.Sprintf("%s|%d", docHash, page)]
	return text, ok, nil
}

func (s *memPageStore) SavePageText(ctx context.Context, docHash string, page int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[fmt.Sprintf("%s|%d", docHash, page)] = text
	return nil
}

func newTestService(t *testing.T) (*Service, *memVector) {
	t.Helper()
	store := &memPageStore{pages: make(map[string]string)}
	cache, err := pagecache.NewCache(t.TempDir(), store, nil, common.GetLogger())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	vector := &memVector{}
	return NewService(vector, cache, common.GetLogger()), vector
}

func TestIngestText(t *testing.T) {
	service, vector := newTestService(t)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	result, err := service.IngestText(context.Background(), "proj_1", text, models.RigorExploratory)
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}

	if result.DocHash != HashText(text) {
		t.Error("doc hash not deterministic")
	}
	if !strings.HasPrefix(result.IngestionID, "ing_") {
		t.Errorf("ingestion id = %q, want ing_ prefix", result.IngestionID)
	}
	if result.Chunks < 2 {
		t.Fatalf("chunks = %d, want multiple for long text", result.Chunks)
	}
	if len(vector.chunks) != result.Chunks {
		t.Errorf("registered %d chunks, result says %d", len(vector.chunks), result.Chunks)
	}

	for i, chunk := range vector.chunks {
		if chunk.ID != common.ChunkID(result.DocHash, 1, i) {
			t.Errorf("chunk %d id not deterministic", i)
		}
		p := chunk.Payload
		if p.ProjectID != "proj_1" || p.IngestionID != result.IngestionID {
			t.Errorf("chunk %d payload not scoped: %+v", i, p)
		}
		if p.Span == nil || p.Span.End <= p.Span.Start {
			t.Errorf("chunk %d has no valid span", i)
		}
		if text[p.Span.Start:p.Span.End] != chunk.Text {
			t.Errorf("chunk %d span does not address its text", i)
		}
	}
}

func TestIngestText_Empty(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.IngestText(context.Background(), "proj_1", "   ", models.RigorExploratory); err == nil {
		t.Error("empty text should fail")
	}
}

func TestIngestText_DeterministicAcrossRuns(t *testing.T) {
	service, vector := newTestService(t)
	text := strings.Repeat("Evidence anchors survive reprocessing. ", 80)

	first, err := service.IngestText(context.Background(), "proj_1", text, models.RigorConservative)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	firstIDs := make([]string, len(vector.chunks))
	for i, c := range vector.chunks {
		firstIDs[i] = c.ID
	}
	vector.chunks = nil

	second, err := service.IngestText(context.Background(), "proj_1", text, models.RigorConservative)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if first.DocHash != second.DocHash {
		t.Error("doc hash changed across runs")
	}
	if first.IngestionID == second.IngestionID {
		t.Error("ingestion ids must differ per run")
	}
	for i, c := range vector.chunks {
		if c.ID != firstIDs[i] {
			t.Errorf("chunk %d id changed across runs", i)
		}
	}
}

func TestSplitSpans(t *testing.T) {
	text := strings.Repeat("word ", 500) // 2500 chars

	spans := splitSpans(text, 1000, 200)
	if len(spans) < 2 {
		t.Fatalf("got %d spans, want multiple", len(spans))
	}

	for i, span := range spans {
		if span.End <= span.Start {
			t.Errorf("span %d is empty: %+v", i, span)
		}
		if i > 0 && spans[i].Start >= spans[i-1].End {
			t.Errorf("span %d does not overlap its predecessor", i)
		}
	}
	if spans[len(spans)-1].End != len(text) {
		t.Error("last span does not reach end of text")
	}

	// Word-boundary cuts: no span should end mid-word
	for i, span := range spans[:len(spans)-1] {
		if text[span.End-1] != ' ' {
			t.Errorf("span %d cuts mid-word at %d", i, span.End)
		}
	}
}

func TestSplitSpans_ShortText(t *testing.T) {
	spans := splitSpans("short", 1000, 200)
	if len(spans) != 1 || spans[0].Start != 0 || spans[0].End != 5 {
		t.Errorf("spans = %+v, want single full span", spans)
	}
}
