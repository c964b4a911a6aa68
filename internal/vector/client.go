// -----------------------------------------------------------------------
// Vector store client. Talks to a qdrant-style REST API: points carry the
// chunk text plus the anchor payload, and every search is filtered by
// project_id and ingestion_id. Embedding happens server-side; the store
// runs with an attached embedding service, so points and queries are
// submitted as text.
// -----------------------------------------------------------------------

package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/ternarybob/arbor"
)

// Client implements interfaces.VectorStorage over HTTP
type Client struct {
	config *common.VectorConfig
	client *http.Client
	logger arbor.ILogger
}

var _ interfaces.VectorStorage = (*Client)(nil)

// NewClient creates the vector store client
func NewClient(config *common.VectorConfig, logger arbor.ILogger) *Client {
	return &Client{
		config: config,
		client: &http.Client{Timeout: common.ParseDurationOr(config.Timeout, 5*time.Second)},
		logger: logger,
	}
}

func (c *Client) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", strings.TrimRight(c.config.URL, "/"), c.config.Collection, suffix)
}

// RegisterChunks upserts chunks as points. Every chunk's payload must pass
// the anchor contract before anything is sent; a single bad chunk rejects
// the whole batch so ingestion stays atomic per document.
func (c *Client) RegisterChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		if err := chunk.Payload.Validate(models.RigorExploratory); err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		points = append(points, map[string]any{
			"id":   chunk.ID,
			"text": chunk.Text,
			"payload": map[string]any{
				"file_hash":         chunk.Payload.FileHash,
				"ingestion_id":      chunk.Payload.IngestionID,
				"project_id":        chunk.Payload.ProjectID,
				"page_number":       chunk.Payload.PageNumber,
				"chunk_index":       chunk.Payload.ChunkIndex,
				"chunk_text_length": chunk.Payload.ChunkTextLength,
				"bbox":              chunk.Payload.BBox,
				"span":              chunk.Payload.Span,
				"text":              chunk.Text,
			},
		})
	}

	body := map[string]any{"points": points}
	if err := c.do(ctx, http.MethodPut, c.collectionURL("/points"), body, nil); err != nil {
		return fmt.Errorf("register %d chunks: %w", len(chunks), err)
	}

	c.logger.Debug().
		Int("count", len(chunks)).
		Str("collection", c.config.Collection).
		Msg("Registered document chunks")
	return nil
}

// Search runs a filtered semantic query. Refuses to run without both
// project_id and ingestion_id: cross-project retrieval is a correctness
// bug, not a tuning choice.
func (c *Client) Search(ctx context.Context, query string, opts interfaces.VectorSearchOptions) ([]models.DocumentChunk, error) {
	if opts.ProjectID == "" || opts.IngestionID == "" {
		return nil, fmt.Errorf("vector search requires project_id and ingestion_id scoping")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = c.config.TopK
	}

	body := map[string]any{
		"query": query,
		"limit": topK,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "project_id", "match": map[string]string{"value": opts.ProjectID}},
				{"key": "ingestion_id", "match": map[string]string{"value": opts.IngestionID}},
			},
		},
		"with_payload": true,
	}

	var parsed struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/search"), body, &parsed); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chunks := make([]models.DocumentChunk, 0, len(parsed.Result))
	for _, hit := range parsed.Result {
		chunk := models.DocumentChunk{ID: hit.ID, Score: hit.Score}
		if data, err := json.Marshal(hit.Payload); err == nil {
			json.Unmarshal(data, &chunk.Payload)
		}
		if text, ok := hit.Payload["text"].(string); ok {
			chunk.Text = text
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// HealthCheck verifies the collection is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, c.collectionURL(""), nil, nil); err != nil {
		return fmt.Errorf("vector store health: %w", err)
	}
	return nil
}

// do issues one JSON request and decodes the response into out (when non-nil)
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
