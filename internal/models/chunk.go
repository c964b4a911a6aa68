package models

import "fmt"

// ChunkAnchorPayload is the hard payload contract for every chunk registered
// in the vector store. Retrieval is always filtered by project_id and
// ingestion_id; unscoped queries are refused.
type ChunkAnchorPayload struct {
	FileHash        string `json:"file_hash"`
	IngestionID     string `json:"ingestion_id"`
	ProjectID       string `json:"project_id"`
	PageNumber      int    `json:"page_number"` // 1-based
	ChunkIndex      int    `json:"chunk_index"`
	ChunkTextLength int    `json:"chunk_text_length"`
	BBox            *BBox  `json:"bbox,omitempty"`
	Span            *Span  `json:"span,omitempty"`
}

// Validate enforces the payload contract. Under conservative rigor the
// payload must carry a bbox or span; otherwise ingestion rejects the chunk.
func (p *ChunkAnchorPayload) Validate(rigor RigorLevel) error {
	if p.FileHash == "" {
		return fmt.Errorf("chunk payload missing file_hash")
	}
	if p.IngestionID == "" {
		return fmt.Errorf("chunk payload missing ingestion_id")
	}
	if p.ProjectID == "" {
		return fmt.Errorf("chunk payload missing project_id")
	}
	if p.PageNumber < 1 {
		return fmt.Errorf("chunk payload page_number must be >= 1, got %d", p.PageNumber)
	}
	if rigor == RigorConservative && p.BBox == nil && p.Span == nil {
		return fmt.Errorf("conservative rigor requires bbox or span on chunk payload")
	}
	return nil
}

// DocumentChunk is one retrievable chunk of an ingested document.
type DocumentChunk struct {
	ID      string             `json:"id"` // deterministic: SHA-256(file_hash|page|chunk_index)
	Text    string             `json:"text"`
	Payload ChunkAnchorPayload `json:"payload"`
	Score   float64            `json:"score,omitempty"` // similarity score on retrieval
}
