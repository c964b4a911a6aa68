package models

import "time"

// ManuscriptBlock is one synthesized section of the manuscript, bound to the
// claims that support it.
type ManuscriptBlock struct {
	BlockID      string `json:"block_id" badgerhold:"key"`
	ProjectID    string `json:"project_id"`
	SectionTitle string `json:"section_title"`
	Content      string `json:"content"`
	OrderIndex   int    `json:"order_index"`
	Version      int    `json:"version"` // monotonic per block_id+project_id

	// Explicit bindings; inline [[claim_id]] references in Content also count.
	ClaimIDs     []string `json:"claim_ids,omitempty"`
	CitationKeys []string `json:"citation_keys,omitempty"`

	IsExpertVerified bool   `json:"is_expert_verified"`
	ExpertNotes      string `json:"expert_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BibliographyEntry is one entry in a project's bibliography collection.
type BibliographyEntry struct {
	ID          string    `json:"id" badgerhold:"key"` // project_id|citation_key
	ProjectID   string    `json:"project_id"`
	CitationKey string    `json:"citation_key"`
	Title       string    `json:"title,omitempty"`
	Authors     string    `json:"authors,omitempty"`
	Year        int       `json:"year,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArtifactManifest summarizes the artifacts persisted for a job.
type ArtifactManifest struct {
	ID            string    `json:"id" badgerhold:"key"`
	JobID         string    `json:"job_id"`
	ProjectID     string    `json:"project_id"`
	WordCount     int       `json:"word_count"`
	ClaimCount    int       `json:"claim_count"`
	CitationCount int       `json:"citation_count"`
	TableCount    int       `json:"table_count"`
	FigureCount   int       `json:"figure_count"`
	ConflictFlags int       `json:"conflict_flags"`
	WarningCount  int       `json:"warning_count"`
	CreatedAt     time.Time `json:"created_at"`
}
