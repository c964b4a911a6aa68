package models

// BBox is a page-relative bounding box with coordinates in [0,1000].
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// InRange reports whether every coordinate lies in [0,1000].
func (b BBox) InRange() bool {
	for _, v := range []float64{b.X, b.Y, b.W, b.H} {
		if v < 0 || v > 1000 {
			return false
		}
	}
	return true
}

// Span is a character offset range into the page text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SourceAnchor is the minimal evidence binding locating a claim in the source.
type SourceAnchor struct {
	DocID      string `json:"doc_id"`
	DocHash    string `json:"doc_hash,omitempty"`
	PageNumber int    `json:"page_number"` // 1-based
	BBox       *BBox  `json:"bbox,omitempty"`
	Span       *Span  `json:"span,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// Claim is a subject-predicate-object assertion with an evidence anchor.
type Claim struct {
	ID          string `json:"id" badgerhold:"key"`
	ProjectID   string `json:"project_id"`
	IngestionID string `json:"ingestion_id,omitempty"`

	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	ClaimText  string  `json:"claim_text,omitempty"`
	Relevance  float64 `json:"relevance,omitempty"`

	// Research questions this claim addresses ("RQ1".."RQn")
	RQHits []string `json:"rq_hits,omitempty"`

	SourceAnchor *SourceAnchor `json:"source_anchor,omitempty"`

	IsExpertVerified bool   `json:"is_expert_verified"`
	ExpertNotes      string `json:"expert_notes,omitempty"`
}

// ExtractedJSON holds the normalized cartographer output.
type ExtractedJSON struct {
	Triples []Claim `json:"triples"`
}
