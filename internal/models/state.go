// -----------------------------------------------------------------------
// Workflow state - record passed between workflow nodes, merged by the
// state reducer. Scalar fields overwrite; designated list fields
// (triples, artifacts, messages, critiques) are append-reduced.
// -----------------------------------------------------------------------

package models

// Phase names the workflow stage a state record is in
type Phase string

const (
	PhaseIngesting    Phase = "INGESTING"
	PhaseMapping      Phase = "MAPPING"
	PhaseVetting      Phase = "VETTING"
	PhaseSynthesizing Phase = "SYNTHESIZING"
	PhasePersisting   Phase = "PERSISTING"
	PhaseDone         Phase = "DONE"
)

// CriticStatus values
const (
	CriticPass       = "pass"
	CriticFail       = "fail"
	CriticRetryLater = "retry_later"
)

// PromptUse records which prompt template a node used.
type PromptUse struct {
	Name        string `json:"name"`
	Tag         string `json:"tag,omitempty"`
	Source      string `json:"source"` // "registry" or "default"
	SHA256      string `json:"sha256"`
	RetrievedAt string `json:"retrieved_at"` // ISO UTC
	CacheHit    bool   `json:"cache_hit"`
}

// WorkflowState is the record passed between nodes. Treated as immutable by
// convention: nodes return a StateUpdate and never mutate the input.
type WorkflowState struct {
	JobID       string `json:"job_id"`
	ThreadID    string `json:"thread_id"` // checkpoint key
	ProjectID   string `json:"project_id"`
	IngestionID string `json:"ingestion_id,omitempty"`

	RawText    string   `json:"raw_text,omitempty"`
	ImagePaths []string `json:"image_paths,omitempty"`
	PDFPath    string   `json:"pdf_path,omitempty"`
	DocHash    string   `json:"doc_hash,omitempty"`

	ProjectContext *ProjectContext `json:"project_context,omitempty"`

	ReferenceIDs        []string `json:"reference_ids,omitempty"`
	ForceRefreshContext bool     `json:"force_refresh_context,omitempty"`

	ExtractedJSON ExtractedJSON `json:"extracted_json"`

	Critiques     []string `json:"critiques,omitempty"`
	RevisionCount int      `json:"revision_count"`
	CriticStatus  string   `json:"critic_status,omitempty"`

	ConflictFlags       []string        `json:"conflict_flags,omitempty"`
	ConflictReport      *ConflictReport `json:"conflict_report,omitempty"`
	ConflictReportID    string          `json:"conflict_report_id,omitempty"`
	ConflictDetected    bool            `json:"conflict_detected"`
	NeedsHumanReview    bool            `json:"needs_human_review"`
	NeedsSignoff        bool            `json:"needs_signoff"`
	SignoffDecision     string          `json:"signoff_decision,omitempty"`
	ReframingProposalID string          `json:"reframing_proposal_id,omitempty"`

	ManuscriptBlocks []ManuscriptBlock `json:"manuscript_blocks,omitempty"`
	Synthesis        string            `json:"synthesis,omitempty"`

	Artifacts []string `json:"artifacts,omitempty"`
	Messages  []string `json:"messages,omitempty"`

	PromptManifest map[string]PromptUse `json:"prompt_manifest,omitempty"`

	Phase Phase  `json:"phase,omitempty"`
	Error string `json:"error,omitempty"`
}

// StateUpdate is the partial update a node returns. Nil pointers and empty
// slices mean "no change" for scalar fields; list fields below are additive.
type StateUpdate struct {
	// Additive list fields (append-reduced)
	Triples   []Claim  `json:"triples,omitempty"`
	Critiques []string `json:"critiques,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Messages  []string `json:"messages,omitempty"`

	// Map field merged by key
	PromptManifest map[string]PromptUse `json:"prompt_manifest,omitempty"`

	// Overwrite fields (latter write wins)
	RawText          *string           `json:"raw_text,omitempty"`
	ProjectContext   *ProjectContext   `json:"project_context,omitempty"`
	ReplaceTriples   *[]Claim          `json:"replace_triples,omitempty"` // full replacement of extracted_json.triples
	RevisionCount    *int              `json:"revision_count,omitempty"`
	CriticStatus     *string           `json:"critic_status,omitempty"`
	ConflictFlags    *[]string         `json:"conflict_flags,omitempty"`
	ConflictReport   *ConflictReport   `json:"conflict_report,omitempty"`
	ConflictReportID *string           `json:"conflict_report_id,omitempty"`
	ConflictDetected *bool             `json:"conflict_detected,omitempty"`
	NeedsHumanReview *bool             `json:"needs_human_review,omitempty"`
	NeedsSignoff     *bool             `json:"needs_signoff,omitempty"`
	ReframingID      *string           `json:"reframing_proposal_id,omitempty"`
	ManuscriptBlocks []ManuscriptBlock `json:"manuscript_blocks,omitempty"`
	Synthesis        *string           `json:"synthesis,omitempty"`
	Phase            Phase             `json:"phase,omitempty"`
	Error            *string           `json:"error,omitempty"`
}

// Apply merges a partial update into a copy of the state and returns it.
// This is the reducer contract: additive lists concatenate, the prompt
// manifest merges by key, everything else overwrites when set.
func (s WorkflowState) Apply(u StateUpdate) WorkflowState {
	next := s

	// Additive lists
	if len(u.Triples) > 0 {
		next.ExtractedJSON.Triples = append(append([]Claim{}, s.ExtractedJSON.Triples...), u.Triples...)
	}
	if len(u.Critiques) > 0 {
		next.Critiques = append(append([]string{}, s.Critiques...), u.Critiques...)
	}
	if len(u.Artifacts) > 0 {
		next.Artifacts = append(append([]string{}, s.Artifacts...), u.Artifacts...)
	}
	if len(u.Messages) > 0 {
		next.Messages = append(append([]string{}, s.Messages...), u.Messages...)
	}

	// Manifest merge
	if len(u.PromptManifest) > 0 {
		merged := make(map[string]PromptUse, len(s.PromptManifest)+len(u.PromptManifest))
		for k, v := range s.PromptManifest {
			merged[k] = v
		}
		for k, v := range u.PromptManifest {
			merged[k] = v
		}
		next.PromptManifest = merged
	}

	// Overwrites
	if u.RawText != nil {
		next.RawText = *u.RawText
	}
	if u.ProjectContext != nil {
		next.ProjectContext = u.ProjectContext
	}
	if u.ReplaceTriples != nil {
		next.ExtractedJSON.Triples = *u.ReplaceTriples
	}
	if u.RevisionCount != nil {
		next.RevisionCount = *u.RevisionCount
	}
	if u.CriticStatus != nil {
		next.CriticStatus = *u.CriticStatus
	}
	if u.ConflictFlags != nil {
		next.ConflictFlags = *u.ConflictFlags
	}
	if u.ConflictReport != nil {
		next.ConflictReport = u.ConflictReport
	}
	if u.ConflictReportID != nil {
		next.ConflictReportID = *u.ConflictReportID
	}
	if u.ConflictDetected != nil {
		next.ConflictDetected = *u.ConflictDetected
	}
	if u.NeedsHumanReview != nil {
		next.NeedsHumanReview = *u.NeedsHumanReview
	}
	if u.NeedsSignoff != nil {
		next.NeedsSignoff = *u.NeedsSignoff
	}
	if u.ReframingID != nil {
		next.ReframingProposalID = *u.ReframingID
	}
	if u.ManuscriptBlocks != nil {
		next.ManuscriptBlocks = u.ManuscriptBlocks
	}
	if u.Synthesis != nil {
		next.Synthesis = *u.Synthesis
	}
	if u.Phase != "" {
		next.Phase = u.Phase
	}
	if u.Error != nil {
		next.Error = *u.Error
	}

	return next
}

// Helper constructors for pointer fields in StateUpdate

func StringPtr(s string) *string      { return &s }
func IntPtr(i int) *int               { return &i }
func BoolPtr(b bool) *bool            { return &b }
func ClaimsPtr(c []Claim) *[]Claim    { return &c }
func StringsPtr(s []string) *[]string { return &s }
