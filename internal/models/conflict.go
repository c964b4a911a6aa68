// -----------------------------------------------------------------------
// Conflict reports and reframing proposals
// -----------------------------------------------------------------------

package models

import "time"

// ConflictItemType classifies a single conflict finding
type ConflictItemType string

const (
	ConflictStructural      ConflictItemType = "STRUCTURAL_CONFLICT"
	ConflictUnsupportedCore ConflictItemType = "UNSUPPORTED_CORE_CLAIM"
	ConflictMissingEvidence ConflictItemType = "MISSING_EVIDENCE"
	ConflictAmbiguous       ConflictItemType = "AMBIGUOUS"
	ConflictContradiction   ConflictItemType = "CONTRADICTION"
)

// ConflictSeverity orders conflict findings by impact
type ConflictSeverity string

const (
	SeverityInfo    ConflictSeverity = "INFO"
	SeverityMedium  ConflictSeverity = "MEDIUM"
	SeverityHigh    ConflictSeverity = "HIGH"
	SeverityBlocker ConflictSeverity = "BLOCKER"
)

// ConflictProducer names the node that produced a finding
type ConflictProducer string

const (
	ProducerCritic       ConflictProducer = "CRITIC"
	ProducerCartographer ConflictProducer = "CARTOGRAPHER"
)

// NextStep is the recommendation a conflict report carries
type NextStep string

const (
	NextStepReviseAndRetry   NextStep = "REVISE_AND_RETRY"
	NextStepPauseForHuman    NextStep = "PAUSE_FOR_HUMAN"
	NextStepTriggerReframing NextStep = "TRIGGER_REFRAMING"
)

// ConflictItem is one finding inside a conflict report.
type ConflictItem struct {
	ID                  string           `json:"id"`
	Type                ConflictItemType `json:"type"`
	Severity            ConflictSeverity `json:"severity"`
	Summary             string           `json:"summary"`
	Details             string           `json:"details,omitempty"`
	Producer            ConflictProducer `json:"producer"`
	Confidence          float64          `json:"confidence,omitempty"`
	ContradictingClaims []string         `json:"contradicting_claim_ids,omitempty"`
	EvidenceAnchors     []SourceAnchor   `json:"evidence_anchors,omitempty"`
	SuggestedActions    []string         `json:"suggested_actions,omitempty"`
}

// ConflictReport is created by the Critic on fail with conflicts.
// Immutable once stored.
type ConflictReport struct {
	ID            string         `json:"id" badgerhold:"key"`
	ProjectID     string         `json:"project_id"`
	JobID         string         `json:"job_id"`
	DocHash       string         `json:"doc_hash,omitempty"`
	RevisionCount int            `json:"revision_count"`
	CriticStatus  string         `json:"critic_status"`
	Deadlock      bool           `json:"deadlock"`
	DeadlockType  string         `json:"deadlock_type,omitempty"`
	Items         []ConflictItem `json:"conflict_items"`
	ConflictHash  string         `json:"conflict_hash"`
	NextStep      NextStep       `json:"recommended_next_step"`
	CreatedAt     time.Time      `json:"created_at"`
}

// HasBlocker reports whether any item carries BLOCKER severity
func (r *ConflictReport) HasBlocker() bool {
	for _, item := range r.Items {
		if item.Severity == SeverityBlocker {
			return true
		}
	}
	return false
}

// PivotType classifies what a reframing proposal pivots
type PivotType string

const (
	PivotScope       PivotType = "SCOPE"
	PivotMethodology PivotType = "METHODOLOGY"
	PivotThesis      PivotType = "THESIS"
)

// ReframingProposal is produced when a deadlock is declared. Storing one
// transitions the job to NEEDS_SIGNOFF.
type ReframingProposal struct {
	ID                     string         `json:"id" badgerhold:"key"`
	ProjectID              string         `json:"project_id"`
	JobID                  string         `json:"job_id"`
	DocHash                string         `json:"doc_hash,omitempty"`
	ConflictHash           string         `json:"conflict_hash"`
	PivotType              PivotType      `json:"pivot_type"`
	ProposedPivot          string         `json:"proposed_pivot"`
	ArchitecturalRationale string         `json:"architectural_rationale"`
	EvidenceAnchors        []SourceAnchor `json:"evidence_anchors,omitempty"`
	AssumptionsChanged     []string       `json:"assumptions_changed,omitempty"`
	WhatStaysTrue          []string       `json:"what_stays_true,omitempty"`
	RequiresHumanSignoff   bool           `json:"requires_human_signoff"`
	CreatedAt              time.Time      `json:"created_at"`
}
