// -----------------------------------------------------------------------
// Reprocess diff - compares two terminal job results so operators can see
// whether a reprocess run actually improved the extraction.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/models"
)

// DiffDeltas summarizes the change between two job results. Negative deltas
// mean the second job improved on the first.
type DiffDeltas struct {
	ConflictsDelta         int `json:"conflicts_delta"`
	MissingFieldsDelta     int `json:"missing_fields_delta"`
	UnsupportedClaimsDelta int `json:"unsupported_claims_delta"`
	TriplesAdded           int `json:"triples_added"`
	TriplesRemoved         int `json:"triples_removed"`
}

// DiffDetails carries the claim-level evidence behind the deltas
type DiffDetails struct {
	JobID           string   `json:"job_id"`
	AgainstJobID    string   `json:"against_job_id"`
	AddedClaimIDs   []string `json:"added_claim_ids,omitempty"`
	RemovedClaimIDs []string `json:"removed_claim_ids,omitempty"`
	JobTriples      int      `json:"job_triples"`
	AgainstTriples  int      `json:"against_triples"`
}

// JobDiff is the full diff payload
type JobDiff struct {
	Deltas  DiffDeltas  `json:"deltas"`
	Details DiffDetails `json:"details"`
}

// Diff compares job's result against another job's result. Both jobs must
// carry a terminal result.
func (m *Manager) Diff(ctx context.Context, jobID, againstID string) (*JobDiff, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	against, err := m.GetJob(ctx, againstID)
	if err != nil {
		return nil, err
	}
	if job.Result == nil || against.Result == nil {
		return nil, fmt.Errorf("both jobs need a terminal result to diff")
	}

	jobClaims := claimIDSet(job.Result.ExtractedJSON.Triples)
	againstClaims := claimIDSet(against.Result.ExtractedJSON.Triples)

	var added, removed []string
	for id := range jobClaims {
		if !againstClaims[id] {
			added = append(added, id)
		}
	}
	for id := range againstClaims {
		if !jobClaims[id] {
			removed = append(removed, id)
		}
	}

	diff := &JobDiff{
		Deltas: DiffDeltas{
			TriplesAdded:           len(added),
			TriplesRemoved:         len(removed),
			ConflictsDelta:         conflictCount(ctx, m, job) - conflictCount(ctx, m, against),
			MissingFieldsDelta:     missingFieldCount(job.Result) - missingFieldCount(against.Result),
			UnsupportedClaimsDelta: unsupportedCount(ctx, m, job) - unsupportedCount(ctx, m, against),
		},
		Details: DiffDetails{
			JobID:           jobID,
			AgainstJobID:    againstID,
			AddedClaimIDs:   added,
			RemovedClaimIDs: removed,
			JobTriples:      len(job.Result.ExtractedJSON.Triples),
			AgainstTriples:  len(against.Result.ExtractedJSON.Triples),
		},
	}
	return diff, nil
}

func claimIDSet(claims []models.Claim) map[string]bool {
	set := make(map[string]bool, len(claims))
	for _, c := range claims {
		set[c.ID] = true
	}
	return set
}

// conflictCount counts conflict items on the job's report, preferring the
// persisted report over the in-result snapshot.
func conflictCount(ctx context.Context, m *Manager, job *models.Job) int {
	if job.ConflictReportID != "" {
		if report, err := m.storage.ConflictStorage().GetReport(ctx, job.ConflictReportID); err == nil {
			return len(report.Items)
		}
	}
	if job.Result != nil && job.Result.ConflictReport != nil {
		return len(job.Result.ConflictReport.Items)
	}
	return 0
}

// missingFieldCount counts claims that lack a usable source anchor
func missingFieldCount(result *models.WorkflowState) int {
	count := 0
	for _, c := range result.ExtractedJSON.Triples {
		anchor := c.SourceAnchor
		if anchor == nil || (anchor.DocID == "" && anchor.DocHash == "") || anchor.PageNumber < 1 {
			count++
		}
	}
	return count
}

// unsupportedCount counts UNSUPPORTED_CORE_CLAIM findings on the job's report
func unsupportedCount(ctx context.Context, m *Manager, job *models.Job) int {
	var items []models.ConflictItem
	if job.ConflictReportID != "" {
		if report, err := m.storage.ConflictStorage().GetReport(ctx, job.ConflictReportID); err == nil {
			items = report.Items
		}
	}
	if items == nil && job.Result != nil && job.Result.ConflictReport != nil {
		items = job.Result.ConflictReport.Items
	}

	count := 0
	for _, item := range items {
		if item.Type == models.ConflictUnsupportedCore {
			count++
		}
	}
	return count
}
