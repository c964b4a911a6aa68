// -----------------------------------------------------------------------
// Saver node - durable persistence of the run's outputs. Citation keys
// pass the bibliography key-guard before anything is written: a single
// unknown key rejects the save. Claims land in the candidate store and
// blocks get the next version number.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
)

type Saver struct {
	deps *Deps
}

func NewSaver(deps *Deps) *Saver {
	return &Saver{deps: deps}
}

func (n *Saver) Name() string { return llm.NodeSaver }

func (n *Saver) Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error) {
	var update models.StateUpdate
	update.Phase = models.PhasePersisting

	storage := n.deps.Storage

	// Key-guard first: every citation in every block must resolve against
	// the project bibliography before anything is persisted.
	if err := n.guardCitationKeys(ctx, state.ProjectID, state.ManuscriptBlocks); err != nil {
		return update, err
	}

	var artifacts []string

	// Candidate claims
	if len(state.ExtractedJSON.Triples) > 0 {
		if err := storage.KnowledgeStorage().SaveCandidateClaims(ctx, state.ExtractedJSON.Triples); err != nil {
			return update, fmt.Errorf("persist candidate claims: %w", err)
		}
		artifacts = append(artifacts, fmt.Sprintf("claims:%d", len(state.ExtractedJSON.Triples)))
	}

	// Normalized extraction document
	if err := storage.ExtractionStorage().SaveExtraction(ctx, state.JobID, &state.ExtractedJSON); err != nil {
		return update, fmt.Errorf("persist extraction: %w", err)
	}
	artifacts = append(artifacts, "extraction:"+state.JobID)

	// Manuscript blocks, versioned. The saved copies flow back into the
	// state so the final record carries the assigned versions.
	saved := make([]models.ManuscriptBlock, 0, len(state.ManuscriptBlocks))
	citations := 0
	for i := range state.ManuscriptBlocks {
		block := state.ManuscriptBlocks[i]
		citations += len(block.CitationKeys)

		version, err := storage.ExtractionStorage().NextBlockVersion(ctx, block.BlockID, state.ProjectID)
		if err != nil {
			return update, fmt.Errorf("version block %s: %w", block.BlockID, err)
		}
		block.Version = version

		if err := storage.ExtractionStorage().SaveBlock(ctx, &block); err != nil {
			return update, fmt.Errorf("persist block %s: %w", block.BlockID, err)
		}
		saved = append(saved, block)
	}
	if len(saved) > 0 {
		artifacts = append(artifacts, fmt.Sprintf("blocks:%d", len(saved)))
		update.ManuscriptBlocks = saved
	}

	// Artifact manifest is best-effort bookkeeping
	manifest := n.buildManifest(&state, citations)
	if err := storage.ManifestStorage().SaveManifest(ctx, manifest); err != nil {
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Artifact manifest persist failed")
	} else {
		artifacts = append(artifacts, "manifest:"+manifest.ID)
	}

	n.deps.Logger.Info().
		Str("job_id", state.JobID).
		Int("blocks", len(saved)).
		Int("claims", len(state.ExtractedJSON.Triples)).
		Msg("Run artifacts persisted")

	update.Artifacts = artifacts
	update.Messages = []string{fmt.Sprintf("saver persisted %d blocks and %d claims", len(saved), len(state.ExtractedJSON.Triples))}
	update.Phase = models.PhaseDone
	return update, nil
}

// guardCitationKeys resolves every citation key in every block against the
// project bibliography. Any unknown key, or a bibliography that cannot be
// consulted, rejects the whole save.
func (n *Saver) guardCitationKeys(ctx context.Context, projectID string, blocks []models.ManuscriptBlock) error {
	var missing []string
	for _, block := range blocks {
		for _, key := range block.CitationKeys {
			has, err := n.deps.Storage.BibliographyStorage().HasCitationKey(ctx, projectID, key)
			if err != nil {
				return fmt.Errorf("verify citation key %s in block %q: %w", key, block.SectionTitle, err)
			}
			if !has {
				missing = append(missing, fmt.Sprintf("%s (block %q)", key, block.SectionTitle))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("manuscript cites unknown bibliography keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (n *Saver) buildManifest(state *models.WorkflowState, citations int) *models.ArtifactManifest {
	words := 0
	for _, block := range state.ManuscriptBlocks {
		words += len(strings.Fields(block.Content))
	}

	return &models.ArtifactManifest{
		ID:            common.NewManifestID(),
		JobID:         state.JobID,
		ProjectID:     state.ProjectID,
		WordCount:     words,
		ClaimCount:    len(state.ExtractedJSON.Triples),
		CitationCount: citations,
		ConflictFlags: len(state.ConflictFlags),
		CreatedAt:     time.Now().UTC(),
	}
}
