// -----------------------------------------------------------------------
// Vision node - claim extraction from figures and tables. Selected images
// go to the vision expert; the structured response is rendered into a
// deterministic "Vision Extracts" block appended to the raw text so later
// nodes see figure content as ordinary source material.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/prompts"
)

// Images above this size are assumed to carry figure content even without
// a telling filename.
const preferredImageBytes = 500 * 1024

// Vision extracts claims from document images. Its triples are appended to
// the cartographer's, never replacing them. The node is best-effort: a
// vision failure degrades the run to text-only instead of failing the job.
type Vision struct {
	deps *Deps
}

func NewVision(deps *Deps) *Vision {
	return &Vision{deps: deps}
}

func (n *Vision) Name() string { return llm.NodeVision }

// visionFigure is one figure or table in the expert's structured response
type visionFigure struct {
	Label   string `json:"label"`
	Caption string `json:"caption"`
	Facts   []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Unit       string  `json:"unit"`
		Confidence float64 `json:"confidence"`
	} `json:"facts"`
	TableRows []string `json:"table_rows"`
}

func (n *Vision) Run(ctx context.Context, state models.WorkflowState) (models.StateUpdate, error) {
	var update models.StateUpdate
	if len(state.ImagePaths) == 0 {
		return update, nil
	}

	paths := selectImages(state.ImagePaths, n.deps.MaxImages)

	attached := 0
	var imageBlock string
	var copied []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			n.deps.Logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable image")
			continue
		}
		imageBlock += fmt.Sprintf("\n[image name=%q encoding=base64]\n%s\n", filepath.Base(path), base64.StdEncoding.EncodeToString(data))
		attached++

		if artifact, err := n.copyArtifact(path, state.ProjectID); err != nil {
			n.deps.Logger.Warn().Err(err).Str("path", path).Msg("Artifact copy failed")
		} else if artifact != "" {
			copied = append(copied, artifact)
		}
	}
	if attached == 0 {
		update.Messages = []string{"vision skipped: no readable images"}
		return update, nil
	}
	update.Artifacts = copied

	template, use := n.deps.Prompts.GetActivePromptWithMeta(ctx, prompts.NameVision, prompts.DefaultVisionPrompt, "")
	prompt := WrapPrompt(template, &PromptContext{Project: state.ProjectContext})

	messages := []interfaces.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Extract figures, tables and claims from the attached images." + imageBlock},
	}

	content, meta, err := n.deps.Gateway.Chat(ctx, n.Name(), messages, interfaces.ChatOptions{JSONResponse: true})
	if err != nil {
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Vision extraction failed, continuing text-only")
		update.Messages = []string{"vision failed: " + err.Error()}
		return update, nil
	}

	figures := parseVisionFigures(content)
	if block := renderVisionExtracts(figures); block != "" {
		update.RawText = models.StringPtr(state.RawText + block)
	}

	triples, err := ParseExtraction(content, state.ProjectID, state.IngestionID, state.DocHash)
	if err != nil {
		n.deps.Logger.Warn().Err(err).Str("job_id", state.JobID).Msg("Vision triples unusable, keeping extracts only")
		update.Messages = []string{fmt.Sprintf("vision rendered %d figures, triples unusable: %s", len(figures), err.Error())}
		return update, nil
	}

	n.deps.Logger.Info().
		Str("job_id", state.JobID).
		Int("triples", len(triples)).
		Int("figures", len(figures)).
		Int("images", attached).
		Str("expert", meta.ExpertName).
		Msg("Vision extraction complete")

	update.Triples = triples
	update.PromptManifest = map[string]models.PromptUse{prompts.NameVision: use}
	update.Messages = []string{fmt.Sprintf("vision extracted %d triples and %d figures from %d images", len(triples), len(figures), attached)}
	return update, nil
}

// selectImages picks up to limit images, preferring files whose basename
// suggests a figure or table, or whose size exceeds the preference
// threshold. Preference preserves the original order within each class.
func selectImages(paths []string, limit int) []string {
	if limit <= 0 {
		limit = len(paths)
	}

	type ranked struct {
		path      string
		preferred bool
		index     int
	}
	rankedPaths := make([]ranked, 0, len(paths))
	for i, path := range paths {
		rankedPaths = append(rankedPaths, ranked{path: path, preferred: preferImage(path), index: i})
	}
	sort.SliceStable(rankedPaths, func(a, b int) bool {
		if rankedPaths[a].preferred != rankedPaths[b].preferred {
			return rankedPaths[a].preferred
		}
		return rankedPaths[a].index < rankedPaths[b].index
	})

	if len(rankedPaths) > limit {
		rankedPaths = rankedPaths[:limit]
	}
	selected := make([]string, 0, len(rankedPaths))
	for _, r := range rankedPaths {
		selected = append(selected, r.path)
	}
	return selected
}

func preferImage(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, marker := range []string{"fig", "table", "chart", "diagram"} {
		if strings.Contains(base, marker) {
			return true
		}
	}
	if info, err := os.Stat(path); err == nil && info.Size() > preferredImageBytes {
		return true
	}
	return false
}

// copyArtifact stores a copy of the image under the per-project artifacts
// directory keyed by a fresh UUID. Returns "" when copies are disabled.
func (n *Vision) copyArtifact(path, projectID string) (string, error) {
	if n.deps.ArtifactsDir == "" {
		return "", nil
	}

	dir := filepath.Join(n.deps.ArtifactsDir, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dest := filepath.Join(dir, uuid.New().String()+filepath.Ext(path))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// parseVisionFigures decodes the figures list from the expert response.
// A response without figures is not an error; triples may still be usable.
func parseVisionFigures(content string) []visionFigure {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil
	}
	var parsed struct {
		Figures []visionFigure `json:"figures"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	return parsed.Figures
}

// renderVisionExtracts composes the deterministic block appended to the
// raw text. Same figures in, same bytes out.
func renderVisionExtracts(figures []visionFigure) string {
	if len(figures) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n## Vision Extracts\n")
	for _, fig := range figures {
		label := fig.Label
		if label == "" {
			label = "Figure"
		}
		b.WriteString("\n### ")
		b.WriteString(label)
		if fig.Caption != "" {
			b.WriteString(": ")
			b.WriteString(fig.Caption)
		}
		b.WriteString("\n")
		for _, fact := range fig.Facts {
			b.WriteString(fmt.Sprintf("- %s %s %s (confidence=%.2f)\n", fact.Key, fact.Value, fact.Unit, fact.Confidence))
		}
		for _, row := range fig.TableRows {
			b.WriteString("| ")
			b.WriteString(row)
			b.WriteString("\n")
		}
	}
	return b.String()
}
