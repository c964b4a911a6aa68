package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/validation"
	"github.com/ternarybob/arbor"
)

// ---------------------------------------------------------------------
// In-memory storage manager backing the node and engine tests
// ---------------------------------------------------------------------

type memStorage struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	projects    map[string]*models.Project
	candidates  map[string]models.Claim
	canonical   map[string]models.Claim
	references  map[string]*models.ExternalReference
	extractions map[string]*models.ExtractedJSON
	blocks      map[string][]*models.ManuscriptBlock // keyed by block id, versions appended
	biblio      map[string]bool                      // "project|key"
	reports     map[string]*models.ConflictReport
	proposals   map[string]*models.ReframingProposal
	pages       map[string]string
	manifests   map[string]*models.ArtifactManifest
	checkpoints map[string]*models.WorkflowState
}

func newMemStorage() *memStorage {
	return &memStorage{
		jobs:        make(map[string]*models.Job),
		projects:    make(map[string]*models.Project),
		candidates:  make(map[string]models.Claim),
		canonical:   make(map[string]models.Claim),
		references:  make(map[string]*models.ExternalReference),
		extractions: make(map[string]*models.ExtractedJSON),
		blocks:      make(map[string][]*models.ManuscriptBlock),
		biblio:      make(map[string]bool),
		reports:     make(map[string]*models.ConflictReport),
		proposals:   make(map[string]*models.ReframingProposal),
		pages:       make(map[string]string),
		manifests:   make(map[string]*models.ArtifactManifest),
		checkpoints: make(map[string]*models.WorkflowState),
	}
}

func (m *memStorage) JobStorage() interfaces.JobStorage                   { return m }
func (m *memStorage) ProjectStorage() interfaces.ProjectStorage           { return m }
func (m *memStorage) KnowledgeStorage() interfaces.KnowledgeStorage       { return m }
func (m *memStorage) ExtractionStorage() interfaces.ExtractionStorage     { return m }
func (m *memStorage) BibliographyStorage() interfaces.BibliographyStorage { return m }
func (m *memStorage) ConflictStorage() interfaces.ConflictStorage         { return m }
func (m *memStorage) PageTextStorage() interfaces.PageTextStorage         { return m }
func (m *memStorage) ManifestStorage() interfaces.ManifestStorage         { return m }
func (m *memStorage) CheckpointStorage() interfaces.CheckpointStorage     { return m }
func (m *memStorage) HealthCheck(ctx context.Context) error               { return nil }
func (m *memStorage) Close() error                                        { return nil }

func (m *memStorage) SaveJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

func (m *memStorage) FindByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		return nil, nil
	}
	for _, job := range m.jobs {
		if job.IdempotencyKey == key {
			return job, nil
		}
	}
	return nil, nil
}

func (m *memStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if opts != nil && opts.ProjectID != "" && job.ProjectID != opts.ProjectID {
			continue
		}
		if opts != nil && opts.Status != "" && string(job.Status) != opts.Status {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (m *memStorage) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memStorage) CountJobsByStatus(ctx context.Context, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, job := range m.jobs {
		if string(job.Status) == status {
			count++
		}
	}
	return count, nil
}

func (m *memStorage) SaveProject(ctx context.Context, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[project.ID] = project
	return nil
}

func (m *memStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project not found: %s", projectID)
	}
	return p, nil
}

func (m *memStorage) ListProjects(ctx context.Context, includeArchived bool) ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Project
	for _, p := range m.projects {
		if p.Archived && !includeArchived {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStorage) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	return nil
}

func (m *memStorage) SaveCanonicalClaims(ctx context.Context, claims []models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range claims {
		m.canonical[c.ID] = c
	}
	return nil
}

func (m *memStorage) SaveCandidateClaims(ctx context.Context, claims []models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range claims {
		m.candidates[c.ID] = c
	}
	return nil
}

func (m *memStorage) GetCanonicalByEntities(ctx context.Context, projectID string, entities []string) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		wanted[e] = true
	}
	var out []models.Claim
	for _, c := range m.canonical {
		if c.ProjectID != projectID {
			continue
		}
		if wanted[c.Subject] || wanted[c.Object] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStorage) GetClaimsByProject(ctx context.Context, projectID, ingestionID string) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Claim
	for _, c := range m.candidates {
		if c.ProjectID != projectID {
			continue
		}
		if ingestionID != "" && c.IngestionID != ingestionID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStorage) GetClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.candidates[claimID]; ok {
		return &c, nil
	}
	if c, ok := m.canonical[claimID]; ok {
		return &c, nil
	}
	return nil, fmt.Errorf("claim not found: %s", claimID)
}

func (m *memStorage) GetExternalReference(ctx context.Context, referenceID string) (*models.ExternalReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.references[referenceID]
	if !ok {
		return nil, fmt.Errorf("external reference not found: %s", referenceID)
	}
	return ref, nil
}

func (m *memStorage) SaveExternalReference(ctx context.Context, ref *models.ExternalReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references[ref.ID] = ref
	return nil
}

func (m *memStorage) SaveExtraction(ctx context.Context, jobID string, extraction *models.ExtractedJSON) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[jobID] = extraction
	return nil
}

func (m *memStorage) GetExtraction(ctx context.Context, jobID string) (*models.ExtractedJSON, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.extractions[jobID]
	if !ok {
		return nil, fmt.Errorf("extraction not found: %s", jobID)
	}
	return e, nil
}

func (m *memStorage) SaveBlock(ctx context.Context, block *models.ManuscriptBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *block
	m.blocks[block.BlockID] = append(m.blocks[block.BlockID], &copied)
	return nil
}

func (m *memStorage) GetBlocksByProject(ctx context.Context, projectID string) ([]*models.ManuscriptBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ManuscriptBlock
	for _, versions := range m.blocks {
		latest := versions[len(versions)-1]
		if latest.ProjectID == projectID {
			out = append(out, latest)
		}
	}
	return out, nil
}

func (m *memStorage) NextBlockVersion(ctx context.Context, blockID, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks[blockID]) + 1, nil
}

func (m *memStorage) SaveEntry(ctx context.Context, entry *models.BibliographyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.biblio[entry.ProjectID+"|"+entry.CitationKey] = true
	return nil
}

func (m *memStorage) HasCitationKey(ctx context.Context, projectID, citationKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.biblio[projectID+"|"+citationKey], nil
}

func (m *memStorage) ListKeys(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}

func (m *memStorage) SaveReport(ctx context.Context, report *models.ConflictReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[report.ID]; exists {
		return fmt.Errorf("conflict report %s already exists", report.ID)
	}
	m.reports[report.ID] = report
	return nil
}

func (m *memStorage) GetReport(ctx context.Context, reportID string) (*models.ConflictReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok {
		return nil, fmt.Errorf("conflict report not found: %s", reportID)
	}
	return r, nil
}

func (m *memStorage) GetReportByJob(ctx context.Context, jobID string) (*models.ConflictReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *models.ConflictReport
	for _, r := range m.reports {
		if r.JobID != jobID {
			continue
		}
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("no conflict report for job %s", jobID)
	}
	return newest, nil
}

func (m *memStorage) SaveProposal(ctx context.Context, proposal *models.ReframingProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.proposals[proposal.ID]; exists {
		return fmt.Errorf("proposal %s already exists", proposal.ID)
	}
	m.proposals[proposal.ID] = proposal
	return nil
}

func (m *memStorage) GetProposal(ctx context.Context, proposalID string) (*models.ReframingProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("proposal not found: %s", proposalID)
	}
	return p, nil
}

func (m *memStorage) GetPageText(ctx context.Context, docHash string, page int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.pages[fmt.Sprintf("%s|%d", docHash, page)]
	return text, ok, nil
}

func (m *memStorage) SavePageText(ctx context.Context, docHash string, page int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[fmt.Sprintf("%s|%d", docHash, page)] = text
	return nil
}

func (m *memStorage) SaveManifest(ctx context.Context, manifest *models.ArtifactManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[manifest.ID] = manifest
	return nil
}

func (m *memStorage) GetManifest(ctx context.Context, manifestID string) (*models.ArtifactManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[manifestID]
	if !ok {
		return nil, fmt.Errorf("manifest not found: %s", manifestID)
	}
	return mf, nil
}

func (m *memStorage) GetManifestByJob(ctx context.Context, jobID string) (*models.ArtifactManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mf := range m.manifests {
		if mf.JobID == jobID {
			return mf, nil
		}
	}
	return nil, fmt.Errorf("no manifest for job %s", jobID)
}

func (m *memStorage) SaveCheckpoint(ctx context.Context, threadID string, state *models.WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.checkpoints[threadID] = &copied
	return nil
}

func (m *memStorage) GetCheckpoint(ctx context.Context, threadID string) (*models.WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[threadID]
	if !ok {
		return nil, fmt.Errorf("no checkpoint for thread %s", threadID)
	}
	return cp, nil
}

func (m *memStorage) DeleteCheckpoint(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, threadID)
	return nil
}

func (m *memStorage) hasCheckpoint(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.checkpoints[threadID]
	return ok
}

// ---------------------------------------------------------------------
// Scripted expert gateway
// ---------------------------------------------------------------------

type scriptedGateway struct {
	mu sync.Mutex

	// responses is consumed per node name, first entry first
	responses map[string][]string
	errs      map[string]error
	pressure  map[string]interfaces.BackpressureAction

	calls []string
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		responses: make(map[string][]string),
		errs:      make(map[string]error),
		pressure:  make(map[string]interfaces.BackpressureAction),
	}
}

func (g *scriptedGateway) respond(node string, contents ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[node] = append(g.responses[node], contents...)
}

func (g *scriptedGateway) Chat(ctx context.Context, nodeName string, messages []interfaces.Message, opts interfaces.ChatOptions) (string, *interfaces.ChatMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, nodeName)

	if err, ok := g.errs[nodeName]; ok {
		return "", nil, err
	}
	queue := g.responses[nodeName]
	if len(queue) == 0 {
		return "", nil, fmt.Errorf("no scripted response for node %s", nodeName)
	}
	content := queue[0]
	if len(queue) > 1 {
		g.responses[nodeName] = queue[1:]
	}
	return content, &interfaces.ChatMeta{ExpertName: "scripted", Path: "primary", DurationMs: 1}, nil
}

func (g *scriptedGateway) CheckBackpressure(ctx context.Context, nodeName string) interfaces.BackpressureAction {
	g.mu.Lock()
	defer g.mu.Unlock()
	if action, ok := g.pressure[nodeName]; ok {
		return action
	}
	return interfaces.BackpressureProceed
}

func (g *scriptedGateway) HealthCheck(ctx context.Context) error { return nil }

func (g *scriptedGateway) callCount(node string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, c := range g.calls {
		if c == node {
			count++
		}
	}
	return count
}

// ---------------------------------------------------------------------
// Scripted vector store
// ---------------------------------------------------------------------

type scriptedVector struct {
	mu      sync.Mutex
	chunks  map[string][]models.DocumentChunk // keyed by query
	err     error
	queries []string
	scopes  []interfaces.VectorSearchOptions
}

func newScriptedVector() *scriptedVector {
	return &scriptedVector{chunks: make(map[string][]models.DocumentChunk)}
}

func (v *scriptedVector) RegisterChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	return nil
}

func (v *scriptedVector) Search(ctx context.Context, query string, opts interfaces.VectorSearchOptions) ([]models.DocumentChunk, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries = append(v.queries, query)
	v.scopes = append(v.scopes, opts)
	if v.err != nil {
		return nil, v.err
	}
	return v.chunks[query], nil
}

func (v *scriptedVector) HealthCheck(ctx context.Context) error { return nil }

// ---------------------------------------------------------------------
// Static prompt provider
// ---------------------------------------------------------------------

type staticPrompts struct{}

func (staticPrompts) GetActivePromptWithMeta(ctx context.Context, name, defaultTemplate, tag string) (string, models.PromptUse) {
	return defaultTemplate, models.PromptUse{
		Name:   name,
		Tag:    tag,
		Source: "default",
		SHA256: common.HashTemplate(defaultTemplate),
	}
}

func (staticPrompts) ClearCache(name, tag string) {}

// ---------------------------------------------------------------------
// Shared fixtures
// ---------------------------------------------------------------------

func testDeps(storage *memStorage, gateway *scriptedGateway) *Deps {
	return &Deps{
		Storage:           storage,
		Gateway:           gateway,
		Prompts:           staticPrompts{},
		Guard:             validation.NewGuard(nil, nil),
		Logger:            arbor.NewLogger(),
		MaxRevisions:      3,
		MaxImages:         4,
		BackpressureDelay: time.Millisecond,
		PageLookup: func(ctx context.Context) validation.PageTextLookup {
			return func(docHash string, page int) (string, bool) {
				text, ok, _ := storage.GetPageText(ctx, docHash, page)
				return text, ok
			}
		},
	}
}

func testState() models.WorkflowState {
	return models.WorkflowState{
		JobID:       "job_test",
		ThreadID:    "thread_test",
		ProjectID:   "proj_test",
		IngestionID: "ing_test",
		RawText:     "Catalyst X increases yield by twelve percent at 80C.",
		DocHash:     "dochash_test",
		ProjectContext: &models.ProjectContext{
			Title:             "Catalyst Study",
			Thesis:            "Catalyst X improves reaction yield",
			ResearchQuestions: []string{"Does catalyst X improve yield?"},
			RigorLevel:        string(models.RigorExploratory),
		},
	}
}

// extractionFor returns schema-valid extraction output for one triple
func extractionFor(subject, predicate, object string) string {
	return fmt.Sprintf(`{"triples":[{"subject":%q,"predicate":%q,"object":%q,"confidence":0.9,"claim_text":"%s %s %s"}]}`,
		subject, predicate, object, subject, predicate, object)
}

const criticPassVerdict = `{"status":"pass","findings":[]}`

func synthesisFor(claimID string) string {
	return fmt.Sprintf(`{"blocks":[{"section_title":"Results","content":"The catalyst improves yield. [[%s]]","claim_ids":[%q],"citation_keys":[]}]}`,
		claimID, claimID)
}
