package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/ingestion"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/pagecache"
)

// memStore is an in-memory StorageManager for handler tests. Collections the
// handlers never touch return nil.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	projects  map[string]*models.Project
	claims    map[string]*models.Claim
	reports   map[string]*models.ConflictReport
	manifests map[string]*models.ArtifactManifest
	pages     map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*models.Job),
		projects:  make(map[string]*models.Project),
		claims:    make(map[string]*models.Claim),
		reports:   make(map[string]*models.ConflictReport),
		manifests: make(map[string]*models.ArtifactManifest),
		pages:     make(map[string]string),
	}
}

func (s *memStore) JobStorage() interfaces.JobStorage                   { return s }
func (s *memStore) ProjectStorage() interfaces.ProjectStorage           { return s }
func (s *memStore) KnowledgeStorage() interfaces.KnowledgeStorage       { return s }
func (s *memStore) ExtractionStorage() interfaces.ExtractionStorage     { return nil }
func (s *memStore) BibliographyStorage() interfaces.BibliographyStorage { return nil }
func (s *memStore) ConflictStorage() interfaces.ConflictStorage         { return s }
func (s *memStore) PageTextStorage() interfaces.PageTextStorage         { return s }
func (s *memStore) ManifestStorage() interfaces.ManifestStorage         { return s }
func (s *memStore) CheckpointStorage() interfaces.CheckpointStorage     { return nil }
func (s *memStore) HealthCheck(ctx context.Context) error               { return nil }
func (s *memStore) Close() error                                        { return nil }

func (s *memStore) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		return nil, nil
	}
	for _, job := range s.jobs {
		if job.IdempotencyKey == key {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if opts != nil && opts.ProjectID != "" && job.ProjectID != opts.ProjectID {
			continue
		}
		if opts != nil && opts.Status != "" && string(job.Status) != opts.Status {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) DeleteJob(ctx context.Context, jobID string) error { return nil }

func (s *memStore) CountJobsByStatus(ctx context.Context, status string) (int, error) {
	return 0, nil
}

func (s *memStore) SaveProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *project
	s.projects[project.ID] = &copied
	return nil
}

func (s *memStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project not found: %s", projectID)
	}
	copied := *p
	return &copied, nil
}

func (s *memStore) ListProjects(ctx context.Context, includeArchived bool) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Project
	for _, p := range s.projects {
		if !includeArchived && p.Archived {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) DeleteProject(ctx context.Context, projectID string) error { return nil }

func (s *memStore) SaveCanonicalClaims(ctx context.Context, claims []models.Claim) error { return nil }
func (s *memStore) SaveCandidateClaims(ctx context.Context, claims []models.Claim) error { return nil }

func (s *memStore) GetCanonicalByEntities(ctx context.Context, projectID string, entities []string) ([]models.Claim, error) {
	return nil, nil
}

func (s *memStore) GetClaimsByProject(ctx context.Context, projectID, ingestionID string) ([]models.Claim, error) {
	return nil, nil
}

func (s *memStore) GetClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("claim not found: %s", claimID)
	}
	return c, nil
}

func (s *memStore) GetExternalReference(ctx context.Context, referenceID string) (*models.ExternalReference, error) {
	return nil, fmt.Errorf("reference not found: %s", referenceID)
}

func (s *memStore) SaveExternalReference(ctx context.Context, ref *models.ExternalReference) error {
	return nil
}

func (s *memStore) SaveReport(ctx context.Context, report *models.ConflictReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ID] = report
	return nil
}

func (s *memStore) GetReport(ctx context.Context, reportID string) (*models.ConflictReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, fmt.Errorf("report not found: %s", reportID)
	}
	return r, nil
}

func (s *memStore) GetReportByJob(ctx context.Context, jobID string) (*models.ConflictReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.JobID == jobID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no report for job %s", jobID)
}

func (s *memStore) SaveProposal(ctx context.Context, proposal *models.ReframingProposal) error {
	return nil
}

func (s *memStore) GetProposal(ctx context.Context, proposalID string) (*models.ReframingProposal, error) {
	return nil, fmt.Errorf("proposal not found: %s", proposalID)
}

func (s *memStore) GetPageText(ctx context.Context, docHash string, page int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.pages[fmt.Sprintf("%s|%d", docHash, page)]
	return text, ok, nil
}

func (s *memStore) SavePageText(ctx context.Context, docHash string, page int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[fmt.Sprintf("%s|%d", docHash, page)] = text
	return nil
}

func (s *memStore) SaveManifest(ctx context.Context, manifest *models.ArtifactManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[manifest.ID] = manifest
	return nil
}

func (s *memStore) GetManifest(ctx context.Context, manifestID string) (*models.ArtifactManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[manifestID]
	if !ok {
		return nil, fmt.Errorf("manifest not found: %s", manifestID)
	}
	return m, nil
}

func (s *memStore) GetManifestByJob(ctx context.Context, jobID string) (*models.ArtifactManifest, error) {
	return nil, fmt.Errorf("no manifest for job %s", jobID)
}

// fakeVector records chunk registrations
type fakeVector struct {
	mu     sync.Mutex
	chunks int
}

func (v *fakeVector) RegisterChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks += len(chunks)
	return nil
}

func (v *fakeVector) Search(ctx context.Context, query string, opts interfaces.VectorSearchOptions) ([]models.DocumentChunk, error) {
	return nil, nil
}

func (v *fakeVector) HealthCheck(ctx context.Context) error { return nil }

// testEnv wires handlers against in-memory backends. The single job slot is
// held by the fixture so submissions stay QUEUED and never touch the engine.
type testEnv struct {
	store    *memStore
	manager  *jobs.Manager
	runner   *jobs.Runner
	workflow *WorkflowHandler
	jobs     *JobHandler
	claims   *ClaimHandler
	projects *ProjectHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	logger := arbor.NewLogger()

	manager := jobs.NewManager(store, 1, logger, nil)
	manager.AcquireSlot()
	runner := jobs.NewRunner(manager, nil, store, time.Minute, "", logger, nil)

	cache, err := pagecache.NewCache(t.TempDir(), store, nil, logger)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	ingest := ingestion.NewService(&fakeVector{}, cache, logger)

	return &testEnv{
		store:    store,
		manager:  manager,
		runner:   runner,
		workflow: NewWorkflowHandler(manager, runner, store, ingest, logger),
		jobs:     NewJobHandler(manager, runner, store, logger),
		claims:   NewClaimHandler(store, logger),
		projects: NewProjectHandler(store, manager, logger),
	}
}

func (e *testEnv) seedProject(id string, rigor models.RigorLevel) *models.Project {
	project := &models.Project{
		ID:                id,
		Title:             "Catalyst Study",
		Thesis:            "Catalyst X increases yield",
		ResearchQuestions: []string{"Does catalyst X increase yield?"},
		RigorLevel:        rigor,
		CreatedAt:         time.Now().UTC(),
		LastUpdated:       time.Now().UTC(),
	}
	e.store.SaveProject(context.Background(), project)
	return project
}

func (e *testEnv) seedJob(id, projectID string, status models.JobStatus) *models.Job {
	job := &models.Job{
		ID:         id,
		JobVersion: 1,
		Status:     status,
		ProjectID:  projectID,
		CreatedAt:  time.Now().UTC(),
		InitialState: &models.JobInitialState{
			RawText:   "sample text",
			ProjectID: projectID,
		},
	}
	e.store.SaveJob(context.Background(), job)
	return job
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}
