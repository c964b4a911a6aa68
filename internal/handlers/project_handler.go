// -----------------------------------------------------------------------
// Project handlers - CRUD, rigor patching, built-in templates and the
// project hub (filtered overview with job rollups).
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/models"
)

// ProjectHandler serves the /api/projects routes
type ProjectHandler struct {
	storage  interfaces.StorageManager
	manager  *jobs.Manager
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewProjectHandler creates a project handler
func NewProjectHandler(storage interfaces.StorageManager, manager *jobs.Manager, logger arbor.ILogger) *ProjectHandler {
	return &ProjectHandler{
		storage:  storage,
		manager:  manager,
		validate: validator.New(),
		logger:   logger,
	}
}

// ListProjectsHandler handles GET /api/projects
func (h *ProjectHandler) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	projects, err := h.storage.ProjectStorage().ListProjects(r.Context(), QueryBool(r, "include_archived"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

type createProjectRequest struct {
	Title             string   `json:"title" validate:"required"`
	Thesis            string   `json:"thesis" validate:"required"`
	ResearchQuestions []string `json:"research_questions" validate:"required,min=1"`
	AntiScope         []string `json:"anti_scope,omitempty"`
	TargetJournal     string   `json:"target_journal,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	RigorLevel        string   `json:"rigor_level,omitempty" validate:"omitempty,oneof=exploratory conservative"`
}

// CreateProjectHandler handles POST /api/projects
func (h *ProjectHandler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rigor := models.RigorLevel(req.RigorLevel)
	if rigor == "" {
		rigor = models.RigorExploratory
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:                common.NewProjectID(),
		Title:             req.Title,
		Thesis:            req.Thesis,
		ResearchQuestions: req.ResearchQuestions,
		AntiScope:         req.AntiScope,
		TargetJournal:     req.TargetJournal,
		Tags:              req.Tags,
		RigorLevel:        rigor,
		CreatedAt:         now,
		LastUpdated:       now,
	}
	if err := project.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.ProjectStorage().SaveProject(r.Context(), project); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().Str("project_id", project.ID).Str("title", project.Title).Msg("Project created")
	WriteJSON(w, http.StatusCreated, project)
}

// GetProjectHandler handles GET /api/projects/{id}
func (h *ProjectHandler) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	projectID := PathID(r.URL.Path, "/api/projects/")
	project, err := h.storage.ProjectStorage().GetProject(r.Context(), projectID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "project not found: "+projectID)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

type patchRigorRequest struct {
	RigorLevel string `json:"rigor_level" validate:"required,oneof=exploratory conservative"`
}

// PatchRigorHandler handles PATCH /api/projects/{id}/rigor
func (h *ProjectHandler) PatchRigorHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PATCH") {
		return
	}

	projectID := PathID(r.URL.Path, "/api/projects/")
	project, err := h.storage.ProjectStorage().GetProject(r.Context(), projectID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "project not found: "+projectID)
		return
	}

	var req patchRigorRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "rigor_level must be \"exploratory\" or \"conservative\"")
		return
	}

	project.RigorLevel = models.RigorLevel(req.RigorLevel)
	project.LastUpdated = time.Now().UTC()
	if err := h.storage.ProjectStorage().SaveProject(r.Context(), project); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, project)
}

// projectTemplate is a built-in scaffold for new projects
type projectTemplate struct {
	Name              string   `json:"name"`
	Title             string   `json:"title"`
	Thesis            string   `json:"thesis"`
	ResearchQuestions []string `json:"research_questions"`
	AntiScope         []string `json:"anti_scope,omitempty"`
	RigorLevel        string   `json:"rigor_level"`
}

var projectTemplates = []projectTemplate{
	{
		Name:   "empirical-study",
		Title:  "Empirical Study",
		Thesis: "State the measurable effect this study demonstrates.",
		ResearchQuestions: []string{
			"What effect does the intervention have on the primary outcome?",
			"Under which conditions does the effect hold?",
		},
		AntiScope:  []string{"meta-analysis of prior work"},
		RigorLevel: string(models.RigorConservative),
	},
	{
		Name:   "literature-survey",
		Title:  "Literature Survey",
		Thesis: "State the gap or trend the survey establishes.",
		ResearchQuestions: []string{
			"What approaches exist and how do they compare?",
			"Which open problems remain unaddressed?",
		},
		RigorLevel: string(models.RigorExploratory),
	},
	{
		Name:   "methods-paper",
		Title:  "Methods Paper",
		Thesis: "State what the new method enables that prior methods do not.",
		ResearchQuestions: []string{
			"How does the method improve on the established baseline?",
			"What are the method's failure modes and limits?",
		},
		AntiScope:  []string{"application case studies"},
		RigorLevel: string(models.RigorConservative),
	},
}

// TemplatesHandler handles GET /api/projects/templates
func (h *ProjectHandler) TemplatesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"templates": projectTemplates,
	})
}

// hubEntry is one row of the project hub overview
type hubEntry struct {
	Project   *models.Project          `json:"project"`
	JobCounts map[string]int           `json:"job_counts"`
	LatestJob *models.Job              `json:"latest_job,omitempty"`
	Manifest  *models.ArtifactManifest `json:"manifest,omitempty"`
}

// HubHandler handles GET /api/projects/hub. Filters: query (title/thesis
// substring), tags (comma-separated, any match), rigor, status
// (active|archived), from_date/to_date (RFC 3339 or YYYY-MM-DD against
// last_updated), include_manifest.
func (h *ProjectHandler) HubHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	q := r.URL.Query()
	query := strings.ToLower(strings.TrimSpace(q.Get("query")))
	rigor := q.Get("rigor")
	status := q.Get("status")
	includeManifest := QueryBool(r, "include_manifest")

	var tags []string
	for _, t := range strings.Split(q.Get("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, strings.ToLower(t))
		}
	}

	fromDate, fromOK := parseHubDate(q.Get("from_date"))
	toDate, toOK := parseHubDate(q.Get("to_date"))

	projects, err := h.storage.ProjectStorage().ListProjects(r.Context(), true)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]hubEntry, 0, len(projects))
	for _, project := range projects {
		if status == "archived" && !project.Archived {
			continue
		}
		if (status == "" || status == "active") && project.Archived {
			continue
		}
		if rigor != "" && string(project.RigorLevel) != rigor {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(project.Title), query) &&
			!strings.Contains(strings.ToLower(project.Thesis), query) {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(project.Tags, tags) {
			continue
		}
		if fromOK && project.LastUpdated.Before(fromDate) {
			continue
		}
		if toOK && project.LastUpdated.After(toDate) {
			continue
		}

		entry := hubEntry{
			Project:   project,
			JobCounts: map[string]int{},
		}

		projectJobs, err := h.manager.ListJobsByProject(r.Context(), project.ID, 0)
		if err == nil {
			for _, job := range projectJobs {
				entry.JobCounts[string(job.Status)]++
				if entry.LatestJob == nil || job.CreatedAt.After(entry.LatestJob.CreatedAt) {
					entry.LatestJob = job
				}
			}
		}

		if includeManifest && entry.LatestJob != nil && entry.LatestJob.ArtifactManifestID != "" {
			if manifest, err := h.storage.ManifestStorage().GetManifest(r.Context(), entry.LatestJob.ArtifactManifestID); err == nil {
				entry.Manifest = manifest
			}
		}

		entries = append(entries, entry)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"projects": entries,
		"count":    len(entries),
	})
}

// parseHubDate accepts RFC 3339 timestamps or bare dates
func parseHubDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func hasAnyTag(projectTags, wanted []string) bool {
	for _, have := range projectTags {
		for _, want := range wanted {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
