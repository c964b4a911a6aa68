package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Workflow routes
	mux.HandleFunc("/workflow/submit", s.app.WorkflowHandler.SubmitHandler)    // POST
	mux.HandleFunc("/workflow/status/", s.app.WorkflowHandler.StatusHandler)   // GET /{id}
	mux.HandleFunc("/workflow/result/", s.app.WorkflowHandler.ResultHandler)   // GET /{id}
	mux.HandleFunc("/workflow/resume/", s.app.WorkflowHandler.ResumeHandler)   // POST /{id}

	// Ingestion
	mux.HandleFunc("/ingest/pdf", s.app.IngestHandler.PDFHandler) // POST multipart

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler) // GET
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)               // GET/POST /{id} and subpaths

	// API routes - Claims
	mux.HandleFunc("/api/claims/", s.handleClaimRoutes) // GET /{claim_id}/anchor

	// API routes - Projects
	mux.HandleFunc("/api/projects", s.handleProjectsRoute)                         // GET (list), POST (create)
	mux.HandleFunc("/api/projects/templates", s.app.ProjectHandler.TemplatesHandler) // GET
	mux.HandleFunc("/api/projects/hub", s.app.ProjectHandler.HubHandler)             // GET
	mux.HandleFunc("/api/projects/", s.handleProjectRoutes)                          // GET /{id}, PATCH /{id}/rigor

	// System
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler) // GET ?deep=

	return mux
}

// handleJobRoutes routes /api/jobs/{id} requests and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == "POST" {
		// POST /api/jobs/{id}/reprocess
		if strings.HasSuffix(path, "/reprocess") {
			s.app.JobHandler.ReprocessHandler(w, r)
			return
		}
		// POST /api/jobs/{id}/finalize
		if strings.HasSuffix(path, "/finalize") {
			s.app.JobHandler.FinalizeHandler(w, r)
			return
		}
	}

	if r.Method == "GET" && len(path) > len("/api/jobs/") {
		// GET /api/jobs/{id}/diff?against={id2}
		if strings.HasSuffix(path, "/diff") {
			s.app.JobHandler.DiffHandler(w, r)
			return
		}
		// GET /api/jobs/{id}/conflict-report
		if strings.HasSuffix(path, "/conflict-report") {
			s.app.JobHandler.ConflictReportHandler(w, r)
			return
		}
		// GET /api/jobs/{id}
		s.app.JobHandler.GetJobHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleClaimRoutes routes /api/claims/{claim_id}/anchor requests
func (s *Server) handleClaimRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/anchor") {
		s.app.ClaimHandler.AnchorHandler(w, r)
		return
	}
	http.Error(w, "Not found", http.StatusNotFound)
}

// handleProjectsRoute routes /api/projects requests (list and create)
func (s *Server) handleProjectsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.ProjectHandler.ListProjectsHandler(w, r)
	case "POST":
		s.app.ProjectHandler.CreateProjectHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectRoutes routes /api/projects/{id} requests
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// Skip fixed routes already registered above
	if path == "/api/projects/templates" || path == "/api/projects/hub" {
		return
	}

	if r.Method == "PATCH" && strings.HasSuffix(path, "/rigor") {
		s.app.ProjectHandler.PatchRigorHandler(w, r)
		return
	}
	if r.Method == "GET" && len(path) > len("/api/projects/") {
		s.app.ProjectHandler.GetProjectHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
