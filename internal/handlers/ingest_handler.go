// -----------------------------------------------------------------------
// PDF ingest handler - accepts a multipart upload, runs it through the
// ingestion pipeline and returns the extracted text as markdown.
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/ingestion"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/loomworks/loom/internal/pagecache"
)

const maxUploadBytes = 64 << 20 // 64 MB

// IngestHandler serves POST /ingest/pdf
type IngestHandler struct {
	service   *ingestion.Service
	cache     *pagecache.Cache
	extractor *pagecache.PDFExtractor
	storage   interfaces.StorageManager
	logger    arbor.ILogger
}

// NewIngestHandler creates the ingest handler
func NewIngestHandler(service *ingestion.Service, cache *pagecache.Cache, extractor *pagecache.PDFExtractor, storage interfaces.StorageManager, logger arbor.ILogger) *IngestHandler {
	return &IngestHandler{
		service:   service,
		cache:     cache,
		extractor: extractor,
		storage:   storage,
		logger:    logger,
	}
}

// PDFHandler handles POST /ingest/pdf multipart {file, project_id?}
func (h *IngestHandler) PDFHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		WriteError(w, http.StatusBadRequest, "only PDF uploads are supported")
		return
	}

	// Rigor and context come from the owning project when one is named
	projectID := r.FormValue("project_id")
	rigor := models.RigorExploratory
	var projectContext *models.ProjectContext
	if projectID != "" {
		project, err := h.storage.ProjectStorage().GetProject(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusNotFound, "project not found: "+projectID)
			return
		}
		rigor = project.RigorLevel
		projectContext = project.Context()
	}

	tmp, err := os.CreateTemp("", "upload_*.pdf")
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "stage upload: "+err.Error())
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		WriteError(w, http.StatusInternalServerError, "stage upload: "+err.Error())
		return
	}
	tmp.Close()

	result, err := h.service.IngestPDF(r.Context(), projectID, tmp.Name(), rigor)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("PDF ingestion failed")
		WriteError(w, http.StatusBadRequest, "ingestion failed: "+err.Error())
		return
	}

	markdown := h.renderMarkdown(r, result)

	imageCount := 0
	if n, err := h.extractor.CountImages(r.Context(), tmp.Name()); err == nil {
		imageCount = n
	}

	resp := map[string]interface{}{
		"markdown":     markdown,
		"filename":     header.Filename,
		"image_count":  imageCount,
		"ingestion_id": result.IngestionID,
		"doc_hash":     result.DocHash,
		"pages":        result.Pages,
		"chunks":       result.Chunks,
	}
	if projectID != "" {
		resp["project_id"] = projectID
		resp["project_context"] = projectContext
	}

	WriteJSON(w, http.StatusOK, resp)
}

// renderMarkdown stitches the cached page texts into one markdown document
func (h *IngestHandler) renderMarkdown(r *http.Request, result *ingestion.Result) string {
	lookup := h.cache.Lookup(r.Context())

	var sb strings.Builder
	for page := 1; page <= result.Pages; page++ {
		text, ok := lookup(result.DocHash, page)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## Page %d\n\n%s", page, strings.TrimSpace(text))
	}
	return sb.String()
}
