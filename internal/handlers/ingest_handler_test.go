package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/ingestion"
	"github.com/loomworks/loom/internal/pagecache"
)

func newIngestEnv(t *testing.T) (*IngestHandler, *memStore) {
	t.Helper()
	store := newMemStore()
	logger := arbor.NewLogger()

	extractor := pagecache.NewPDFExtractor(logger)
	cache, err := pagecache.NewCache(t.TempDir(), store, extractor, logger)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	service := ingestion.NewService(&fakeVector{}, cache, logger)

	return NewIngestHandler(service, cache, extractor, store, logger), store
}

func multipartUpload(t *testing.T, fieldName, filename string, content []byte, extraFields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if fieldName != "" {
		part, err := writer.CreateFormFile(fieldName, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(content)
	}
	for k, v := range extraFields {
		writer.WriteField(k, v)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func TestIngestRejectsMissingFile(t *testing.T) {
	handler, _ := newIngestEnv(t)

	body, contentType := multipartUpload(t, "", "", nil, map[string]string{"project_id": "proj_1"})
	req := httptest.NewRequest("POST", "/ingest/pdf", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.PDFHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
}

func TestIngestRejectsNonPDF(t *testing.T) {
	handler, _ := newIngestEnv(t)

	body, contentType := multipartUpload(t, "file", "notes.txt", []byte("plain text"), nil)
	req := httptest.NewRequest("POST", "/ingest/pdf", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.PDFHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "only PDF uploads are supported" {
		t.Fatalf("error = %q", resp["error"])
	}
}

func TestIngestRejectsUnknownProject(t *testing.T) {
	handler, _ := newIngestEnv(t)

	body, contentType := multipartUpload(t, "file", "paper.pdf", []byte("%PDF-1.4 stub"),
		map[string]string{"project_id": "proj_missing"})
	req := httptest.NewRequest("POST", "/ingest/pdf", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.PDFHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (%s)", rec.Code, rec.Body.String())
	}
}

func TestIngestRejectsCorruptPDF(t *testing.T) {
	handler, _ := newIngestEnv(t)

	// Right extension, not actually a PDF; pdfcpu fails during extraction
	body, contentType := multipartUpload(t, "file", "paper.pdf", []byte("not a pdf at all"), nil)
	req := httptest.NewRequest("POST", "/ingest/pdf", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.PDFHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
}
