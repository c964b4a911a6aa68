// -----------------------------------------------------------------------
// pdfcpu-backed page text extraction
// -----------------------------------------------------------------------

package pagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

// PDFExtractor implements PageExtractor with pdfcpu
type PDFExtractor struct {
	tempDir string
	logger  arbor.ILogger
}

var _ PageExtractor = (*PDFExtractor)(nil)

// NewPDFExtractor creates the pdfcpu extractor
func NewPDFExtractor(logger arbor.ILogger) *PDFExtractor {
	tempDir := filepath.Join(os.TempDir(), "loom-pdf")
	os.MkdirAll(tempDir, 0755)
	return &PDFExtractor{tempDir: tempDir, logger: logger}
}

// PageCount returns the number of pages in a PDF
func (e *PDFExtractor) PageCount(ctx context.Context, pdfPath string) (int, error) {
	pdfCtx, err := api.ReadContextFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("read pdf %s: %w", pdfPath, err)
	}
	return pdfCtx.PageCount, nil
}

// ExtractPageText extracts one page's text content. pdfcpu extracts content
// streams to files, so the page is extracted into a scratch directory and
// read back.
func (e *PDFExtractor) ExtractPageText(ctx context.Context, pdfPath string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be 1-based, got %d", page)
	}

	outDir, err := os.MkdirTemp(e.tempDir, "extract_")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	selected := []string{fmt.Sprintf("%d", page)}
	if err := api.ExtractContentFile(pdfPath, outDir, selected, conf); err != nil {
		return "", fmt.Errorf("extract page %d of %s: %w", page, pdfPath, err)
	}

	text, found := readExtractedPage(outDir, page)
	if !found {
		return "", fmt.Errorf("no content extracted for page %d of %s", page, pdfPath)
	}
	return text, nil
}

// CountImages reports how many embedded images the PDF carries. Extraction
// goes through a scratch directory because pdfcpu only writes images to disk.
func (e *PDFExtractor) CountImages(ctx context.Context, pdfPath string) (int, error) {
	outDir, err := os.MkdirTemp(e.tempDir, "images_")
	if err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(pdfPath, outDir, nil, conf); err != nil {
		return 0, fmt.Errorf("extract images from %s: %w", pdfPath, err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count, nil
}

// readExtractedPage locates the content file pdfcpu wrote for a page.
// Filenames vary across pdfcpu versions ("page_N" vs "Content_page_N").
func readExtractedPage(dir string, page int) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var got int
		name := entry.Name()
		if _, err := fmt.Sscanf(name, "Content_page_%d", &got); err != nil {
			if _, err := fmt.Sscanf(name, "page_%d", &got); err != nil {
				continue
			}
		}
		if got != page {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", false
		}
		return string(content), true
	}
	return "", false
}
