// -----------------------------------------------------------------------
// Two-tier PDF page-text cache. Lookups go filesystem first, then the
// database tier, then on-demand extraction from the source PDF; every
// miss that resolves is stored through both tiers so evidence checks on
// later revisions stay cheap.
// -----------------------------------------------------------------------

package pagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomworks/loom/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// PageExtractor pulls the text of one page out of a PDF file
type PageExtractor interface {
	ExtractPageText(ctx context.Context, pdfPath string, page int) (string, error)
	PageCount(ctx context.Context, pdfPath string) (int, error)
}

// Cache resolves page text through filesystem, database, and extraction
type Cache struct {
	root      string // filesystem tier root
	store     interfaces.PageTextStorage
	extractor PageExtractor
	logger    arbor.ILogger
}

// NewCache creates the page-text cache rooted at dir
func NewCache(dir string, store interfaces.PageTextStorage, extractor PageExtractor, logger arbor.ILogger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create page cache root: %w", err)
	}
	return &Cache{root: dir, store: store, extractor: extractor, logger: logger}, nil
}

// pagePath is the filesystem tier location of one page's text
func (c *Cache) pagePath(docHash string, page int) string {
	return filepath.Join(c.root, docHash, fmt.Sprintf("page_%04d.txt", page))
}

// GetPageText returns cached text for a page. pdfPath may be empty when
// extraction on miss is not wanted (evidence checks on a revision loop).
// The boolean reports whether text was resolved.
func (c *Cache) GetPageText(ctx context.Context, docHash string, page int, pdfPath string) (string, bool) {
	if docHash == "" || page < 1 {
		return "", false
	}

	// Tier 1: filesystem
	if data, err := os.ReadFile(c.pagePath(docHash, page)); err == nil {
		return string(data), true
	}

	// Tier 2: database
	if text, found, err := c.store.GetPageText(ctx, docHash, page); err == nil && found {
		c.writeFile(docHash, page, text)
		return text, true
	}

	// Tier 3: extract from source
	if pdfPath == "" || c.extractor == nil {
		return "", false
	}
	text, err := c.extractor.ExtractPageText(ctx, pdfPath, page)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("doc_hash", docHash).
			Int("page", page).
			Msg("Page text extraction failed")
		return "", false
	}

	c.StorePageText(ctx, docHash, page, text)
	return text, true
}

// StorePageText writes text through both tiers. Failures are logged, not
// returned: the cache is an accelerator, never a gate.
func (c *Cache) StorePageText(ctx context.Context, docHash string, page int, text string) {
	c.writeFile(docHash, page, text)
	if err := c.store.SavePageText(ctx, docHash, page, text); err != nil {
		c.logger.Warn().Err(err).
			Str("doc_hash", docHash).
			Int("page", page).
			Msg("Page text database write failed")
	}
}

// WarmFromPDF extracts and caches every page of a document up front.
// Returns the number of pages cached.
func (c *Cache) WarmFromPDF(ctx context.Context, docHash, pdfPath string) (int, error) {
	if c.extractor == nil {
		return 0, fmt.Errorf("no page extractor configured")
	}

	count, err := c.extractor.PageCount(ctx, pdfPath)
	if err != nil {
		return 0, fmt.Errorf("page count for %s: %w", pdfPath, err)
	}

	cached := 0
	for page := 1; page <= count; page++ {
		text, err := c.extractor.ExtractPageText(ctx, pdfPath, page)
		if err != nil {
			c.logger.Warn().Err(err).Int("page", page).Msg("Skipping unextractable page")
			continue
		}
		c.StorePageText(ctx, docHash, page, text)
		cached++
	}

	c.logger.Info().
		Str("doc_hash", docHash).
		Int("pages", cached).
		Msg("Page cache warmed")
	return cached, nil
}

// Lookup adapts the cache to the validation layer's PageTextLookup shape,
// without extraction on miss.
func (c *Cache) Lookup(ctx context.Context) func(docHash string, page int) (string, bool) {
	return func(docHash string, page int) (string, bool) {
		return c.GetPageText(ctx, docHash, page, "")
	}
}

func (c *Cache) writeFile(docHash string, page int, text string) {
	path := c.pagePath(docHash, page)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Page text filesystem write failed")
	}
}
