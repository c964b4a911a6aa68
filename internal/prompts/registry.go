// -----------------------------------------------------------------------
// Prompt registry client with an in-memory TTL cache. The registry is
// advisory: every failure path falls back to the built-in default, and no
// call here ever returns an error to the workflow.
// -----------------------------------------------------------------------

package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/models"
	"github.com/ternarybob/arbor"
)

type cacheEntry struct {
	template  string
	sha256    string
	fetchedAt time.Time
}

// Registry fetches named prompt templates from a remote registry and caches
// them for a TTL. Implements interfaces.PromptProvider.
type Registry struct {
	config *common.PromptRegistryConfig
	client *http.Client
	logger arbor.ILogger
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry // key: name "\x00" tag
}

var _ interfaces.PromptProvider = (*Registry)(nil)

// NewRegistry creates the registry client. A disabled config or empty URL
// yields a provider that always serves built-in defaults.
func NewRegistry(config *common.PromptRegistryConfig, logger arbor.ILogger) *Registry {
	return &Registry{
		config: config,
		client: &http.Client{Timeout: common.ParseDurationOr(config.Timeout, 2*time.Second)},
		logger: logger,
		ttl:    common.ParseDurationOr(config.CacheTTL, 300*time.Second),
		cache:  make(map[string]cacheEntry),
	}
}

func cacheKey(name, tag string) string {
	return name + "\x00" + tag
}

// GetActivePromptWithMeta returns the active template for a prompt name and
// its provenance. Order: fresh cache entry, then registry fetch, then the
// supplied default. Never returns an error.
func (r *Registry) GetActivePromptWithMeta(ctx context.Context, name, defaultTemplate, tag string) (string, models.PromptUse) {
	use := models.PromptUse{
		Name:        name,
		Tag:         tag,
		Source:      "default",
		RetrievedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if !r.config.Enabled || r.config.URL == "" {
		use.SHA256 = common.HashTemplate(defaultTemplate)
		return defaultTemplate, use
	}

	key := cacheKey(name, tag)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < r.ttl {
		use.Source = "registry"
		use.SHA256 = entry.sha256
		use.CacheHit = true
		return entry.template, use
	}

	template, err := r.fetch(ctx, name, tag)
	if err != nil || strings.TrimSpace(template) == "" {
		if err != nil {
			r.logger.Warn().Err(err).Str("prompt", name).Msg("Prompt registry fetch failed, using default")
		}
		use.SHA256 = common.HashTemplate(defaultTemplate)
		return defaultTemplate, use
	}

	sum := common.HashTemplate(template)
	r.mu.Lock()
	r.cache[key] = cacheEntry{template: template, sha256: sum, fetchedAt: time.Now()}
	r.mu.Unlock()

	use.Source = "registry"
	use.SHA256 = sum
	return template, use
}

// ClearCache drops the cached entry for one prompt, forcing the next call
// to refetch.
func (r *Registry) ClearCache(name, tag string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(name, tag))
	r.mu.Unlock()
}

// fetch performs one registry GET. The registry answers JSON; the template
// may arrive under "template", "content" or "text".
func (r *Registry) fetch(ctx context.Context, name, tag string) (string, error) {
	endpoint := fmt.Sprintf("%s/prompts/%s", strings.TrimRight(r.config.URL, "/"), url.PathEscape(name))
	if tag != "" {
		endpoint += "?tag=" + url.QueryEscape(tag)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read registry response: %w", err)
	}

	var payload struct {
		Template string `json:"template"`
		Content  string `json:"content"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode registry response: %w", err)
	}

	for _, candidate := range []string{payload.Template, payload.Content, payload.Text} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("registry response carries no template")
}
