// -----------------------------------------------------------------------
// Expert gateway. Routes workflow nodes to OpenAI-compatible chat
// endpoints, applies client-side rate limits, checks KV-cache
// backpressure, and retries once on a fallback endpoint.
// -----------------------------------------------------------------------

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const chatCompletionsPath = "/v1/chat/completions"

// Gateway implements interfaces.ExpertGateway over a set of self-hosted
// OpenAI-compatible endpoints.
type Gateway struct {
	routes   map[string]route
	clients  map[string]*http.Client  // keyed by endpoint URL
	limiters map[string]*rate.Limiter // keyed by endpoint URL
	metrics  *http.Client
	logger   arbor.ILogger
	emitter  interfaces.Emitter
}

var _ interfaces.ExpertGateway = (*Gateway)(nil)

// NewGateway builds the gateway from the experts config. emitter may be nil.
func NewGateway(experts *common.ExpertsConfig, logger arbor.ILogger, emitter interfaces.Emitter) *Gateway {
	g := &Gateway{
		routes:   buildRoutes(experts),
		clients:  make(map[string]*http.Client),
		limiters: make(map[string]*rate.Limiter),
		metrics:  &http.Client{Timeout: 2 * time.Second},
		logger:   logger,
		emitter:  emitter,
	}
	for _, endpoint := range []*common.ExpertEndpointConfig{&experts.Brain, &experts.Worker, &experts.Vision, &experts.Drafter} {
		g.clients[endpoint.URL] = &http.Client{Timeout: common.ParseDurationOr(endpoint.Timeout, 30*time.Second)}
		if endpoint.RequestsPerSecond > 0 {
			g.limiters[endpoint.URL] = rate.NewLimiter(rate.Limit(endpoint.RequestsPerSecond), 1)
		}
	}
	return g
}

// Chat executes one chat call for a workflow node. The primary endpoint is
// tried first; on transport failure, a non-200 status, an empty completion
// or garbled output, the route's fallback (when present) is tried exactly
// once. Returns the completion text and call metadata.
func (g *Gateway) Chat(ctx context.Context, nodeName string, messages []interfaces.Message, opts interfaces.ChatOptions) (string, *interfaces.ChatMeta, error) {
	r, err := resolveRoute(g.routes, nodeName)
	if err != nil {
		return "", nil, err
	}

	content, meta, primaryErr := g.attempt(ctx, nodeName, r.primary, "primary", messages, opts)
	if primaryErr == nil {
		return content, meta, nil
	}

	if r.fallback == nil {
		return "", meta, primaryErr
	}

	g.logger.Warn().Err(primaryErr).
		Str("node", nodeName).
		Str("expert", r.primary.Name).
		Msg("Primary expert failed, retrying on fallback")

	content, meta, fallbackErr := g.attempt(ctx, nodeName, r.fallback, "fallback", messages, opts)
	if fallbackErr != nil {
		return "", meta, fmt.Errorf("primary: %v; fallback: %w", primaryErr, fallbackErr)
	}
	return content, meta, nil
}

// attempt performs a single request against one endpoint
func (g *Gateway) attempt(ctx context.Context, nodeName string, endpoint *common.ExpertEndpointConfig, path string, messages []interfaces.Message, opts interfaces.ChatOptions) (string, *interfaces.ChatMeta, error) {
	if limiter, ok := g.limiters[endpoint.URL]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return "", nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	meta := &interfaces.ChatMeta{
		ModelID:    endpoint.Model,
		URLBase:    endpoint.URL,
		ExpertName: endpoint.Name,
		Path:       path,
	}

	content, usage, err := g.doChat(ctx, endpoint, messages, opts)
	meta.DurationMs = time.Since(start).Milliseconds()
	meta.Usage = usage

	g.emit("llm_call", map[string]any{
		"node_name":   nodeName,
		"expert":      endpoint.Name,
		"model_id":    endpoint.Model,
		"path":        path,
		"duration_ms": meta.DurationMs,
		"success":     err == nil,
	})

	if err != nil {
		return "", meta, err
	}
	if strings.TrimSpace(content) == "" {
		return "", meta, fmt.Errorf("expert %s returned an empty completion", endpoint.Name)
	}
	if IsGarbled(content) {
		return "", meta, fmt.Errorf("expert %s returned garbled output", endpoint.Name)
	}
	return content, meta, nil
}

// doChat issues the OpenAI-compatible chat completion request
func (g *Gateway) doChat(ctx context.Context, endpoint *common.ExpertEndpointConfig, messages []interfaces.Message, opts interfaces.ChatOptions) (string, map[string]any, error) {
	body := map[string]any{
		"model":    endpoint.Model,
		"messages": messages,
	}

	maxTokens := endpoint.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}

	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	} else {
		body["temperature"] = endpoint.Temperature
	}
	if opts.JSONResponse {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if len(opts.AllowedTools) > 0 {
		body["allowed_tools"] = opts.AllowedTools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(endpoint.URL, "/")+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client, ok := g.clients[endpoint.URL]
	if !ok {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("chat request to %s: %w", endpoint.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("expert %s returned status %d: %s", endpoint.Name, resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", parsed.Usage, fmt.Errorf("expert %s returned no choices", endpoint.Name)
	}
	return parsed.Choices[0].Message.Content, parsed.Usage, nil
}

// CheckBackpressure scrapes the node's primary endpoint for KV-cache
// utilization. A missing or unreadable gauge means proceed.
func (g *Gateway) CheckBackpressure(ctx context.Context, nodeName string) interfaces.BackpressureAction {
	r, err := resolveRoute(g.routes, nodeName)
	if err != nil {
		return interfaces.BackpressureProceed
	}

	value, ok := FetchUtilization(ctx, g.metrics, r.primary.URL)
	if !ok {
		return interfaces.BackpressureProceed
	}

	action := ClassifyUtilization(value)
	if action != interfaces.BackpressureProceed {
		g.logger.Warn().
			Str("node", nodeName).
			Str("expert", r.primary.Name).
			Msg("Backpressure " + describeAction(action, value))
	}
	return action
}

// HealthCheck probes every distinct endpoint's /metrics page
func (g *Gateway) HealthCheck(ctx context.Context) error {
	seen := make(map[string]bool)
	for _, r := range g.routes {
		if seen[r.primary.URL] {
			continue
		}
		seen[r.primary.URL] = true

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(r.primary.URL, "/")+"/metrics", nil)
		if err != nil {
			return err
		}
		resp, err := g.metrics.Do(req)
		if err != nil {
			return fmt.Errorf("expert %s unreachable: %w", r.primary.Name, err)
		}
		resp.Body.Close()
	}
	return nil
}

func (g *Gateway) emit(kind string, payload map[string]any) {
	if g.emitter != nil {
		g.emitter.EmitEvent(kind, payload)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
