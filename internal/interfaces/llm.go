package interfaces

import "context"

// Message is one turn of a chat conversation
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatOptions tunes a single chat call
type ChatOptions struct {
	JSONResponse bool     // request a JSON-object response format
	MaxTokens    int      // 0 = endpoint default
	Temperature  *float64 // nil = endpoint default
	AllowedTools []string
}

// ChatMeta describes how a chat call was served
type ChatMeta struct {
	DurationMs int64          `json:"duration_ms"`
	ModelID    string         `json:"model_id"`
	URLBase    string         `json:"url_base"`
	ExpertName string         `json:"expert_name"`
	Path       string         `json:"path"` // "primary" or "fallback"
	Usage      map[string]any `json:"usage,omitempty"`
}

// BackpressureAction is the decision derived from the KV-cache gauge
type BackpressureAction string

const (
	BackpressureProceed    BackpressureAction = "proceed"
	BackpressureDelay      BackpressureAction = "delay"
	BackpressureRetryLater BackpressureAction = "retry_later"
)

// ExpertGateway resolves logical node names to model endpoints and executes
// chat calls with retry/fallback and telemetry.
type ExpertGateway interface {
	Chat(ctx context.Context, nodeName string, messages []Message, opts ChatOptions) (string, *ChatMeta, error)
	CheckBackpressure(ctx context.Context, nodeName string) BackpressureAction
	HealthCheck(ctx context.Context) error
}
