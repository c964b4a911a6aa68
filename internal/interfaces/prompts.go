package interfaces

import (
	"context"

	"github.com/loomworks/loom/internal/models"
)

// PromptProvider resolves prompt templates with registry-or-default fallback.
// Implementations never return an error: a failed registry fetch yields the
// built-in default.
type PromptProvider interface {
	GetActivePromptWithMeta(ctx context.Context, name, defaultTemplate, tag string) (string, models.PromptUse)
	ClearCache(name, tag string)
}
