package interfaces

// Emitter is the structured event sink used by all components. Emitting is
// best-effort: implementations log and swallow their own failures.
type Emitter interface {
	EmitEvent(kind string, payload map[string]any)
	Close() error
}
