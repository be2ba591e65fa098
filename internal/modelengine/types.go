// Package modelengine implements the Model Engine component: pooled
// inference connections, response caching, and config-driven fallback
// chains, wrapped in the circuit breaker, bulkhead, and retry primitives
// from internal/resilience.
package modelengine

import "context"

// CompletionRequest is the engine-facing request shape, independent of
// any one backend's wire format.
type CompletionRequest struct {
	Model     string
	Prompt    string
	System    string
	MaxTokens int
	Options   map[string]any
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Text         string
	Done         bool
	Err          error
	InputTokens  int
	OutputTokens int
	Stale        bool // true when synthesized from a stale cache entry
}

// Backend is the minimal transport a pooled Client wraps: a single
// inference endpoint capable of producing a streamed completion.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
