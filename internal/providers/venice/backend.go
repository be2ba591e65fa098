package venice

import (
	"context"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/modelengine"
)

// toProviderRequest maps the engine's backend-agnostic request onto the
// single-turn shape VeniceProvider.Complete expects: the engine passes a
// fully-rendered prompt rather than a message history, so it becomes the
// lone user turn.
func toProviderRequest(req modelengine.CompletionRequest) *agent.CompletionRequest {
	return &agent.CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	}
}

// Backend adapts VeniceProvider to modelengine.Backend, letting a pooled
// Client (internal/modelengine/pool.go) drive Venice's OpenAI-compatible
// streaming API through the engine's circuit breaker and bulkhead instead
// of calling the provider directly.
type Backend struct {
	provider *VeniceProvider
}

// NewBackend wraps an already-constructed VeniceProvider for use as a
// modelengine.Backend.
func NewBackend(provider *VeniceProvider) *Backend {
	return &Backend{provider: provider}
}

func (b *Backend) Name() string { return b.provider.Name() }

// Complete translates a modelengine.CompletionRequest into the provider's
// agent.CompletionRequest shape and republishes the resulting stream as
// modelengine.Chunk values.
func (b *Backend) Complete(ctx context.Context, req modelengine.CompletionRequest) (<-chan modelengine.Chunk, error) {
	providerReq := toProviderRequest(req)
	upstream, err := b.provider.Complete(ctx, providerReq)
	if err != nil {
		return nil, err
	}

	out := make(chan modelengine.Chunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk == nil {
				continue
			}
			mc := modelengine.Chunk{Done: chunk.Done, Err: chunk.Error}
			if chunk.Text != "" {
				mc.Text = chunk.Text
			}
			out <- mc
		}
	}()
	return out, nil
}
