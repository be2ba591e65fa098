package modelengine

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// defaultWarmupTimeout bounds the priming call so a dead backend doesn't
// hold a client in "warming" forever.
const defaultWarmupTimeout = 10 * time.Second

// Warmup dispatches a short priming call against every client in pool
// that isn't already ready, marking each ready on success or down on
// failure. Used on boot and whenever a client transitions cold ->
// warming, per spec.md §4.2.
func Warmup(ctx context.Context, pool *Pool, primingPrompt string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultWarmupTimeout
	}
	for _, c := range pool.Clients() {
		go warmupClient(ctx, c, primingPrompt, timeout)
	}
}

func warmupClient(ctx context.Context, c *Client, prompt string, timeout time.Duration) {
	c.markState(models.ClientWarming)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch, err := c.backend.Complete(cctx, CompletionRequest{Model: c.modelName, Prompt: prompt, MaxTokens: 8})
	if err != nil {
		c.recordFailure()
		c.markState(models.ClientDown)
		return
	}
	for range ch {
		// Drain: warmup only cares that the backend responded, not what
		// it said.
	}
	c.markState(models.ClientReady)
	c.recordSuccess(time.Since(start))
}
