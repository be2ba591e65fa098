package modelengine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	RetryPolicy            resilience.RetryPolicy
	CallTimeout            time.Duration // default 30s
	CannedDegradedMessage  string
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.CannedDegradedMessage == "" {
		c.CannedDegradedMessage = "I'm having trouble reaching the model right now. Please try again shortly."
	}
	if c.RetryPolicy.MaxAttempts == 0 {
		c.RetryPolicy = resilience.DefaultRetryPolicy()
	}
	return c
}

// Engine is the Model Engine component: it resolves a request to a
// pooled client behind the model_inference circuit breaker and
// bulkhead, retries transient failures, consults the response cache,
// and walks the configured fallback chain when the primary pool is
// exhausted. Grounded on the overall request flow in spec.md §4.2 and
// FailoverOrchestrator.Complete's provider-iteration shape
// (internal/agent/failover.go), composed from this package's Pool,
// ResponseCache, and FallbackChain rather than one monolithic type.
type Engine struct {
	pools     map[string]*Pool
	cache     *ResponseCache
	fallback  *FallbackChain
	breakers  *resilience.Registry
	bulkheads *resilience.Pool
	cfg       EngineConfig
	logger    *slog.Logger
}

// NewEngine constructs an Engine. breakers and bulkheads are the
// process-wide registries so model_inference shares its breaker and
// bulkhead with every other caller of that name.
func NewEngine(cache *ResponseCache, fallback *FallbackChain, breakers *resilience.Registry, bulkheads *resilience.Pool, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = NewFallbackChain(nil)
	}
	return &Engine{
		pools:     make(map[string]*Pool),
		cache:     cache,
		fallback:  fallback,
		breakers:  breakers,
		bulkheads: bulkheads,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Register associates a pool of pooled connections with a model name so
// Generate and the fallback chain can address it by that name.
func (e *Engine) Register(modelName string, pool *Pool) {
	e.pools[modelName] = pool
}

// Generate resolves req against the response cache, the named model's
// pool, and then its configured fallback chain, in that order.
func (e *Engine) Generate(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	if ch, ok := e.tryCache(req, false); ok {
		return ch, nil
	}

	chain := append([]string{req.Model}, e.fallback.Steps(req.Model)...)
	var lastErr error
	for _, step := range chain {
		switch step {
		case StepCachedResponse:
			if ch, ok := e.tryCache(req, true); ok {
				return ch, nil
			}
		case StepCannedDegraded:
			return e.canned(), nil
		default:
			ch, err := e.tryPool(ctx, step, req)
			if err == nil {
				return ch, nil
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = orcherr.New(orcherr.KindModelUnavailable, "modelengine.generate", "no model backend is available").
			WithRecoveryHint("try again later")
	}
	return nil, lastErr
}

func (e *Engine) tryCache(req CompletionRequest, allowStale bool) (<-chan Chunk, bool) {
	if e.cache == nil {
		return nil, false
	}
	resp, fresh, ok := e.cache.Get(req)
	if !ok {
		return nil, false
	}
	if fresh {
		return Stream(resp, false), true
	}
	if allowStale && e.cache.AllowStale() {
		return Stream(resp, true), true
	}
	return nil, false
}

func (e *Engine) canned() <-chan Chunk {
	ch := make(chan Chunk, 1)
	ch <- Chunk{Text: e.cfg.CannedDegradedMessage, Done: true, Stale: true}
	close(ch)
	return ch
}

// tryPool runs one backend step of the fallback chain under its circuit
// breaker, bulkhead, and retry policy, and tees the resulting stream
// into the response cache on completion.
func (e *Engine) tryPool(ctx context.Context, modelName string, req CompletionRequest) (<-chan Chunk, error) {
	pool, ok := e.pools[modelName]
	if !ok {
		return nil, orcherr.New(orcherr.KindModelUnavailable, "modelengine.generate", "model is not configured")
	}

	breaker := e.breakers.Get("model_inference")
	bulkhead := e.bulkheads.GetOrCreate("model_inference", resilience.DefaultCapacities["model_inference"])

	var result <-chan Chunk
	op := func(octx context.Context) error {
		client := pool.Select()
		if client == nil {
			return orcherr.New(orcherr.KindModelUnavailable, "modelengine.generate", "no ready client in the pool")
		}
		if err := bulkhead.Acquire(octx, e.cfg.CallTimeout); err != nil {
			return err
		}
		defer bulkhead.Release()

		client.begin()
		defer client.end()

		start := time.Now()
		var chunks <-chan Chunk
		err := resilience.WithTimeout(octx, e.cfg.CallTimeout, "modelengine.client.complete", func(ictx context.Context) error {
			var cerr error
			chunks, cerr = client.backend.Complete(ictx, req)
			return cerr
		})
		if err != nil {
			client.recordFailure()
			return err
		}
		client.recordSuccess(time.Since(start))
		result = e.tee(req, chunks)
		return nil
	}

	err := breaker.Execute(ctx, func(bctx context.Context) error {
		r := resilience.Do(bctx, e.cfg.RetryPolicy, op)
		return r.Err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// tee forwards every chunk from in to the caller-facing channel while
// accumulating the full text, writing the completed response into the
// cache once the stream finishes.
func (e *Engine) tee(req CompletionRequest, in <-chan Chunk) <-chan Chunk {
	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		var text strings.Builder
		var inTok, outTok int
		for c := range in {
			out <- c
			text.WriteString(c.Text)
			if c.Done {
				inTok, outTok = c.InputTokens, c.OutputTokens
			}
		}
		if e.cache != nil && text.Len() > 0 {
			e.cache.Put(req, text.String(), inTok, outTok)
		}
	}()
	return out
}
