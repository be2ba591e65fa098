package modelengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/haasonsaas/nexus/internal/infra"
)

// cachedResponse is the fully-realized completion stored against a
// request hash, plus enough metadata to decide freshness independently
// of the underlying cache's own eviction clock.
type cachedResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CachedAt     time.Time
	FreshTTL     time.Duration
}

func (r cachedResponse) fresh(now time.Time) bool {
	return now.Sub(r.CachedAt) < r.FreshTTL
}

// ResponseCache is the Model Engine's response cache, keyed by
// hash(model_name || normalized_prompt || options) per spec.md §4.2.
// Built directly on infra.TTLCache (the teacher's generic TTL cache,
// internal/infra/cache.go), holding entries for staleWindow — a longer
// span than FreshTTL — so an expired-but-present entry can still be
// served as a stale fallback (spec.md §9 open question #2) instead of
// being silently evicted the instant it goes stale.
type ResponseCache struct {
	ttl          time.Duration
	staleWindow  time.Duration
	allowStale   bool
	cache        *infra.TTLCache[string, cachedResponse]
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	TTL              time.Duration // default 1h, per spec.md §4.2
	MaxEntries       int
	AllowStaleOnOutage bool
	StaleWindow      time.Duration // how long a stale entry is retained past TTL; default 24h
}

// NewResponseCache constructs a cache per cfg.
func NewResponseCache(cfg CacheConfig) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = 24 * time.Hour
	}
	return &ResponseCache{
		ttl:         cfg.TTL,
		staleWindow: cfg.StaleWindow,
		allowStale:  cfg.AllowStaleOnOutage,
		cache: infra.NewTTLCache[string, cachedResponse](infra.CacheConfig{
			DefaultTTL:      cfg.TTL + cfg.StaleWindow,
			MaxSize:         cfg.MaxEntries,
			CleanupInterval: 5 * time.Minute,
		}),
	}
}

// Key computes the cache key for a request: hash(model||prompt||options).
func Key(req CompletionRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	h.Write([]byte{0})
	if len(req.Options) > 0 {
		keys := make([]string, 0, len(req.Options))
		for k := range req.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b, _ := json.Marshal(req.Options[k])
			h.Write([]byte(k))
			h.Write([]byte{'='})
			h.Write(b)
			h.Write([]byte{';'})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores a completed response under req's cache key.
func (c *ResponseCache) Put(req CompletionRequest, text string, inTok, outTok int) {
	c.cache.Set(Key(req), cachedResponse{
		Text:         text,
		InputTokens:  inTok,
		OutputTokens: outTok,
		CachedAt:     time.Now(),
		FreshTTL:     c.ttl,
	})
}

// Get looks up req's cache key, reporting whether it was found and
// whether the hit is fresh. A stale hit is only returned to the caller
// when allow_stale_on_outage is enabled — the caller still decides
// whether to consult it (the fallback chain only does so after the
// primary backend fails).
func (c *ResponseCache) Get(req CompletionRequest) (resp cachedResponse, fresh bool, ok bool) {
	v, found := c.cache.Get(Key(req))
	if !found {
		return cachedResponse{}, false, false
	}
	return v, v.fresh(time.Now()), true
}

// AllowStale reports whether this cache is configured to serve
// stale-but-present entries as a fallback step.
func (c *ResponseCache) AllowStale() bool { return c.allowStale }

// Stream synthesizes a resp as a single virtual token burst, matching
// spec.md §4.2's "cached result is streamed back synthesized as a
// single virtual token burst".
func Stream(resp cachedResponse, stale bool) <-chan Chunk {
	ch := make(chan Chunk, 1)
	ch <- Chunk{
		Text:         resp.Text,
		Done:         true,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Stale:        stale,
	}
	close(ch)
	return ch
}

// Stats exposes the underlying cache's hit-rate counters for
// observability (spec.md §4.2's "exposes ... cache hit rate").
func (c *ResponseCache) Stats() infra.CacheStats { return c.cache.Stats() }

// Stop releases the cache's background cleanup goroutine.
func (c *ResponseCache) Stop() { c.cache.Stop() }
