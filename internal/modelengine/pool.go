package modelengine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// defaultPoolSize is the fixed connection count per backend endpoint,
// per spec.md §4.2.
const defaultPoolSize = 3

// degradedThreshold is the consecutive-failure count after which a
// client is marked degraded but still selectable, matching the
// teacher's ProviderState.Failures bookkeeping one severity level below
// fully down.
const degradedThreshold = 3

// Client wraps one pooled connection to a backend, tracking the health
// fields the engine's least-loaded selection reads. Grounded on
// internal/agent/failover.go's ProviderState (Failures/LastFailure/
// CircuitOpen), generalized from per-provider to per-pooled-connection
// and carrying a latency EWMA instead of a boolean circuit flag (circuit
// state lives one layer up, in resilience.CircuitBreaker).
type Client struct {
	modelName string
	backend   Backend

	mu          sync.Mutex
	state       models.ModelClientState
	latencyEWMA time.Duration
	lastFailure time.Time

	inflight int64
	failures int64
}

func newClient(modelName string, backend Backend) *Client {
	return &Client{modelName: modelName, backend: backend, state: models.ClientCold}
}

// Info returns a read-only snapshot of the client's health.
func (c *Client) Info() models.ModelClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ModelClientInfo{
		Endpoint:      c.backend.Name(),
		ModelName:     c.modelName,
		State:         c.state,
		InflightCount: atomic.LoadInt64(&c.inflight),
		LatencyEWMA:   c.latencyEWMA,
		FailureCount:  atomic.LoadInt64(&c.failures),
	}
}

func (c *Client) markState(s models.ModelClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ready reports whether the client may be selected for a call. A
// degraded client is still selectable (it serves best-effort while the
// circuit breaker, not the pool, decides whether to fail fast).
func (c *Client) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == models.ClientReady || c.state == models.ClientDegraded
}

// load is the selection weight: EWMA latency scaled by in-flight count
// plus one, so a fast-but-busy client doesn't starve an idle slower one.
func (c *Client) load() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latencyEWMA * time.Duration(atomic.LoadInt64(&c.inflight)+1)
}

func (c *Client) begin() { atomic.AddInt64(&c.inflight, 1) }
func (c *Client) end()   { atomic.AddInt64(&c.inflight, -1) }

func (c *Client) recordSuccess(latency time.Duration) {
	atomic.StoreInt64(&c.failures, 0)
	const alpha = 0.2
	c.mu.Lock()
	if c.latencyEWMA == 0 {
		c.latencyEWMA = latency
	} else {
		c.latencyEWMA = time.Duration(alpha*float64(latency) + (1-alpha)*float64(c.latencyEWMA))
	}
	if c.state == models.ClientDegraded || c.state == models.ClientDown || c.state == models.ClientWarming {
		c.state = models.ClientReady
	}
	c.mu.Unlock()
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failures, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	if n >= degradedThreshold {
		c.state = models.ClientDegraded
	}
	c.mu.Unlock()
}

// Pool manages a fixed-size set of Clients for one model's backend,
// selecting the least-loaded ready client per call.
type Pool struct {
	modelName string
	mu        sync.RWMutex
	clients   []*Client
}

// NewPool builds a pool of size connections (defaultPoolSize when <= 0)
// to backend for modelName.
func NewPool(modelName string, backend Backend, size int) *Pool {
	if size <= 0 {
		size = defaultPoolSize
	}
	clients := make([]*Client, size)
	for i := range clients {
		clients[i] = newClient(modelName, backend)
	}
	return &Pool{modelName: modelName, clients: clients}
}

// Select returns the least-loaded ready client, or nil if none are
// ready (all cold, warming, or down).
func (p *Pool) Select() *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best *Client
	for _, c := range p.clients {
		if !c.ready() {
			continue
		}
		if best == nil || c.load() < best.load() {
			best = c
		}
	}
	return best
}

// Clients returns every pooled connection, for warmup and observability.
func (p *Pool) Clients() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, len(p.clients))
	copy(out, p.clients)
	return out
}

// Infos snapshots every client's health.
func (p *Pool) Infos() []models.ModelClientInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.ModelClientInfo, len(p.clients))
	for i, c := range p.clients {
		out[i] = c.Info()
	}
	return out
}
