package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// Bulkhead is a bounded-concurrency gate: a weighted semaphore with a
// non-blocking TryAcquire and a bounded-wait Acquire. It prevents one
// class of operation (e.g. model calls) from starving the rest of the
// process.
type Bulkhead struct {
	name string
	max  int64

	mu      sync.Mutex
	cond    *sync.Cond
	inUse   int64
	waiters int64
}

// NewBulkhead constructs a bulkhead with the given capacity.
func NewBulkhead(name string, capacity int64) *Bulkhead {
	b := &Bulkhead{name: name, max: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// TryAcquire attempts to admit one unit of concurrency without blocking.
func (b *Bulkhead) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse >= b.max {
		return false
	}
	b.inUse++
	return true
}

// Acquire blocks until admitted, ctx is cancelled, or waitTimeout elapses,
// whichever comes first. Returns BulkheadFull on timeout/cancellation.
func (b *Bulkhead) Acquire(ctx context.Context, waitTimeout time.Duration) error {
	b.mu.Lock()
	if b.inUse < b.max {
		b.inUse++
		b.mu.Unlock()
		return nil
	}
	b.waiters++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.waiters--
		b.mu.Unlock()
	}()

	done := make(chan struct{})
	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()

	admitted := make(chan bool, 1)
	go func() {
		b.mu.Lock()
		for b.inUse >= b.max {
			// Re-check cancellation/timeout cooperatively via a short poll;
			// sync.Cond has no native ctx/timer integration.
			b.mu.Unlock()
			select {
			case <-done:
				return
			case <-time.After(5 * time.Millisecond):
			}
			b.mu.Lock()
		}
		b.inUse++
		b.mu.Unlock()
		admitted <- true
	}()

	select {
	case <-admitted:
		close(done)
		return nil
	case <-ctx.Done():
		close(done)
		return orcherr.New(orcherr.KindBulkheadFull, "resilience.bulkhead."+b.name,
			"the service is busy, please retry shortly").WithRecoveryHint("retry later")
	case <-deadline.C:
		close(done)
		return orcherr.New(orcherr.KindBulkheadFull, "resilience.bulkhead."+b.name,
			"the service is busy, please retry shortly").WithRecoveryHint("retry later")
	}
}

// Release returns one unit of concurrency to the bulkhead.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	if b.inUse > 0 {
		b.inUse--
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// BulkheadStats is a point-in-time occupancy snapshot.
type BulkheadStats struct {
	Name     string
	Capacity int64
	InUse    int64
	Waiters  int64
}

// Stats snapshots current occupancy.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BulkheadStats{Name: b.name, Capacity: b.max, InUse: b.inUse, Waiters: b.waiters}
}

// Pool holds the fixed set of named bulkheads used across the
// orchestrator: model_inference=20, session_management=10,
// tool_execution=50, voice_processing=5.
type Pool struct {
	mu        sync.RWMutex
	bulkheads map[string]*Bulkhead
}

// NewPool constructs an empty pool; callers populate it via GetOrCreate.
func NewPool() *Pool {
	return &Pool{bulkheads: make(map[string]*Bulkhead)}
}

// GetOrCreate returns the named bulkhead, creating it with capacity if
// this is the first reference.
func (p *Pool) GetOrCreate(name string, capacity int64) *Bulkhead {
	p.mu.RLock()
	b, ok := p.bulkheads[name]
	p.mu.RUnlock()
	if ok {
		return b
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bulkheads[name]; ok {
		return b
	}
	b = NewBulkhead(name, capacity)
	p.bulkheads[name] = b
	return b
}

// AllStats snapshots every bulkhead in the pool.
func (p *Pool) AllStats() []BulkheadStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]BulkheadStats, 0, len(p.bulkheads))
	for _, b := range p.bulkheads {
		out = append(out, b.Stats())
	}
	return out
}

// DefaultCapacities are the named bulkheads and default capacities from
// spec.md §4.1.
var DefaultCapacities = map[string]int64{
	"model_inference":   20,
	"session_management": 10,
	"tool_execution":     50,
	"voice_processing":   5,
}
