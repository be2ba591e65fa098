// Package resilience implements the orchestrator's failure-isolation
// primitives: circuit breakers, bulkheads, retry/backoff, timeout
// wrapping, and per-user rate limiting. Every primitive here is named and
// addressed by string key so components can share a small fixed set of
// instances (session_creation, model_inference, tool_execution, ...)
// rather than constructing ad-hoc ones per call site.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// CircuitState is one of the three breaker states.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitConfig configures a single named breaker.
type CircuitConfig struct {
	Name             string
	FailureThreshold int64 // consecutive failures to trip open, default 5
	Cooldown         time.Duration // open duration before a half-open probe, default 60s
	OnStateChange    func(name string, from, to CircuitState)
}

func (c CircuitConfig) withDefaults() CircuitConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// CircuitBreaker fails calls fast when a named downstream misbehaves.
// State transitions and counters are protected by mu; OnStateChange fires
// from a separate goroutine so it can never block a caller's Execute.
type CircuitBreaker struct {
	cfg CircuitConfig

	mu                sync.Mutex
	state             CircuitState
	consecutiveFails  int64
	openedAt          time.Time
	halfOpenInFlight  bool

	totalCalls   int64
	totalFailed  int64
	totalTripped int64
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// Execute runs fn under the breaker, performing zero external I/O when
// the breaker is open (fast failure with KindCircuitOpen).
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return orcherr.New(orcherr.KindCircuitOpen, "resilience.circuit."+b.cfg.Name,
			"this service is temporarily unavailable").WithRecoveryHint("retry later")
	}
	atomic.AddInt64(&b.totalCalls, 1)
	err := fn(ctx)
	b.record(err == nil)
	return err
}

// allow reports whether a call may proceed, transitioning open->half_open
// once the cooldown has elapsed.
func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.transitionLocked(StateHalfOpen)
			b.halfOpenInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		// Only one probe call is admitted at a time.
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

func (b *CircuitBreaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenInFlight = false
	if success {
		b.consecutiveFails = 0
		if b.state != StateClosed {
			b.transitionLocked(StateClosed)
		}
		return
	}

	atomic.AddInt64(&b.totalFailed, 1)
	b.consecutiveFails++
	if b.state == StateHalfOpen {
		b.transitionLocked(StateOpen)
		return
	}
	if b.state == StateClosed && b.consecutiveFails >= b.cfg.FailureThreshold {
		b.transitionLocked(StateOpen)
	}
}

func (b *CircuitBreaker) transitionLocked(to CircuitState) {
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
		atomic.AddInt64(&b.totalTripped, 1)
	}
	if from == to {
		return
	}
	if cb := b.cfg.OnStateChange; cb != nil {
		name := b.cfg.Name
		go cb(name, from, to)
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	Name             string
	State            CircuitState
	ConsecutiveFails int64
	TotalCalls       int64
	TotalFailed      int64
	TotalTripped     int64
}

// Stats returns a snapshot safe to log or export.
func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:             b.cfg.Name,
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		TotalCalls:       atomic.LoadInt64(&b.totalCalls),
		TotalFailed:      atomic.LoadInt64(&b.totalFailed),
		TotalTripped:     atomic.LoadInt64(&b.totalTripped),
	}
}

// Reset forces the breaker back to closed, clearing counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.consecutiveFails = 0
}

// Registry holds the fixed set of named breakers used across the
// orchestrator: model_inference, session_creation, tool_execution,
// memory_read, memory_write, voice_stt, voice_tts.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitConfig
}

// NewRegistry builds a registry; defaults apply to breakers created via
// Get that have no prior explicit config.
func NewRegistry(defaults CircuitConfig) *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker), defaults: defaults}
}

// Get returns the named breaker, creating it with registry defaults on
// first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	cfg := r.defaults
	cfg.Name = name
	return r.GetWithConfig(name, cfg)
}

// GetWithConfig returns the named breaker, creating it with cfg if absent.
func (r *Registry) GetWithConfig(name string, cfg CircuitConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg.Name = name
	b := NewCircuitBreaker(cfg)
	r.breakers[name] = b
	return b
}

// AllStats snapshots every known breaker, for /doctor and metrics export.
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// OpenCircuits lists the names of breakers currently open.
func (r *Registry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, b := range r.breakers {
		if b.State() == StateOpen {
			out = append(out, name)
		}
	}
	return out
}

// NamedBreakers are the seven breakers spec.md §4.1 requires to exist.
var NamedBreakers = []string{
	"model_inference", "session_creation", "tool_execution",
	"memory_read", "memory_write", "voice_stt", "voice_tts",
}
