package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(CircuitConfig{Name: "t", FailureThreshold: 3, Cooldown: time.Minute})
	failing := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := b.Execute(context.Background(), failing); err == nil {
			t.Fatalf("attempt %d: expected failure to propagate", i)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 consecutive failures", b.State())
	}

	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("open breaker must perform zero external I/O")
		return nil
	})
	if orcherr.KindOf(err) != orcherr.KindCircuitOpen {
		t.Fatalf("kind = %v, want CircuitOpen", orcherr.KindOf(err))
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	b := NewCircuitBreaker(CircuitConfig{Name: "t", FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	if b.State() != StateOpen {
		t.Fatal("expected open after one failure with threshold=1")
	}
	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("half-open probe should be admitted: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := NewCircuitBreaker(CircuitConfig{Name: "t", FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	time.Sleep(20 * time.Millisecond)
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("still failing") })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewRegistry(CircuitConfig{FailureThreshold: 5, Cooldown: time.Minute})
	a := r.Get("model_inference")
	b := r.Get("model_inference")
	if a != b {
		t.Fatal("Get should return the same breaker instance for the same name")
	}
}

func TestOpenCircuitsReporting(t *testing.T) {
	r := NewRegistry(CircuitConfig{FailureThreshold: 1, Cooldown: time.Minute})
	cb := r.Get("tool_execution")
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("fail") })
	open := r.OpenCircuits()
	if len(open) != 1 || open[0] != "tool_execution" {
		t.Fatalf("OpenCircuits = %v, want [tool_execution]", open)
	}
}
