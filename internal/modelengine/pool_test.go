package modelengine

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeBackend struct {
	name string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	ch := make(chan Chunk, 1)
	ch <- Chunk{Text: "ok", Done: true}
	close(ch)
	return ch, nil
}

func TestPoolSelectSkipsNonReadyClients(t *testing.T) {
	p := NewPool("m1", &fakeBackend{name: "b1"}, 3)
	if got := p.Select(); got != nil {
		t.Fatalf("expected no ready client before warmup, got %v", got)
	}
	p.Clients()[0].markState(models.ClientReady)
	got := p.Select()
	if got == nil {
		t.Fatal("expected a ready client")
	}
}

func TestPoolSelectPrefersLeastLoaded(t *testing.T) {
	p := NewPool("m1", &fakeBackend{name: "b1"}, 2)
	a, b := p.Clients()[0], p.Clients()[1]
	a.markState(models.ClientReady)
	b.markState(models.ClientReady)

	a.recordSuccess(100 * time.Millisecond)
	b.recordSuccess(10 * time.Millisecond)

	if got := p.Select(); got != b {
		t.Fatalf("expected to select the lower-latency client")
	}
}

func TestClientDegradesAfterRepeatedFailures(t *testing.T) {
	p := NewPool("m1", &fakeBackend{name: "b1"}, 1)
	c := p.Clients()[0]
	c.markState(models.ClientReady)

	for i := 0; i < degradedThreshold; i++ {
		c.recordFailure()
	}
	if c.Info().State != models.ClientDegraded {
		t.Fatalf("state = %v, want degraded after %d failures", c.Info().State, degradedThreshold)
	}
	if !c.ready() {
		t.Fatal("a degraded client must still be selectable")
	}
}
