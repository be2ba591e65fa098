package modelengine

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestWarmupMarksClientsReady(t *testing.T) {
	p := NewPool("m1", &fakeBackend{name: "b1"}, 2)
	Warmup(context.Background(), p, "ping", time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		allReady := true
		for _, c := range p.Clients() {
			if c.Info().State != models.ClientReady {
				allReady = false
			}
		}
		if allReady {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected all clients to reach ready state after warmup")
}

func TestWarmupMarksClientDownOnFailure(t *testing.T) {
	p := NewPool("m1", &failingBackend{name: "b1"}, 1)
	Warmup(context.Background(), p, "ping", time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Clients()[0].Info().State == models.ClientDown {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the client to be marked down after a failed priming call")
}
