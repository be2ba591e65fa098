package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/modelengine"
	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

type stubBackend struct {
	name string
	text string
}

func (b *stubBackend) Name() string { return b.name }
func (b *stubBackend) Complete(ctx context.Context, req modelengine.CompletionRequest) (<-chan modelengine.Chunk, error) {
	ch := make(chan modelengine.Chunk, 1)
	ch <- modelengine.Chunk{Text: b.text, Done: true}
	close(ch)
	return ch, nil
}

func noRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, Retryable: func(error) bool { return false }}
}

func testEngine(t *testing.T, modelName, text string) *modelengine.Engine {
	t.Helper()
	e := modelengine.NewEngine(
		modelengine.NewResponseCache(modelengine.CacheConfig{TTL: time.Hour}),
		modelengine.NewFallbackChain(nil),
		resilience.NewRegistry(resilience.CircuitConfig{}),
		resilience.NewPool(),
		modelengine.EngineConfig{RetryPolicy: noRetry(), CallTimeout: time.Second},
		nil,
	)
	p := modelengine.NewPool(modelName, &stubBackend{name: "b1", text: text}, 1)
	modelengine.Warmup(context.Background(), p, "ping", time.Second)
	time.Sleep(20 * time.Millisecond) // let the async warmup goroutine mark the client ready
	e.Register(modelName, p)
	return e
}

func testSessionManager(t *testing.T) (*sessions.Manager, *models.Session) {
	t.Helper()
	store := sessions.NewMemoryStore()
	mgr := sessions.NewManager(store, nil, sessions.Config{MaxConcurrentPerUser: 5, IdleTTL: time.Hour, MaxTTL: 2 * time.Hour}, nil)
	u := &models.UserContext{UserID: "u1"}
	s, err := mgr.Create(context.Background(), u, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return mgr, s
}

func TestSessionRecoveryStrategyResumesLiveSession(t *testing.T) {
	mgr, s := testSessionManager(t)
	strat := &SessionRecoveryStrategy{sessions: mgr}

	outcome, err := strat.Recover(context.Background(), Situation{
		SessionID: s.SessionID,
		UserCtx:   &models.UserContext{UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if outcome.Session == nil || outcome.Session.SessionID != s.SessionID {
		t.Fatalf("expected the resumed session back, got %+v", outcome)
	}
}

func TestSessionRecoveryStrategyFailsOnUnknownSession(t *testing.T) {
	mgr, _ := testSessionManager(t)
	strat := &SessionRecoveryStrategy{sessions: mgr}

	_, err := strat.Recover(context.Background(), Situation{
		SessionID: "does-not-exist",
		UserCtx:   &models.UserContext{UserID: "u1"},
	})
	if orcherr.KindOf(err) != orcherr.KindSessionNotFound {
		t.Fatalf("kind = %v, want SessionNotFound", orcherr.KindOf(err))
	}
}

func TestModelFallbackStrategyRegeneratesFromEngine(t *testing.T) {
	engine := testEngine(t, "m1", "recovered")
	strat := &ModelFallbackStrategy{engine: engine}

	outcome, err := strat.Recover(context.Background(), Situation{
		Request: modelengine.CompletionRequest{Model: "m1", Prompt: "hi"},
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	var text string
	for c := range outcome.Stream {
		text += c.Text
	}
	if text != "recovered" {
		t.Fatalf("text = %q, want recovered", text)
	}
}

func TestCommunicationRecoveryStrategyReplaysBufferedEvents(t *testing.T) {
	bus := eventbus.New(256, 128)
	sessionID := "sess-1"
	sub, cancel := bus.Subscribe(sessionID, 0)
	bus.Emit(sessionID, models.Event{Type: models.EventToken, Payload: map[string]any{"text": "a"}})
	bus.Emit(sessionID, models.Event{Type: models.EventToken, Payload: map[string]any{"text": "b"}})
	cancel()
	_ = sub

	strat := &CommunicationRecoveryStrategy{bus: bus}
	outcome, err := strat.Recover(context.Background(), Situation{SessionID: sessionID, LastEventID: 0})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !outcome.Reconnect {
		t.Fatal("expected Reconnect to be true")
	}
	if len(outcome.Replay) != 2 {
		t.Fatalf("replay len = %d, want 2", len(outcome.Replay))
	}
}

func TestCoordinatorSucceedsOnFirstApplicableStrategy(t *testing.T) {
	mgr, s := testSessionManager(t)
	c := New(mgr, nil, nil, Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil)

	outcome, err := c.Recover(context.Background(), Situation{
		SessionID: s.SessionID,
		UserCtx:   &models.UserContext{UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if outcome.Strategy != "session_recovery" {
		t.Fatalf("strategy = %q, want session_recovery", outcome.Strategy)
	}
}

func TestCoordinatorExhaustsAndTerminatesSession(t *testing.T) {
	mgr, s := testSessionManager(t)
	// No engine, no bus: every strategy will fail for this situation
	// once the session itself can't be resolved either.
	c := New(mgr, nil, nil, Config{MaxAttempts: 2, InitialBackoff: time.Millisecond}, nil)

	_, err := c.Recover(context.Background(), Situation{
		SessionID: "unknown-session",
		UserCtx:   &models.UserContext{UserID: "u1"},
	})
	if orcherr.KindOf(err) != orcherr.KindRecoveryExhausted {
		t.Fatalf("kind = %v, want RecoveryExhausted", orcherr.KindOf(err))
	}
	_ = s
}
