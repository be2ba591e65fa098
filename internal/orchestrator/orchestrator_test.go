package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/gate"
	"github.com/haasonsaas/nexus/internal/modelengine"
	"github.com/haasonsaas/nexus/internal/multiagent"
	"github.com/haasonsaas/nexus/internal/recovery"
	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tooldispatch"
	"github.com/haasonsaas/nexus/pkg/models"
)

type scriptedBackend struct {
	responses []string
	i         int
}

func (b *scriptedBackend) Name() string { return "scripted" }
func (b *scriptedBackend) Complete(ctx context.Context, req modelengine.CompletionRequest) (<-chan modelengine.Chunk, error) {
	text := "(no response configured)"
	if b.i < len(b.responses) {
		text = b.responses[b.i]
		b.i++
	}
	ch := make(chan modelengine.Chunk, 1)
	ch <- modelengine.Chunk{Text: text, Done: true}
	close(ch)
	return ch, nil
}

type fakeExecutor struct{}

func (f *fakeExecutor) Execute(ctx context.Context, toolName string, params json.RawMessage) (string, error) {
	return "ok: " + toolName, nil
}

func noRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, Retryable: func(error) bool { return false }}
}

type testRig struct {
	orch    *Orchestrator
	bus     *eventbus.Bus
	session *models.Session
	user    *models.UserContext
}

func newTestRig(t *testing.T, responses []string) *testRig {
	t.Helper()

	store := sessions.NewMemoryStore()
	sessionMgr := sessions.NewManager(store, nil, sessions.Config{MaxConcurrentPerUser: 5, IdleTTL: time.Hour, MaxTTL: 2 * time.Hour}, nil)

	registry := multiagent.DefaultRegistry()
	router := multiagent.NewRouter(registry)

	engine := modelengine.NewEngine(
		modelengine.NewResponseCache(modelengine.CacheConfig{TTL: time.Hour}),
		modelengine.NewFallbackChain(nil),
		resilience.NewRegistry(resilience.CircuitConfig{}),
		resilience.NewPool(),
		modelengine.EngineConfig{RetryPolicy: noRetry(), CallTimeout: time.Second},
		nil,
	)
	pool := modelengine.NewPool("test-model", &scriptedBackend{responses: responses}, 1)
	modelengine.Warmup(context.Background(), pool, "ping", time.Second)
	time.Sleep(20 * time.Millisecond)
	engine.Register("test-model", pool)

	dispatcher := tooldispatch.NewDispatcher(
		[]tooldispatch.ToolSpec{{Name: "profile_read", Schema: json.RawMessage(`{}`)}},
		registry,
		&fakeExecutor{},
		resilience.NewPool(),
		nil,
	)

	bus := eventbus.New(256, 128)
	g := gate.NewGate(nil, nil, gate.QuotaLimits{}, nil, nil)
	rec := recovery.New(sessionMgr, engine, bus, recovery.Config{}, nil)

	orch := New(g, sessionMgr, store, router, engine, dispatcher, bus, rec, nil, nil,
		Config{DefaultModel: "test-model"}, nil)

	user := &models.UserContext{UserID: "u1", Permissions: map[string]struct{}{"ai:basic_chat": {}}}
	session, err := sessionMgr.Create(context.Background(), user, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	return &testRig{orch: orch, bus: bus, session: session, user: user}
}

func drainEvents(sub *eventbus.Subscriber, timeout time.Duration) []models.Event {
	var out []models.Event
	deadline := time.After(timeout)
	for {
		select {
		case e := <-sub.Events():
			out = append(out, e)
			if e.Type == models.EventResponse || e.Type == models.EventError {
				return out
			}
		case <-deadline:
			return out
		}
	}
}

func TestProcessMessageHappyPathEmitsTokensThenResponse(t *testing.T) {
	rig := newTestRig(t, []string{"Hello there!"})
	sub, cancel := rig.bus.Subscribe(rig.session.SessionID, 0)
	defer cancel()

	if err := rig.orch.ProcessMessage(context.Background(), rig.user, rig.session.SessionID, "hi"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	events := drainEvents(sub, time.Second)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	last := events[len(events)-1]
	if last.Type != models.EventResponse {
		t.Fatalf("last event type = %s, want response", last.Type)
	}
	if last.Payload["text"] != "Hello there!" {
		t.Fatalf("response text = %v, want %q", last.Payload["text"], "Hello there!")
	}
}

func TestProcessMessageRunsToolCallRoundTrip(t *testing.T) {
	rig := newTestRig(t, []string{
		"```tool_call\n{\"name\":\"profile_read\",\"params\":{}}\n```",
		"Your profile is up to date.",
	})
	sub, cancel := rig.bus.Subscribe(rig.session.SessionID, 0)
	defer cancel()

	if err := rig.orch.ProcessMessage(context.Background(), rig.user, rig.session.SessionID, "what's my profile?"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	events := drainEvents(sub, time.Second)
	var sawToolCall, sawToolResult bool
	for _, e := range events {
		switch e.Type {
		case models.EventToolCall:
			sawToolCall = true
		case models.EventToolResult:
			sawToolResult = true
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Fatalf("expected both tool_call and tool_result events, got %+v", events)
	}
	last := events[len(events)-1]
	if last.Type != models.EventResponse || last.Payload["text"] != "Your profile is up to date." {
		t.Fatalf("final event = %+v, want the follow-up response", last)
	}
}

func TestProcessMessageUnknownSessionEmitsError(t *testing.T) {
	rig := newTestRig(t, []string{"unused"})
	sub, cancel := rig.bus.Subscribe("does-not-exist", 0)
	defer cancel()

	err := rig.orch.ProcessMessage(context.Background(), rig.user, "does-not-exist", "hi")
	if err == nil {
		t.Fatal("expected an error for an unknown session")
	}

	events := drainEvents(sub, time.Second)
	if len(events) == 0 || events[len(events)-1].Type != models.EventError {
		t.Fatalf("expected a terminal error event, got %+v", events)
	}
}

func TestCreateSessionDeniesWithoutPermission(t *testing.T) {
	rig := newTestRig(t, nil)
	noPerm := &models.UserContext{UserID: "u2"}

	_, err := rig.orch.CreateSession(context.Background(), noPerm, models.AgentSecurity, models.ModeChat, models.PrivacyPrivate)
	if err == nil {
		t.Fatal("expected permission denial for an agent kind requiring ai:admin")
	}
}
