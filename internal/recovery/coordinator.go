// Package recovery implements the Recovery Coordinator: the strategy
// chain invoked on any recoverable orchestrator error, per spec.md §4.8.
// Grounded on internal/agent/failover.go's bounded-attempt,
// exponential-backoff retry loop, generalized from "retry the same
// provider call" to "try session re-resolution, then model fallback,
// then client reconnect, in order, up to a capped number of rounds."
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/modelengine"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// Config controls the coordinator's attempt budget and backoff, mirroring
// FailoverConfig's MaxRetries/RetryBackoff/MaxRetryBackoff shape.
type Config struct {
	MaxAttempts     int           // default 3, per spec.md §4.8
	InitialBackoff  time.Duration // default 200ms
	MaxBackoff      time.Duration // default 5s
	AttemptTimeout  time.Duration // default 10s, bounds a single strategy's Recover call
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	return c
}

// Situation describes the failed operation the coordinator is trying to
// recover, and carries everything a strategy needs to attempt its fix.
type Situation struct {
	Cause     error // the RecoverableError that triggered recovery
	SessionID string
	UserCtx   *models.UserContext
	Request   modelengine.CompletionRequest
	LastEventID uint64 // for CommunicationRecovery's replay
}

// Outcome is what a successful strategy produces: a resumed session, a
// regenerated model stream, or instructions to reconnect, depending on
// which strategy handled the Situation.
type Outcome struct {
	Strategy  string
	Session   *models.Session
	Stream    <-chan modelengine.Chunk
	Reconnect bool
	Replay    []models.Event
}

// Strategy is one fix the coordinator may try. A non-nil error means
// this strategy could not resolve the Situation; the coordinator moves
// to the next one.
type Strategy interface {
	Name() string
	Recover(ctx context.Context, s Situation) (*Outcome, error)
}

// Coordinator tries each configured Strategy in order, retrying the
// whole chain up to MaxAttempts times with exponential backoff between
// rounds, per spec.md §4.8's "each recovery attempt is itself subject
// to timeout and max-attempt caps."
type Coordinator struct {
	strategies []Strategy
	cfg        Config
	sessions   *sessions.Manager
	logger     *slog.Logger
}

// New builds a Coordinator with the canonical three-strategy chain:
// SessionRecovery, then ModelFallback, then CommunicationRecovery.
// sessionMgr is used both by SessionRecoveryStrategy and to terminate
// the session on exhaustion.
func New(sessionMgr *sessions.Manager, engine *modelengine.Engine, bus *eventbus.Bus, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		strategies: []Strategy{
			&SessionRecoveryStrategy{sessions: sessionMgr},
			&ModelFallbackStrategy{engine: engine},
			&CommunicationRecoveryStrategy{bus: bus},
		},
		cfg:      cfg.withDefaults(),
		sessions: sessionMgr,
		logger:   logger,
	}
}

// Recover runs the strategy chain against s, retrying up to
// cfg.MaxAttempts rounds. On exhaustion it terminates the session (if
// one is named) and returns a RecoveryExhausted error, per spec.md
// §4.8's "recovery failure ... terminates the session."
func (c *Coordinator) Recover(ctx context.Context, s Situation) (*Outcome, error) {
	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		for _, strat := range c.strategies {
			octx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
			outcome, err := strat.Recover(octx, s)
			cancel()
			if err == nil {
				c.logger.Info("recovery succeeded", "strategy", strat.Name(), "attempt", attempt, "session_id", s.SessionID)
				return outcome, nil
			}
			c.logger.Warn("recovery strategy failed", "strategy", strat.Name(), "attempt", attempt, "session_id", s.SessionID, "error", err)
			lastErr = err
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = c.cfg.MaxAttempts
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	if c.sessions != nil && s.SessionID != "" {
		if err := c.sessions.End(ctx, s.SessionID, s.UserCtx, "recovery_exhausted"); err != nil {
			c.logger.Warn("recovery: failed to terminate session after exhaustion", "session_id", s.SessionID, "error", err)
		}
	}
	return nil, orcherr.Wrap(orcherr.KindRecoveryExhausted, "recovery.coordinator",
		"we couldn't recover your session and it has been ended", lastErr).
		WithRecoveryHint("start a new session")
}

// SessionRecoveryStrategy re-reads the session from persistence,
// validating it is still live, and returns the refreshed copy so the
// orchestrator can restore its in-memory view. Grounded on
// sessions.Manager.Resume, which already performs the
// ownership/liveness check this strategy needs.
type SessionRecoveryStrategy struct {
	sessions *sessions.Manager
}

func (s *SessionRecoveryStrategy) Name() string { return "session_recovery" }

func (s *SessionRecoveryStrategy) Recover(ctx context.Context, sit Situation) (*Outcome, error) {
	if s.sessions == nil || sit.SessionID == "" {
		return nil, orcherr.New(orcherr.KindInternal, "recovery.session", "no session manager configured")
	}
	session, err := s.sessions.Resume(ctx, sit.SessionID, sit.UserCtx)
	if err != nil {
		return nil, err
	}
	return &Outcome{Strategy: s.Name(), Session: session}, nil
}

// ModelFallbackStrategy re-invokes the Model Engine, which already walks
// its configured fallback chain (next model, then cached_response, then
// canned_degraded_message) internally — see
// internal/modelengine/engine.go's Generate. Re-running it here is the
// "move to the next model" step spec.md §4.8 describes; the chain walk
// itself lives in the engine so it isn't duplicated.
type ModelFallbackStrategy struct {
	engine *modelengine.Engine
}

func (m *ModelFallbackStrategy) Name() string { return "model_fallback" }

func (m *ModelFallbackStrategy) Recover(ctx context.Context, sit Situation) (*Outcome, error) {
	if m.engine == nil {
		return nil, orcherr.New(orcherr.KindInternal, "recovery.model_fallback", "no model engine configured")
	}
	stream, err := m.engine.Generate(ctx, sit.Request)
	if err != nil {
		return nil, err
	}
	return &Outcome{Strategy: m.Name(), Stream: stream}, nil
}

// CommunicationRecoveryStrategy handles voice/stream loss: it instructs
// the client to reconnect and hands back the buffered events since
// LastEventID so the caller can replay them on the new subscription,
// grounded on eventbus.Bus.Subscribe's lastEventID replay parameter.
type CommunicationRecoveryStrategy struct {
	bus *eventbus.Bus
}

func (c *CommunicationRecoveryStrategy) Name() string { return "communication_recovery" }

func (c *CommunicationRecoveryStrategy) Recover(ctx context.Context, sit Situation) (*Outcome, error) {
	if c.bus == nil || sit.SessionID == "" {
		return nil, orcherr.New(orcherr.KindInternal, "recovery.communication", "no event bus configured")
	}
	sub, cancel := c.bus.Subscribe(sit.SessionID, sit.LastEventID)
	defer cancel()

	var replay []models.Event
drain:
	for {
		select {
		case e := <-sub.Events():
			replay = append(replay, e)
		default:
			break drain
		}
	}
	return &Outcome{Strategy: c.Name(), Reconnect: true, Replay: replay}, nil
}
