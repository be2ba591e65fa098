package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// ErrSessionNotFound is returned by a Store when a session id is unknown.
var ErrSessionNotFound = errors.New("sessions: not found")

// EventEmitter is the subset of eventbus.Bus the manager needs, kept as
// an interface here so sessions does not import eventbus directly
// (sessions and eventbus are independent leaves composed by the
// orchestrator façade).
type EventEmitter interface {
	Emit(sessionID string, e models.Event) models.Event
}

// RetentionPolicy resolves how long conversation history survives past
// session end, keyed by PrivacyMode — spec.md §9's open question on
// privacy-mode/retention is resolved as this explicit table.
type RetentionPolicy map[models.PrivacyMode]time.Duration

// DefaultRetentionPolicy archives everything except ephemeral sessions,
// which are purged immediately on end.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		models.PrivacyPublic:       30 * 24 * time.Hour,
		models.PrivacyPrivate:      30 * 24 * time.Hour,
		models.PrivacyFamilyShared: 30 * 24 * time.Hour,
		models.PrivacyEncrypted:    90 * 24 * time.Hour,
		models.PrivacyEphemeral:    0, // purge on end
	}
}

// Config configures a Manager; zero values fall back to spec.md's
// defaults.
type Config struct {
	MaxConcurrentPerUser int // default 5
	IdleTTL              time.Duration
	MaxTTL                time.Duration
	Retention            RetentionPolicy
}

// Manager implements the Session Manager component: create, resume,
// touch, end, and garbage_collect, enforcing the active/paused/expired/
// terminated state machine from spec.md §4.4.
type Manager struct {
	store     Store
	expiry    *ExpiryPolicy
	events    EventEmitter
	maxPerUser int
	retention RetentionPolicy
	logger    *slog.Logger
}

// NewManager constructs a Manager over store, emitting lifecycle events
// on bus (nil is valid — events are simply not emitted, useful in tests).
func NewManager(store Store, bus EventEmitter, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrentPerUser <= 0 {
		cfg.MaxConcurrentPerUser = 5
	}
	if cfg.Retention == nil {
		cfg.Retention = DefaultRetentionPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		expiry:     NewExpiryPolicy(cfg.IdleTTL, cfg.MaxTTL),
		events:     bus,
		maxPerUser: cfg.MaxConcurrentPerUser,
		retention:  cfg.Retention,
		logger:     logger,
	}
}

// Create allocates a new session, rejecting with TooManySessions if the
// user already has max_concurrent_sessions active. Persistence failures
// here are fatal to the request, per spec.md §4.4's failure semantics.
func (m *Manager) Create(ctx context.Context, uctx *models.UserContext, kind models.AgentKind, mode models.SessionMode, privacy models.PrivacyMode) (*models.Session, error) {
	active, err := m.store.ActiveSessionIDs(ctx, uctx.UserID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "sessions.create", "could not create session", err)
	}
	if len(active) >= m.maxPerUser {
		return nil, orcherr.New(orcherr.KindTooManySessions, "sessions.create",
			"you have too many active sessions").WithRecoveryHint("end an existing session and retry")
	}

	now := time.Now()
	token, err := randomToken(32)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "sessions.create", "could not create session", err)
	}

	s := &models.Session{
		SessionID:      uuid.NewString(),
		UserID:         uctx.UserID,
		AgentKind:      kind,
		Mode:           mode,
		Status:         models.StatusActive,
		PrivacyMode:    privacy,
		ConversationID: uuid.NewString(),
		SecurityToken:  token,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.ExpiresAt = m.expiry.InitialExpiry(now)

	if err := m.store.Create(ctx, s); err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "sessions.create", "could not create session", err)
	}
	m.emit(s.SessionID, models.EventSessionStart, models.AgentKind(kind), nil)
	return s, nil
}

// Resume validates ownership and liveness, then updates last_activity_at.
func (m *Manager) Resume(ctx context.Context, sessionID string, uctx *models.UserContext) (*models.Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, orcherr.New(orcherr.KindSessionNotFound, "sessions.resume", "session not found")
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "sessions.resume", "could not resume session", err)
	}
	if s.UserID != uctx.UserID {
		return nil, orcherr.New(orcherr.KindSessionNotFound, "sessions.resume", "session not found")
	}
	if m.expiry.IsExpired(s) || s.Status == models.StatusExpired || s.Status == models.StatusTerminated {
		return nil, orcherr.New(orcherr.KindSessionExpired, "sessions.resume", "your session has expired").
			WithRecoveryHint("start a new session")
	}
	s.LastActivityAt = time.Now()
	if err := m.store.Update(ctx, s); err != nil {
		m.logger.Warn("session resume update failed", "session_id", sessionID, "error", err)
	}
	return s, nil
}

// Touch extends last_activity_at and expires_at (bounded by max_ttl).
// Failures here log a warning but never interrupt the in-flight message.
func (m *Manager) Touch(ctx context.Context, sessionID string) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.logger.Warn("touch: session lookup failed", "session_id", sessionID, "error", err)
		return
	}
	s.LastActivityAt = time.Now()
	s.ExpiresAt = m.expiry.NextExpiry(s.CreatedAt)
	if err := m.store.Update(ctx, s); err != nil {
		m.logger.Warn("touch: session update failed", "session_id", sessionID, "error", err)
	}
}

// Pause transitions an active session to paused.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	return m.transition(ctx, sessionID, models.StatusActive, models.StatusPaused)
}

// Unpause transitions a paused session back to active.
func (m *Manager) Unpause(ctx context.Context, sessionID string) error {
	return m.transition(ctx, sessionID, models.StatusPaused, models.StatusActive)
}

func (m *Manager) transition(ctx context.Context, sessionID string, from, to models.SessionStatus) error {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return orcherr.New(orcherr.KindSessionNotFound, "sessions.transition", "session not found")
	}
	if s.Status != from {
		return orcherr.New(orcherr.KindValidationError, "sessions.transition", "session is not in the expected state")
	}
	s.Status = to
	return m.store.Update(ctx, s)
}

// End writes a terminal status, emits session_end, and applies the
// retention policy for the session's privacy mode. End failures are
// retried in the background by the caller (orchestrator); End itself
// returns the error for that retry loop to act on.
func (m *Manager) End(ctx context.Context, sessionID string, uctx *models.UserContext, reason string) error {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return orcherr.Wrap(orcherr.KindInternal, "sessions.end", "could not end session", err)
	}
	if uctx != nil && s.UserID != uctx.UserID {
		return orcherr.New(orcherr.KindSessionNotFound, "sessions.end", "session not found")
	}
	s.Status = models.StatusTerminated
	if err := m.store.Update(ctx, s); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "sessions.end", "could not end session", err)
	}
	m.emit(sessionID, models.EventSessionEnd, s.AgentKind, map[string]any{"reason": reason})

	if ttl, ok := m.retention[s.PrivacyMode]; ok && ttl == 0 {
		_ = m.store.Delete(ctx, sessionID)
	}
	return nil
}

// GarbageCollect scans the session index for expires_at < now and
// terminates each, per spec.md §4.4.
func (m *Manager) GarbageCollect(ctx context.Context) (terminated int, err error) {
	ids, err := m.store.AllSessionIDs(ctx)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindInternal, "sessions.gc", "garbage collection failed", err)
	}
	for _, id := range ids {
		s, err := m.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if s.Status == models.StatusTerminated || s.Status == models.StatusExpired {
			continue
		}
		if m.expiry.IsExpired(s) {
			s.Status = models.StatusExpired
			if err := m.store.Update(ctx, s); err == nil {
				m.emit(id, models.EventSessionEnd, s.AgentKind, map[string]any{"reason": "expired"})
				terminated++
			}
		}
	}
	return terminated, nil
}

// SwitchAgent records an agent_switch in the session's history and emits
// the corresponding event, per spec.md §4.7.
func (m *Manager) SwitchAgent(ctx context.Context, sessionID string, to models.AgentKind, reason string) (*models.Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, orcherr.New(orcherr.KindSessionNotFound, "sessions.switch_agent", "session not found")
	}
	s.AgentHistory = append(s.AgentHistory, models.AgentHistoryEntry{
		AgentKind:  to,
		SwitchedAt: time.Now(),
		Reason:     reason,
	})
	s.AgentKind = to
	if err := m.store.Update(ctx, s); err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "sessions.switch_agent", "could not switch agent", err)
	}
	m.emit(sessionID, models.EventAgentSwitch, to, map[string]any{"reason": reason})
	return s, nil
}

func (m *Manager) emit(sessionID string, t models.EventType, kind models.AgentKind, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Emit(sessionID, models.Event{Type: t, AgentKind: kind, Payload: payload})
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
