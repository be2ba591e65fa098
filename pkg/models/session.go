package models

import "time"

// AgentKind is one of the six specialized roles distinguished by
// capability set, tool allowlist, and required permission.
type AgentKind string

const (
	AgentFamily    AgentKind = "family"
	AgentPersonal  AgentKind = "personal"
	AgentWorkspace AgentKind = "workspace"
	AgentCommerce  AgentKind = "commerce"
	AgentSecurity  AgentKind = "security"
	AgentVoice     AgentKind = "voice"
)

// SessionMode distinguishes a text chat session from a voice session.
type SessionMode string

const (
	ModeChat  SessionMode = "chat"
	ModeVoice SessionMode = "voice"
)

// SessionStatus is the session state-machine variant.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusPaused     SessionStatus = "paused"
	StatusExpired    SessionStatus = "expired"
	StatusTerminated SessionStatus = "terminated"
)

// PrivacyMode governs visibility, retention, and encryption semantics of
// a session's conversation content.
type PrivacyMode string

const (
	PrivacyPublic        PrivacyMode = "public"
	PrivacyPrivate       PrivacyMode = "private"
	PrivacyFamilyShared  PrivacyMode = "family_shared"
	PrivacyEncrypted     PrivacyMode = "encrypted"
	PrivacyEphemeral     PrivacyMode = "ephemeral"
)

// Session is a bounded-lifetime conversational context tying a user to an
// agent and a conversation history. Mutated only by the Session Manager's
// operations; never copied with a live SecurityToken into logs.
type Session struct {
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id"`
	AgentKind      AgentKind         `json:"agent_kind"`
	Mode           SessionMode       `json:"mode"`
	Status         SessionStatus     `json:"status"`
	PrivacyMode    PrivacyMode       `json:"privacy_mode"`
	ConversationID string            `json:"conversation_id"`
	SecurityToken  string            `json:"-"` // never serialized into logs or audit records
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	AgentHistory   []AgentHistoryEntry `json:"agent_history,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// AgentHistoryEntry records one agent_switch transition within a session,
// supplementing spec.md's bare Session with an auditable switch trail.
type AgentHistoryEntry struct {
	AgentKind AgentKind `json:"agent_kind"`
	SwitchedAt time.Time `json:"switched_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a caller without
// exposing the original's backing slices/maps to mutation.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.AgentHistory != nil {
		out.AgentHistory = append([]AgentHistoryEntry(nil), s.AgentHistory...)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// UserContext is the stable identity carrier passed in by the external
// auth layer. Immutable within a request; its lifetime spans one request,
// or the lifetime of a session for a streaming interaction.
type UserContext struct {
	UserID      string
	Roles       map[string]struct{}
	Permissions map[string]struct{}
	Memberships map[string]struct{} // opaque family/workspace ids
}

// HasPermission reports whether the user carries the given permission tag
// directly (role-derived permissions are folded in by the caller before
// constructing UserContext, per spec.md's "or role-mapped permissions").
func (u *UserContext) HasPermission(tag string) bool {
	if u == nil {
		return false
	}
	_, ok := u.Permissions[tag]
	return ok
}

// IsMember reports membership in an opaque family/workspace id.
func (u *UserContext) IsMember(id string) bool {
	if u == nil {
		return false
	}
	_, ok := u.Memberships[id]
	return ok
}

// EventType enumerates the typed events produced by the orchestrator core
// and fanned out over the Event Bus.
type EventType string

const (
	EventToken        EventType = "token"
	EventResponse     EventType = "response"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventTTS          EventType = "tts"
	EventSTT          EventType = "stt"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventAgentSwitch  EventType = "agent_switch"
	EventThinking     EventType = "thinking"
	EventTyping       EventType = "typing"
	EventWaiting      EventType = "waiting"
	EventError        EventType = "error"
	EventWarning      EventType = "warning"
	EventGap          EventType = "gap" // synthetic marker for an evicted replay range
)

// Event is a value type: safe to share across subscribers without
// mutation after emit. EventID is monotonically increasing per session.
type Event struct {
	EventID   uint64         `json:"event_id"`
	SessionID string         `json:"session_id"`
	AgentKind AgentKind      `json:"agent_kind,omitempty"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorPayload is the canonical shape of an EventError's Payload, matching
// spec.md §7's user-visible error event fields.
type ErrorPayload struct {
	Kind         string `json:"kind"`
	Severity     string `json:"severity"`
	UserMessage  string `json:"user_message"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

// ModelClientState is the health-tracked lifecycle of a pooled inference
// connection.
type ModelClientState string

const (
	ClientCold     ModelClientState = "cold"
	ClientWarming  ModelClientState = "warming"
	ClientReady    ModelClientState = "ready"
	ClientDegraded ModelClientState = "degraded"
	ClientDown     ModelClientState = "down"
)

// ModelClientInfo is a read-only snapshot of a ModelClient's health,
// exposed for observability without handing out the live, lock-guarded
// struct itself.
type ModelClientInfo struct {
	Endpoint      string
	ModelName     string
	State         ModelClientState
	InflightCount int64
	LatencyEWMA   time.Duration
	FailureCount  int64
}

// QuotaCounters is a read-only snapshot of a user's hourly/daily counters.
type QuotaCounters struct {
	UserID       string
	Hourly       int64
	HourlyLimit  int64
	HourlyResetAt time.Time
	Daily        int64
	DailyLimit   int64
	DailyResetAt time.Time
}

// ToolOutcome is the terminal result recorded for a tool invocation.
type ToolOutcome string

const (
	ToolOutcomeOK      ToolOutcome = "ok"
	ToolOutcomeDenied  ToolOutcome = "denied"
	ToolOutcomeError   ToolOutcome = "error"
	ToolOutcomeTimeout ToolOutcome = "timeout"
)

// ToolInvocation is an append-only audit record: emitted once, never
// mutated, per spec.md §3.
type ToolInvocation struct {
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	AgentKind   AgentKind      `json:"agent_kind"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Outcome     ToolOutcome    `json:"outcome"`
	DurationMS  int64          `json:"duration_ms"`
	PolicyReason string        `json:"policy_reason,omitempty"`
}
