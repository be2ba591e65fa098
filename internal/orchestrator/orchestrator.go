// Package orchestrator implements the Orchestrator façade: the single
// entry point every client transport calls through, composing the
// gate, session manager, router, model engine, tool dispatcher, event
// bus, and recovery coordinator into the five public operations named
// in spec.md §4.9.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/gate"
	"github.com/haasonsaas/nexus/internal/modelengine"
	"github.com/haasonsaas/nexus/internal/multiagent"
	"github.com/haasonsaas/nexus/internal/recovery"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tooldispatch"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// Config tunes the façade's model-selection and tool-loop behavior; the
// process-wide components it composes (gate, sessions, router, engine,
// dispatcher, bus, recovery) are constructed and injected by the
// caller, per spec.md §9's "construct explicitly at startup" note.
type Config struct {
	// DefaultModel names the pool the Model Engine should use when an
	// agent kind has no entry in AgentModels.
	DefaultModel string

	// AgentModels overrides DefaultModel per agent kind.
	AgentModels map[models.AgentKind]string

	// MaxToolRounds bounds how many tool-call round trips process_message
	// will take before giving up with an Internal error. Default 3.
	MaxToolRounds int

	// HistoryLimit bounds how many prior messages are folded into the
	// rendered prompt. Default 20.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 3
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return c
}

// Orchestrator composes every orchestrator-core component behind the
// five operations spec.md §4.9 names. It holds no mutable state of its
// own beyond its injected collaborators; all session/quota/breaker
// state lives in the components it calls.
type Orchestrator struct {
	gate       *gate.Gate
	sessionMgr *sessions.Manager
	store      sessions.Store
	router     *multiagent.Router
	engine     *modelengine.Engine
	dispatcher *tooldispatch.Dispatcher
	bus        *eventbus.Bus
	recovery   *recovery.Coordinator
	stt        SpeechToText
	tts        TextToSpeech
	cfg        Config
	logger     *slog.Logger
}

// New constructs an Orchestrator. stt and tts may be nil — process_voice
// then fails with ValidationError rather than silently degrading.
func New(
	g *gate.Gate,
	sessionMgr *sessions.Manager,
	store sessions.Store,
	router *multiagent.Router,
	engine *modelengine.Engine,
	dispatcher *tooldispatch.Dispatcher,
	bus *eventbus.Bus,
	rec *recovery.Coordinator,
	stt SpeechToText,
	tts TextToSpeech,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gate:       g,
		sessionMgr: sessionMgr,
		store:      store,
		router:     router,
		engine:     engine,
		dispatcher: dispatcher,
		bus:        bus,
		recovery:   rec,
		stt:        stt,
		tts:        tts,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// resolveOperation maps an agent kind and session mode onto the gate's
// guarded Operation, per spec.md §4.3's permission table.
func resolveOperation(kind models.AgentKind, mode models.SessionMode) gate.Operation {
	switch {
	case mode == models.ModeVoice:
		return gate.OpVoice
	case kind == models.AgentFamily:
		return gate.OpFamilyManagement
	case kind == models.AgentSecurity:
		return gate.OpAdmin
	default:
		return gate.OpBasicChat
	}
}

// CreateSession is the gated front door onto sessions.Manager.Create.
func (o *Orchestrator) CreateSession(ctx context.Context, uctx *models.UserContext, kind models.AgentKind, mode models.SessionMode, privacy models.PrivacyMode) (*models.Session, error) {
	op := resolveOperation(kind, mode)
	if err := o.gate.Check(ctx, gate.Request{User: uctx, Operation: op, AgentKind: kind}); err != nil {
		return nil, err
	}
	return o.sessionMgr.Create(ctx, uctx, kind, mode, privacy)
}

// EndSession terminates a session. Ownership is enforced by
// sessions.Manager.End itself, so no separate gate check is needed here
// — ending your own session never requires an elevated permission tag.
func (o *Orchestrator) EndSession(ctx context.Context, uctx *models.UserContext, sessionID string) error {
	return o.sessionMgr.End(ctx, sessionID, uctx, "client_requested")
}

// Subscribe attaches a transport-facing subscriber to a session's event
// stream, replaying buffered events since lastEventID.
func (o *Orchestrator) Subscribe(sessionID string, lastEventID uint64) (*eventbus.Subscriber, func()) {
	return o.bus.Subscribe(sessionID, lastEventID)
}

// ProcessMessage runs the full composition spec.md §4.9 describes: gate
// → session resolve → router → model generate → tool dispatch loop →
// event emission → conversation append. It never returns the response
// text directly — the caller receives it by subscribing to the
// session's event stream before or concurrently with this call; the
// returned error is for logging/metrics, not client display (the
// client-visible form is always the emitted `error` event).
func (o *Orchestrator) ProcessMessage(ctx context.Context, uctx *models.UserContext, sessionID, content string) error {
	session, err := o.sessionMgr.Resume(ctx, sessionID, uctx)
	if err != nil {
		return o.recoverOrFail(ctx, uctx, sessionID, "", err)
	}

	def, err := o.router.Route(ctx, session.AgentKind, content)
	if err != nil {
		o.emitError(sessionID, session.AgentKind, err)
		return err
	}

	op := resolveOperation(def.Kind, session.Mode)
	if err := o.gate.Check(ctx, gate.Request{User: uctx, Operation: op, AgentKind: def.Kind, Session: session}); err != nil {
		o.emitError(sessionID, def.Kind, err)
		return err
	}

	if err := o.store.AppendMessage(ctx, session.ConversationID, &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}); err != nil {
		o.logger.Warn("process_message: append user message failed", "session_id", sessionID, "error", err)
	}

	for round := 0; round < o.cfg.MaxToolRounds; round++ {
		prompt, herr := o.renderPrompt(ctx, session.ConversationID)
		if herr != nil {
			o.emitError(sessionID, def.Kind, herr)
			return herr
		}

		req := modelengine.CompletionRequest{Model: o.modelFor(def.Kind), Prompt: prompt, System: def.Description}
		stream, err := o.engine.Generate(ctx, req)
		if err != nil {
			stream, err = o.recoverGenerate(ctx, uctx, sessionID, def.Kind, req, err)
			if err != nil {
				return err
			}
			if stream == nil {
				// Recovery resolved the situation without producing a
				// new stream (e.g. CommunicationRecovery asked the
				// client to reconnect); stop this round cleanly.
				return nil
			}
		}

		full, streamErr := o.drainStream(sessionID, def.Kind, stream)
		if streamErr != nil {
			o.emitError(sessionID, def.Kind, streamErr)
			return streamErr
		}

		toolName, params, hasTool := extractToolCall(full)
		o.appendMessage(ctx, session.ConversationID, models.RoleAssistant, full)
		if !hasTool {
			o.bus.Emit(sessionID, models.Event{Type: models.EventResponse, AgentKind: def.Kind, Payload: map[string]any{"text": full}})
			return nil
		}

		o.bus.Emit(sessionID, models.Event{Type: models.EventToolCall, AgentKind: def.Kind, Payload: map[string]any{"tool_name": toolName}})
		result, terr := o.invokeTool(ctx, uctx, sessionID, def.Kind, toolName, params)
		if terr != nil {
			o.emitError(sessionID, def.Kind, terr)
			return terr
		}
		o.bus.Emit(sessionID, models.Event{Type: models.EventToolResult, AgentKind: def.Kind, Payload: map[string]any{"tool_name": toolName, "result": result}})
		o.appendMessage(ctx, session.ConversationID, models.RoleTool, fmt.Sprintf("%s: %s", toolName, result))
	}

	exhausted := orcherr.New(orcherr.KindInternal, "orchestrator.process_message",
		"the assistant could not produce a final response within the tool-call budget")
	o.emitError(sessionID, def.Kind, exhausted)
	return exhausted
}

// ProcessVoice delegates transcription to the configured SpeechToText,
// runs the resulting text through ProcessMessage, then synthesizes the
// final assistant turn back to audio — spec.md §4.9's "delegates STT to
// the Voice agent, then process_message, then TTS."
func (o *Orchestrator) ProcessVoice(ctx context.Context, uctx *models.UserContext, sessionID string, audio []byte) error {
	if o.stt == nil {
		err := orcherr.New(orcherr.KindValidationError, "orchestrator.process_voice", "voice is not configured on this deployment")
		o.emitError(sessionID, models.AgentVoice, err)
		return err
	}
	text, err := o.stt.Transcribe(ctx, audio)
	if err != nil {
		wrapped := orcherr.Wrap(orcherr.KindInternal, "orchestrator.process_voice", "speech recognition failed", err)
		o.emitError(sessionID, models.AgentVoice, wrapped)
		return wrapped
	}
	o.bus.Emit(sessionID, models.Event{Type: models.EventSTT, AgentKind: models.AgentVoice, Payload: map[string]any{"text": text}})

	if err := o.ProcessMessage(ctx, uctx, sessionID, text); err != nil {
		return err
	}

	if o.tts == nil {
		return nil
	}
	session, err := o.sessionMgr.Resume(ctx, sessionID, uctx)
	if err != nil {
		return nil // the text response already landed; TTS is best-effort
	}
	history, err := o.store.GetHistory(ctx, session.ConversationID, 1)
	if err != nil || len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant {
		return nil
	}
	audioOut, terr := o.tts.Synthesize(ctx, last.Content)
	if terr != nil {
		o.logger.Warn("process_voice: tts synthesis failed", "session_id", sessionID, "error", terr)
		return nil
	}
	o.bus.Emit(sessionID, models.Event{Type: models.EventTTS, AgentKind: models.AgentVoice, Payload: map[string]any{"audio_bytes": len(audioOut)}})
	return nil
}

// drainStream forwards every chunk as a token event and assembles the
// full text, per spec.md §5's "token events preceding a tool_call are
// guaranteed flushed before the tool call is dispatched" — emission
// happens synchronously in this loop, so by the time extractToolCall
// runs, every token event is already on the bus.
func (o *Orchestrator) drainStream(sessionID string, kind models.AgentKind, stream <-chan modelengine.Chunk) (string, error) {
	var text strings.Builder
	var streamErr error
	for c := range stream {
		if c.Err != nil {
			streamErr = c.Err
			continue
		}
		if c.Text == "" {
			continue
		}
		text.WriteString(c.Text)
		o.bus.Emit(sessionID, models.Event{Type: models.EventToken, AgentKind: kind, Payload: map[string]any{"text": c.Text}})
	}
	return text.String(), streamErr
}

func (o *Orchestrator) invokeTool(ctx context.Context, uctx *models.UserContext, sessionID string, kind models.AgentKind, toolName string, params map[string]any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindInvalidToolParameters, "orchestrator.invoke_tool", "tool parameters could not be encoded", err)
	}
	return o.dispatcher.Dispatch(ctx, tooldispatch.Request{
		ToolName:  toolName,
		Params:    raw,
		AgentKind: kind,
		UserID:    uctx.UserID,
		SessionID: sessionID,
		IsAdmin:   uctx.HasPermission("ai:admin"),
	})
}

// recoverGenerate hands a failed Generate call to the Recovery
// Coordinator. A nil, nil return means the coordinator resolved the
// situation (e.g. instructed a reconnect) without producing a new
// stream; the caller should stop this round without treating it as an
// error.
func (o *Orchestrator) recoverGenerate(ctx context.Context, uctx *models.UserContext, sessionID string, kind models.AgentKind, req modelengine.CompletionRequest, cause error) (<-chan modelengine.Chunk, error) {
	if o.recovery == nil || !orcherr.Recoverable(cause) {
		o.emitError(sessionID, kind, cause)
		return nil, cause
	}
	outcome, err := o.recovery.Recover(ctx, recovery.Situation{Cause: cause, SessionID: sessionID, UserCtx: uctx, Request: req})
	if err != nil {
		// recovery.Coordinator already terminated the session and
		// tagged the error RecoveryExhausted; still surface it to the
		// client as this round's terminal error event.
		o.emitError(sessionID, kind, err)
		return nil, err
	}
	if outcome.Stream != nil {
		return outcome.Stream, nil
	}
	if outcome.Reconnect {
		o.bus.Emit(sessionID, models.Event{Type: models.EventWarning, AgentKind: kind, Payload: map[string]any{"reason": "reconnect_required"}})
		return nil, nil
	}
	// SessionRecovery alone succeeded but produced no stream: the
	// session is valid again but there is nothing further to stream
	// this round.
	return nil, nil
}

// recoverOrFail is the same pattern as recoverGenerate for failures that
// happen before a model call exists yet (session resolution).
func (o *Orchestrator) recoverOrFail(ctx context.Context, uctx *models.UserContext, sessionID string, kind models.AgentKind, cause error) error {
	if o.recovery == nil || !orcherr.Recoverable(cause) {
		o.emitError(sessionID, kind, cause)
		return cause
	}
	if _, err := o.recovery.Recover(ctx, recovery.Situation{Cause: cause, SessionID: sessionID, UserCtx: uctx}); err != nil {
		o.emitError(sessionID, kind, err)
		return err
	}
	return nil
}

func (o *Orchestrator) renderPrompt(ctx context.Context, conversationID string) (string, error) {
	history, err := o.store.GetHistory(ctx, conversationID, o.cfg.HistoryLimit)
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindInternal, "orchestrator.render_prompt", "could not load conversation history", err)
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String(), nil
}

func (o *Orchestrator) appendMessage(ctx context.Context, conversationID string, role models.Role, content string) {
	err := o.store.AppendMessage(ctx, conversationID, &models.Message{
		ID:        uuid.NewString(),
		Direction: models.DirectionOutbound,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		o.logger.Warn("orchestrator: append message failed", "conversation_id", conversationID, "role", role, "error", err)
	}
}

func (o *Orchestrator) modelFor(kind models.AgentKind) string {
	if m, ok := o.cfg.AgentModels[kind]; ok && m != "" {
		return m
	}
	return o.cfg.DefaultModel
}

// emitError publishes the canonical error event shape spec.md §7
// requires: kind, severity, user_message, recovery_hint. Any error that
// isn't already a tagged *orcherr.Error is treated as Internal/critical
// — an untagged error is always the most severe case.
func (o *Orchestrator) emitError(sessionID string, kind models.AgentKind, err error) {
	var oe *orcherr.Error
	if !errors.As(err, &oe) {
		oe = orcherr.New(orcherr.KindInternal, "orchestrator", "something went wrong")
	}
	o.bus.Emit(sessionID, models.Event{
		Type:      models.EventError,
		AgentKind: kind,
		Payload: map[string]any{
			"kind":          string(oe.Kind),
			"severity":      string(oe.Severity),
			"user_message":  oe.UserMessage,
			"recovery_hint": oe.RecoveryHint,
		},
	})
}
