package tooldispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

const (
	defaultToolTimeout = 30 * time.Second
	bulkheadName       = "tool_execution"
	bulkheadWait       = 5 * time.Second
)

// Executor is the external tool-implementation collaborator: the thing
// that actually runs a tool call once the dispatcher has cleared it.
// Implementations live outside this package (shell exec, HTTP calls to
// first-party services, etc.).
type Executor interface {
	Execute(ctx context.Context, toolName string, params json.RawMessage) (string, error)
}

// AllowlistSource answers which tools an agent kind may invoke. The
// Agent Registry is the concrete implementation; kept as an interface
// so tooldispatch does not import internal/multiagent directly.
type AllowlistSource interface {
	ToolAllowlist(kind models.AgentKind) map[string]struct{}
}

// AuditSink records a completed tool invocation. internal/audit provides
// the concrete implementation.
type AuditSink interface {
	RecordToolInvocation(ctx context.Context, inv models.ToolInvocation)
}

// Request describes one call a session wants to make.
type Request struct {
	ToolName  string
	Params    json.RawMessage
	AgentKind models.AgentKind
	UserID    string
	SessionID string
	IsAdmin   bool // whether the calling user carries ai:admin
}

// Dispatcher implements the six-step policy pipeline that guards every
// tool invocation: signature validation, allowlist intersection,
// dangerous-tool admin check, injection scan, bulkhead-bounded
// execution with a timeout, and audit — grounded on
// internal/tools/policy's allowlist/profile concept and
// internal/agent/failover.go's retry-under-timeout control flow,
// simplified here to a single bounded attempt since a tool call is not
// assumed idempotent.
type Dispatcher struct {
	specs     map[string]ToolSpec
	schemas   *schemaRegistry
	scanner   *scanner
	allowlist AllowlistSource
	executor  Executor
	bulkheads *resilience.Pool
	audit     AuditSink
}

// NewDispatcher constructs a Dispatcher over the given tool catalogue.
func NewDispatcher(specs []ToolSpec, allowlist AllowlistSource, executor Executor, bulkheads *resilience.Pool, audit AuditSink) *Dispatcher {
	m := make(map[string]ToolSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &Dispatcher{
		specs:     m,
		schemas:   newSchemaRegistry(),
		scanner:   newScanner(),
		allowlist: allowlist,
		executor:  executor,
		bulkheads: bulkheads,
		audit:     audit,
	}
}

// Dispatch runs the full policy pipeline and, if admitted, executes the
// call. A timeout produces ToolOutcomeTimeout and returns
// KindToolResultUnknown: at-most-once semantics mean the caller must
// not assume the underlying side effect did or did not happen, and must
// not retry automatically.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	inv := models.ToolInvocation{
		ToolName:   req.ToolName,
		AgentKind:  req.AgentKind,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		StartedAt:  time.Now(),
	}
	if params, ok := decodeParams(req.Params); ok {
		inv.Parameters = params
	}

	spec, ok := d.specs[req.ToolName]
	if !ok {
		return d.deny(ctx, inv, orcherr.KindToolNotAllowedForAgent, "unknown tool")
	}

	if err := d.schemas.ValidateParameters(spec.Name, spec.Schema, req.Params); err != nil {
		return d.deny(ctx, inv, orcherr.KindOf(err), "parameters failed validation")
	}

	if d.allowlist != nil {
		allowed := d.allowlist.ToolAllowlist(req.AgentKind)
		if _, ok := allowed[req.ToolName]; !ok {
			return d.deny(ctx, inv, orcherr.KindToolNotAllowedForAgent, "tool not allowed for this agent")
		}
	}

	if spec.Dangerous && !req.IsAdmin {
		return d.deny(ctx, inv, orcherr.KindPermissionDenied, "dangerous tool requires admin privileges")
	}

	if err := d.scanner.Scan(req.Params); err != nil {
		return d.deny(ctx, inv, orcherr.KindOf(err), "parameters rejected by the injection scanner")
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}

	var bh *resilience.Bulkhead
	if d.bulkheads != nil {
		bh = d.bulkheads.GetOrCreate(bulkheadName, resilience.DefaultCapacities[bulkheadName])
		if err := bh.Acquire(ctx, bulkheadWait); err != nil {
			inv.Outcome = models.ToolOutcomeError
			inv.PolicyReason = "tool execution bulkhead is full"
			d.finish(ctx, &inv)
			return "", err
		}
		defer bh.Release()
	}

	var result string
	err := resilience.WithTimeout(ctx, timeout, "tooldispatch.execute", func(cctx context.Context) error {
		var execErr error
		result, execErr = d.executor.Execute(cctx, req.ToolName, req.Params)
		return execErr
	})

	switch {
	case err == nil:
		inv.Outcome = models.ToolOutcomeOK
	case orcherr.KindOf(err) == orcherr.KindTimeout:
		inv.Outcome = models.ToolOutcomeTimeout
		inv.PolicyReason = "tool call timed out; result is unknown"
		d.finish(ctx, &inv)
		return "", orcherr.Wrap(orcherr.KindToolResultUnknown, "tooldispatch.execute",
			"the tool call timed out and its result could not be confirmed", err)
	default:
		inv.Outcome = models.ToolOutcomeError
		inv.PolicyReason = redactForLog(err.Error())
	}
	d.finish(ctx, &inv)
	return result, err
}

func (d *Dispatcher) deny(ctx context.Context, inv models.ToolInvocation, kind orcherr.Kind, reason string) (string, error) {
	inv.Outcome = models.ToolOutcomeDenied
	inv.PolicyReason = reason
	d.finish(ctx, &inv)
	return "", orcherr.New(kind, "tooldispatch.dispatch", reason)
}

func (d *Dispatcher) finish(ctx context.Context, inv *models.ToolInvocation) {
	inv.CompletedAt = time.Now()
	inv.DurationMS = inv.CompletedAt.Sub(inv.StartedAt).Milliseconds()
	if d.audit != nil {
		d.audit.RecordToolInvocation(ctx, *inv)
	}
}

func decodeParams(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}
