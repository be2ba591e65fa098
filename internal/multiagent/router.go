package multiagent

import (
	"context"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// scoreThreshold is the minimum keyword-match score a candidate must
// clear to be considered over the fallback agent, per spec.md §4.7's
// "classifier returns multiple candidates above threshold".
const scoreThreshold = 1

// Router selects an agent kind for an incoming request: either the
// caller's explicit choice, or the result of classifying the first
// user message against the registry's keyword triggers. Ties are
// broken by the registry's descending-priority order, the same
// deterministic tie-break the teacher's GetHandoffTarget used for
// handoff-rule priority.
type Router struct {
	registry *Registry
}

// NewRouter constructs a Router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Route picks an agent kind. If explicitKind is non-empty it is used
// directly (still subject to the caller re-checking permission: Route
// does not itself enforce ai:* tags — that is the Gate's job). Otherwise
// the message is classified against each agent's keyword triggers and
// the highest-scoring, highest-priority candidate wins; ties fall back
// to Personal.
func (r *Router) Route(ctx context.Context, explicitKind models.AgentKind, message string) (*AgentDefinition, error) {
	if explicitKind != "" {
		def := r.registry.Get(explicitKind)
		if def == nil {
			return nil, orcherr.New(orcherr.KindValidationError, "multiagent.router", "unknown agent kind")
		}
		return def, nil
	}
	if def := r.classify(message); def != nil {
		return def, nil
	}
	return nil, orcherr.New(orcherr.KindValidationError, "multiagent.router", "no agent could be determined for this request")
}

// classify scores every non-fallback agent by keyword hits in message
// and returns the best-scoring candidate; if nothing scores at or
// above scoreThreshold, the fallback agent (Personal) is returned.
// r.registry.All() is already priority-ordered, so the first candidate
// to reach a given score keeps it on a tie.
func (r *Router) classify(message string) *AgentDefinition {
	lower := strings.ToLower(message)

	var best *AgentDefinition
	bestScore := 0
	var fallback *AgentDefinition

	for _, def := range r.registry.All() {
		score := 0
		for _, trig := range def.Triggers {
			switch trig.Type {
			case TriggerKeyword:
				for _, kw := range trig.Values {
					if strings.Contains(lower, strings.ToLower(kw)) {
						score++
					}
				}
			case TriggerFallback:
				if fallback == nil {
					fallback = def
				}
			}
		}
		if score >= scoreThreshold && score > bestScore {
			best = def
			bestScore = score
		}
	}

	if best != nil {
		return best
	}
	return fallback
}

// Switch resolves a mid-session agent change and builds the event to
// emit for it. The caller (the Orchestrator façade) re-checks to's
// permission via the Gate before invoking this — per spec.md §4.7's
// "re-checks permissions" requirement — Switch only resolves the
// destination and shapes the event, it does not itself authorize.
func (r *Router) Switch(sessionID string, from, to models.AgentKind, reason string) (*AgentDefinition, AgentSwitchEvent, error) {
	def := r.registry.Get(to)
	if def == nil {
		return nil, AgentSwitchEvent{}, orcherr.New(orcherr.KindValidationError, "multiagent.router", "unknown destination agent kind")
	}
	evt := AgentSwitchEvent{
		SessionID: sessionID,
		FromKind:  from,
		ToKind:    to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	return def, evt, nil
}
