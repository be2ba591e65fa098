// Package multiagent implements the Agent Registry & Router: a static
// table of the six specialized agent kinds and the routing logic that
// picks one for an incoming request, per spec.md §4.7.
package multiagent

import (
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// AgentDefinition describes one of the six static agent kinds: its
// permission requirement, its tool allowlist, and the routing triggers
// that select it from a classified message. Adapted from the teacher's
// dynamic, arbitrary-count AgentDefinition down to a fixed registry
// entry — no SystemPrompt/Model/Provider/AgentDir fields, since model
// selection is the Model Engine's concern (internal/modelengine), not
// the registry's.
type AgentDefinition struct {
	Kind models.AgentKind `json:"kind"`

	// Description explains what this agent specializes in; surfaced to
	// the classifier prompt and to operators inspecting the registry.
	Description string `json:"description"`

	// PermissionTag is the tag a user must carry to be routed here.
	PermissionTag string `json:"permission_tag"`

	// ToolAllowlist lists the tools this agent kind may invoke; consulted
	// by internal/tooldispatch.AllowlistSource.
	ToolAllowlist []string `json:"tool_allowlist"`

	// Triggers are the routing conditions that select this agent from a
	// classified message when no explicit agent_kind was supplied.
	Triggers []RoutingTrigger `json:"triggers,omitempty"`

	// Priority breaks ties when the classifier scores multiple agents
	// above threshold; higher wins.
	Priority int `json:"priority"`

	// RequiresDestinationPermission marks the Voice agent's special
	// case: it additionally requires the destination agent's own
	// permission tag before the handoff completes.
	RequiresDestinationPermission bool `json:"requires_destination_permission,omitempty"`
}

// HasTool reports whether this agent kind may invoke toolName.
func (a *AgentDefinition) HasTool(toolName string) bool {
	for _, t := range a.ToolAllowlist {
		if t == toolName {
			return true
		}
	}
	return false
}

// RoutingTrigger is a condition the classifier checks against a
// message to score candidate agents. Adapted from the teacher's
// RoutingTrigger/TriggerType, trimmed to the two trigger kinds a
// static registry needs: keyword and fallback.
type RoutingTrigger struct {
	Type   TriggerType `json:"type"`
	Values []string    `json:"values,omitempty"`
}

// TriggerType narrows the teacher's nine-member enum to the two kinds
// meaningful for a fixed, six-member registry: matching a classified
// message against keywords, or acting as the catch-all when nothing
// else scores above threshold.
type TriggerType string

const (
	TriggerKeyword  TriggerType = "keyword"
	TriggerFallback TriggerType = "fallback"
)

// AgentSwitchEvent is emitted whenever the active agent for a session
// changes, whether by explicit request or classifier routing.
type AgentSwitchEvent struct {
	SessionID string           `json:"session_id"`
	FromKind  models.AgentKind `json:"from_kind,omitempty"`
	ToKind    models.AgentKind `json:"to_kind"`
	Reason    string           `json:"reason"`
	Timestamp time.Time        `json:"timestamp"`
}
