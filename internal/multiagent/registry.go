package multiagent

import "github.com/haasonsaas/nexus/pkg/models"

// Registry holds the fixed table of agent kinds. Unlike the teacher's
// subagent_registry.go (a mutable store supporting arbitrary runtime
// registration), this registry's membership is fixed at construction:
// spec.md §4.7 names exactly six kinds and nothing adds or removes one
// at runtime.
type Registry struct {
	byKind map[models.AgentKind]*AgentDefinition
	order  []models.AgentKind // priority order, highest first
}

// NewRegistry builds a Registry from the given definitions, ordering
// them by descending Priority for deterministic tie-break iteration.
func NewRegistry(defs []AgentDefinition) *Registry {
	r := &Registry{byKind: make(map[models.AgentKind]*AgentDefinition, len(defs))}
	for i := range defs {
		d := defs[i]
		r.byKind[d.Kind] = &d
	}
	r.order = make([]models.AgentKind, 0, len(defs))
	for k := range r.byKind {
		r.order = append(r.order, k)
	}
	sortByPriorityDesc(r.order, r.byKind)
	return r
}

func sortByPriorityDesc(kinds []models.AgentKind, byKind map[models.AgentKind]*AgentDefinition) {
	for i := 1; i < len(kinds); i++ {
		for j := i; j > 0 && byKind[kinds[j]].Priority > byKind[kinds[j-1]].Priority; j-- {
			kinds[j], kinds[j-1] = kinds[j-1], kinds[j]
		}
	}
}

// Get returns the definition for kind, or nil if it isn't registered.
func (r *Registry) Get(kind models.AgentKind) *AgentDefinition {
	return r.byKind[kind]
}

// All returns every definition in descending-priority order.
func (r *Registry) All() []*AgentDefinition {
	out := make([]*AgentDefinition, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKind[k])
	}
	return out
}

// ToolAllowlist implements internal/tooldispatch.AllowlistSource.
func (r *Registry) ToolAllowlist(kind models.AgentKind) map[string]struct{} {
	def := r.Get(kind)
	if def == nil {
		return nil
	}
	out := make(map[string]struct{}, len(def.ToolAllowlist))
	for _, t := range def.ToolAllowlist {
		out[t] = struct{}{}
	}
	return out
}

// DefaultRegistry builds the six-kind registry named in spec.md §4.7.
func DefaultRegistry() *Registry {
	return NewRegistry([]AgentDefinition{
		{
			Kind:          models.AgentFamily,
			Description:   "family lifecycle, member invitations, token requests",
			PermissionTag: "ai:family_management",
			ToolAllowlist: []string{"family_invite", "family_member_list", "token_request"},
			Triggers:      []RoutingTrigger{{Type: TriggerKeyword, Values: []string{"family", "invite", "member", "household"}}},
			Priority:      50,
		},
		{
			Kind:          models.AgentPersonal,
			Description:   "profile, security settings, personal asset queries",
			PermissionTag: "ai:basic_chat",
			ToolAllowlist: []string{"profile_read", "profile_update", "security_settings_read"},
			Triggers:      []RoutingTrigger{{Type: TriggerFallback}},
			Priority:      10,
		},
		{
			Kind:          models.AgentWorkspace,
			Description:   "team/project/budget coordination",
			PermissionTag: "ai:workspace",
			ToolAllowlist: []string{"project_list", "team_member_list", "budget_read"},
			Triggers:      []RoutingTrigger{{Type: TriggerKeyword, Values: []string{"project", "team", "workspace", "deadline"}}},
			Priority:      40,
		},
		{
			Kind:          models.AgentCommerce,
			Description:   "catalog browse, budget advice, purchase assistance",
			PermissionTag: "ai:commerce",
			ToolAllowlist: []string{"catalog_search", "budget_advice", "purchase_initiate"},
			Triggers:      []RoutingTrigger{{Type: TriggerKeyword, Values: []string{"buy", "purchase", "price", "shop", "order"}}},
			Priority:      30,
		},
		{
			Kind:          models.AgentSecurity,
			Description:   "monitoring, audit, admin",
			PermissionTag: "ai:admin",
			ToolAllowlist: []string{"audit_query", "session_list", "reboot_system"},
			Triggers:      []RoutingTrigger{{Type: TriggerKeyword, Values: []string{"audit", "security", "admin", "lockdown"}}},
			Priority:      60,
		},
		{
			Kind:                          models.AgentVoice,
			Description:                   "voice capture and routing to another agent",
			PermissionTag:                 "ai:voice",
			ToolAllowlist:                 []string{"voice_transcribe"},
			Triggers:                      []RoutingTrigger{{Type: TriggerKeyword, Values: []string{"voice", "speak", "call"}}},
			Priority:                      70,
			RequiresDestinationPermission: true,
		},
	})
}
