package main

import (
	"encoding/json"
	"time"

	"github.com/haasonsaas/nexus/internal/tooldispatch"
)

var emptySchema = json.RawMessage(`{"type":"object","additionalProperties":true}`)

// defaultToolCatalog is the fixed tool set backing the six agent kinds'
// allowlists in multiagent.DefaultRegistry. Schemas are intentionally
// permissive placeholders for parameters the orchestrator core never
// inspects itself — validation of the shapes a real tool implementation
// expects belongs to that implementation's own ToolSpec, wired in here
// once it exists.
func defaultToolCatalog() []tooldispatch.ToolSpec {
	return []tooldispatch.ToolSpec{
		{Name: "family_invite", Schema: emptySchema},
		{Name: "family_member_list", Schema: emptySchema},
		{Name: "token_request", Schema: emptySchema},
		{Name: "profile_read", Schema: emptySchema},
		{Name: "profile_update", Schema: emptySchema},
		{Name: "security_settings_read", Schema: emptySchema, Dangerous: true},
		{Name: "project_list", Schema: emptySchema},
		{Name: "team_member_list", Schema: emptySchema},
		{Name: "budget_read", Schema: emptySchema},
		{Name: "catalog_search", Schema: emptySchema},
		{Name: "budget_advice", Schema: emptySchema},
		{Name: "purchase_initiate", Schema: emptySchema, Timeout: 15 * time.Second},
		{Name: "audit_query", Schema: emptySchema, Dangerous: true},
		{Name: "session_list", Schema: emptySchema, Dangerous: true},
		{Name: "reboot_system", Schema: emptySchema, Dangerous: true},
		{Name: "voice_transcribe", Schema: emptySchema, Timeout: 10 * time.Second},
	}
}
