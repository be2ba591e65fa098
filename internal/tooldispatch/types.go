// Package tooldispatch implements the Tool Dispatcher component: the
// six-step policy pipeline (signature validation, allowlist
// intersection, dangerous-tool admin check, injection scan, bulkhead
// admission, audit) that guards every tool invocation, per spec.md §4.6.
package tooldispatch

import (
	"encoding/json"
	"time"
)

// ToolSpec declares one dispatchable tool's contract. The tool's actual
// implementation is an external collaborator (spec.md §1) reached only
// through the Executor interface in dispatcher.go.
type ToolSpec struct {
	Name      string
	Schema    json.RawMessage // JSON Schema for the tool's parameters
	Dangerous bool            // admin/system scope; requires ai:admin and critical-level logging
	Timeout   time.Duration   // per-tool override; default 30s
}
