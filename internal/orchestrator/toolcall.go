package orchestrator

import (
	"encoding/json"
	"regexp"
)

// toolCallFence matches a fenced ```tool_call ... ``` block in an
// assembled model response. The engine's Backend abstraction
// (internal/modelengine) carries plain text chunks rather than a
// structured tool-call field, so the dispatch loop recognizes a call
// the same way a text-only backend signals one: a single JSON object
// in a conventionally-named fence.
var toolCallFence = regexp.MustCompile("(?s)```tool_call\\s*\\n(.*?)\\n```")

type toolCallPayload struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// extractToolCall looks for a tool_call fence in text and decodes it.
// Only the first match is honored — a response naming two tools in one
// turn is treated as a malformed call and skipped, not split.
func extractToolCall(text string) (name string, params map[string]any, ok bool) {
	m := toolCallFence.FindStringSubmatch(text)
	if m == nil {
		return "", nil, false
	}
	var p toolCallPayload
	if err := json.Unmarshal([]byte(m[1]), &p); err != nil || p.Name == "" {
		return "", nil, false
	}
	return p.Name, p.Params, true
}
