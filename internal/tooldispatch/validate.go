package tooldispatch

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// schemaRegistry compiles and caches each tool's JSON Schema once,
// grounded on internal/gateway/ws_schema.go's CompileString + sync-guarded
// cache pattern, applied here to tool parameter schemas instead of
// WebSocket request frames.
type schemaRegistry struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaRegistry() *schemaRegistry {
	return &schemaRegistry{compiled: make(map[string]*jsonschema.Schema)}
}

func (r *schemaRegistry) compile(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.compiled[toolName]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString(toolName, string(schema))
	if err != nil {
		return nil, err
	}
	r.compiled[toolName] = s
	return s, nil
}

// ValidateParameters checks params against the tool's declared schema,
// returning InvalidToolParameters on any violation (malformed JSON or a
// schema mismatch), per spec.md §4.6 step 1.
func (r *schemaRegistry) ValidateParameters(toolName string, schema json.RawMessage, params json.RawMessage) error {
	s, err := r.compile(toolName, schema)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "tooldispatch.validate", "tool schema is invalid", err)
	}
	var payload any
	if len(params) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(params, &payload); err != nil {
		return orcherr.New(orcherr.KindInvalidToolParameters, "tooldispatch.validate", "parameters are not valid JSON")
	}
	if err := s.Validate(payload); err != nil {
		return orcherr.Wrap(orcherr.KindInvalidToolParameters, "tooldispatch.validate", "parameters failed schema validation", err)
	}
	return nil
}
