package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaRegistry compiles every client frame schema once, the same
// lazy-once pattern the teacher's ws_schema.go uses for its method
// schemas.
type schemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	data    map[FrameType]*jsonschema.Schema
}

var registry schemaRegistry

func initSchemas() error {
	registry.once.Do(func() {
		frameSchema, err := jsonschema.CompileString("transport_frame", frameSchemaJSON)
		if err != nil {
			registry.initErr = err
			return
		}
		registry.frame = frameSchema

		dataSchemas := map[FrameType]string{
			FrameMessage: messageDataSchemaJSON,
			FrameVoice:   voiceDataSchemaJSON,
			FrameResume:  resumeDataSchemaJSON,
		}
		registry.data = make(map[FrameType]*jsonschema.Schema, len(dataSchemas))
		for t, schema := range dataSchemas {
			compiled, err := jsonschema.CompileString("transport_data_"+string(t), schema)
			if err != nil {
				registry.initErr = err
				return
			}
			registry.data[t] = compiled
		}
	})
	return registry.initErr
}

// ValidateClientFrame validates a raw client frame against the envelope
// schema, then validates its Data against the schema for f.Type. Only
// client-originated frame types (message, voice, resume) have a data
// schema; anything else is rejected outright.
func ValidateClientFrame(raw []byte) (Frame, error) {
	if err := initSchemas(); err != nil {
		return Frame{}, err
	}

	var envelope any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Frame{}, fmt.Errorf("transport: invalid frame json: %w", err)
	}
	if err := registry.frame.Validate(envelope); err != nil {
		return Frame{}, fmt.Errorf("transport: frame schema: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("transport: decode frame: %w", err)
	}

	schema, ok := registry.data[f.Type]
	if !ok {
		return Frame{}, fmt.Errorf("transport: unsupported client frame type %q", f.Type)
	}
	var dataPayload any
	if len(f.Data) == 0 {
		dataPayload = map[string]any{}
	} else if err := json.Unmarshal(f.Data, &dataPayload); err != nil {
		return Frame{}, fmt.Errorf("transport: invalid frame data: %w", err)
	}
	if err := schema.Validate(dataPayload); err != nil {
		return Frame{}, fmt.Errorf("transport: frame data schema: %w", err)
	}
	return f, nil
}

const frameSchemaJSON = `{
  "type": "object",
  "required": ["type", "timestamp"],
  "properties": {
    "type": { "type": "string", "enum": ["message", "voice", "resume"] },
    "data": {},
    "session_id": { "type": "string" },
    "agent_kind": { "type": "string" },
    "timestamp": { "type": "string" },
    "event_id": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`

const messageDataSchemaJSON = `{
  "type": "object",
  "required": ["content"],
  "properties": {
    "content": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const voiceDataSchemaJSON = `{
  "type": "object",
  "required": ["audio"],
  "properties": {
    "audio": { "type": "string" }
  },
  "additionalProperties": true
}`

const resumeDataSchemaJSON = `{
  "type": "object",
  "properties": {
    "last_event_id": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`
