package tooldispatch

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"}
	},
	"required": ["path"]
}`

func TestSchemaRegistryAcceptsValidParameters(t *testing.T) {
	r := newSchemaRegistry()
	err := r.ValidateParameters("read_file", json.RawMessage(testSchema), json.RawMessage(`{"path":"/tmp/a"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchemaRegistryRejectsMissingRequiredField(t *testing.T) {
	r := newSchemaRegistry()
	err := r.ValidateParameters("read_file", json.RawMessage(testSchema), json.RawMessage(`{}`))
	if orcherr.KindOf(err) != orcherr.KindInvalidToolParameters {
		t.Fatalf("kind = %v, want InvalidToolParameters", orcherr.KindOf(err))
	}
}

func TestSchemaRegistryRejectsMalformedJSON(t *testing.T) {
	r := newSchemaRegistry()
	err := r.ValidateParameters("read_file", json.RawMessage(testSchema), json.RawMessage(`not json`))
	if orcherr.KindOf(err) != orcherr.KindInvalidToolParameters {
		t.Fatalf("kind = %v, want InvalidToolParameters", orcherr.KindOf(err))
	}
}

func TestSchemaRegistryCachesCompiledSchema(t *testing.T) {
	r := newSchemaRegistry()
	if _, err := r.compile("read_file", json.RawMessage(testSchema)); err != nil {
		t.Fatalf("compile: %v", err)
	}
	cached, err := r.compile("read_file", json.RawMessage(testSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if cached != r.compiled["read_file"] {
		t.Fatalf("expected second compile to return the cached schema")
	}
}
