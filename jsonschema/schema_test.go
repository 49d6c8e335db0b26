package jsonschema_test

import (
	"testing"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/jsonschema"
)

func TestAddSchemaJSONAndLookup(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	schema, err := reg.AddSchemaJSON("urn:test:person", []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`))
	if err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema.Type = %q, want object", schema.Type)
	}
	got, ok := reg.Lookup("urn:test:person")
	if !ok || got != schema {
		t.Errorf("Lookup(urn:test:person) = %v, %v, want the same schema pointer", got, ok)
	}
}

func TestAddSchemaJSONRejectsUnsupportedKeyword(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	_, err := reg.AddSchemaJSON("urn:test:bad", []byte(`{
		"type": "string",
		"format": "email"
	}`))
	if err == nil {
		t.Fatalf("AddSchemaJSON: expected error for unsupported keyword, got nil")
	}
	fe, ok := err.(*fleece.Error)
	if !ok {
		t.Fatalf("error type = %T, want *fleece.Error", err)
	}
	if fe.Kind != fleece.ErrSchemaUnsupported {
		t.Errorf("error kind = %v, want ErrSchemaUnsupported", fe.Kind)
	}
}

func TestAddSchemaJSONRejectsMalformedJSON(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	_, err := reg.AddSchemaJSON("urn:test:malformed", []byte(`{not json`))
	if err == nil {
		t.Fatalf("AddSchemaJSON: expected error for malformed JSON, got nil")
	}
	fe, ok := err.(*fleece.Error)
	if !ok || fe.Kind != fleece.ErrSchemaInvalid {
		t.Errorf("error = %v, want *fleece.Error{Kind: ErrSchemaInvalid}", err)
	}
}

func TestLoadYAML(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	schema, err := reg.LoadYAML("urn:test:yaml-person", []byte(`
type: object
required: [name]
properties:
  name:
    type: string
`))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema.Type = %q, want object", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "name" {
		t.Errorf("schema.Required = %v, want [name]", schema.Required)
	}
}

func TestResolveRefByPointer(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	doc := []byte(`{
		"$defs": {
			"name": {"type": "string", "minLength": 1}
		},
		"type": "object",
		"properties": {
			"name": {"$ref": "#/$defs/name"}
		}
	}`)
	if _, err := reg.AddSchemaJSON("urn:test:withref", doc); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	valid := buildDict(t, map[string]any{"name": "Alice"})
	root, err := fleece.Validate(valid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res := reg.Validate("urn:test:withref", root); !res.OK {
		t.Errorf("Validate(valid) = %+v, want OK", res)
	}

	invalid := buildDict(t, map[string]any{"name": ""})
	root2, err := fleece.Validate(invalid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res := reg.Validate("urn:test:withref", root2); res.OK {
		t.Errorf("Validate(invalid) = OK, want a minLength failure via $ref")
	}
}

func TestResolveRefByAnchor(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	doc := []byte(`{
		"$defs": {
			"positiveInt": {"$anchor": "posint", "type": "number", "minimum": 0}
		},
		"type": "object",
		"properties": {
			"age": {"$ref": "#posint"}
		}
	}`)
	if _, err := reg.AddSchemaJSON("urn:test:withanchor", doc); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	buf := buildDict(t, map[string]any{"age": 30})
	root, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res := reg.Validate("urn:test:withanchor", root); !res.OK {
		t.Errorf("Validate(age=30) = %+v, want OK", res)
	}

	buf2 := buildDict(t, map[string]any{"age": -5})
	root2, err := fleece.Validate(buf2)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res := reg.Validate("urn:test:withanchor", root2); res.OK {
		t.Errorf("Validate(age=-5) = OK, want a minimum failure via $anchor $ref")
	}
}

func TestResolveRefUnknownIsDeferredToValidationTime(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	doc := []byte(`{
		"type": "object",
		"properties": {"x": {"$ref": "urn:test:nowhere#/missing"}}
	}`)
	schema, err := reg.AddSchemaJSON("urn:test:deferredref", doc)
	if err != nil {
		t.Fatalf("AddSchemaJSON should not fail for an unresolved $ref at load time: %v", err)
	}
	if schema == nil {
		t.Fatalf("AddSchemaJSON returned nil schema")
	}

	buf := buildDict(t, map[string]any{"x": "anything"})
	root, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res := reg.Validate("urn:test:deferredref", root)
	if res.OK {
		t.Fatalf("Validate = OK, want ErrUnknownSchemaRef")
	}
	if res.Kind != fleece.ErrUnknownSchemaRef {
		t.Errorf("res.Kind = %v, want ErrUnknownSchemaRef", res.Kind)
	}
}

// TestUnregisterThenRefFails is the literal flow from spec.md §8 Scenario 6:
// register a schema under its URI, validate a value against a $ref to it
// (typeMismatch), then un-register and retry the same validation
// (unknown-schema-ref).
func TestUnregisterThenRefFails(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("http://x/y", []byte(`{"$id": "http://x/y", "type": "integer"}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}
	doc := []byte(`{"$ref": "http://x/y"}`)
	refSchema, err := reg.AddSchemaJSON("urn:test:refonly", doc)
	if err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	str := buildScalar(t, "hi")
	root, err := fleece.Validate(str)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	res := reg.ValidateSchema(refSchema, "urn:test:refonly", root)
	if res.OK {
		t.Fatalf("Validate(\"hi\") against {type: integer} = OK, want a type mismatch")
	}
	if res.Kind != fleece.ErrSchemaInvalid {
		t.Errorf("res.Kind = %v, want ErrSchemaInvalid (type mismatch)", res.Kind)
	}

	reg.Unregister("http://x/y")

	res = reg.ValidateSchema(refSchema, "urn:test:refonly", root)
	if res.OK {
		t.Fatalf("Validate after Unregister = OK, want ErrUnknownSchemaRef")
	}
	if res.Kind != fleece.ErrUnknownSchemaRef {
		t.Errorf("res.Kind = %v, want ErrUnknownSchemaRef", res.Kind)
	}
	if res.SchemaURI != "http://x/y" {
		t.Errorf("res.SchemaURI = %q, want %q", res.SchemaURI, "http://x/y")
	}
}
