package jsonschema_test

import (
	"testing"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/encoder"
	"github.com/nwca/fleece/jsonschema"
)

func buildDict(t *testing.T, pairs map[string]any) []byte {
	t.Helper()
	e := encoder.New(encoder.Config{})
	if err := e.BeginDict(len(pairs)); err != nil {
		t.Fatalf("BeginDict: %v", err)
	}
	for k, v := range pairs {
		if err := e.WriteKey(k); err != nil {
			t.Fatalf("WriteKey: %v", err)
		}
		if err := writeAnyForTest(e, v); err != nil {
			t.Fatalf("write %q: %v", k, err)
		}
	}
	if err := e.EndDict(); err != nil {
		t.Fatalf("EndDict: %v", err)
	}
	buf, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf
}

func buildScalar(t *testing.T, v any) []byte {
	t.Helper()
	e := encoder.New(encoder.Config{})
	if err := writeAnyForTest(e, v); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf
}

func buildArray(t *testing.T, vals ...any) []byte {
	t.Helper()
	e := encoder.New(encoder.Config{})
	if err := e.BeginArray(len(vals)); err != nil {
		t.Fatalf("BeginArray: %v", err)
	}
	for _, v := range vals {
		if err := writeAnyForTest(e, v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := e.EndArray(); err != nil {
		t.Fatalf("EndArray: %v", err)
	}
	buf, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf
}

func writeAnyForTest(e *encoder.Encoder, v any) error {
	switch x := v.(type) {
	case string:
		return e.WriteString(x)
	case int:
		return e.WriteInt(int64(x))
	case int64:
		return e.WriteInt(x)
	case float64:
		return e.WriteDouble(x)
	case bool:
		return e.WriteBool(x)
	case nil:
		return e.WriteNull()
	case []any:
		if err := e.BeginArray(len(x)); err != nil {
			return err
		}
		for _, elem := range x {
			if err := writeAnyForTest(e, elem); err != nil {
				return err
			}
		}
		return e.EndArray()
	default:
		return e.WriteNull()
	}
}

func mustValidate(t *testing.T, buf []byte) fleece.Value {
	t.Helper()
	v, err := fleece.Validate(buf)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return v
}

func TestValidateScalarTypeAndRange(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:score", []byte(`{
		"type": "number", "minimum": 0, "maximum": 100
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	tests := []struct {
		name string
		val  any
		ok   bool
	}{
		{"in range", 50, true},
		{"at minimum", 0, true},
		{"below minimum", -1, false},
		{"above maximum", 101, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := mustValidate(t, buildScalar(t, tc.val))
			res := reg.Validate("urn:test:score", v)
			if res.OK != tc.ok {
				t.Errorf("Validate(%v) = %+v, want OK=%v", tc.val, res, tc.ok)
			}
		})
	}
}

func TestValidateStringLengthAndPattern(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:username", []byte(`{
		"type": "string", "minLength": 3, "maxLength": 10, "pattern": "^[a-z]+$"
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	tests := []struct {
		name string
		val  string
		ok   bool
	}{
		{"valid", "alice", true},
		{"too short", "ab", false},
		{"too long", "abcdefghijk", false},
		{"uppercase rejected by pattern", "Alice", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := mustValidate(t, buildScalar(t, tc.val))
			res := reg.Validate("urn:test:username", v)
			if res.OK != tc.ok {
				t.Errorf("Validate(%q) = %+v, want OK=%v", tc.val, res, tc.ok)
			}
		})
	}
}

func TestValidateArrayItemsAndUnique(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:tags", []byte(`{
		"type": "array",
		"items": {"type": "string"},
		"minItems": 1,
		"uniqueItems": true
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	if res := reg.Validate("urn:test:tags", mustValidate(t, buildArray(t, "a", "b"))); !res.OK {
		t.Errorf("Validate([a,b]) = %+v, want OK", res)
	}
	if res := reg.Validate("urn:test:tags", mustValidate(t, buildArray(t))); res.OK {
		t.Errorf("Validate([]) = OK, want a minItems failure")
	}
	if res := reg.Validate("urn:test:tags", mustValidate(t, buildArray(t, "a", "a"))); res.OK {
		t.Errorf("Validate([a,a]) = OK, want a uniqueItems failure")
	}
	if res := reg.Validate("urn:test:tags", mustValidate(t, buildArray(t, "a", 1))); res.OK {
		t.Errorf("Validate([a,1]) = OK, want an items type failure")
	}
}

func TestValidateObjectRequiredAndProperties(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:user", []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "number", "minimum": 0}
		},
		"additionalProperties": false
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	if res := reg.Validate("urn:test:user", mustValidate(t, buildDict(t, map[string]any{"name": "Alice", "age": 30}))); !res.OK {
		t.Errorf("Validate(valid) = %+v, want OK", res)
	}
	if res := reg.Validate("urn:test:user", mustValidate(t, buildDict(t, map[string]any{"age": 30}))); res.OK {
		t.Errorf("Validate(missing name) = OK, want a required failure")
	}
	if res := reg.Validate("urn:test:user", mustValidate(t, buildDict(t, map[string]any{"name": "Alice", "age": -1}))); res.OK {
		t.Errorf("Validate(age=-1) = OK, want a minimum failure")
	}
	if res := reg.Validate("urn:test:user", mustValidate(t, buildDict(t, map[string]any{"name": "Alice", "extra": "nope"}))); res.OK {
		t.Errorf("Validate(extra property) = OK, want an additionalProperties failure")
	}
}

func TestValidatePatternPropertiesAndPropertyNames(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:envmap", []byte(`{
		"type": "object",
		"propertyNames": {"pattern": "^[A-Z_]+$"},
		"patternProperties": {
			"^[A-Z_]+$": {"type": "string"}
		},
		"additionalProperties": false
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	if res := reg.Validate("urn:test:envmap", mustValidate(t, buildDict(t, map[string]any{"HOME": "/root"}))); !res.OK {
		t.Errorf("Validate(HOME) = %+v, want OK", res)
	}
	if res := reg.Validate("urn:test:envmap", mustValidate(t, buildDict(t, map[string]any{"home": "/root"}))); res.OK {
		t.Errorf("Validate(home) = OK, want a propertyNames pattern failure")
	}
}

func TestValidateCombinators(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:oddnum", []byte(`{
		"allOf": [
			{"type": "number"}
		],
		"not": {"multipleOf": 2}
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}
	if res := reg.Validate("urn:test:oddnum", mustValidate(t, buildScalar(t, 3))); !res.OK {
		t.Errorf("Validate(3) = %+v, want OK (odd passes not-multipleOf-2)", res)
	}
	if res := reg.Validate("urn:test:oddnum", mustValidate(t, buildScalar(t, 4))); res.OK {
		t.Errorf("Validate(4) = OK, want a not failure (even is multipleOf 2)")
	}

	reg2 := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg2.AddSchemaJSON("urn:test:oneof", []byte(`{
		"oneOf": [
			{"type": "string"},
			{"type": "number"}
		]
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}
	if res := reg2.Validate("urn:test:oneof", mustValidate(t, buildScalar(t, "x"))); !res.OK {
		t.Errorf("Validate(string) = %+v, want OK", res)
	}
	if res := reg2.Validate("urn:test:oneof", mustValidate(t, buildScalar(t, true))); res.OK {
		t.Errorf("Validate(bool) = OK, want a oneOf failure (matches neither branch)")
	}
}

func TestValidateConstAndEnum(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:status", []byte(`{
		"enum": ["pending", "active", "done"]
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}
	if res := reg.Validate("urn:test:status", mustValidate(t, buildScalar(t, "active"))); !res.OK {
		t.Errorf("Validate(active) = %+v, want OK", res)
	}
	if res := reg.Validate("urn:test:status", mustValidate(t, buildScalar(t, "unknown"))); res.OK {
		t.Errorf("Validate(unknown) = OK, want an enum failure")
	}

	reg2 := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg2.AddSchemaJSON("urn:test:pi", []byte(`{"const": 3}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}
	if res := reg2.Validate("urn:test:pi", mustValidate(t, buildScalar(t, 3))); !res.OK {
		t.Errorf("Validate(3) = %+v, want OK", res)
	}
	if res := reg2.Validate("urn:test:pi", mustValidate(t, buildScalar(t, 4))); res.OK {
		t.Errorf("Validate(4) = OK, want a const failure")
	}
}

// TestValidateArrayEnumMismatchReportsReason is the literal flow from
// spec.md §8 Scenario 5: {"str":"hi","arr":[1,2]} validates against
// {"type":"object","properties":{"str":{"type":"string"},"arr":{"items":{"enum":[1,2]}}}},
// then changing arr to [1,2,3.5] fails with a notEnum reason at the third
// element, carrying the offending value.
func TestValidateArrayEnumMismatchReportsReason(t *testing.T) {
	reg := jsonschema.NewRegistry(jsonschema.Options{})
	if _, err := reg.AddSchemaJSON("urn:test:strarr", []byte(`{
		"type": "object",
		"properties": {
			"str": {"type": "string"},
			"arr": {"items": {"enum": [1, 2]}}
		}
	}`)); err != nil {
		t.Fatalf("AddSchemaJSON: %v", err)
	}

	ok := buildDict(t, map[string]any{"str": "hi", "arr": []any{1, 2}})
	if res := reg.Validate("urn:test:strarr", mustValidate(t, ok)); !res.OK {
		t.Errorf("Validate({str:hi, arr:[1,2]}) = %+v, want OK", res)
	}

	bad := buildDict(t, map[string]any{"str": "hi", "arr": []any{1, 2, 3.5}})
	res := reg.Validate("urn:test:strarr", mustValidate(t, bad))
	if res.OK {
		t.Fatalf("Validate({..., arr:[1,2,3.5]}) = OK, want a notEnum failure")
	}
	if res.Kind != fleece.ErrSchemaInvalid {
		t.Errorf("res.Kind = %v, want ErrSchemaInvalid", res.Kind)
	}
	if res.Reason != jsonschema.ReasonEnumMismatch {
		t.Errorf("res.Reason = %q, want %q", res.Reason, jsonschema.ReasonEnumMismatch)
	}
	if res.FailingValue.AsDouble() != 3.5 {
		t.Errorf("res.FailingValue = %v, want 3.5", res.FailingValue.AsDouble())
	}
}
