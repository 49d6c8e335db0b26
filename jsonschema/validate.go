package jsonschema

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/creachadair/mds/mapset"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nwca/fleece"
)

// maxSchemaDepth bounds $ref and combinator recursion the same way the
// encoder bounds nesting depth (encoder.maxStackDepth): every operation is
// sized by its input, never by how deep a malicious or cyclic schema can
// drive the call stack.
const maxSchemaDepth = 64

// Result describes the outcome of validating a value against a schema: OK
// on success, or a single first-failure report otherwise. Validation is
// fail-fast, not a full error collection: the first keyword that rejects
// the value wins.
type Result struct {
	OK bool

	Kind fleece.ErrorKind
	// Reason is a stable, keyword-specific token identifying which check
	// failed (e.g. "typeMismatch", "notEnum"; see the Reason* constants
	// below), for callers that want to switch on the failure kind rather
	// than pattern-match Msg. spec §7's flat ErrorKind enum doesn't carry
	// this granularity on its own (every schema failure is ErrSchemaInvalid),
	// so Reason fills that in at the keyword level instead.
	Reason         string
	Msg            string
	FailingPath    string
	FailingValue   fleece.Value
	SchemaFragment *jsonschema.Schema
	SchemaURI      string
}

// Reason tokens for Result.Reason, one per keyword check that can fail.
const (
	ReasonRecursionDepth       = "recursionDepthExceeded"
	ReasonTypeMismatch         = "typeMismatch"
	ReasonConstMismatch        = "constMismatch"
	ReasonEnumMismatch         = "notEnum"
	ReasonAnyOfNoMatch         = "anyOfNoMatch"
	ReasonOneOfCount           = "oneOfCount"
	ReasonNotMatched           = "notMatched"
	ReasonMinimum              = "minimum"
	ReasonMaximum              = "maximum"
	ReasonExclusiveMinimum     = "exclusiveMinimum"
	ReasonExclusiveMaximum     = "exclusiveMaximum"
	ReasonMultipleOf           = "multipleOf"
	ReasonMinLength            = "minLength"
	ReasonMaxLength            = "maxLength"
	ReasonPattern              = "pattern"
	ReasonInvalidPattern       = "invalidPattern"
	ReasonMinItems             = "minItems"
	ReasonMaxItems             = "maxItems"
	ReasonUniqueItems          = "uniqueItems"
	ReasonContainsNone         = "containsNone"
	ReasonMinContains          = "minContains"
	ReasonMaxContains          = "maxContains"
	ReasonMinProperties        = "minProperties"
	ReasonMaxProperties        = "maxProperties"
	ReasonRequired             = "required"
	ReasonInvalidPatternProp   = "invalidPatternProperties"
	ReasonPropertyNamesType    = "propertyNamesType"
	ReasonPropertyNamesLength  = "propertyNamesLength"
	ReasonPropertyNamesPattern = "propertyNamesPattern"
	ReasonPropertyNamesConst   = "propertyNamesConst"
	ReasonPropertyNamesEnum    = "propertyNamesEnum"
)

func okResult() Result { return Result{OK: true} }

// Validate checks v against the schema registered under uri.
func (r *Registry) Validate(uri string, v fleece.Value) Result {
	r.mu.RLock()
	schema, ok := r.schemas[uri]
	r.mu.RUnlock()
	if !ok {
		return Result{Kind: fleece.ErrUnknownSchemaRef, Msg: "schema not registered", SchemaURI: uri}
	}
	return r.ValidateSchema(schema, uri, v)
}

// ValidateSchema checks v against schema directly, resolving any $ref it
// contains against baseURI.
func (r *Registry) ValidateSchema(schema *jsonschema.Schema, baseURI string, v fleece.Value) Result {
	c := &ctx{reg: r, base: baseURI}
	return c.validate(schema, v, "")
}

type ctx struct {
	reg   *Registry
	base  string
	depth int
}

func (c *ctx) fail(kind fleece.ErrorKind, reason, msg, path string, v fleece.Value, s *jsonschema.Schema) Result {
	return Result{Kind: kind, Reason: reason, Msg: msg, FailingPath: path, FailingValue: v, SchemaFragment: s, SchemaURI: c.base}
}

func (c *ctx) validate(s *jsonschema.Schema, v fleece.Value, path string) Result {
	if s == nil {
		return okResult()
	}
	c.depth++
	defer func() { c.depth-- }()
	if c.depth > maxSchemaDepth {
		return c.fail(fleece.ErrSchemaInvalid, ReasonRecursionDepth, "schema recursion exceeds depth limit", path, v, s)
	}

	if s.Ref != "" {
		target, newBase, ok := c.reg.resolveRef(s.Ref, c.base)
		if !ok {
			return Result{Kind: fleece.ErrUnknownSchemaRef, Msg: "unresolved $ref", FailingPath: path, SchemaURI: s.Ref}
		}
		sub := *c
		sub.base = newBase
		if res := sub.validate(target, v, path); !res.OK {
			return res
		}
	}

	if len(schemaTypeList(s)) > 0 && !typeMatches(s, v) {
		return c.fail(fleece.ErrSchemaInvalid, ReasonTypeMismatch, "type mismatch", path, v, s)
	}
	if s.Const != nil {
		if !valueEqualsGo(v, *s.Const) {
			return c.fail(fleece.ErrSchemaInvalid, ReasonConstMismatch, "const mismatch", path, v, s)
		}
	}
	if len(s.Enum) > 0 {
		matched := false
		for _, e := range s.Enum {
			if valueEqualsGo(v, e) {
				matched = true
				break
			}
		}
		if !matched {
			return c.fail(fleece.ErrSchemaInvalid, ReasonEnumMismatch, "enum mismatch", path, v, s)
		}
	}
	for i, sub := range s.AllOf {
		if res := c.validate(sub, v, fmt.Sprintf("%s/allOf/%d", path, i)); !res.OK {
			return res
		}
	}
	if len(s.AnyOf) > 0 {
		matched := false
		for _, sub := range s.AnyOf {
			if c.validate(sub, v, path).OK {
				matched = true
				break
			}
		}
		if !matched {
			return c.fail(fleece.ErrSchemaInvalid, ReasonAnyOfNoMatch, "anyOf: no branch matched", path, v, s)
		}
	}
	if len(s.OneOf) > 0 {
		count := 0
		for _, sub := range s.OneOf {
			if c.validate(sub, v, path).OK {
				count++
			}
		}
		if count != 1 {
			return c.fail(fleece.ErrSchemaInvalid, ReasonOneOfCount, fmt.Sprintf("oneOf: %d branches matched, want exactly 1", count), path, v, s)
		}
	}
	if s.Not != nil {
		if c.validate(s.Not, v, path).OK {
			return c.fail(fleece.ErrSchemaInvalid, ReasonNotMatched, "not: subschema matched", path, v, s)
		}
	}
	if s.If != nil {
		if c.validate(s.If, v, path).OK {
			if s.Then != nil {
				if res := c.validate(s.Then, v, path); !res.OK {
					return res
				}
			}
		} else if s.Else != nil {
			if res := c.validate(s.Else, v, path); !res.OK {
				return res
			}
		}
	}

	switch v.Kind() {
	case fleece.KindNumber:
		if res := c.validateNumber(s, v, path); !res.OK {
			return res
		}
	case fleece.KindString:
		if res := c.validateString(s, v, path); !res.OK {
			return res
		}
	case fleece.KindArray:
		if res := c.validateArray(s, v, path); !res.OK {
			return res
		}
	case fleece.KindDict:
		if res := c.validateDict(s, v, path); !res.OK {
			return res
		}
	}

	return okResult()
}

func schemaTypeList(s *jsonschema.Schema) []string {
	if s.Type != "" {
		return []string{s.Type}
	}
	return s.Types
}

func typeMatches(s *jsonschema.Schema, v fleece.Value) bool {
	for _, t := range schemaTypeList(s) {
		if kindMatchesTypeName(v, t) {
			return true
		}
	}
	return false
}

func kindMatchesTypeName(v fleece.Value, t string) bool {
	switch t {
	case "null":
		return v.Kind() == fleece.KindNull
	case "boolean":
		return v.Kind() == fleece.KindBool
	case "object":
		return v.Kind() == fleece.KindDict
	case "array":
		return v.Kind() == fleece.KindArray
	case "string":
		return v.Kind() == fleece.KindString
	case "number":
		return v.Kind() == fleece.KindNumber
	case "integer":
		return v.Kind() == fleece.KindNumber && v.IsInteger()
	default:
		return false
	}
}

func (c *ctx) validateNumber(s *jsonschema.Schema, v fleece.Value, path string) Result {
	f := v.AsDouble()
	if s.Minimum != nil && f < *s.Minimum {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMinimum, "value below minimum", path, v, s)
	}
	if s.Maximum != nil && f > *s.Maximum {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMaximum, "value above maximum", path, v, s)
	}
	if s.ExclusiveMinimum != nil && f <= *s.ExclusiveMinimum {
		return c.fail(fleece.ErrSchemaInvalid, ReasonExclusiveMinimum, "value not above exclusiveMinimum", path, v, s)
	}
	if s.ExclusiveMaximum != nil && f >= *s.ExclusiveMaximum {
		return c.fail(fleece.ErrSchemaInvalid, ReasonExclusiveMaximum, "value not below exclusiveMaximum", path, v, s)
	}
	if s.MultipleOf != nil && *s.MultipleOf != 0 {
		q := f / *s.MultipleOf
		if math.Abs(q-math.Round(q)) > 1e-9 {
			return c.fail(fleece.ErrSchemaInvalid, ReasonMultipleOf, "value is not a multiple of multipleOf", path, v, s)
		}
	}
	return okResult()
}

func (c *ctx) validateString(s *jsonschema.Schema, v fleece.Value, path string) Result {
	str := v.AsString()
	n := utf8.RuneCountInString(str)
	if s.MinLength != nil && n < *s.MinLength {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMinLength, "string shorter than minLength", path, v, s)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMaxLength, "string longer than maxLength", path, v, s)
	}
	if s.Pattern != "" {
		re, err := c.reg.regexes.compile(s.Pattern)
		if err != nil {
			return c.fail(fleece.ErrSchemaInvalid, ReasonInvalidPattern, fmt.Sprintf("invalid pattern: %v", err), path, v, s)
		}
		if !re.MatchString(str) {
			return c.fail(fleece.ErrSchemaInvalid, ReasonPattern, "string does not match pattern", path, v, s)
		}
	}
	return okResult()
}

func (c *ctx) validateArray(s *jsonschema.Schema, v fleece.Value, path string) Result {
	it := v.AsArray()
	n := it.Count()
	if s.MinItems != nil && n < *s.MinItems {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMinItems, "array shorter than minItems", path, v, s)
	}
	if s.MaxItems != nil && n > *s.MaxItems {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMaxItems, "array longer than maxItems", path, v, s)
	}
	if s.UniqueItems {
		seen := make([]fleece.Value, 0, n)
		for i := 0; i < n; i++ {
			e := it.At(i)
			for _, prev := range seen {
				if prev.Equal(e) {
					return c.fail(fleece.ErrSchemaInvalid, ReasonUniqueItems, "uniqueItems violated", fmt.Sprintf("%s[%d]", path, i), v, s)
				}
			}
			seen = append(seen, e)
		}
	}

	prefixLen := len(s.PrefixItems)
	for i := 0; i < n; i++ {
		e := it.At(i)
		var item *jsonschema.Schema
		if i < prefixLen {
			item = s.PrefixItems[i]
		} else {
			item = s.Items
		}
		if item != nil {
			if res := c.validate(item, e, fmt.Sprintf("%s[%d]", path, i)); !res.OK {
				return res
			}
		}
	}

	if s.Contains != nil {
		count := 0
		for i := 0; i < n; i++ {
			if c.validate(s.Contains, it.At(i), fmt.Sprintf("%s[%d]", path, i)).OK {
				count++
			}
		}
		if count == 0 {
			return c.fail(fleece.ErrSchemaInvalid, ReasonContainsNone, "contains: no element matched", path, v, s)
		}
		if s.MinContains != nil && count < *s.MinContains {
			return c.fail(fleece.ErrSchemaInvalid, ReasonMinContains, "too few elements match contains", path, v, s)
		}
		if s.MaxContains != nil && count > *s.MaxContains {
			return c.fail(fleece.ErrSchemaInvalid, ReasonMaxContains, "too many elements match contains", path, v, s)
		}
	}

	return okResult()
}

func (c *ctx) validateDict(s *jsonschema.Schema, v fleece.Value, path string) Result {
	d := v.AsDict()
	if s.MinProperties != nil && d.Count() < *s.MinProperties {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMinProperties, "object has fewer than minProperties", path, v, s)
	}
	if s.MaxProperties != nil && d.Count() > *s.MaxProperties {
		return c.fail(fleece.ErrSchemaInvalid, ReasonMaxProperties, "object has more than maxProperties", path, v, s)
	}
	for _, req := range s.Required {
		if _, ok := d.Get(req); !ok {
			return c.fail(fleece.ErrSchemaInvalid, ReasonRequired, fmt.Sprintf("missing required property %q", req), path, v, s)
		}
	}

	matchedKeys := mapset.New[string]()
	for name, sub := range s.Properties {
		if fv, ok := d.Get(name); ok {
			matchedKeys.Add(name)
			if res := c.validate(sub, fv, path+"/"+name); !res.OK {
				return res
			}
		}
	}

	type patProp struct {
		re     *regexp.Regexp
		schema *jsonschema.Schema
	}
	var pats []patProp
	for pat, sub := range s.PatternProperties {
		re, err := c.reg.regexes.compile(pat)
		if err != nil {
			return c.fail(fleece.ErrSchemaInvalid, ReasonInvalidPatternProp, fmt.Sprintf("invalid patternProperties pattern: %v", err), path, v, s)
		}
		pats = append(pats, patProp{re: re, schema: sub})
	}
	for it := d.Iterate(); it.Next(); {
		k := it.Key()
		for _, p := range pats {
			if p.re.MatchString(k) {
				matchedKeys.Add(k)
				if res := c.validate(p.schema, it.Value(), path+"/"+k); !res.OK {
					return res
				}
			}
		}
	}

	if s.AdditionalProperties != nil {
		for it := d.Iterate(); it.Next(); {
			k := it.Key()
			if matchedKeys.Has(k) {
				continue
			}
			if res := c.validate(s.AdditionalProperties, it.Value(), path+"/"+k); !res.OK {
				return res
			}
		}
	}

	if s.PropertyNames != nil {
		for it := d.Iterate(); it.Next(); {
			k := it.Key()
			if res := c.validatePropertyNameLiteral(s.PropertyNames, k, path+"/"+k); !res.OK {
				return res
			}
		}
	}

	return okResult()
}

// validatePropertyNameLiteral applies the subset of keywords that make
// sense against a bare Go string (type, minLength, maxLength, pattern,
// const, enum) for the propertyNames keyword, whose instance is a property
// name rather than a decoded fleece.Value.
func (c *ctx) validatePropertyNameLiteral(s *jsonschema.Schema, key, path string) Result {
	if s == nil {
		return okResult()
	}
	if types := schemaTypeList(s); len(types) > 0 {
		ok := false
		for _, t := range types {
			if t == "string" {
				ok = true
				break
			}
		}
		if !ok {
			return c.fail(fleece.ErrSchemaInvalid, ReasonPropertyNamesType, "propertyNames: type must be string", path, fleece.Value{}, s)
		}
	}
	n := utf8.RuneCountInString(key)
	if s.MinLength != nil && n < *s.MinLength {
		return c.fail(fleece.ErrSchemaInvalid, ReasonPropertyNamesLength, "property name shorter than minLength", path, fleece.Value{}, s)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return c.fail(fleece.ErrSchemaInvalid, ReasonPropertyNamesLength, "property name longer than maxLength", path, fleece.Value{}, s)
	}
	if s.Pattern != "" {
		re, err := c.reg.regexes.compile(s.Pattern)
		if err != nil {
			return c.fail(fleece.ErrSchemaInvalid, ReasonInvalidPattern, fmt.Sprintf("invalid pattern: %v", err), path, fleece.Value{}, s)
		}
		if !re.MatchString(key) {
			return c.fail(fleece.ErrSchemaInvalid, ReasonPropertyNamesPattern, "property name does not match pattern", path, fleece.Value{}, s)
		}
	}
	if s.Const != nil {
		if cs, ok := (*s.Const).(string); !ok || cs != key {
			return c.fail(fleece.ErrSchemaInvalid, ReasonPropertyNamesConst, "property name does not match const", path, fleece.Value{}, s)
		}
	}
	if len(s.Enum) > 0 {
		matched := false
		for _, e := range s.Enum {
			if es, ok := e.(string); ok && es == key {
				matched = true
				break
			}
		}
		if !matched {
			return c.fail(fleece.ErrSchemaInvalid, ReasonPropertyNamesEnum, "property name not in enum", path, fleece.Value{}, s)
		}
	}
	return okResult()
}

// valueEqualsGo compares a decoded fleece.Value against a Go value produced
// by encoding/json (from a const/enum literal), bridging fleece's native
// number representation against JSON's float64-by-default decoding.
func valueEqualsGo(v fleece.Value, goVal any) bool {
	switch gv := goVal.(type) {
	case nil:
		return v.Kind() == fleece.KindNull
	case bool:
		return v.Kind() == fleece.KindBool && v.AsBool() == gv
	case float64:
		return v.Kind() == fleece.KindNumber && v.AsDouble() == gv
	case string:
		return v.Kind() == fleece.KindString && v.AsString() == gv
	case []any:
		if v.Kind() != fleece.KindArray {
			return false
		}
		it := v.AsArray()
		if it.Count() != len(gv) {
			return false
		}
		for i, e := range gv {
			if !valueEqualsGo(it.At(i), e) {
				return false
			}
		}
		return true
	case map[string]any:
		if v.Kind() != fleece.KindDict {
			return false
		}
		d := v.AsDict()
		if d.Count() != len(gv) {
			return false
		}
		for k, e := range gv {
			fv, ok := d.Get(k)
			if !ok || !valueEqualsGo(fv, e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
