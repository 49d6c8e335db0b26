// Package jsonschema implements the JSON Schema 2020-12 validator described
// in spec §4.8 (component I): a registry of schemas keyed by absolute URI,
// $ref/$id/$anchor resolution, and a recursive validator that walks a
// *jsonschema.Schema tree against a decoded fleece.Value directly.
//
// The registry's readers/writer locking follows the same shape as the
// teacher's Conn (conn.go): a sync.RWMutex guarding map state, shared for
// reads (Validate) and exclusive for writes (AddSchemaJSON/LoadYAML), the
// same split the teacher uses for its watcher/claim sets.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nwca/fleece"
)

// Options configures a new Registry (spec §6.5).
type Options struct {
	// KnownSchemas seeds the registry with already-parsed schemas, keyed by
	// absolute URI.
	KnownSchemas map[string]*jsonschema.Schema
}

// anchorRef locates a $anchor-tagged subschema: the document it was found
// in, and the JSON-Pointer path from that document's root down to it.
type anchorRef struct {
	docURI string
	path   []string
}

// Registry holds registered schemas and the bookkeeping needed to resolve
// $ref across and within them. The zero Registry is not usable; use
// NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema // absolute URI -> root schema
	raw     map[string]any                // absolute URI -> generic JSON tree, for pointer/anchor walks
	anchors map[string]anchorRef          // "URI#name" -> location
	regexes *regexCache
}

// NewRegistry returns a Registry seeded with opts.KnownSchemas.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		schemas: make(map[string]*jsonschema.Schema),
		raw:     make(map[string]any),
		anchors: make(map[string]anchorRef),
		regexes: newRegexCache(),
	}
	for uri, s := range opts.KnownSchemas {
		r.index(uri, s)
	}
	return r
}

// index records schema under uri and indexes its $anchor occurrences. Caller
// must hold no lock the first time (NewRegistry); AddSchemaJSON/LoadYAML take
// the write lock themselves before calling it.
func (r *Registry) index(uri string, s *jsonschema.Schema) {
	r.schemas[uri] = s
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	var generic any
	if json.Unmarshal(b, &generic) != nil {
		return
	}
	r.raw[uri] = generic
	anchors := make(map[string]anchorRef)
	indexAnchors(generic, uri, nil, anchors)
	for k, v := range anchors {
		r.anchors[k] = v
	}
}

// AddSchemaJSON parses data as a JSON Schema document and registers it
// under uri. Keywords outside the supported set (spec §4.8) are rejected at
// load time with ErrSchemaUnsupported.
func (r *Registry) AddSchemaJSON(uri string, data []byte) (*jsonschema.Schema, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fleece.NewError(fleece.ErrSchemaInvalid, "parsing schema %s: %v", uri, err)
	}
	if err := checkSupportedKeywords(generic, ""); err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fleece.NewError(fleece.ErrSchemaInvalid, "decoding schema %s: %v", uri, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.index(uri, &schema)
	return &schema, nil
}

// LoadYAML parses data as a YAML-authored JSON Schema document (a common
// authoring convenience) and registers it the same way AddSchemaJSON does.
func (r *Registry) LoadYAML(uri string, data []byte) (*jsonschema.Schema, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fleece.NewError(fleece.ErrSchemaInvalid, "parsing YAML schema %s: %v", uri, err)
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fleece.NewError(fleece.ErrSchemaInvalid, "re-marshaling YAML schema %s: %v", uri, err)
	}
	return r.AddSchemaJSON(uri, jsonBytes)
}

// Unregister removes the schema registered under uri, along with its raw
// JSON tree and any $anchor entries it contributed. A subsequent $ref to uri
// resolves as ErrUnknownSchemaRef, per spec §8 Scenario 6 ("Un-register,
// retry -> error unknown-schema-ref").
func (r *Registry) Unregister(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, uri)
	delete(r.raw, uri)
	for k, a := range r.anchors {
		if a.docURI == uri {
			delete(r.anchors, k)
		}
	}
}

// Lookup returns the root schema registered under uri.
func (r *Registry) Lookup(uri string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[uri]
	return s, ok
}

// resolveRef resolves ref (the value of a $ref keyword) against baseURI,
// per spec §4.8: absolute URI registry, then prefix match against known
// IDs, then JSON-Pointer within the current base document.
func (r *Registry) resolveRef(ref, baseURI string) (*jsonschema.Schema, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docURI, fragment := splitFragment(ref)
	target := docURI
	if target == "" {
		target = baseURI
	} else if u, err := url.Parse(docURI); err == nil && !u.IsAbs() {
		if base, err2 := url.Parse(baseURI); err2 == nil {
			target = base.ResolveReference(u).String()
		}
	}

	if fragment == "" {
		if s, ok := r.schemas[target]; ok {
			return s, target, true
		}
		return r.resolveByPrefix(target)
	}

	if strings.HasPrefix(fragment, "/") {
		root, ok := r.raw[target]
		if !ok {
			if s, base, ok := r.resolveByPrefix(target); ok {
				root, ok = r.raw[base]
				if !ok {
					return nil, "", false
				}
				_ = s
			} else {
				return nil, "", false
			}
		}
		tokens := strings.Split(strings.TrimPrefix(fragment, "/"), "/")
		frag, ok := walkPointerRaw(root, tokens)
		if !ok {
			return nil, "", false
		}
		return frag, target, true
	}

	if a, ok := r.anchors[target+"#"+fragment]; ok {
		root, ok2 := r.raw[a.docURI]
		if !ok2 {
			return nil, "", false
		}
		frag, ok3 := walkPointerRaw(root, a.path)
		if !ok3 {
			return nil, "", false
		}
		return frag, a.docURI, true
	}

	return nil, "", false
}

// resolveByPrefix implements the "prefix match against known IDs" fallback:
// an unresolved absolute URI may still be a known schema if one registered
// URI is a prefix of the other (e.g. a registered document URI without a
// trailing path segment the ref adds, or vice versa).
func (r *Registry) resolveByPrefix(target string) (*jsonschema.Schema, string, bool) {
	for knownURI, s := range r.schemas {
		if strings.HasPrefix(knownURI, target) || strings.HasPrefix(target, knownURI) {
			return s, knownURI, true
		}
	}
	return nil, "", false
}

func splitFragment(ref string) (string, string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func unescapePointerToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

// walkPointerRaw descends a generic (map[string]any / []any) JSON tree
// following a JSON-Pointer's tokens, then re-marshals the fragment it lands
// on into a *jsonschema.Schema.
func walkPointerRaw(root any, tokens []string) (*jsonschema.Schema, bool) {
	node := root
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		tok = unescapePointerToken(tok)
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[tok]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	b, err := json.Marshal(node)
	if err != nil {
		return nil, false
	}
	var out jsonschema.Schema
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return &out, true
}

// schemaShape classifies where a keyword's value leads when indexing
// $anchor occurrences or checking for unsupported keywords: a single nested
// schema, an array of schemas, a name-keyed map of schemas, or an opaque
// (non-schema) value.
var schemaShape = map[string]string{
	"type": "opaque", "const": "opaque", "enum": "opaque", "required": "opaque",
	"minimum": "opaque", "maximum": "opaque", "exclusiveMinimum": "opaque", "exclusiveMaximum": "opaque", "multipleOf": "opaque",
	"minLength": "opaque", "maxLength": "opaque", "pattern": "opaque",
	"minItems": "opaque", "maxItems": "opaque", "uniqueItems": "opaque", "minContains": "opaque", "maxContains": "opaque",
	"minProperties": "opaque", "maxProperties": "opaque",
	"title": "opaque", "description": "opaque", "default": "opaque", "examples": "opaque",
	"$comment": "opaque", "$schema": "opaque", "$id": "opaque", "$anchor": "opaque", "$ref": "opaque",

	"allOf": "schemaArray", "anyOf": "schemaArray", "oneOf": "schemaArray", "prefixItems": "schemaArray",

	"not": "schema", "if": "schema", "then": "schema", "else": "schema",
	"items": "schema", "contains": "schema", "additionalProperties": "schema", "propertyNames": "schema",

	"properties": "schemaMap", "patternProperties": "schemaMap", "$defs": "schemaMap",
}

// checkSupportedKeywords walks a generic JSON Schema document rejecting any
// keyword this package does not implement, at load time (spec §4.8:
// "Explicitly unsupported keywords cause a schema-unsupported error at load
// time").
func checkSupportedKeywords(node any, path string) error {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	for k, v := range m {
		shape, known := schemaShape[k]
		if !known {
			return fleece.NewError(fleece.ErrSchemaUnsupported, "unsupported schema keyword %q at %q", k, path)
		}
		switch shape {
		case "schema":
			if err := checkSupportedKeywords(v, path+"/"+k); err != nil {
				return err
			}
		case "schemaArray":
			arr, _ := v.([]any)
			for i, e := range arr {
				if err := checkSupportedKeywords(e, fmt.Sprintf("%s/%s/%d", path, k, i)); err != nil {
					return err
				}
			}
		case "schemaMap":
			sm, _ := v.(map[string]any)
			for key, e := range sm {
				if err := checkSupportedKeywords(e, path+"/"+k+"/"+key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// indexAnchors records every $anchor found in node (a generic JSON tree)
// under "uri#name", paired with the JSON-Pointer path from the document
// root down to it.
func indexAnchors(node any, uri string, path []string, anchors map[string]anchorRef) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if name, ok := m["$anchor"].(string); ok && name != "" {
		anchors[uri+"#"+name] = anchorRef{docURI: uri, path: append([]string(nil), path...)}
	}
	for k, v := range m {
		shape := schemaShape[k]
		switch shape {
		case "schema":
			indexAnchors(v, uri, withToken(path, k), anchors)
		case "schemaArray":
			if arr, ok := v.([]any); ok {
				for i, e := range arr {
					indexAnchors(e, uri, withToken(path, k, strconv.Itoa(i)), anchors)
				}
			}
		case "schemaMap":
			if sm, ok := v.(map[string]any); ok {
				for key, e := range sm {
					indexAnchors(e, uri, withToken(path, k, key), anchors)
				}
			}
		}
	}
}

func withToken(path []string, toks ...string) []string {
	out := make([]string, 0, len(path)+len(toks))
	out = append(out, path...)
	out = append(out, toks...)
	return out
}
