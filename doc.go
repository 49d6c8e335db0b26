// Package fleece implements a compact, JSON-equivalent binary document
// format: a self-describing, random-access layout with in-place tagged
// values, variable-width internal pointers, string deduplication, and
// O(log n) dictionary lookup on immutable bytes, with no parsing step.
//
// A [Value] is a (buffer, address) pair; every accessor is a pure function
// of that pair, so a validated buffer can be shared read-only across
// goroutines (see package doc in encoder, mutable, symtab, and jsonschema
// for the other pieces of the system).
//
// Load a buffer with [Validate] (or, for buffers already known to be
// well-formed, the unchecked [FromTrustedData]) to get a root [Value]:
//
//	root, err := fleece.Validate(buf)
//	if err != nil {
//	    return err
//	}
//	name, _ := root.AsDict().Get("name")
//	fmt.Println(name.AsString())
//
// To produce a buffer, drive an [*encoder.Encoder] with a stream of
// scalar/array/dict events; to edit a loaded document in place, wrap its
// root with mutable.NewRoot (which returns a *mutable.Array or
// *mutable.Dict) and use the Array/Dict mutation methods, then call its
// WriteTo to re-encode, optionally as a delta against the original bytes.
package fleece

// Doc owns a loaded buffer and hands out Values that borrow from it. Its
// only purpose is to make the buffer/Value lifetime relationship explicit
// at the type level: a Value obtained from a Doc's Root must not be used
// after the Doc (and its buffer) is discarded, the same rule the original
// C++ implementation enforces with FLDoc's retain count. Go's garbage
// collector makes the retain count itself unnecessary; Doc exists to carry
// the documentation of that lifetime rule and to avoid re-deriving the
// root value on every access.
type Doc struct {
	buf  []byte
	root Value
}

// NewDoc validates buf and returns a Doc wrapping it.
func NewDoc(buf []byte) (*Doc, error) {
	root, err := Validate(buf)
	if err != nil {
		return nil, err
	}
	return &Doc{buf: buf, root: root}, nil
}

// NewTrustedDoc wraps buf without validating it, for callers who know it
// is well-formed (e.g. it was just produced by this package's own
// encoder). Calling this on untrusted or corrupt data is undefined
// behavior.
func NewTrustedDoc(buf []byte) *Doc {
	return &Doc{buf: buf, root: FromTrustedData(buf)}
}

// Root returns the document's root value.
func (d *Doc) Root() Value { return d.root }

// Bytes returns the buffer backing d. The returned slice must not be
// modified while any Value derived from d is still in use.
func (d *Doc) Bytes() []byte { return d.buf }
