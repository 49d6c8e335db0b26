// Package mutable implements the mutable overlay over an immutable fleece
// value (spec §4.7, component H): a copy-on-write array/dict that starts out
// sharing its base document and only materializes the parts a caller
// actually changes.
//
// The overlay has no direct analogue in github.com/danderson/dbus, whose
// values are always freshly marshaled from Go structs; its shape instead
// follows the teacher's event-driven encoder (encoder.Encoder) on the write
// side, and the teacher's Watcher/Claim back-pointer bookkeeping
// (watcher.go, claim.go) on the "notify the owner when detached" side.
package mutable

import (
	"github.com/nwca/fleece"
	"github.com/nwca/fleece/encoder"
)

type kind uint8

const (
	kindBorrowed kind = iota
	kindInline
	kindHeap
	kindCollection
	kindTombstone
)

// child is implemented by *Array and *Dict so a slot can hold either
// uniformly, and so a slot can propagate a mutation up to its owner in
// O(depth) instead of needing an O(tree) is_changed() walk from the root.
type child interface {
	isChanged() bool
	writeTo(e *encoder.Encoder) error
	markDirty()
	detachFrom(s *slot)
}

// slot is one overlay element: an array index, or a dict key's current
// value. container is the collection this slot lives in, used to bubble
// markDirty() up the back-pointer chain.
type slot struct {
	kind      kind
	borrowed  fleece.Value
	scalar    any
	coll      child
	container child
}

// value returns the slot's current logical content: a fleece.Value
// (borrowed, unchanged), a native Go scalar, or a *Array/*Dict child.
func (s *slot) value() any {
	switch s.kind {
	case kindBorrowed:
		return s.borrowed
	case kindCollection:
		return s.coll
	default:
		return s.scalar
	}
}

// release detaches any child collection currently held by s, clearing its
// back-pointer, before s is overwritten or dropped.
func (s *slot) release() {
	if s.kind == kindCollection && s.coll != nil {
		s.coll.detachFrom(s)
	}
	s.coll = nil
	s.scalar = nil
	s.borrowed = fleece.Value{}
}

// setAny assigns v to s, dispatching between a borrowed fleece.Value and a
// native scalar.
func (s *slot) setAny(v any) {
	if fv, ok := v.(fleece.Value); ok {
		s.setBorrowed(fv)
		return
	}
	s.setScalar(v)
}

func (s *slot) setBorrowed(v fleece.Value) {
	s.release()
	s.kind = kindBorrowed
	s.borrowed = v
	s.markDirty()
}

func (s *slot) setScalar(v any) {
	s.release()
	s.kind = scalarKind(v)
	s.scalar = v
	s.markDirty()
}

func (s *slot) setCollection(c child) {
	s.release()
	s.kind = kindCollection
	s.coll = c
	s.markDirty()
}

func (s *slot) markDirty() {
	if s.container != nil {
		s.container.markDirty()
	}
}

// scalarKind classifies v the same way the encoder distinguishes an inline
// short value from one that must be stored out-of-line, purely for slot
// bookkeeping; it has no effect on the bytes written (writeScalar dispatches
// on v's Go type, not on this classification).
func scalarKind(v any) kind {
	switch x := v.(type) {
	case nil, bool:
		return kindInline
	case int:
		return scalarKind(int64(x))
	case int64:
		if x >= -2048 && x <= 2047 {
			return kindInline
		}
		return kindHeap
	case uint64:
		if x <= 2047 {
			return kindInline
		}
		return kindHeap
	default:
		return kindHeap
	}
}
