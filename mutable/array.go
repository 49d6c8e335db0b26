package mutable

import (
	"fmt"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/encoder"
)

// Array is a mutable overlay over an immutable base array, or a freestanding
// array with no base at all.
//
// slots holds *slot rather than slot: Append/Insert/Resize grow this slice
// with append, which may reallocate its backing array, and a *slot handed
// out by MakeMutableChild as a child's ownerSlot back-pointer must stay
// valid across that reallocation. A []slot of value structs would not
// survive it — the same reason Dict's overlay is map[string]*slot rather
// than map[string]slot.
type Array struct {
	base      fleece.Value
	slots     []*slot
	ownerSlot *slot
	dirty     bool
}

// NewArray returns an empty, baseless mutable array.
func NewArray() *Array { return &Array{} }

// NewArrayFrom builds a mutable overlay whose initial elements mirror base.
func NewArrayFrom(base fleece.Value) *Array {
	a := &Array{base: base}
	if base.IsValid() {
		it := base.AsArray()
		a.slots = make([]*slot, 0, it.Count())
		for it.Next() {
			a.slots = append(a.slots, &slot{kind: kindBorrowed, borrowed: it.Value(), container: a})
		}
	}
	return a
}

// Count returns the current element count.
func (a *Array) Count() int { return len(a.slots) }

// Get returns the element at i: a fleece.Value, a native scalar, or a
// *Array/*Dict child.
func (a *Array) Get(i int) (any, bool) {
	if i < 0 || i >= len(a.slots) {
		return nil, false
	}
	return a.slots[i].value(), true
}

// Set overwrites the element at i.
func (a *Array) Set(i int, v any) error {
	if i < 0 || i >= len(a.slots) {
		return fmt.Errorf("mutable: array index %d out of range [0,%d)", i, len(a.slots))
	}
	a.slots[i].setAny(v)
	return nil
}

// Append adds v as the new last element.
func (a *Array) Append(v any) {
	s := &slot{container: a}
	s.setAny(v)
	a.slots = append(a.slots, s)
}

// Insert places v at index i, shifting later elements right.
func (a *Array) Insert(i int, v any) error {
	if i < 0 || i > len(a.slots) {
		return fmt.Errorf("mutable: array insert index %d out of range [0,%d]", i, len(a.slots))
	}
	s := &slot{container: a}
	s.setAny(v)
	a.slots = append(a.slots, nil)
	copy(a.slots[i+1:], a.slots[i:])
	a.slots[i] = s
	a.markDirty()
	return nil
}

// Remove deletes the n elements starting at i.
func (a *Array) Remove(i, n int) error {
	if i < 0 || n < 0 || i+n > len(a.slots) {
		return fmt.Errorf("mutable: array remove range [%d,%d) out of bounds for length %d", i, i+n, len(a.slots))
	}
	for k := i; k < i+n; k++ {
		a.slots[k].release()
	}
	a.slots = append(a.slots[:i], a.slots[i+n:]...)
	a.markDirty()
	return nil
}

// Resize grows or shrinks the array to exactly n elements, padding with
// null when growing.
func (a *Array) Resize(n int) error {
	if n < 0 {
		return fmt.Errorf("mutable: array resize to negative length %d", n)
	}
	for len(a.slots) > n {
		last := len(a.slots) - 1
		a.slots[last].release()
		a.slots = a.slots[:last]
	}
	for len(a.slots) < n {
		a.slots = append(a.slots, &slot{container: a, kind: kindInline, scalar: nil})
	}
	a.markDirty()
	return nil
}

// Clear empties the array.
func (a *Array) Clear() error { return a.Resize(0) }

// Iterate walks the array in order, stopping early if fn returns false.
func (a *Array) Iterate(fn func(i int, v any) bool) {
	for i := range a.slots {
		if !fn(i, a.slots[i].value()) {
			return
		}
	}
}

// MakeMutableChild returns the array/dict child at i as a mutable overlay.
// If the slot already holds a mutable child, it is returned as-is. If it
// holds an immutable array/dict, the slot is replaced in-place with a fresh
// overlay sharing that value as its base. Any other slot kind returns
// (nil, false).
func (a *Array) MakeMutableChild(i int) (any, bool) {
	if i < 0 || i >= len(a.slots) {
		return nil, false
	}
	return makeMutableChild(a.slots[i])
}

func (a *Array) isChanged() bool { return a.dirty }

func (a *Array) markDirty() {
	if a.dirty {
		return
	}
	a.dirty = true
	if a.ownerSlot != nil {
		a.ownerSlot.markDirty()
	}
}

func (a *Array) detachFrom(s *slot) {
	if a.ownerSlot == s {
		a.ownerSlot = nil
	}
}

// writeTo emits the array. If nothing has changed, the base value goes to
// Encoder.WriteValue, which emits a single pointer to it when the encoder's
// Config.Base is the buffer the base lives in and a copy of it otherwise;
// a changed array is written as a freshly built array value.
func (a *Array) writeTo(e *encoder.Encoder) error {
	if !a.dirty && a.base.IsValid() {
		return e.WriteValue(a.base)
	}
	if err := e.BeginArray(len(a.slots)); err != nil {
		return err
	}
	for i := range a.slots {
		if err := writeSlot(e, a.slots[i]); err != nil {
			return err
		}
	}
	return e.EndArray()
}

// WriteTo is the exported entry point a caller uses to flush this array
// (or any overlay reachable from it) into an encoder.
func (a *Array) WriteTo(e *encoder.Encoder) error { return a.writeTo(e) }
