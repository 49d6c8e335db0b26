package mutable

import (
	"slices"

	"github.com/creachadair/mds/slice"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/encoder"
)

// Dict is a mutable overlay over an immutable base dict, or a freestanding
// dict with no base at all.
type Dict struct {
	base      fleece.Value
	overlay   map[string]*slot
	ownerSlot *slot
	dirty     bool
}

// NewDict returns an empty, baseless mutable dict.
func NewDict() *Dict { return &Dict{overlay: make(map[string]*slot)} }

// NewDictFrom builds a mutable overlay backed by base. base's entries are
// not copied eagerly; they are read through on Get/Iterate until touched.
func NewDictFrom(base fleece.Value) *Dict {
	return &Dict{base: base, overlay: make(map[string]*slot)}
}

func (d *Dict) overlaySlot(key string) *slot {
	s, ok := d.overlay[key]
	if !ok {
		s = &slot{container: d}
		d.overlay[key] = s
	}
	return s
}

// Get returns the current value for key: a fleece.Value, a native scalar,
// or a *Array/*Dict child.
func (d *Dict) Get(key string) (any, bool) {
	if s, ok := d.overlay[key]; ok {
		if s.kind == kindTombstone {
			return nil, false
		}
		return s.value(), true
	}
	if d.base.IsValid() {
		if v, ok := d.base.AsDict().Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Contains reports whether key currently resolves to a value.
func (d *Dict) Contains(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set assigns key to v, shadowing any base entry of the same name.
func (d *Dict) Set(key string, v any) {
	d.overlaySlot(key).setAny(v)
}

// Remove masks key, whether it comes from the base or a prior Set, with a
// tombstone.
func (d *Dict) Remove(key string) {
	s := d.overlaySlot(key)
	s.release()
	s.kind = kindTombstone
	s.markDirty()
}

// Count returns the number of keys currently visible (base entries minus
// tombstoned ones, plus overlay insertions).
func (d *Dict) Count() int {
	n := 0
	d.Iterate(func(string, any) bool { n++; return true })
	return n
}

// Clear removes every key, base and overlay alike.
func (d *Dict) Clear() {
	if d.base.IsValid() {
		for it := d.base.AsDict().Iterate(); it.Next(); {
			s := d.overlaySlot(it.Key())
			s.release()
			s.kind = kindTombstone
		}
	}
	for _, s := range d.overlay {
		if s.kind != kindTombstone {
			s.release()
			s.kind = kindTombstone
		}
	}
	d.base = fleece.Value{}
	d.markDirty()
}

// MakeMutableChild returns the array/dict child at key as a mutable
// overlay, materializing it in place from the base value the first time
// it is requested.
func (d *Dict) MakeMutableChild(key string) (any, bool) {
	if s, ok := d.overlay[key]; ok {
		return makeMutableChild(s)
	}
	if !d.base.IsValid() {
		return nil, false
	}
	bv, ok := d.base.AsDict().Get(key)
	if !ok {
		return nil, false
	}
	s := d.overlaySlot(key)
	s.kind = kindBorrowed
	s.borrowed = bv
	return makeMutableChild(s)
}

// Iterate walks the dict in sorted-key order, merging the base dict's
// iterator with the overlay the way a merge sort merges two sorted runs;
// tombstones in the overlay mask base entries without ever visiting them.
func (d *Dict) Iterate(fn func(key string, v any) bool) {
	overlayKeys := make([]string, 0, len(d.overlay))
	for k := range d.overlay {
		overlayKeys = append(overlayKeys, k)
	}
	// Drop tombstones before sorting: they never need to be yielded, and
	// there is no base entry left to compare them against once Clear or
	// Remove has masked them.
	live := slices.Collect(slice.Select(overlayKeys, func(k string) bool {
		return d.overlay[k].kind != kindTombstone
	}))
	slices.Sort(live)

	var baseIt *fleece.DictIterator
	if d.base.IsValid() {
		baseIt = d.base.AsDict().Iterate()
	}
	baseHasNext := baseIt != nil && baseIt.Next()
	baseMasked := func(key string) bool {
		s, ok := d.overlay[key]
		return ok && s.kind == kindTombstone
	}

	oi := 0
	for baseHasNext || oi < len(live) {
		switch {
		case baseHasNext && (oi >= len(live) || baseIt.Key() < live[oi]):
			key := baseIt.Key()
			if !baseMasked(key) {
				if !fn(key, baseIt.Value()) {
					return
				}
			}
			baseHasNext = baseIt.Next()
		case oi < len(live) && (!baseHasNext || live[oi] < baseIt.Key()):
			key := live[oi]
			oi++
			if !fn(key, d.overlay[key].value()) {
				return
			}
		default:
			// Equal keys: the overlay entry wins and the base entry is
			// consumed without being visited.
			key := live[oi]
			oi++
			baseHasNext = baseIt.Next()
			if !fn(key, d.overlay[key].value()) {
				return
			}
		}
	}
}

func (d *Dict) isChanged() bool { return d.dirty }

func (d *Dict) markDirty() {
	if d.dirty {
		return
	}
	d.dirty = true
	if d.ownerSlot != nil {
		d.ownerSlot.markDirty()
	}
}

func (d *Dict) detachFrom(s *slot) {
	if d.ownerSlot == s {
		d.ownerSlot = nil
	}
}

// writeTo emits the dict. If nothing has changed, the base value goes to
// Encoder.WriteValue, which emits a single pointer to it when the encoder's
// Config.Base is the buffer the base lives in and a copy of it otherwise;
// a changed dict is written as a freshly built dict value with keys in sorted order
// (the encoder also sorts, but Iterate already presents them that way).
func (d *Dict) writeTo(e *encoder.Encoder) error {
	if !d.dirty && d.base.IsValid() {
		return e.WriteValue(d.base)
	}
	if err := e.BeginDict(d.Count()); err != nil {
		return err
	}
	var werr error
	d.Iterate(func(key string, v any) bool {
		if err := e.WriteKey(key); err != nil {
			werr = err
			return false
		}
		if err := writeAny(e, v); err != nil {
			werr = err
			return false
		}
		return true
	})
	if werr != nil {
		return werr
	}
	return e.EndDict()
}

// WriteTo is the exported entry point a caller uses to flush this dict (or
// any overlay reachable from it) into an encoder.
func (d *Dict) WriteTo(e *encoder.Encoder) error { return d.writeTo(e) }
