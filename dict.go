package fleece

import "github.com/nwca/fleece/symtab"

// DictView is a stack object over a dict's slot region (spec §4.3,
// component C): a (first, count, wide) triple plus an optional shared-key
// table used to resolve integer keys back to strings for comparison
// against string queries. The zero DictView has Count() == 0.
type DictView struct {
	base  []byte
	first int
	count int
	wide  bool
	// Table resolves integer dict keys to strings. A dict produced
	// without a shared-key table never has integer keys, so Table may be
	// left nil in that case.
	Table *symtab.Table
}

// Count returns the number of key/value pairs in the dict.
func (d DictView) Count() int { return d.count }

func (d DictView) slotWidth() int {
	if d.wide {
		return 4
	}
	return 2
}

// keyAt returns the raw key Value (string or inline small int) at pair
// index i.
func (d DictView) keyAt(i int) Value {
	addr := d.first + (2*i)*d.slotWidth()
	return valueAt(d.base, addr, d.wide)
}

// valueAtPair returns the value Value at pair index i.
func (d DictView) valueAtPair(i int) Value {
	addr := d.first + (2*i+1)*d.slotWidth()
	return valueAt(d.base, addr, d.wide)
}

// keyString returns the string form of the key at pair index i, resolving
// through the shared-key table if the key is an integer.
func (d DictView) keyString(i int) (string, bool) {
	k := d.keyAt(i)
	if k.Kind() == KindString {
		return k.AsString(), true
	}
	if k.Kind() == KindNumber && d.Table != nil {
		return d.Table.Decode(int(k.AsInt()))
	}
	return "", false
}

// keyIsInt reports whether the key at pair index i is encoded as an
// integer (a shared-key reference) rather than a string.
func (d DictView) keyIsInt(i int) bool {
	return d.keyAt(i).Kind() == KindNumber
}

// compareKeyTo compares the key at pair index i to the query string key,
// returning -1, 0, or 1. Integer keys sort before string keys; among
// integer keys, comparison is numeric; among string keys, comparison is
// byte-wise (spec §4.3).
func (d DictView) compareKeyTo(i int, query string, queryIsInt bool, queryInt int) int {
	if d.keyIsInt(i) {
		if !queryIsInt {
			return -1 // integer key sorts before any string key
		}
		ki := int(d.keyAt(i).AsInt())
		switch {
		case ki < queryInt:
			return -1
		case ki > queryInt:
			return 1
		default:
			return 0
		}
	}
	if queryIsInt {
		return 1 // string key sorts after any integer key
	}
	ks := d.keyAt(i).AsString()
	switch {
	case ks < query:
		return -1
	case ks > query:
		return 1
	default:
		return 0
	}
}

// Get performs a binary search for key among the dict's sorted slots and
// returns (value, true) on a hit, or (Null, false) otherwise. When d carries
// a shared-key table, key is first tried as a shared-key symbol so that
// integer-encoded keys are reachable through this method, not just through
// GetInt/GetCached.
func (d DictView) Get(key string) (Value, bool) {
	if d.Table != nil {
		if sym, ok := d.Table.Encode(key); ok {
			if v, ok := d.GetInt(sym); ok {
				return v, true
			}
		}
	}
	i, ok := d.find(key, false, 0)
	if !ok {
		return Null, false
	}
	return d.valueAtPair(i), true
}

// GetInt performs a binary search for an integer-encoded key, as used by
// dicts written with a shared-key table in force.
func (d DictView) GetInt(key int) (Value, bool) {
	i, ok := d.find("", true, key)
	if !ok {
		return Null, false
	}
	return d.valueAtPair(i), true
}

func (d DictView) find(key string, queryIsInt bool, queryInt int) (int, bool) {
	lo, hi := 0, d.count-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := d.compareKeyTo(mid, key, queryIsInt, queryInt)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}

// GetUnsorted performs a linear scan, for dicts produced with key sorting
// disabled (spec §4.3's get_unsorted fallback).
func (d DictView) GetUnsorted(key string) (Value, bool) {
	for i := 0; i < d.count; i++ {
		if ks, ok := d.keyString(i); ok && ks == key {
			return d.valueAtPair(i), true
		}
	}
	return Null, false
}

// LookupKey is a cache a caller can reuse across repeated lookups of the
// same key string against different (or the same) dicts, to amortize
// the cost of the binary search and, when encoding uses a shared-key
// table, the string-to-symbol translation (spec §4.3).
type LookupKey struct {
	str string
	// sharedKey is the resolved shared-key integer, if any was ever
	// found for str.
	sharedKey   int
	haveShared  bool
	lastDict    *byte // not set by GetCached; a stale lastIndex is caught by re-checking the key at that slot
	lastIndex   int
	haveLastHit bool
}

// NewLookupKey returns a cache for repeated lookups of key.
func NewLookupKey(key string) *LookupKey {
	return &LookupKey{str: key}
}

// GetCached looks up the cached key in d, using the cached shared-key
// symbol or last-hit slot index as a hint before falling back to a full
// binary search. A hit on the last-slot index is O(1); a cached shared-key
// symbol still takes a binary search, comparing integer keys only.
func (d DictView) GetCached(lk *LookupKey) (Value, bool) {
	if lk.haveShared && d.Table != nil {
		if i, ok := d.find("", true, lk.sharedKey); ok {
			lk.lastIndex, lk.haveLastHit = i, true
			return d.valueAtPair(i), true
		}
	}
	if lk.haveLastHit && lk.lastIndex < d.count {
		if ks, ok := d.keyString(lk.lastIndex); ok && ks == lk.str {
			return d.valueAtPair(lk.lastIndex), true
		}
	}
	i, ok := d.find(lk.str, false, 0)
	if !ok {
		return Null, false
	}
	lk.lastIndex, lk.haveLastHit = i, true
	if d.Table != nil {
		if sym, ok := d.Table.Encode(lk.str); ok {
			lk.sharedKey, lk.haveShared = sym, true
		}
	}
	return d.valueAtPair(i), true
}

// MultiKeyGet walks d and a sorted slice of keys in tandem, a single O(n+m)
// pass that amortizes repeated binary searches when fetching several keys
// at once (spec §4.3's "multi-key lookup"). keys must already be sorted
// ascending. The callback is invoked once per key found, in keys order.
func (d DictView) MultiKeyGet(keys []string, found func(key string, v Value)) {
	i, j := 0, 0
	for i < d.count && j < len(keys) {
		c := d.compareKeyTo(i, keys[j], false, 0)
		switch {
		case c == 0:
			found(keys[j], d.valueAtPair(i))
			i++
			j++
		case c < 0:
			i++
		default:
			j++
		}
	}
}

// Iterate returns a DictIterator over d's pairs in stored (sorted) order.
func (d DictView) Iterate() *DictIterator {
	return &DictIterator{d: d, pos: -1}
}

// DictIterator walks a DictView's pairs in order.
type DictIterator struct {
	d   DictView
	pos int
}

// Next advances the iterator and reports whether a pair is available.
func (it *DictIterator) Next() bool {
	it.pos++
	return it.pos < it.d.count
}

// Key returns the string form of the current pair's key.
func (it *DictIterator) Key() string {
	s, _ := it.d.keyString(it.pos)
	return s
}

// Value returns the current pair's value.
func (it *DictIterator) Value() Value {
	return it.d.valueAtPair(it.pos)
}
