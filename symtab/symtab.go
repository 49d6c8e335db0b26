// Package symtab implements the shared-key table (spec §4.4, component G):
// a bijection between short, identifier-like dict key strings and small
// non-negative integers, used to compress dict keys the way a schema or a
// repeated record shape would otherwise repeat the same key bytes many
// times.
//
// The design is modeled directly on github.com/SnellerInc/sneller's Ion
// symbol table (ion.Symtab in the retrieval pack): an append-only string
// arena plus a reverse string->int map, with a CloneInto that reuses
// existing storage the way ion.Symtab.CloneInto does.
package symtab

import (
	"fmt"
	"unicode"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DefaultMaxKeyLength and DefaultMaxCount are the spec §4.4 defaults.
const (
	DefaultMaxKeyLength = 16
	DefaultMaxCount     = 2048
)

// Options configures a Table's eligibility rules (spec §6.5).
type Options struct {
	// MaxKeyLength is the longest string eligible for interning. Zero
	// means DefaultMaxKeyLength.
	MaxKeyLength int
	// MaxCount is the most entries the table will hold before Encode
	// stops adding new mappings. Zero means DefaultMaxCount.
	MaxCount int
}

func (o Options) maxKeyLength() int {
	if o.MaxKeyLength == 0 {
		return DefaultMaxKeyLength
	}
	return o.MaxKeyLength
}

func (o Options) maxCount() int {
	if o.MaxCount == 0 {
		return DefaultMaxCount
	}
	return o.MaxCount
}

// Table is a bijection between short identifier-like strings and small
// integers. The zero Table is ready to use with default Options.
//
// A Table is not safe for concurrent use by multiple goroutines without
// external synchronization, matching the single-writer model of every
// other mutable structure in this module (spec §5).
type Table struct {
	opts     Options
	interned []string
	toIndex  map[string]int
	// txOpen mirrors ion.Symtab's append-only growth, but gates new
	// mappings on an open transaction, per spec §4.4's "encoding during
	// write-out adds new mappings only while a transaction is open".
	txOpen bool
}

// New returns a Table configured with opts.
func New(opts Options) *Table {
	return &Table{opts: opts}
}

func (t *Table) init() {
	if t.toIndex == nil {
		t.toIndex = make(map[string]int)
	}
}

// Count returns the number of entries currently interned.
func (t *Table) Count() int { return len(t.interned) }

// Eligible reports whether s could ever be interned: alphanumeric,
// underscore or hyphen only, non-empty, and no longer than MaxKeyLength.
func (t *Table) Eligible(s string) bool {
	if s == "" || len(s) > t.opts.maxKeyLength() {
		return false
	}
	for _, r := range s {
		if r == '_' || r == '-' {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Encode returns the integer associated with s, interning it if it is not
// already present, eligible, and the table (or the current transaction
// policy) allows new entries. It returns (0, false) when s cannot be
// encoded.
func (t *Table) Encode(s string) (int, bool) {
	t.init()
	if i, ok := t.toIndex[s]; ok {
		return i, true
	}
	if !t.txOpen || !t.Eligible(s) || len(t.interned) >= t.opts.maxCount() {
		return 0, false
	}
	id := len(t.interned)
	t.interned = append(t.interned, s)
	t.toIndex[s] = id
	return id, true
}

// Decode returns the string associated with id, or ("", false) if id is
// not currently interned.
func (t *Table) Decode(id int) (string, bool) {
	if id < 0 || id >= len(t.interned) {
		return "", false
	}
	return t.interned[id], true
}

// TransactionBegin opens a write transaction: subsequent Encode calls may
// add new mappings. Readers may call Decode/Encode (lookup-only) at any
// time regardless of transaction state.
func (t *Table) TransactionBegin() { t.txOpen = true }

// TransactionEnd closes the current write transaction.
func (t *Table) TransactionEnd() { t.txOpen = false }

// Store is an external byte store a persistent Table can Save to and
// Revert from (spec §4.4's persistent variant).
type Store interface {
	Load() ([]byte, error)
	Store(data []byte) error
}

// Save serializes the table to store, one newline-free entry per line in
// interning order, so Decode(i) after a Revert recovers the same ids.
func (t *Table) Save(store Store) error {
	buf := make([]byte, 0, 64*len(t.interned))
	for _, s := range t.interned {
		buf = append(buf, []byte(s)...)
		buf = append(buf, '\n')
	}
	return store.Store(buf)
}

// Revert discards the in-memory table and reloads it from store.
func (t *Table) Revert(store Store) error {
	data, err := store.Load()
	if err != nil {
		return err
	}
	t.interned = t.interned[:0]
	t.toIndex = make(map[string]int)
	start := 0
	for i, b := range data {
		if b == '\n' {
			s := string(data[start:i])
			t.toIndex[s] = len(t.interned)
			t.interned = append(t.interned, s)
			start = i + 1
		}
	}
	return nil
}

// ReloadHook is called by a reader that encounters an integer key beyond
// the table's current Count, per spec §4.4: "readers that encounter an
// integer key beyond the current in-memory count may trigger a reload
// hook". It is the caller's responsibility to wire this to a Store.
type ReloadHook func(t *Table) error

// EnsureID calls hook and retries Decode(id) if id is not yet present,
// modeling the reload-on-miss policy.
func (t *Table) EnsureID(id int, hook ReloadHook) (string, error) {
	if s, ok := t.Decode(id); ok {
		return s, nil
	}
	if hook == nil {
		return "", fmt.Errorf("symtab: id %d not present and no reload hook configured", id)
	}
	if err := hook(t); err != nil {
		return "", err
	}
	s, ok := t.Decode(id)
	if !ok {
		return "", fmt.Errorf("symtab: id %d still not present after reload", id)
	}
	return s, nil
}

// CloneInto performs a deep copy of t into o, reusing o's existing storage
// for the shared prefix to reduce copying overhead — mirroring
// ion.Symtab.CloneInto from the Sneller Ion codec.
func (t *Table) CloneInto(o *Table) {
	o.init()
	i := 0
	for i < len(o.interned) && i < len(t.interned) && t.interned[i] == o.interned[i] {
		i++
	}
	for ; i < len(o.interned); i++ {
		delete(o.toIndex, o.interned[i])
	}
	o.interned = o.interned[:min(len(o.interned), len(t.interned))]
	for idx := 0; idx < len(t.interned); idx++ {
		if idx < len(o.interned) {
			if o.interned[idx] != t.interned[idx] {
				o.interned[idx] = t.interned[idx]
			}
		} else {
			o.interned = append(o.interned, t.interned[idx])
		}
		o.toIndex[t.interned[idx]] = idx
	}
	o.opts = t.opts
}

// Keys returns a snapshot slice of every interned key, sorted.
func (t *Table) Keys() []string {
	ks := maps.Keys(t.toIndex)
	slices.Sort(ks)
	return ks
}
