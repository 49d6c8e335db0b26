// Package encoder implements the single-pass event builder that lays out a
// document in the format described by the root fleece package (spec §4.6,
// component F): callers drive it with a stream of scalar/array/dict
// events, and it computes pointer widths, fixes up back-references,
// deduplicates strings, and optionally sorts dictionary keys.
//
// The event-driven shape (Begin/End pairs plus scalar writers, a sticky
// error, and a Finish that must be called exactly once) follows
// [github.com/danderson/dbus]'s fragments.Encoder, generalized from a
// fixed D-Bus type signature to this format's self-describing tags.
package encoder

import (
	"math"

	"golang.org/x/exp/slices"

	"github.com/nwca/fleece"
	"github.com/nwca/fleece/symtab"
	"github.com/nwca/fleece/wire"
)

// maxStackDepth bounds the nesting of open arrays/dicts. A fixed-depth
// inline array keeps the worst-case allocation predictable and preserves
// stack locality, per spec §9's discussion of the encoder's frame stack;
// callers nesting deeper than this get a synchronous ErrEncode rather than
// unbounded heap growth.
const maxStackDepth = 64

// Config configures an Encoder (spec §4.6, §6.5).
type Config struct {
	// UniqueStrings deduplicates string values of length 2-15 by emitting
	// a pointer to a prior identical string instead of a new copy.
	// Defaults to true (the zero Config has it on; use Config{...} with
	// an explicit false to disable).
	UniqueStrings *bool
	// SortKeys sorts dict keys before emission. Defaults to true, same
	// convention as UniqueStrings.
	SortKeys *bool
	// Base, when non-nil, puts the encoder in delta mode: all pointer
	// targets are tracked as if the emitted bytes were appended to Base,
	// and Finish returns a delta suffix rather than a standalone
	// document.
	Base []byte
	// ReuseBaseStrings, when true and Base is set, scans Base once up
	// front and seeds the string dedup table with every string value found
	// and its absolute offset, so identical writes in the delta produce a
	// pointer into Base instead of a new copy. Dict keys in Base are not
	// seeded.
	ReuseBaseStrings bool
	// InitialReserve hints the writer's first chunk size.
	InitialReserve int
	// Table, when set, lets WriteKey intern short string keys as
	// shared-key integers (spec §4.4); dicts built with Table engaged
	// still sort consistently between integer- and string-keyed
	// entries.
	Table *symtab.Table
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (c Config) uniqueStrings() bool { return boolOr(c.UniqueStrings, true) }
func (c Config) sortKeys() bool      { return boolOr(c.SortKeys, true) }

// pendingKind distinguishes the two shapes a not-yet-finalized collection
// slot can take.
type pendingKind int

const (
	pendingInline pendingKind = iota
	pendingPointer
)

// pendingSlot is one not-yet-finalized array/dict slot. Pointers are kept
// as absolute target offsets (in the base||delta address space) until the
// enclosing collection is closed, at which point the distance back to each
// pointer's own final address is known and can be validated/encoded.
type pendingSlot struct {
	kind   pendingKind
	inline [4]byte // used bytes depend on wide; narrow uses inline[0:2]
	target int     // used when kind == pendingPointer
	wide   bool    // true if this slot's inline payload needs 4 bytes
}

// keyDescriptor captures enough of a pending dict key to sort pairs before
// emission without re-deriving the key's bytes from the slot encoding.
type keyDescriptor struct {
	isInt  bool
	intKey int
	str    string
}

type frame struct {
	isDict    bool
	slots     []pendingSlot
	keys      []keyDescriptor // dict only, parallel to slots[*2]
	wide      bool
	expectKey bool // dict only: true if the next event must be WriteKey
}

// Encoder is a single-writer, single-pass event builder. Concurrent calls
// on the same Encoder are undefined behavior (spec §5); use one Encoder
// per goroutine.
type Encoder struct {
	cfg   Config
	w     *wire.Writer
	stack []frame
	dedup map[string]int // string content -> absolute offset of first copy
	err   error
	done  bool
}

// New returns a ready-to-use Encoder.
func New(cfg Config) *Encoder {
	e := &Encoder{
		cfg:   cfg,
		w:     wire.NewWriter(cfg.InitialReserve),
		dedup: make(map[string]int),
	}
	if cfg.ReuseBaseStrings && len(cfg.Base) > 0 {
		scanBaseStrings(cfg.Base, e.dedup)
	}
	return e
}

func (e *Encoder) fail(err error) error {
	if e.err == nil {
		e.err = err
	}
	return e.err
}

// baseLen returns the length of the delta-mode base, or 0 outside delta
// mode.
func (e *Encoder) baseLen() int { return len(e.cfg.Base) }

// here returns the absolute offset (in the base||delta address space) the
// next byte written to e.w will land at.
func (e *Encoder) here() int { return e.baseLen() + e.w.Position() }

func (e *Encoder) top() *frame {
	return &e.stack[len(e.stack)-1]
}

// checkValueAllowed verifies that a scalar/collection event is legal in
// the current state: at top level, only one value may ever be written; in
// an open dict, keys and values must alternate starting with a key.
func (e *Encoder) checkValueAllowed() error {
	if e.done {
		return e.fail(encErr("write after Finish or after a prior error"))
	}
	if e.err != nil {
		return e.err
	}
	if len(e.stack) == 0 {
		return nil
	}
	f := e.top()
	if f.isDict && f.expectKey {
		return e.fail(encErr("expected a dict key, got a value"))
	}
	return nil
}

func encErr(format string, args ...any) error {
	return newEncodeError(format, args...)
}

// appendInlineSlot records a finished scalar's encoded bytes (2 or 4 bytes,
// exactly as they should appear in a slot) as a pending inline slot in the
// current frame, or as the document root if the stack is empty.
func (e *Encoder) appendInlineSlot(bs []byte) error {
	if len(e.stack) == 0 {
		e.w.Write(bs)
		e.done = true
		return nil
	}
	var sl pendingSlot
	sl.wide = len(bs) == 4
	copy(sl.inline[:], bs)
	f := e.top()
	f.slots = append(f.slots, sl)
	if f.isDict {
		f.expectKey = !f.expectKey
	}
	return nil
}

// appendPointerSlot emits a value's full encoding at the current position
// and records a pending pointer slot in the current frame pointing back
// to it, or (if the stack is empty) writes the document root pointer
// directly.
func (e *Encoder) appendPointerSlot(emit func()) error {
	target := e.here()
	emit()
	if len(e.stack) == 0 {
		// Root: a narrow pointer to the value we just wrote.
		dist := e.here() - target
		if dist > 0x7FFE {
			return e.fail(newRangeError("root value too far for a narrow pointer"))
		}
		appendPointerBytes(e.w, dist, false)
		e.done = true
		return nil
	}
	f := e.top()
	f.slots = append(f.slots, pendingSlot{kind: pendingPointer, target: target})
	if f.isDict {
		f.expectKey = !f.expectKey
	}
	return nil
}

// appendPointerBytes is the shared big-endian pointer writer used for both
// root and collection-slot pointers.
func appendPointerBytes(w *wire.Writer, byteDistance int, wide bool) {
	relative := uint32(byteDistance / 2)
	if wide {
		relative |= 0x80000000
		w.Write([]byte{byte(relative >> 24), byte(relative >> 16), byte(relative >> 8), byte(relative)})
		return
	}
	relative |= 0x8000
	w.Write([]byte{byte(relative >> 8), byte(relative)})
}

// --- scalars ---

// WriteNull emits a null value.
func (e *Encoder) WriteNull() error { return e.writeSpecial(0x00) }

// WriteUndefined emits the undefined sentinel. It is only ever meaningful
// within the binary format: dumping it to JSON is refused (see the root
// package's ToJSON).
func (e *Encoder) WriteUndefined() error { return e.writeSpecial(0x0C) }

// WriteBool emits a boolean.
func (e *Encoder) WriteBool(b bool) error {
	if b {
		return e.writeSpecial(0x08)
	}
	return e.writeSpecial(0x04)
}

func (e *Encoder) writeSpecial(second byte) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	return e.appendInlineSlot([]byte{0x30, second})
}

// WriteInt emits a signed integer, choosing the short-int encoding when v
// fits in 12 bits and the narrowest byte count otherwise.
func (e *Encoder) WriteInt(v int64) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	if v >= -2048 && v <= 2047 {
		u := uint16(v) & 0x0FFF
		return e.appendInlineSlot([]byte{byte(u >> 8), byte(u)})
	}
	n := signedByteCount(v)
	return e.appendPointerSlot(func() {
		bs := make([]byte, 1+n)
		bs[0] = tagIntByte | byte(n-1)
		putLEInt(bs[1:1+n], v)
		e.w.Write(bs)
		e.w.PadToEven()
	})
}

const tagIntByte = 0x10

func signedByteCount(v int64) int {
	for _, n := range []int{1, 2, 3, 4, 5, 6, 7, 8} {
		bits := uint(n * 8)
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		if v >= lo && v <= hi {
			return n
		}
	}
	return 8
}

func putLEInt(dst []byte, v int64) {
	u := uint64(v)
	for i := range dst {
		dst[i] = byte(u)
		u >>= 8
	}
}

// WriteUint emits an unsigned integer using the narrowest byte count.
func (e *Encoder) WriteUint(v uint64) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	if v <= 2047 {
		return e.appendInlineSlot([]byte{byte(v >> 8), byte(v)})
	}
	n := unsignedByteCount(v)
	return e.appendPointerSlot(func() {
		bs := make([]byte, 1+n)
		bs[0] = tagIntByte | 0x08 | byte(n-1)
		u := v
		for i := 0; i < n; i++ {
			bs[1+i] = byte(u)
			u >>= 8
		}
		e.w.Write(bs)
		e.w.PadToEven()
	})
}

func unsignedByteCount(v uint64) int {
	n := 1
	for v > (uint64(1)<<(8*uint(n)))-1 && n < 8 {
		n++
	}
	return n
}

// WriteFloat emits a 32-bit float. Floats are always stored out-of-line
// (their 6-byte encoding never fits a collection slot), so this behaves
// like WriteString/WriteData: the payload is written at the current
// position and referenced by a pointer slot.
func (e *Encoder) WriteFloat(v float32) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	return e.appendPointerSlot(func() {
		bs := make([]byte, 6)
		bs[0] = 0x20
		wire.PutUint32(bs[2:], math.Float32bits(v))
		e.w.Write(bs)
	})
}

// WriteDouble emits a 64-bit float, out-of-line like WriteFloat.
func (e *Encoder) WriteDouble(v float64) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	return e.appendPointerSlot(func() {
		bs := make([]byte, 10)
		bs[0] = 0x28
		wire.PutUint64(bs[2:], math.Float64bits(v))
		e.w.Write(bs)
	})
}

// WriteString emits a string, deduplicating short strings when
// Config.UniqueStrings is enabled (the default).
func (e *Encoder) WriteString(s string) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	if e.cfg.uniqueStrings() && len(s) >= 2 && len(s) <= 15 {
		if off, ok := e.dedup[s]; ok {
			return e.appendPointerToOffset(off)
		}
	}
	return e.appendPointerSlot(func() {
		off := e.here()
		e.emitStringBytes(tagStringByte, s)
		if e.cfg.uniqueStrings() && len(s) >= 2 && len(s) <= 15 {
			e.dedup[s] = off
		}
	})
}

const tagStringByte = 0x40
const tagDataByte = 0x50

func (e *Encoder) emitStringBytes(tagByte byte, s string) {
	e.emitTagged(tagByte, len(s), []byte(s))
}

// emitTagged writes the header for string/data values: a fixed 2-byte
// header (tag nibble | length-or-0xF in byte 0, a reserved byte 1), an
// optional varint length when byte 0's low nibble is 0xF, and the
// payload, followed by an even-alignment pad. The varint, when present,
// always starts right after the fixed 2-byte header (stringHeader in the
// root package assumes this).
func (e *Encoder) emitTagged(tagByte byte, n int, payload []byte) {
	if n < 0x0F {
		e.w.Write([]byte{tagByte | byte(n), 0})
	} else {
		e.w.Write([]byte{tagByte | 0x0F, 0})
		var lenBuf []byte
		lenBuf = wire.AppendVarint(lenBuf, uint64(n))
		e.w.Write(lenBuf)
	}
	e.w.Write(payload)
	e.w.PadToEven()
}

func (e *Encoder) appendPointerToOffset(off int) error {
	if len(e.stack) == 0 {
		dist := e.here() - off
		if dist > 0x7FFE {
			// The root slot is always a narrow pointer: reach a far target
			// through a wide pointer placed just before it.
			appendPointerBytes(e.w, dist, true)
			dist = 4
		}
		appendPointerBytes(e.w, dist, false)
		e.done = true
		return nil
	}
	f := e.top()
	f.slots = append(f.slots, pendingSlot{kind: pendingPointer, target: off})
	if f.isDict {
		f.expectKey = !f.expectKey
	}
	return nil
}

// WriteData emits an opaque byte string.
func (e *Encoder) WriteData(bs []byte) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	return e.appendPointerSlot(func() {
		e.emitTagged(tagDataByte, len(bs), bs)
	})
}

// WriteValue copies v into the document being built. If v is backed by
// this Encoder's Config.Base (delta mode) or by cfg.Base's string dedup
// scan, it is emitted as a pointer into the existing bytes instead of
// being recursively re-encoded; otherwise it is walked and rewritten
// structurally.
func (e *Encoder) WriteValue(v fleece.Value) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	if len(e.cfg.Base) > 0 {
		if addr, ok := v.BackedBy(e.cfg.Base); ok {
			return e.appendPointerToOffset(addr)
		}
	}
	switch v.Kind() {
	case fleece.KindNull:
		return e.WriteNull()
	case fleece.KindUndefined:
		return e.WriteUndefined()
	case fleece.KindBool:
		return e.WriteBool(v.AsBool())
	case fleece.KindNumber:
		switch v.NumberKind() {
		case fleece.NumFloat64:
			return e.WriteDouble(v.AsDouble())
		case fleece.NumFloat32:
			return e.WriteFloat(v.AsFloat())
		case fleece.NumUnsigned:
			return e.WriteUint(v.AsUnsigned())
		default:
			return e.WriteInt(v.AsInt())
		}
	case fleece.KindString:
		return e.WriteString(v.AsString())
	case fleece.KindData:
		return e.WriteData(v.AsData())
	case fleece.KindArray:
		it := v.AsArray()
		if err := e.BeginArray(it.Count()); err != nil {
			return err
		}
		for i := 0; i < it.Count(); i++ {
			if err := e.WriteValue(it.At(i)); err != nil {
				return err
			}
		}
		return e.EndArray()
	case fleece.KindDict:
		d := v.AsDict()
		if err := e.BeginDict(d.Count()); err != nil {
			return err
		}
		for it := d.Iterate(); it.Next(); {
			if err := e.WriteKey(it.Key()); err != nil {
				return err
			}
			if err := e.WriteValue(it.Value()); err != nil {
				return err
			}
		}
		return e.EndDict()
	default:
		return e.fail(encErr("cannot write value of unknown kind"))
	}
}

// --- collections ---

// BeginArray opens a new array; reserve is a hint for the expected element
// count, used only to presize the pending-slot slice.
func (e *Encoder) BeginArray(reserve int) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	if len(e.stack) >= maxStackDepth {
		return e.fail(encErr("collection nesting exceeds %d", maxStackDepth))
	}
	e.stack = append(e.stack, frame{slots: make([]pendingSlot, 0, reserve)})
	return nil
}

// EndArray closes the most recently opened array.
func (e *Encoder) EndArray() error {
	if e.err != nil {
		return e.err
	}
	if len(e.stack) == 0 || e.top().isDict {
		return e.fail(encErr("EndArray without matching BeginArray"))
	}
	return e.closeCollection(tagArrayByte)
}

// BeginDict opens a new dict; reserve hints the expected pair count.
func (e *Encoder) BeginDict(reserve int) error {
	if err := e.checkValueAllowed(); err != nil {
		return err
	}
	if len(e.stack) >= maxStackDepth {
		return e.fail(encErr("collection nesting exceeds %d", maxStackDepth))
	}
	e.stack = append(e.stack, frame{
		isDict:    true,
		slots:     make([]pendingSlot, 0, reserve*2),
		keys:      make([]keyDescriptor, 0, reserve),
		expectKey: true,
	})
	return nil
}

// EndDict closes the most recently opened dict.
func (e *Encoder) EndDict() error {
	if e.err != nil {
		return e.err
	}
	if len(e.stack) == 0 || !e.top().isDict {
		return e.fail(encErr("EndDict without matching BeginDict"))
	}
	if !e.top().expectKey {
		return e.fail(encErr("EndDict with a dangling key"))
	}
	return e.closeCollection(tagDictByte)
}

const tagArrayByte = 0x60
const tagDictByte = 0x70

// WriteKey writes a dict key, which must be a string or an int. If the
// encoder has a shared-key Table configured and key is an eligible short
// string, it is interned and stored as an integer key instead.
func (e *Encoder) WriteKey(key any) error {
	if e.err != nil {
		return e.err
	}
	if len(e.stack) == 0 || !e.top().isDict || !e.top().expectKey {
		return e.fail(encErr("WriteKey outside an open dict, or expected a value"))
	}
	f := e.top()
	// The key bytes go through the ordinary scalar writers, which refuse a
	// value while the dict expects a key and flip expectKey once the slot
	// is recorded. Clear the flag for the key's own write, then leave the
	// frame expecting the key's value.
	writeKey := func(write func() error) error {
		f.expectKey = false
		if err := write(); err != nil {
			return err
		}
		f.expectKey = false
		return nil
	}
	switch k := key.(type) {
	case string:
		if e.cfg.Table != nil {
			if id, ok := e.cfg.Table.Encode(k); ok {
				f.keys = append(f.keys, keyDescriptor{isInt: true, intKey: id})
				return writeKey(func() error { return e.WriteInt(int64(id)) })
			}
		}
		f.keys = append(f.keys, keyDescriptor{str: k})
		return writeKey(func() error { return e.WriteString(k) })
	case int:
		f.keys = append(f.keys, keyDescriptor{isInt: true, intKey: k})
		return writeKey(func() error { return e.WriteInt(int64(k)) })
	default:
		return e.fail(encErr("dict key must be string or int, got %T", key))
	}
}

// closeCollection finalizes the top frame: sorts dict pairs if configured,
// decides narrow vs wide, emits the header and slots, and threads the new
// collection into the parent frame (or the root) as a pending pointer.
func (e *Encoder) closeCollection(tagByte byte) error {
	f := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]

	if f.isDict && e.cfg.sortKeys() {
		sortDictPairs(f.keys, f.slots)
	}

	wide := false
	for _, sl := range f.slots {
		if sl.wide {
			wide = true
		}
	}
	// A pointer's final distance depends on where its slot ends up, which
	// depends on the header size, which depends on count/width. Compute a
	// provisional header size first, then check whether any pointer would
	// be forced wide by the actual final positions.
	count := len(f.slots)
	if f.isDict {
		count /= 2
	}
	headerSize := 2
	if count >= 0x7FF {
		headerSize += wire.SizeVarint(uint64(count))
	}
	for {
		slotWidth := 2
		if wide {
			slotWidth = 4
		}
		bodyStart := e.here() + headerSize
		forcedWide := false
		for i, sl := range f.slots {
			if sl.kind != pendingPointer {
				continue
			}
			slotAddr := bodyStart + i*slotWidth
			dist := slotAddr - sl.target
			if dist > 0x7FFE {
				forcedWide = true
				break
			}
		}
		if forcedWide && !wide {
			wide = true
			continue
		}
		break
	}

	header := make([]byte, 0, headerSize)
	if count < 0x7FF {
		b0 := tagByte | boolBit(wide, 0x08) | byte(count>>8)
		header = append(header, b0, byte(count))
	} else {
		b0 := tagByte | boolBit(wide, 0x08) | 0x07
		header = append(header, b0, 0xFF)
		header = wire.AppendVarint(header, uint64(count))
	}
	pos := e.baseLen() + e.w.Write(header)

	slotWidth := 2
	if wide {
		slotWidth = 4
	}
	for _, sl := range f.slots {
		slotAddr := e.here()
		if sl.kind == pendingPointer {
			dist := slotAddr - sl.target
			if dist > 0x7FFFFFFF*2 {
				return e.fail(newRangeError("pointer distance overflows 31 bits"))
			}
			appendPointerBytes(e.w, dist, wide)
		} else {
			bs := sl.inline[:2]
			if sl.wide {
				bs = sl.inline[:4]
			}
			if wide && !sl.wide {
				// Inline payload bytes always start at the slot's own
				// address (that is where a decoder looks for the tag), so
				// padding to a wider slot appends zero bytes rather than
				// right-aligning.
				padded := make([]byte, 4)
				copy(padded[0:], bs)
				bs = padded
			} else if !wide && sl.wide {
				return e.fail(encErr("internal error: wide slot in narrow collection"))
			}
			e.w.Write(bs)
		}
	}
	e.w.PadToEven()

	// Thread the new collection into the parent as a pending pointer (or
	// finish if this was the root collection).
	return e.appendPointerSlotFromExisting(pos)
}

func boolBit(b bool, bit byte) byte {
	if b {
		return bit
	}
	return 0
}

// appendPointerSlotFromExisting records a pointer to a value already
// written at absolute offset start (used when closing a collection, whose
// bytes are already on the wire by the time we know its final address).
func (e *Encoder) appendPointerSlotFromExisting(start int) error {
	if len(e.stack) == 0 {
		dist := e.here() - start
		if dist > 0x7FFE {
			// The root slot is always a narrow pointer: reach a far root
			// collection through a wide pointer placed just before it.
			appendPointerBytes(e.w, dist, true)
			dist = 4
		}
		appendPointerBytes(e.w, dist, false)
		e.done = true
		return nil
	}
	f := e.top()
	f.slots = append(f.slots, pendingSlot{kind: pendingPointer, target: start})
	if f.isDict {
		f.expectKey = !f.expectKey
	}
	return nil
}

// sortDictPairs sorts the (key, value) slot pairs in keys/slots by key
// descriptor, integer keys first (spec §4.3/§4.6).
func sortDictPairs(keys []keyDescriptor, slots []pendingSlot) {
	type pair struct {
		k keyDescriptor
		s [2]pendingSlot
	}
	pairs := make([]pair, len(keys))
	for i := range keys {
		pairs[i] = pair{keys[i], [2]pendingSlot{slots[2*i], slots[2*i+1]}}
	}
	slices.SortFunc(pairs, func(a, b pair) bool {
		if a.k.isInt != b.k.isInt {
			return a.k.isInt // integer keys sort before string keys
		}
		if a.k.isInt {
			return a.k.intKey < b.k.intKey
		}
		return a.k.str < b.k.str
	})
	for i, p := range pairs {
		keys[i] = p.k
		slots[2*i] = p.s[0]
		slots[2*i+1] = p.s[1]
	}
}

// Finish completes encoding and returns the emitted bytes. It is an
// ErrEncode for any collection to still be open, or for no value to have
// been written at all.
func (e *Encoder) Finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(e.stack) != 0 {
		return nil, e.fail(encErr("Finish with an unclosed collection"))
	}
	if !e.done {
		return nil, e.fail(encErr("Finish with no value written"))
	}
	e.w.PadToEven()
	return e.w.Finish(), nil
}
