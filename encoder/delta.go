package encoder

// Delta mode (Config.Base set) does not change anything about how values
// are written: the pending-pointer bookkeeping in closeCollection and
// appendPointerSlot already measures every offset in a single unified
// address space, [0, len(Base)) for the base document followed by
// [len(Base), len(Base)+w.Position()) for the bytes this Encoder is
// producing (see (*Encoder).here). A pointer computed in that space is
// valid once the delta is appended directly after Base in memory, which
// is exactly what Concat below does.

// Concat appends a delta produced by an Encoder configured with
// Config.Base: base to base, returning a single buffer whose root is the
// delta's root value. The original base slice is not modified.
func Concat(base, delta []byte) []byte {
	out := make([]byte, 0, len(base)+len(delta))
	out = append(out, base...)
	out = append(out, delta...)
	return out
}
