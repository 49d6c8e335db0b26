package fleece

// deref follows zero or more pointer hops starting at addr, returning the
// address of the first non-pointer value found. The first hop uses the
// width implied by the caller's context (a collection's slot width, or
// narrow for the root slot); every subsequent hop is always wide, per the
// encoder's invariant that only the first pointer in a chain may be narrow
// (spec §3.2, §4.1).
//
// deref does not bounds-check; callers on untrusted data must run
// [Validate] first.
func deref(base []byte, addr int, wide bool) int {
	for {
		b := base[addr]
		if tagOf(b) < 8 {
			return addr
		}
		var off int
		if wide {
			raw := (uint32(b&0x7f) << 24) | uint32(base[addr+1])<<16 | uint32(base[addr+2])<<8 | uint32(base[addr+3])
			off = int(raw) * 2
		} else {
			raw := (uint16(b&0x7f) << 8) | uint16(base[addr+1])
			off = int(raw) * 2
		}
		addr -= off
		wide = true
	}
}

// valueAt wraps the value at addr (following pointers per deref) into a
// Value referencing base.
func valueAt(base []byte, addr int, wide bool) Value {
	return Value{base: base, addr: deref(base, addr, wide)}
}

// Root returns the document's root value: the last 2 bytes of a
// well-formed buffer are a narrow pointer to it (or, for a 2-byte buffer,
// an inline value). Root does not validate buf; call [Validate] first on
// untrusted input, or use [FromTrustedData] to skip validation
// deliberately.
func Root(buf []byte) Value {
	if len(buf) < 2 {
		return Null
	}
	return valueAt(buf, len(buf)-2, false)
}

// FromTrustedData returns buf's root value without validating it. Calling
// this on unvalidated or corrupt input is undefined behavior: out-of-range
// reads may occur. Prefer [Validate], which returns the root itself, unless
// buf is known-good (e.g. it was produced by this package's own encoder in
// the same process).
func FromTrustedData(buf []byte) Value {
	return Root(buf)
}

// pointerFits reports whether a back-reference of byteDistance bytes (the
// distance in bytes from the pointer's own address back to its target)
// can be represented by a narrow (2-byte) pointer.
func pointerFits(byteDistance int) bool {
	return byteDistance <= maxInlinePointerReach && byteDistance%2 == 0
}

// encodePointer appends a pointer pointing byteDistance bytes backward
// (measured from the pointer's own address, as deref does) to dst, using a
// narrow (2 bytes) or wide (4 bytes) encoding. relative is
// byteDistance/2, per spec §3.2 ("byte offset in units of 2").
//
// Header fields (the tag nibble and the bit-packed metadata that follows
// it) are a big-endian bit-field — the first byte written is always the
// most significant, so the tag nibble lands in the first byte regardless
// of value width. This is distinct from scalar payloads (ints, floats),
// which are little-endian per spec §6.1.
func encodePointer(dst []byte, byteDistance int, wide bool) []byte {
	relative := uint32(byteDistance / 2)
	if wide {
		relative |= 0x80000000
		return append(dst, byte(relative>>24), byte(relative>>16), byte(relative>>8), byte(relative))
	}
	relative |= 0x8000
	return append(dst, byte(relative>>8), byte(relative))
}
