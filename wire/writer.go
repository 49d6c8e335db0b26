package wire

// A Writer is a chunked, append-only byte sink with addressable positions
// (spec §4.5, component E). It plays the same role in this codec that
// [fragments.Encoder] plays in the D-Bus wire format: callers never see
// padding or growth, only absolute offsets.
//
// The zero Writer is ready to use. Small documents never grow past the
// inline buffer, so they allocate nothing beyond the Writer itself.
type Writer struct {
	buf    []byte
	inline [256]byte
}

// NewWriter returns a Writer whose first chunk is preallocated to at least
// reserve bytes, to avoid repeated growth for callers who know their
// document's rough size up front.
func NewWriter(reserve int) *Writer {
	w := &Writer{}
	if reserve > len(w.inline) {
		w.buf = make([]byte, 0, reserve)
	} else {
		w.buf = w.inline[:0]
	}
	return w
}

// Position returns the current absolute write offset. It is monotonic and
// stable: bytes already written never move.
func (w *Writer) Position() int {
	return len(w.buf)
}

// Write appends bs verbatim and returns the absolute offset at which it
// landed.
func (w *Writer) Write(bs []byte) int {
	w.ensureInit()
	pos := len(w.buf)
	w.buf = append(w.buf, bs...)
	return pos
}

// WriteByte appends a single byte and returns its offset.
func (w *Writer) WriteByte(b byte) int {
	w.ensureInit()
	pos := len(w.buf)
	w.buf = append(w.buf, b)
	return pos
}

// Reserve appends n zero bytes, returning the offset of the first one, for
// later patching with Rewrite once the value to store there is known.
func (w *Writer) Reserve(n int) int {
	w.ensureInit()
	pos := len(w.buf)
	for range n {
		w.buf = append(w.buf, 0)
	}
	return pos
}

// ensureInit wires up the inline buffer on first use, so a bare Writer{}
// actually gets the inline-buffer fast path the type's doc comment promises,
// not just the one NewWriter constructs explicitly.
func (w *Writer) ensureInit() {
	if w.buf == nil {
		w.buf = w.inline[:0]
	}
}

// PadToEven appends a single zero byte if the writer is not currently at an
// even offset, so that every value in the document starts on an even
// boundary (spec §3.3).
func (w *Writer) PadToEven() {
	w.ensureInit()
	if len(w.buf)%2 != 0 {
		w.buf = append(w.buf, 0)
	}
}

// Rewrite patches bytes starting at pos, which must have been reserved (by
// Write or Reserve) and not yet reused; it is a programming error to
// rewrite past the region originally reserved at pos.
func (w *Writer) Rewrite(pos int, bs []byte) {
	if pos < 0 || pos+len(bs) > len(w.buf) {
		panic("wire: Rewrite out of bounds")
	}
	copy(w.buf[pos:], bs)
}

// Finish returns the full buffer written so far. The returned slice aliases
// the Writer's internal storage; callers that intend to keep writing after
// calling Finish should copy it first.
func (w *Writer) Finish() []byte {
	return w.buf
}

// Len reports the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}
