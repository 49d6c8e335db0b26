package encoder

import "github.com/nwca/fleece"

// newEncodeError and newRangeError wrap the root package's single Error
// type for the two failure kinds the encoder can produce (spec §7):
// malformed call sequences, and pointer/collection sizes that overflow
// the format's 31-bit addressing.
func newEncodeError(format string, args ...any) error {
	return fleece.NewError(fleece.ErrEncode, format, args...)
}

func newRangeError(format string, args ...any) error {
	return fleece.NewError(fleece.ErrOutOfRange, format, args...)
}
