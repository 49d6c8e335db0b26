// Package wire provides the byte-level primitives shared by the decoder,
// the validator and the encoder: little-endian scalar load/store, a
// growable append-only byte sink, and a varint codec.
//
// The on-disk format is always little-endian (spec §6.1). Every load and
// store below goes through [encoding/binary]'s LittleEndian on any host;
// HostIsLittleEndian reports the host byte order but no code path in this
// module branches on it.
package wire

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// HostIsLittleEndian reports whether the running process can treat the
// document's little-endian scalars as native byte order, skipping explicit
// byte-swapping in hot loops.
var HostIsLittleEndian = !cpu.IsBigEndian

// Uint16 reads a little-endian uint16 at the start of bs.
func Uint16(bs []byte) uint16 { return binary.LittleEndian.Uint16(bs) }

// Uint32 reads a little-endian uint32 at the start of bs.
func Uint32(bs []byte) uint32 { return binary.LittleEndian.Uint32(bs) }

// Uint64 reads a little-endian uint64 at the start of bs.
func Uint64(bs []byte) uint64 { return binary.LittleEndian.Uint64(bs) }

// PutUint16 stores v as a little-endian uint16 at the start of bs.
func PutUint16(bs []byte, v uint16) { binary.LittleEndian.PutUint16(bs, v) }

// PutUint32 stores v as a little-endian uint32 at the start of bs.
func PutUint32(bs []byte, v uint32) { binary.LittleEndian.PutUint32(bs, v) }

// PutUint64 stores v as a little-endian uint64 at the start of bs.
func PutUint64(bs []byte, v uint64) { binary.LittleEndian.PutUint64(bs, v) }

// AppendUint16 appends v to bs in little-endian order.
func AppendUint16(bs []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(bs, v) }

// AppendUint32 appends v to bs in little-endian order.
func AppendUint32(bs []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(bs, v) }

// AppendUint64 appends v to bs in little-endian order.
func AppendUint64(bs []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(bs, v) }
