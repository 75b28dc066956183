// Package codec encodes value.Value to a self-describing binary layout and
// back.
//
// # Layout
//
// All integers are little-endian. A buffer is:
//
//	header (36 bytes)
//	  magic "FXBV" | major u8 | minor u8 | flags u16 (root tag in low 4 bits)
//	  field count u32 | descriptor table offset u32 | data offset u32
//	  total length u64 | name table offset u64
//	root descriptor (18 bytes)
//	name table: count u32, then len u32 | UTF-8 bytes, deduplicated
//	data section
//
// A descriptor is name hash u64 | tag u8 | flags u8 | offset u32 | length u32.
// Object keys are hashed with xxhash64 and resolved through the name table.
// Bool and numeric scalars are stored inline in the offset/length fields.
// Strings and node references are length-prefixed UTF-8 in the data
// section. Arrays and objects point at a block of count u32 followed by
// count descriptors. Arrays whose elements are all Int, all Uint or all
// Float are packed as tag u8 | count u32 | 8-byte elements.
//
// The field count is the total number of descriptors in the buffer and is
// checked on decode. Decode never reads outside the buffer: every offset
// and length is bounds-checked and every failure is a *DecodeError.
//
// A buffer whose major version differs from MajorVersion is rejected.
// Minor versions only add flags; unknown flag bits are rejected.
package codec
