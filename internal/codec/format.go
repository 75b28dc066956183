package codec

import (
	"encoding/binary"

	"github.com/roach88/fxd/internal/value"
)

const (
	// Magic is "FXBV" read as a little-endian uint32.
	Magic uint32 = 0x56425846

	MajorVersion uint8 = 1
	MinorVersion uint8 = 0

	// HeaderSize is fixed. The descriptor table always starts here.
	HeaderSize = 36

	// DescriptorSize is the size of one field descriptor.
	DescriptorSize = 18

	// MaxDepth bounds container nesting on encode and decode.
	MaxDepth = 512
)

// Descriptor flag bits.
const (
	flagNamed      uint8 = 1 << 0 // key resolved via the name table
	flagInlineName uint8 = 1 << 1 // key stored as a prefix of the data region
	flagInline     uint8 = 1 << 2 // scalar bits stored in the offset/length fields
	flagPacked     uint8 = 1 << 3 // homogeneous numeric array
	flagNonFinite  uint8 = 1 << 4 // NaN or ±Inf

	knownFlags = flagNamed | flagInlineName | flagInline | flagPacked | flagNonFinite
)

// Wire type tags. These are protocol constants.
const (
	tagNull    uint8 = 0
	tagBool    uint8 = 1
	tagInt     uint8 = 2
	tagUint    uint8 = 3
	tagFloat   uint8 = 4
	tagString  uint8 = 5
	tagArray   uint8 = 6
	tagObject  uint8 = 7
	tagNodeRef uint8 = 8
)

func tagOf(v value.Value) uint8 {
	switch v.(type) {
	case value.Null:
		return tagNull
	case value.Bool:
		return tagBool
	case value.Int:
		return tagInt
	case value.Uint:
		return tagUint
	case value.Float:
		return tagFloat
	case value.String:
		return tagString
	case value.Array:
		return tagArray
	case value.Object:
		return tagObject
	case value.NodeRef:
		return tagNodeRef
	default:
		return 0xff
	}
}

// Header is the decoded fixed-size header of an encoded buffer.
type Header struct {
	Major           uint8
	Minor           uint8
	Flags           uint16
	FieldCount      uint32
	DescriptorTable uint32
	DataOffset      uint32
	TotalLength     uint64
	NameTable       uint64
}

// RootTag returns the wire tag of the root value.
func (h Header) RootTag() uint8 {
	return uint8(h.Flags & 0x0f)
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = h.Major
	buf[5] = h.Minor
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.FieldCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.DescriptorTable)
	binary.LittleEndian.PutUint32(buf[16:20], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[20:28], h.TotalLength)
	binary.LittleEndian.PutUint64(buf[28:36], h.NameTable)
}

// ReadHeader validates and returns the header of buf without decoding
// the body.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, decodeErr(ReasonTruncated, 0, "buffer is %d bytes, header needs %d", len(buf), HeaderSize)
	}
	if m := binary.LittleEndian.Uint32(buf[0:4]); m != Magic {
		return Header{}, decodeErr(ReasonMagic, 0, "got %#08x", m)
	}
	h := Header{
		Major:           buf[4],
		Minor:           buf[5],
		Flags:           binary.LittleEndian.Uint16(buf[6:8]),
		FieldCount:      binary.LittleEndian.Uint32(buf[8:12]),
		DescriptorTable: binary.LittleEndian.Uint32(buf[12:16]),
		DataOffset:      binary.LittleEndian.Uint32(buf[16:20]),
		TotalLength:     binary.LittleEndian.Uint64(buf[20:28]),
		NameTable:       binary.LittleEndian.Uint64(buf[28:36]),
	}
	if h.Major != MajorVersion {
		return Header{}, decodeErr(ReasonVersion, 4, "major version %d, supported %d", h.Major, MajorVersion)
	}
	if h.TotalLength != uint64(len(buf)) {
		return Header{}, decodeErr(ReasonLength, 20, "header says %d bytes, buffer has %d", h.TotalLength, len(buf))
	}
	if h.DescriptorTable != HeaderSize {
		return Header{}, decodeErr(ReasonBounds, 12, "descriptor table at %d", h.DescriptorTable)
	}
	rootEnd := uint64(HeaderSize + DescriptorSize)
	if h.NameTable < rootEnd || h.NameTable > h.TotalLength || h.NameTable+4 > uint64(h.DataOffset) || uint64(h.DataOffset) > h.TotalLength {
		return Header{}, decodeErr(ReasonBounds, 16, "name table %d, data %d, total %d", h.NameTable, h.DataOffset, h.TotalLength)
	}
	// Every descriptor occupies its own 18 bytes, so the count is bounded
	// by the buffer size.
	if h.FieldCount == 0 || uint64(h.FieldCount)*DescriptorSize > h.TotalLength {
		return Header{}, decodeErr(ReasonCount, 8, "field count %d", h.FieldCount)
	}
	return h, nil
}
