package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/roach88/fxd/internal/value"
)

type decoder struct {
	buf     []byte
	hdr     Header
	dataOff int
	names   map[uint64]string
	seen    uint32
}

// Decode parses a buffer produced by Encode.
//
// Decode is total over arbitrary input: it returns a value or a
// *DecodeError, never panics, and never reads outside buf.
func Decode(buf []byte) (value.Value, error) {
	hdr, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	d := &decoder{buf: buf, hdr: hdr, dataOff: int(hdr.DataOffset)}
	if err := d.readNames(); err != nil {
		return nil, err
	}

	tag := buf[HeaderSize+8]
	if tag != hdr.RootTag() {
		return nil, decodeErr(ReasonTag, HeaderSize+8, "root tag %d, header says %d", tag, hdr.RootTag())
	}
	if buf[HeaderSize+9]&(flagNamed|flagInlineName) != 0 {
		return nil, decodeErr(ReasonFlags, HeaderSize+9, "root descriptor is named")
	}
	_, v, err := d.descriptor(HeaderSize, 0)
	if err != nil {
		return nil, err
	}
	if d.seen != hdr.FieldCount {
		return nil, decodeErr(ReasonCount, 8, "header declares %d fields, found %d", hdr.FieldCount, d.seen)
	}
	return v, nil
}

func (d *decoder) readNames() error {
	pos := int(d.hdr.NameTable)
	end := d.dataOff
	n := binary.LittleEndian.Uint32(d.buf[pos:])
	pos += 4
	// Each entry needs at least its 4-byte length.
	if uint64(n)*4 > uint64(end-pos) {
		return decodeErr(ReasonBounds, pos-4, "name table declares %d entries", n)
	}
	d.names = make(map[uint64]string, n)
	for i := uint32(0); i < n; i++ {
		if end-pos < 4 {
			return decodeErr(ReasonTruncated, pos, "name %d length", i)
		}
		l := binary.LittleEndian.Uint32(d.buf[pos:])
		pos += 4
		if uint64(l) > uint64(end-pos) {
			return decodeErr(ReasonBounds, pos-4, "name %d is %d bytes", i, l)
		}
		raw := d.buf[pos : pos+int(l)]
		if !utf8.Valid(raw) {
			return decodeErr(ReasonUTF8, pos, "name %d", i)
		}
		name := string(raw)
		d.names[xxhash.Sum64String(name)] = name
		pos += int(l)
	}
	if pos != end {
		return decodeErr(ReasonLength, pos, "%d trailing bytes in name table", end-pos)
	}
	return nil
}

// descriptor decodes the descriptor at pos and returns its key (if any)
// and value.
func (d *decoder) descriptor(pos int, depth int) (string, value.Value, error) {
	if depth > MaxDepth {
		return "", nil, decodeErr(ReasonDepth, pos, "nesting exceeds %d", MaxDepth)
	}
	if pos < 0 || pos+DescriptorSize > len(d.buf) {
		return "", nil, decodeErr(ReasonBounds, pos, "descriptor outside buffer")
	}
	d.seen++
	if d.seen > d.hdr.FieldCount {
		return "", nil, decodeErr(ReasonCount, pos, "more than %d descriptors", d.hdr.FieldCount)
	}

	hash := binary.LittleEndian.Uint64(d.buf[pos:])
	tag := d.buf[pos+8]
	flags := d.buf[pos+9]
	off := binary.LittleEndian.Uint32(d.buf[pos+10:])
	length := binary.LittleEndian.Uint32(d.buf[pos+14:])

	if flags&^knownFlags != 0 {
		return "", nil, decodeErr(ReasonFlags, pos+9, "unknown flags %#02x", flags)
	}
	if flags&flagNamed != 0 && flags&flagInlineName != 0 {
		return "", nil, decodeErr(ReasonFlags, pos+9, "both named and inline-named")
	}
	if flags&flagNonFinite != 0 && tag != tagFloat {
		return "", nil, decodeErr(ReasonFlags, pos+9, "non-finite flag on tag %d", tag)
	}
	if flags&flagPacked != 0 && tag != tagArray {
		return "", nil, decodeErr(ReasonFlags, pos+9, "packed flag on tag %d", tag)
	}

	var key string
	if flags&flagNamed != 0 {
		name, ok := d.names[hash]
		if !ok {
			return "", nil, decodeErr(ReasonUnknownName, pos, "hash %#016x", hash)
		}
		key = name
	}

	if flags&flagInline != 0 {
		if flags&(flagInlineName|flagPacked) != 0 {
			return "", nil, decodeErr(ReasonFlags, pos+9, "inline scalar with region flags")
		}
		v, err := inlineScalar(tag, uint64(off)|uint64(length)<<32, pos)
		return key, v, err
	}

	if tag == tagNull && flags&flagInlineName == 0 {
		if off != 0 || length != 0 {
			return "", nil, decodeErr(ReasonLength, pos+10, "null with region")
		}
		return key, value.Null{}, nil
	}

	start := int(off)
	if uint64(off) < uint64(d.dataOff) || uint64(off)+uint64(length) > uint64(len(d.buf)) {
		return "", nil, decodeErr(ReasonBounds, pos+10, "region [%d,+%d) outside data section", off, length)
	}
	end := start + int(length)

	if flags&flagInlineName != 0 {
		name, next, err := d.lenPrefixed(start, end)
		if err != nil {
			return "", nil, err
		}
		key = name
		start = next
	}

	v, err := d.region(tag, flags, start, end, depth)
	return key, v, err
}

func inlineScalar(tag uint8, bits uint64, pos int) (value.Value, error) {
	switch tag {
	case tagBool:
		switch bits {
		case 0:
			return value.Bool(false), nil
		case 1:
			return value.Bool(true), nil
		}
		return nil, decodeErr(ReasonTag, pos, "bool payload %d", bits)
	case tagInt:
		return value.Int(int64(bits)), nil
	case tagUint:
		return value.Uint(bits), nil
	case tagFloat:
		return value.Float(math.Float64frombits(bits)), nil
	}
	return nil, decodeErr(ReasonFlags, pos+9, "inline flag on tag %d", tag)
}

// lenPrefixed reads a u32-length-prefixed UTF-8 string in [start,end) and
// returns it with the position after it.
func (d *decoder) lenPrefixed(start, end int) (string, int, error) {
	if end-start < 4 {
		return "", 0, decodeErr(ReasonTruncated, start, "string length")
	}
	n := binary.LittleEndian.Uint32(d.buf[start:])
	if uint64(n) > uint64(end-start-4) {
		return "", 0, decodeErr(ReasonBounds, start, "string of %d bytes in %d-byte region", n, end-start-4)
	}
	raw := d.buf[start+4 : start+4+int(n)]
	if !utf8.Valid(raw) {
		return "", 0, decodeErr(ReasonUTF8, start+4, "")
	}
	return string(raw), start + 4 + int(n), nil
}

func (d *decoder) region(tag, flags uint8, start, end, depth int) (value.Value, error) {
	size := end - start
	switch tag {
	case tagNull:
		if size != 0 {
			return nil, decodeErr(ReasonLength, start, "null with %d bytes", size)
		}
		return value.Null{}, nil

	case tagBool:
		if size != 1 {
			return nil, decodeErr(ReasonLength, start, "bool with %d bytes", size)
		}
		return inlineScalar(tag, uint64(d.buf[start]), start)

	case tagInt, tagUint, tagFloat:
		if size != 8 {
			return nil, decodeErr(ReasonLength, start, "number with %d bytes", size)
		}
		return inlineScalar(tag, binary.LittleEndian.Uint64(d.buf[start:]), start)

	case tagString, tagNodeRef:
		s, next, err := d.lenPrefixed(start, end)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, decodeErr(ReasonLength, next, "%d trailing bytes", end-next)
		}
		if tag == tagNodeRef {
			return value.NodeRef(s), nil
		}
		return value.String(s), nil

	case tagArray:
		if flags&flagPacked != 0 {
			return d.packed(start, end)
		}
		n, err := d.blockCount(start, end)
		if err != nil {
			return nil, err
		}
		arr := make(value.Array, n)
		for i := range arr {
			at := start + 4 + i*DescriptorSize
			if d.buf[at+9]&(flagNamed|flagInlineName) != 0 {
				return nil, decodeErr(ReasonFlags, at+9, "named array element")
			}
			_, elem, err := d.descriptor(at, depth+1)
			if err != nil {
				return nil, err
			}
			arr[i] = elem
		}
		return arr, nil

	case tagObject:
		n, err := d.blockCount(start, end)
		if err != nil {
			return nil, err
		}
		obj := make(value.Object, n)
		for i := range obj {
			at := start + 4 + i*DescriptorSize
			if d.buf[at+9]&(flagNamed|flagInlineName) == 0 {
				return nil, decodeErr(ReasonFlags, at+9, "unnamed object member")
			}
			key, v, err := d.descriptor(at, depth+1)
			if err != nil {
				return nil, err
			}
			obj[i] = value.Member{Key: key, Value: v}
		}
		return obj, nil
	}
	return nil, decodeErr(ReasonTag, start, "unknown tag %d", tag)
}

// blockCount validates a count-prefixed descriptor block.
func (d *decoder) blockCount(start, end int) (int, error) {
	if end-start < 4 {
		return 0, decodeErr(ReasonTruncated, start, "container count")
	}
	n := binary.LittleEndian.Uint32(d.buf[start:])
	if uint64(n)*DescriptorSize != uint64(end-start-4) {
		return 0, decodeErr(ReasonLength, start, "%d children in %d-byte block", n, end-start-4)
	}
	return int(n), nil
}

func (d *decoder) packed(start, end int) (value.Value, error) {
	if end-start < 5 {
		return nil, decodeErr(ReasonTruncated, start, "packed array header")
	}
	elemTag := d.buf[start]
	n := binary.LittleEndian.Uint32(d.buf[start+1:])
	if uint64(n)*8 != uint64(end-start-5) {
		return nil, decodeErr(ReasonLength, start+1, "%d packed elements in %d bytes", n, end-start-5)
	}
	if elemTag != tagInt && elemTag != tagUint && elemTag != tagFloat {
		return nil, decodeErr(ReasonTag, start, "packed element tag %d", elemTag)
	}
	arr := make(value.Array, n)
	pos := start + 5
	for i := range arr {
		bits := binary.LittleEndian.Uint64(d.buf[pos:])
		switch elemTag {
		case tagInt:
			arr[i] = value.Int(int64(bits))
		case tagUint:
			arr[i] = value.Uint(bits)
		default:
			arr[i] = value.Float(math.Float64frombits(bits))
		}
		pos += 8
	}
	return arr, nil
}
