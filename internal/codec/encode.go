package codec

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/roach88/fxd/internal/value"
)

type encoder struct {
	buf []byte

	// hashes maps a name hash to the first key that claimed it.
	hashes   map[uint64]string
	names    []string
	nameSize int
	// collided keys are stored inline because their hash is taken.
	collided map[string]bool

	count uint32
	path  []string
}

// Encode serializes v.
//
// Object member order and float bit patterns are preserved. Encode fails
// with *EncodeError for nil values (at any depth), invalid UTF-8, nesting
// deeper than MaxDepth, or output that would exceed 4 GiB.
func Encode(v value.Value) ([]byte, error) {
	e := &encoder{hashes: make(map[uint64]string)}
	return e.encode(v)
}

func (e *encoder) encode(v value.Value) ([]byte, error) {
	if err := e.scan(v, 0); err != nil {
		return nil, err
	}

	nameTable := HeaderSize + DescriptorSize
	dataOff := nameTable + 4 + e.nameSize
	e.buf = make([]byte, dataOff, dataOff+64)

	binary.LittleEndian.PutUint32(e.buf[nameTable:], uint32(len(e.names)))
	pos := nameTable + 4
	for _, name := range e.names {
		binary.LittleEndian.PutUint32(e.buf[pos:], uint32(len(name)))
		pos += 4
		pos += copy(e.buf[pos:], name)
	}

	if err := e.writeDescriptor(HeaderSize, "", false, v); err != nil {
		return nil, err
	}
	if uint64(len(e.buf)) > math.MaxUint32 {
		return nil, &EncodeError{Reason: ReasonTooLarge, Path: "$", Detail: strconv.Itoa(len(e.buf)) + " bytes"}
	}

	putHeader(e.buf, Header{
		Major:           MajorVersion,
		Minor:           MinorVersion,
		Flags:           uint16(tagOf(v)),
		FieldCount:      e.count,
		DescriptorTable: HeaderSize,
		DataOffset:      uint32(dataOff),
		TotalLength:     uint64(len(e.buf)),
		NameTable:       uint64(nameTable),
	})
	return e.buf, nil
}

// MustEncode is Encode for values known to be valid. It panics on error.
func MustEncode(v value.Value) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// scan validates v and collects object keys for the name table.
func (e *encoder) scan(v value.Value, depth int) error {
	if depth > MaxDepth {
		return &EncodeError{Reason: ReasonDepth, Path: pathString(e.path), Detail: "nesting exceeds " + strconv.Itoa(MaxDepth)}
	}
	switch val := v.(type) {
	case nil:
		return &EncodeError{Reason: ReasonNilValue, Path: pathString(e.path)}
	case value.String:
		if !utf8.ValidString(string(val)) {
			return &EncodeError{Reason: ReasonUTF8, Path: pathString(e.path)}
		}
	case value.NodeRef:
		if !utf8.ValidString(string(val)) {
			return &EncodeError{Reason: ReasonUTF8, Path: pathString(e.path)}
		}
	case value.Array:
		for i, elem := range val {
			e.path = append(e.path, "["+strconv.Itoa(i)+"]")
			if err := e.scan(elem, depth+1); err != nil {
				return err
			}
			e.path = e.path[:len(e.path)-1]
		}
	case value.Object:
		for _, m := range val {
			e.path = append(e.path, "."+m.Key)
			if !utf8.ValidString(m.Key) {
				return &EncodeError{Reason: ReasonUTF8, Path: pathString(e.path), Detail: "object key"}
			}
			e.addName(m.Key)
			if err := e.scan(m.Value, depth+1); err != nil {
				return err
			}
			e.path = e.path[:len(e.path)-1]
		}
	case value.Null, value.Bool, value.Int, value.Uint, value.Float:
	default:
		return &EncodeError{Reason: ReasonTag, Path: pathString(e.path), Detail: "unknown variant"}
	}
	return nil
}

func (e *encoder) addName(key string) {
	h := xxhash.Sum64String(key)
	owner, ok := e.hashes[h]
	if !ok {
		e.hashes[h] = key
		e.names = append(e.names, key)
		e.nameSize += 4 + len(key)
		return
	}
	if owner != key {
		if e.collided == nil {
			e.collided = make(map[string]bool)
		}
		e.collided[key] = true
	}
}

func (e *encoder) grow(n int) int {
	start := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	return start
}

func (e *encoder) appendU32(x uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, x)
}

func (e *encoder) appendU64(x uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, x)
}

func (e *encoder) appendString(s string) {
	e.appendU32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// writeDescriptor fills the descriptor at pos for v, appending any data
// region (and its children) to the buffer.
func (e *encoder) writeDescriptor(pos int, key string, named bool, v value.Value) error {
	var (
		hash   uint64
		flags  uint8
		off    uint32
		length uint32
	)
	inlineName := named && e.collided[key]
	if named {
		if inlineName {
			flags |= flagInlineName
		} else {
			hash = xxhash.Sum64String(key)
			flags |= flagNamed
		}
	}
	if f, ok := v.(value.Float); ok && f.IsNonFinite() {
		flags |= flagNonFinite
	}

	bits, scalar := scalarBits(v)
	switch {
	case scalar && !inlineName:
		flags |= flagInline
		off = uint32(bits)
		length = uint32(bits >> 32)
	case isNull(v) && !inlineName:
		// no region
	default:
		start := len(e.buf)
		if uint64(start) > math.MaxUint32 {
			return &EncodeError{Reason: ReasonTooLarge, Path: "$", Detail: "data offset exceeds 4 GiB"}
		}
		if inlineName {
			e.appendString(key)
		}
		children, packed, err := e.writeRegion(v, bits, scalar)
		if err != nil {
			return err
		}
		if packed {
			flags |= flagPacked
		}
		off = uint32(start)
		length = uint32(len(e.buf) - start)

		if children != nil {
			block := len(e.buf) - len(children.items)*DescriptorSize
			for i, c := range children.items {
				if err := e.writeDescriptor(block+i*DescriptorSize, c.key, children.named, c.v); err != nil {
					return err
				}
			}
		}
	}

	binary.LittleEndian.PutUint64(e.buf[pos:], hash)
	e.buf[pos+8] = tagOf(v)
	e.buf[pos+9] = flags
	binary.LittleEndian.PutUint32(e.buf[pos+10:], off)
	binary.LittleEndian.PutUint32(e.buf[pos+14:], length)
	e.count++
	return nil
}

type child struct {
	key string
	v   value.Value
}

type childBlock struct {
	named bool
	items []child
}

// writeRegion appends the data region of v. For unpacked containers it
// reserves the descriptor block and returns the children to fill.
func (e *encoder) writeRegion(v value.Value, bits uint64, scalar bool) (*childBlock, bool, error) {
	if scalar {
		if _, ok := v.(value.Bool); ok {
			e.buf = append(e.buf, byte(bits))
		} else {
			e.appendU64(bits)
		}
		return nil, false, nil
	}

	switch val := v.(type) {
	case value.Null:
		return nil, false, nil
	case value.String:
		e.appendString(string(val))
		return nil, false, nil
	case value.NodeRef:
		e.appendString(string(val))
		return nil, false, nil
	case value.Array:
		if elemTag, ok := packable(val); ok {
			e.buf = append(e.buf, elemTag)
			e.appendU32(uint32(len(val)))
			for _, elem := range val {
				b, _ := scalarBits(elem)
				e.appendU64(b)
			}
			return nil, true, nil
		}
		e.appendU32(uint32(len(val)))
		e.grow(len(val) * DescriptorSize)
		items := make([]child, len(val))
		for i, elem := range val {
			items[i] = child{v: elem}
		}
		return &childBlock{items: items}, false, nil
	case value.Object:
		e.appendU32(uint32(len(val)))
		e.grow(len(val) * DescriptorSize)
		items := make([]child, len(val))
		for i, m := range val {
			items[i] = child{key: m.Key, v: m.Value}
		}
		return &childBlock{named: true, items: items}, false, nil
	}
	return nil, false, &EncodeError{Reason: ReasonTag, Path: "$", Detail: "unknown variant"}
}

func isNull(v value.Value) bool {
	_, ok := v.(value.Null)
	return ok
}

// scalarBits returns the 8-byte representation of bool and numeric values.
func scalarBits(v value.Value) (uint64, bool) {
	switch val := v.(type) {
	case value.Bool:
		if val {
			return 1, true
		}
		return 0, true
	case value.Int:
		return uint64(val), true
	case value.Uint:
		return uint64(val), true
	case value.Float:
		return math.Float64bits(float64(val)), true
	}
	return 0, false
}

// packable reports whether arr is non-empty and all Int, all Uint or all Float.
func packable(arr value.Array) (uint8, bool) {
	if len(arr) == 0 {
		return 0, false
	}
	first := tagOf(arr[0])
	if first != tagInt && first != tagUint && first != tagFloat {
		return 0, false
	}
	for _, elem := range arr[1:] {
		if tagOf(elem) != first {
			return 0, false
		}
	}
	return first, true
}
