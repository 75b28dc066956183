package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/roach88/fxd/internal/codec"
	"github.com/roach88/fxd/internal/value"
)

const (
	// fileMagic is "FXWL" little-endian.
	fileMagic uint32 = 0x4c575846
	// frameMagic is "FXRC" little-endian.
	frameMagic uint32 = 0x43525846

	fileMajor uint8 = 1
	fileMinor uint8 = 0

	// FileHeaderSize is the fixed size of the log file header.
	FileHeaderSize = 20

	// frameHeaderSize covers magic, seq, kind and length.
	frameHeaderSize = 17
	frameTrailer    = 4
	// FrameOverhead is the number of bytes a frame adds to its payload.
	FrameOverhead = frameHeaderSize + frameTrailer

	// DefaultMaxRecordBytes bounds the payload of a single append. Readers
	// accept any length that fits in the file.
	DefaultMaxRecordBytes = 16 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Cursor is a position in the log: the sequence of the next record a
// reader wants.
type Cursor uint64

// Record is one durable entry.
type Record struct {
	Seq     uint64
	Kind    uint8
	Payload []byte
}

// Value decodes the payload with the binary codec.
func (r Record) Value() (value.Value, error) {
	return codec.Decode(r.Payload)
}

// frameSize is the number of bytes the record occupies on disk.
func (r Record) frameSize() int64 {
	return int64(FrameOverhead + len(r.Payload))
}

type fileHeader struct {
	major uint8
	minor uint8
	flags uint16
	base  uint64
}

func encodeFileHeader(h fileHeader) []byte {
	buf := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	buf[4] = h.major
	buf[5] = h.minor
	binary.LittleEndian.PutUint16(buf[6:8], h.flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.base)
	binary.LittleEndian.PutUint32(buf[16:20], crc32.Checksum(buf[:16], castagnoli))
	return buf
}

func decodeFileHeader(buf []byte) (fileHeader, error) {
	if len(buf) < FileHeaderSize {
		return fileHeader{}, errTorn
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != fileMagic {
		return fileHeader{}, errMagic
	}
	if crc32.Checksum(buf[:16], castagnoli) != binary.LittleEndian.Uint32(buf[16:20]) {
		return fileHeader{}, errChecksum
	}
	h := fileHeader{
		major: buf[4],
		minor: buf[5],
		flags: binary.LittleEndian.Uint16(buf[6:8]),
		base:  binary.LittleEndian.Uint64(buf[8:16]),
	}
	if h.major != fileMajor {
		return h, errVersion(h.major)
	}
	return h, nil
}

type errVersion uint8

func (e errVersion) Error() string {
	return fmt.Sprintf("unsupported log major version %d", uint8(e))
}

// encodeFrame lays out magic | seq | kind | len | payload | crc32c.
// The checksum covers seq through the end of payload.
func encodeFrame(seq uint64, kind uint8, payload []byte) []byte {
	buf := make([]byte, FrameOverhead+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], frameMagic)
	binary.LittleEndian.PutUint64(buf[4:12], seq)
	buf[12] = kind
	binary.LittleEndian.PutUint32(buf[13:17], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	end := frameHeaderSize + len(payload)
	binary.LittleEndian.PutUint32(buf[end:], crc32.Checksum(buf[4:end], castagnoli))
	return buf
}

// frameReader decodes consecutive frames from a stream.
type frameReader struct {
	r io.Reader
	// remain counts the unread bytes of the section, or is -1 when the
	// stream length is unknown.
	remain  int64
	hdr     [frameHeaderSize]byte
	trailer [frameTrailer]byte
}

func newFrameReader(r io.Reader, size int64) *frameReader {
	return &frameReader{r: r, remain: size}
}

// next reads one frame. It returns io.EOF only on a clean frame boundary;
// a partial frame, or a length running past the end of the section, is
// errTorn. Any other length is read and left to the checksum.
func (fr *frameReader) next() (Record, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, errTorn
		}
		return Record{}, err
	}
	fr.consume(frameHeaderSize)
	if binary.LittleEndian.Uint32(fr.hdr[0:4]) != frameMagic {
		return Record{}, errMagic
	}
	n := binary.LittleEndian.Uint32(fr.hdr[13:17])
	body := int64(n) + frameTrailer
	if fr.remain >= 0 && body > fr.remain {
		return Record{}, errTorn
	}
	payload, err := fr.readPayload(n)
	if err != nil {
		return Record{}, tornOr(err)
	}
	if _, err := io.ReadFull(fr.r, fr.trailer[:]); err != nil {
		return Record{}, tornOr(err)
	}
	fr.consume(body)

	h := crc32.New(castagnoli)
	h.Write(fr.hdr[4:])
	h.Write(payload)
	if h.Sum32() != binary.LittleEndian.Uint32(fr.trailer[:]) {
		return Record{}, errChecksum
	}
	return Record{
		Seq:     binary.LittleEndian.Uint64(fr.hdr[4:12]),
		Kind:    fr.hdr[12],
		Payload: payload,
	}, nil
}

// readPayload reads n bytes. On a stream of unknown length the buffer
// grows with the data actually read, so a damaged length cannot force a
// large allocation.
func (fr *frameReader) readPayload(n uint32) ([]byte, error) {
	if fr.remain >= 0 {
		payload := make([]byte, n)
		_, err := io.ReadFull(fr.r, payload)
		return payload, err
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, fr.r, int64(n)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (fr *frameReader) consume(n int64) {
	if fr.remain >= 0 {
		fr.remain -= n
	}
}

func tornOr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errTorn
	}
	return err
}

// isFrameDamage reports whether err describes bytes that are not a valid
// frame, as opposed to a failure of the underlying reader.
func isFrameDamage(err error) bool {
	switch err {
	case errTorn, errMagic, errChecksum:
		return true
	}
	return false
}
