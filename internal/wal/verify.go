package wal

import (
	"bufio"
	"io"
)

// IntegrityReport is the result of a read-only log scan.
type IntegrityReport struct {
	Base       uint64
	Records    uint64
	FirstSeq   uint64
	LastSeq    uint64
	ValidBytes int64
	// TailBytes follow the last valid frame. Recover would truncate them.
	TailBytes int64
	// Problem describes why the scan stopped before the end, if it did.
	Problem string
	// Fatal is set when the log cannot be recovered by truncation.
	Fatal bool
}

// Healthy reports whether the whole file is valid frames.
func (r IntegrityReport) Healthy() bool {
	return r.Problem == "" && r.TailBytes == 0
}

// Verify scans a log file without modifying it.
func Verify(r io.ReaderAt, size int64) (IntegrityReport, error) {
	var rep IntegrityReport
	if size < FileHeaderSize {
		rep.TailBytes = size
		if size > 0 {
			rep.Problem = "partial file header"
		}
		return rep, nil
	}
	buf := make([]byte, FileHeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return rep, &IoError{Op: "read header", Err: err}
	}
	h, err := decodeFileHeader(buf)
	if err != nil {
		rep.Problem = "file header: " + err.Error()
		rep.Fatal = true
		return rep, nil
	}
	rep.Base = h.base
	rep.FirstSeq = h.base

	fr := newFrameReader(bufio.NewReaderSize(io.NewSectionReader(r, FileHeaderSize, size-FileHeaderSize), 64<<10), size-FileHeaderSize)
	off := int64(FileHeaderSize)
	expect := h.base
	for {
		rec, err := fr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !isFrameDamage(err) {
				return rep, &IoError{Op: "read", Err: err}
			}
			rep.Problem = err.Error()
			break
		}
		if rec.Seq != expect {
			rep.Problem = (&SequenceError{Offset: off, Expected: expect, Got: rec.Seq}).Error()
			rep.Fatal = true
			break
		}
		rep.LastSeq = rec.Seq
		rep.Records++
		off += rec.frameSize()
		expect++
	}
	rep.ValidBytes = off
	rep.TailBytes = size - off
	return rep, nil
}
