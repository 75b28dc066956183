package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("wal: log is closed")
	// ErrNotReady is returned when the log has not finished recovery.
	ErrNotReady = errors.New("wal: log is not ready")
	// ErrFailed is returned once the log hit an unrecoverable I/O error.
	ErrFailed = errors.New("wal: log has failed")
	// ErrPayloadTooLarge is returned when a payload exceeds the record limit.
	ErrPayloadTooLarge = errors.New("wal: payload too large")
)

// Frame-level failures. These are wrapped in CorruptionError when seen by
// readers and trigger truncation when seen by recovery.
var (
	errTorn     = errors.New("torn frame")
	errMagic    = errors.New("bad frame magic")
	errChecksum = errors.New("checksum mismatch")
)

// CorruptionError reports a checksum or framing failure found by an
// explicit read inside the committed region of the log.
type CorruptionError struct {
	Offset int64
	// Seq is the sequence the reader expected at Offset.
	Seq uint64
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corruption at offset %d (expected seq %d): %v", e.Offset, e.Seq, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IoError wraps a failure of the underlying storage.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("wal: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// SequenceError reports a checksum-valid record whose sequence number
// breaks the gap-free ordering of the log.
type SequenceError struct {
	Offset   int64
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("wal: sequence discontinuity at offset %d: expected %d, got %d", e.Offset, e.Expected, e.Got)
}

// IsCorruption returns true if err is or wraps a *CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsIoError returns true if err is or wraps an *IoError.
func IsIoError(err error) bool {
	var ie *IoError
	return errors.As(err, &ie)
}

// IsSequenceError returns true if err is or wraps a *SequenceError.
func IsSequenceError(err error) bool {
	var se *SequenceError
	return errors.As(err, &se)
}
