package wal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/fxd/internal/codec"
	"github.com/roach88/fxd/internal/value"
)

// State is the lifecycle state of a Log.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateRecovering
	StateReady
	StateCompacting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateRecovering:
		return "recovering"
	case StateReady:
		return "ready"
	case StateCompacting:
		return "compacting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// segment is one generation of the log file. The log holds a reference
// and each open iterator holds one; the backend closes when the last is
// released, so compaction never pulls bytes out from under a reader.
type segment struct {
	b    Backend
	refs atomic.Int32
}

func newSegment(b Backend) *segment {
	s := &segment{b: b}
	s.refs.Store(1)
	return s
}

func (s *segment) acquire() { s.refs.Add(1) }

func (s *segment) release() error {
	if s.refs.Add(-1) == 0 {
		return s.b.Close()
	}
	return nil
}

type indexEntry struct {
	Seq uint64 `cbor:"s"`
	Off int64  `cbor:"o"`
}

// Log is a durable append-only sequence of records.
//
// A Log has a single writer: Append, Recover, Compact and Close serialize
// on one mutex. Readers never take that mutex; ReadFrom captures the
// committed end under a read lock and iterates without blocking writers.
type Log struct {
	storage Storage
	opts    options

	// wmu serializes every mutation of the file.
	wmu sync.Mutex

	// mu guards the fields below. Writers hold wmu as well.
	mu       sync.RWMutex
	state    State
	seg      *segment
	base     uint64
	size     int64 // committed end of the file
	firstSeq uint64
	nextSeq  uint64
	lastOff  int64 // offset of the last frame, -1 if empty
	index    []indexEntry
}

// Open opens or creates the log in storage and validates its header.
//
// The returned log is in StateOpening; call Recover before appending or
// reading.
func Open(storage Storage, opts ...Option) (*Log, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &Log{storage: storage, opts: o, state: StateOpening, lastOff: -1}

	b, err := storage.Open()
	if err != nil {
		return nil, &IoError{Op: "open " + storage.Name(), Err: err}
	}
	size, err := b.Size()
	if err != nil {
		b.Close()
		return nil, &IoError{Op: "stat " + storage.Name(), Err: err}
	}

	base := uint64(1)
	if size < FileHeaderSize {
		if size > 0 {
			o.logger.Warn("partial log header, reinitializing",
				"storage", storage.Name(),
				"bytes", size)
		}
		if err := initFile(b, base); err != nil {
			b.Close()
			return nil, err
		}
	} else {
		buf := make([]byte, FileHeaderSize)
		if _, err := b.ReadAt(buf, 0); err != nil {
			b.Close()
			return nil, &IoError{Op: "read header", Err: err}
		}
		h, err := decodeFileHeader(buf)
		if err != nil {
			b.Close()
			return nil, &CorruptionError{Offset: 0, Err: fmt.Errorf("file header: %w", err)}
		}
		base = h.base
	}

	l.seg = newSegment(b)
	l.base = base
	l.firstSeq = base
	l.nextSeq = base
	l.size = FileHeaderSize
	return l, nil
}

func initFile(b Backend, base uint64) error {
	if err := b.Truncate(0); err != nil {
		return &IoError{Op: "truncate", Err: err}
	}
	hdr := encodeFileHeader(fileHeader{major: fileMajor, minor: fileMinor, base: base})
	if _, err := b.WriteAt(hdr, 0); err != nil {
		return &IoError{Op: "write header", Err: err}
	}
	if err := b.Sync(); err != nil {
		return &IoError{Op: "sync header", Err: err}
	}
	return nil
}

// State returns the current lifecycle state.
func (l *Log) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// NextSeq returns the sequence the next append will be assigned.
func (l *Log) NextSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq
}

// stateErr maps a non-ready state to its sentinel.
func stateErr(s State) error {
	switch s {
	case StateClosed:
		return ErrClosed
	case StateFailed:
		return ErrFailed
	default:
		return ErrNotReady
	}
}

// Append encodes v and appends it as a record of the given kind.
// It returns the assigned sequence once the record is durable.
func (l *Log) Append(ctx context.Context, kind uint8, v value.Value) (uint64, error) {
	payload, err := codec.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	return l.AppendRaw(ctx, kind, payload)
}

// AppendRaw appends an already-encoded payload.
//
// The frame is written with a single WriteAt at the committed end. A
// failed write returns *IoError and leaves the log usable: the sequence
// is not consumed and the partial bytes are beyond the committed end,
// where the next append overwrites them or recovery cuts them. A failed
// fsync moves the log to StateFailed.
func (l *Log) AppendRaw(ctx context.Context, kind uint8, payload []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(payload) > l.opts.maxRecordBytes {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), l.opts.maxRecordBytes)
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.RLock()
	state, seg, off, seq := l.state, l.seg, l.size, l.nextSeq
	l.mu.RUnlock()
	if state != StateReady {
		return 0, stateErr(state)
	}

	start := time.Now()
	frame := encodeFrame(seq, kind, payload)
	if _, err := seg.b.WriteAt(frame, off); err != nil {
		return 0, &IoError{Op: "write", Err: err}
	}
	if l.opts.sync == SyncAlways {
		if err := seg.b.Sync(); err != nil {
			l.fail("sync", err)
			return 0, &IoError{Op: "sync", Err: err}
		}
	}

	l.mu.Lock()
	l.size = off + int64(len(frame))
	l.lastOff = off
	l.nextSeq = seq + 1
	if (seq-l.firstSeq)%uint64(l.opts.indexInterval) == 0 {
		l.index = append(l.index, indexEntry{Seq: seq, Off: off})
	}
	l.mu.Unlock()

	l.opts.metrics.ObserveAppend(len(frame), time.Since(start))
	return seq, nil
}

func (l *Log) fail(op string, err error) {
	l.mu.Lock()
	l.state = StateFailed
	l.mu.Unlock()
	l.opts.logger.Error("log failed",
		"storage", l.storage.Name(),
		"op", op,
		"error", err)
}

// seekLocked returns the offset and sequence of the indexed frame at or
// before seq. Caller holds mu.
func (l *Log) seekLocked(seq uint64) (int64, uint64) {
	i := sort.Search(len(l.index), func(i int) bool { return l.index[i].Seq > seq })
	if i == 0 {
		return FileHeaderSize, l.firstSeq
	}
	e := l.index[i-1]
	return e.Off, e.Seq
}

// Stats is a point-in-time summary of the log.
type Stats struct {
	RecordCount uint64
	ByteSize    int64
	FirstSeq    uint64
	// LastSeq is 0 when the log is empty.
	LastSeq uint64
	NextSeq uint64
	State   State
}

// Stats returns the record count and committed byte size.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{
		RecordCount: l.nextSeq - l.firstSeq,
		ByteSize:    l.size,
		FirstSeq:    l.firstSeq,
		NextSeq:     l.nextSeq,
		State:       l.state,
	}
	if s.RecordCount > 0 {
		s.LastSeq = l.nextSeq - 1
	}
	return s
}

// Close writes a checkpoint and releases the file. Iterators that are
// still open keep the file readable until they are closed.
func (l *Log) Close() error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	state := l.state
	if state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateClosed
	seg := l.seg
	l.mu.Unlock()

	var ckptErr error
	if state == StateReady {
		if err := seg.b.Sync(); err != nil {
			ckptErr = &IoError{Op: "sync", Err: err}
		} else {
			ckptErr = l.saveCheckpoint()
		}
	}
	if err := seg.release(); err != nil {
		return &IoError{Op: "close", Err: err}
	}
	if ckptErr != nil {
		return fmt.Errorf("wal: close: %w", ckptErr)
	}
	return nil
}
