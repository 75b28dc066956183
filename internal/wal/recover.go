package wal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const checkpointVersion = 1

// checkpoint is the sidecar that lets recovery skip frames already
// verified. It is only trusted when the frame it names as last is still
// intact at the recorded offset.
type checkpoint struct {
	Version    uint8        `cbor:"v"`
	Base       uint64       `cbor:"base"`
	Offset     int64        `cbor:"off"`
	LastOffset int64        `cbor:"last_off"`
	NextSeq    uint64       `cbor:"next"`
	Index      []indexEntry `cbor:"index"`
}

var checkpointEnc = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wal: checkpoint encoder initialization failed: " + err.Error())
	}
	return em
}

// RecoveryReport describes what Recover found.
type RecoveryReport struct {
	// Recovered is the number of records in the log after recovery.
	Recovered uint64
	// Scanned is the number of frames verified by this pass.
	Scanned        uint64
	FromCheckpoint bool
	// TruncatedBytes is the size of the damaged tail that was cut.
	TruncatedBytes int64
	NextSeq        uint64
	Duration       time.Duration
}

// Recover verifies the log and makes it ready.
//
// Frames are checked from the trusted checkpoint, or from the file header
// if there is none. The first torn, mis-framed or checksum-failing frame
// is treated as an incomplete write: the file is truncated to the end of
// the last valid frame and the next sequence is the last valid one plus
// one. A checksum-valid frame whose sequence breaks the order is not a
// torn write; Recover returns *SequenceError and the log fails.
func (l *Log) Recover(ctx context.Context) (RecoveryReport, error) {
	start := time.Now()
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	if l.state != StateOpening {
		s := l.state
		l.mu.Unlock()
		if s == StateClosed || s == StateFailed {
			return RecoveryReport{}, stateErr(s)
		}
		return RecoveryReport{}, fmt.Errorf("wal: recover: log is already %s", s)
	}
	l.state = StateRecovering
	seg, base := l.seg, l.base
	l.mu.Unlock()

	var report RecoveryReport
	fileSize, err := seg.b.Size()
	if err != nil {
		l.fail("stat", err)
		return report, &IoError{Op: "stat", Err: err}
	}

	off := int64(FileHeaderSize)
	expect := base
	lastOff := int64(-1)
	var index []indexEntry
	if cp, ok := l.trustedCheckpoint(seg.b, base, fileSize); ok {
		off, expect, lastOff, index = cp.Offset, cp.NextSeq, cp.LastOffset, cp.Index
		report.FromCheckpoint = true
	}

	fr := newFrameReader(bufio.NewReaderSize(io.NewSectionReader(seg.b, off, fileSize-off), 64<<10), fileSize-off)
	interval := uint64(l.opts.indexInterval)
	var damage error
	for {
		if report.Scanned%1024 == 0 {
			if err := ctx.Err(); err != nil {
				l.setState(StateOpening)
				return report, err
			}
		}
		rec, err := fr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isFrameDamage(err) {
				damage = err
				break
			}
			l.fail("recover read", err)
			return report, &IoError{Op: "recover read", Err: err}
		}
		if rec.Seq != expect {
			se := &SequenceError{Offset: off, Expected: expect, Got: rec.Seq}
			l.fail("recover", se)
			return report, se
		}
		if (rec.Seq-base)%interval == 0 {
			index = append(index, indexEntry{Seq: rec.Seq, Off: off})
		}
		lastOff = off
		off += rec.frameSize()
		expect++
		report.Scanned++
	}

	if off < fileSize {
		report.TruncatedBytes = fileSize - off
		l.opts.logger.Warn("truncating damaged log tail",
			"storage", l.storage.Name(),
			"offset", off,
			"bytes", report.TruncatedBytes,
			"reason", damage)
		if err := seg.b.Truncate(off); err != nil {
			l.fail("truncate", err)
			return report, &IoError{Op: "truncate", Err: err}
		}
		if err := seg.b.Sync(); err != nil {
			l.fail("sync", err)
			return report, &IoError{Op: "sync", Err: err}
		}
	}

	l.mu.Lock()
	l.size = off
	l.nextSeq = expect
	l.lastOff = lastOff
	l.index = index
	l.state = StateReady
	l.mu.Unlock()

	report.Recovered = expect - base
	report.NextSeq = expect
	report.Duration = time.Since(start)
	l.opts.logger.Info("log recovered",
		"storage", l.storage.Name(),
		"records", report.Recovered,
		"scanned", report.Scanned,
		"from_checkpoint", report.FromCheckpoint,
		"truncated_bytes", report.TruncatedBytes,
		"next_seq", report.NextSeq)
	l.opts.metrics.ObserveRecovery(report)
	return report, nil
}

func (l *Log) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Log) trustedCheckpoint(b Backend, base uint64, fileSize int64) (checkpoint, bool) {
	data, err := l.storage.LoadCheckpoint()
	if err != nil {
		l.opts.logger.Warn("cannot read checkpoint, scanning full log",
			"storage", l.storage.Name(),
			"error", err)
		return checkpoint{}, false
	}
	if data == nil {
		return checkpoint{}, false
	}
	var cp checkpoint
	if err := cbor.Unmarshal(data, &cp); err != nil {
		l.opts.logger.Debug("ignoring unreadable checkpoint", "error", err)
		return checkpoint{}, false
	}
	if cp.Version != checkpointVersion || cp.Base != base || cp.NextSeq <= base ||
		cp.Offset > fileSize || cp.LastOffset < FileHeaderSize || cp.LastOffset >= cp.Offset {
		l.opts.logger.Debug("ignoring stale checkpoint",
			"base", cp.Base,
			"offset", cp.Offset,
			"file_size", fileSize)
		return checkpoint{}, false
	}

	fr := newFrameReader(io.NewSectionReader(b, cp.LastOffset, cp.Offset-cp.LastOffset), cp.Offset-cp.LastOffset)
	rec, err := fr.next()
	if err != nil || rec.Seq != cp.NextSeq-1 || cp.LastOffset+rec.frameSize() != cp.Offset {
		l.opts.logger.Debug("checkpoint does not match log, scanning full log")
		return checkpoint{}, false
	}

	prev := indexEntry{Seq: base - 1, Off: FileHeaderSize - 1}
	for _, e := range cp.Index {
		if e.Seq <= prev.Seq || e.Seq >= cp.NextSeq || e.Off <= prev.Off || e.Off >= cp.Offset {
			return checkpoint{}, false
		}
		prev = e
	}
	return cp, true
}

// saveCheckpoint records the committed end. Caller holds wmu.
func (l *Log) saveCheckpoint() error {
	l.mu.RLock()
	cp := checkpoint{
		Version:    checkpointVersion,
		Base:       l.base,
		Offset:     l.size,
		LastOffset: l.lastOff,
		NextSeq:    l.nextSeq,
		Index:      append([]indexEntry(nil), l.index...),
	}
	l.mu.RUnlock()

	data, err := checkpointEnc.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := l.storage.SaveCheckpoint(data); err != nil {
		return &IoError{Op: "save checkpoint", Err: err}
	}
	return nil
}

// Checkpoint flushes the log and writes the checkpoint sidecar so the
// next Recover can skip the frames verified so far.
func (l *Log) Checkpoint() error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.RLock()
	state, seg := l.state, l.seg
	l.mu.RUnlock()
	if state != StateReady {
		return stateErr(state)
	}
	if err := seg.b.Sync(); err != nil {
		l.fail("sync", err)
		return &IoError{Op: "sync", Err: err}
	}
	return l.saveCheckpoint()
}
