package wal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"
)

// Archiver receives the records compaction is about to drop. Archive runs
// before the new file is swapped in; an error aborts the compaction.
type Archiver interface {
	Archive(ctx context.Context, first, last uint64, records iter.Seq2[Record, error]) error
}

// CompactionResult describes a finished compaction.
type CompactionResult struct {
	KeepFrom       uint64
	RemovedRecords uint64
	RemovedBytes   int64
	Duration       time.Duration
}

// Compact drops every record with sequence < keepFrom.
//
// keepFrom is clamped to the retained range; callers decide which records
// are still needed. The surviving frames are copied byte for byte into a
// temp file whose header base is keepFrom, the temp file is atomically
// installed, and the old file is released once in-flight iterators finish.
// Appends wait for the compaction to finish.
func (l *Log) Compact(ctx context.Context, keepFrom uint64) (CompactionResult, error) {
	start := time.Now()
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	if l.state != StateReady {
		s := l.state
		l.mu.Unlock()
		return CompactionResult{}, stateErr(s)
	}
	first, next, size, seg := l.firstSeq, l.nextSeq, l.size, l.seg
	keep := min(max(keepFrom, first), next)
	if keep == first {
		l.mu.Unlock()
		return CompactionResult{KeepFrom: keep}, nil
	}
	keepOff, keepIdxSeq := l.seekLocked(keep)
	l.state = StateCompacting
	l.mu.Unlock()

	ok := false
	defer func() {
		if !ok {
			l.mu.Lock()
			if l.state == StateCompacting {
				l.state = StateReady
			}
			l.mu.Unlock()
		}
	}()

	if l.opts.archiver != nil {
		dropped := l.scan(seg, FileHeaderSize, size, first, first, keep)
		if err := l.opts.archiver.Archive(ctx, first, keep-1, dropped); err != nil {
			return CompactionResult{}, fmt.Errorf("wal: compact: archive: %w", err)
		}
	}

	tmp, err := l.storage.CreateTemp()
	if err != nil {
		return CompactionResult{}, &IoError{Op: "create temp", Err: err}
	}
	newSize, newIndex, newLastOff, err := l.copyFrames(ctx, seg, tmp, keep, keepOff, keepIdxSeq, size)
	if err != nil {
		l.storage.Discard(tmp)
		return CompactionResult{}, err
	}
	if err := tmp.Sync(); err != nil {
		l.storage.Discard(tmp)
		return CompactionResult{}, &IoError{Op: "sync temp", Err: err}
	}

	nb, err := l.storage.Replace(tmp)
	if err != nil {
		var re *ReplaceError
		if errors.As(err, &re) && re.Swapped {
			l.fail("replace", err)
		}
		return CompactionResult{}, &IoError{Op: "replace", Err: err}
	}

	l.mu.Lock()
	old := l.seg
	l.seg = newSegment(nb)
	l.base = keep
	l.firstSeq = keep
	l.size = newSize
	l.lastOff = newLastOff
	l.index = newIndex
	l.state = StateReady
	l.mu.Unlock()
	ok = true

	if err := old.release(); err != nil {
		l.opts.logger.Warn("closing retired log file", "error", err)
	}

	res := CompactionResult{
		KeepFrom:       keep,
		RemovedRecords: keep - first,
		RemovedBytes:   size - newSize,
		Duration:       time.Since(start),
	}
	if err := l.saveCheckpoint(); err != nil {
		l.opts.logger.Warn("saving checkpoint after compaction", "error", err)
	}
	l.opts.logger.Info("log compacted",
		"storage", l.storage.Name(),
		"keep_from", res.KeepFrom,
		"removed_records", res.RemovedRecords,
		"removed_bytes", res.RemovedBytes,
		"duration", res.Duration)
	l.opts.metrics.ObserveCompaction(res)
	return res, nil
}

// copyFrames writes a header with base keep and every frame >= keep from
// seg into dst.
func (l *Log) copyFrames(ctx context.Context, seg *segment, dst Backend, keep uint64, off int64, seq uint64, end int64) (int64, []indexEntry, int64, error) {
	if err := dst.Truncate(0); err != nil {
		return 0, nil, 0, &IoError{Op: "truncate temp", Err: err}
	}
	if _, err := dst.WriteAt(encodeFileHeader(fileHeader{major: fileMajor, minor: fileMinor, base: keep}), 0); err != nil {
		return 0, nil, 0, &IoError{Op: "write temp header", Err: err}
	}

	w := bufio.NewWriterSize(io.NewOffsetWriter(dst, FileHeaderSize), 64<<10)
	pos := int64(FileHeaderSize)
	lastOff := int64(-1)
	var index []indexEntry
	interval := uint64(l.opts.indexInterval)
	n := 0
	for rec, err := range l.scan(seg, off, end, seq, keep, 0) {
		if err != nil {
			return 0, nil, 0, err
		}
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, nil, 0, err
			}
		}
		if (rec.Seq-keep)%interval == 0 {
			index = append(index, indexEntry{Seq: rec.Seq, Off: pos})
		}
		if _, err := w.Write(encodeFrame(rec.Seq, rec.Kind, rec.Payload)); err != nil {
			return 0, nil, 0, &IoError{Op: "write temp", Err: err}
		}
		lastOff = pos
		pos += rec.frameSize()
		n++
	}
	if err := w.Flush(); err != nil {
		return 0, nil, 0, &IoError{Op: "write temp", Err: err}
	}
	return pos, index, lastOff, nil
}

// scan yields frames of seg in [off, end) starting at sequence seq,
// skipping those below from and stopping before stop (0 means no stop).
func (l *Log) scan(seg *segment, off, end int64, seq, from, stop uint64) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		fr := newFrameReader(bufio.NewReaderSize(io.NewSectionReader(seg.b, off, end-off), 64<<10), end-off)
		expect := seq
		for off < end {
			rec, err := fr.next()
			if err != nil {
				if err == io.EOF || isFrameDamage(err) {
					if err == io.EOF {
						err = errTorn
					}
					err = &CorruptionError{Offset: off, Seq: expect, Err: err}
				} else {
					err = &IoError{Op: "read", Err: err}
				}
				yield(Record{}, err)
				return
			}
			if rec.Seq != expect {
				yield(Record{}, &SequenceError{Offset: off, Expected: expect, Got: rec.Seq})
				return
			}
			if stop != 0 && rec.Seq >= stop {
				return
			}
			off += rec.frameSize()
			expect++
			if rec.Seq < from {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
