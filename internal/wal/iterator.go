package wal

import (
	"bufio"
	"io"
	"iter"
)

// Iterator walks records from a cursor to the committed end captured when
// it was created. Records appended later are not visible to it.
//
// An Iterator pins the file generation it reads, so it stays valid across
// a concurrent compaction. Close it when done.
type Iterator struct {
	seg    *segment
	fr     *frameReader
	off    int64
	end    int64
	want   uint64
	expect uint64
	rec    Record
	err    error
	done   bool
}

// ReadFrom returns an iterator over records with sequence >= cursor.
// A cursor below the first retained record starts at the first record.
func (l *Log) ReadFrom(cursor Cursor) (*Iterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateReady && l.state != StateCompacting {
		return nil, stateErr(l.state)
	}

	want := uint64(cursor)
	if want < l.firstSeq {
		want = l.firstSeq
	}
	off, seq := l.seekLocked(want)
	l.seg.acquire()
	return &Iterator{
		seg:    l.seg,
		fr:     newFrameReader(bufio.NewReaderSize(io.NewSectionReader(l.seg.b, off, l.size-off), 32<<10), l.size-off),
		off:    off,
		end:    l.size,
		want:   want,
		expect: seq,
	}, nil
}

// Next advances to the next record. It returns false at the end or on
// error; check Err afterwards.
func (it *Iterator) Next() bool {
	for !it.done {
		if it.off >= it.end {
			it.finish(nil)
			return false
		}
		rec, err := it.fr.next()
		if err != nil {
			if err == io.EOF {
				err = errTorn
			}
			if isFrameDamage(err) {
				it.finish(&CorruptionError{Offset: it.off, Seq: it.expect, Err: err})
			} else {
				it.finish(&IoError{Op: "read", Err: err})
			}
			return false
		}
		if rec.Seq != it.expect {
			it.finish(&SequenceError{Offset: it.off, Expected: it.expect, Got: rec.Seq})
			return false
		}
		it.off += rec.frameSize()
		it.expect++
		if rec.Seq < it.want {
			continue
		}
		it.rec = rec
		return true
	}
	return false
}

// Record returns the current record. Valid after Next returns true.
func (it *Iterator) Record() Record { return it.rec }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the iterator. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.done {
		return nil
	}
	return it.finish(nil)
}

func (it *Iterator) finish(err error) error {
	it.err = err
	it.done = true
	it.rec = Record{}
	return it.seg.release()
}

// Records returns a range-over-func view of ReadFrom. Iteration stops at
// the first error, which is yielded with a zero Record.
func (l *Log) Records(cursor Cursor) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		it, err := l.ReadFrom(cursor)
		if err != nil {
			yield(Record{}, err)
			return
		}
		defer it.Close()
		for it.Next() {
			if !yield(it.Record(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Record{}, err)
		}
	}
}
