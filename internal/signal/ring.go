package signal

import "iter"

// ring holds the most recent signals in emit order. It is guarded by the
// bus emit lock.
type ring struct {
	buf  []Signal
	head int // index of the oldest entry
	n    int
}

func newRing(size int) ring {
	return ring{buf: make([]Signal, size)}
}

func (r *ring) push(s Signal) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

// covers reports whether every signal with sequence >= seq is buffered.
func (r *ring) covers(seq uint64) bool {
	return r.n > 0 && r.buf[r.head].Seq <= seq
}

// since yields buffered signals with sequence >= seq, oldest first.
func (r *ring) since(seq uint64) iter.Seq[Signal] {
	return func(yield func(Signal) bool) {
		for i := range r.n {
			s := r.buf[(r.head+i)%len(r.buf)]
			if s.Seq < seq {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}
