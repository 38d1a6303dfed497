package session

import "github.com/lovetrack/lovetrack/internal/touch"

// frameRing is a fixed-capacity ring buffer of frames.
type frameRing struct {
	data []touch.Frame
	pos  int
	full bool
	cap  int
}

func newFrameRing(cap int) *frameRing {
	return &frameRing{
		data: make([]touch.Frame, cap),
		cap:  cap,
	}
}

// Push adds a frame to the ring.
func (r *frameRing) Push(f touch.Frame) {
	r.data[r.pos] = f
	r.pos++
	if r.pos >= r.cap {
		r.pos = 0
		r.full = true
	}
}

// Len returns the number of frames in the ring.
func (r *frameRing) Len() int {
	if r.full {
		return r.cap
	}
	return r.pos
}

// Slice returns the ring contents in insertion order.
func (r *frameRing) Slice() []touch.Frame {
	n := r.Len()
	out := make([]touch.Frame, n)
	if r.full {
		copy(out, r.data[r.pos:])
		copy(out[r.cap-r.pos:], r.data[:r.pos])
	} else {
		copy(out, r.data[:r.pos])
	}
	return out
}

// Tail returns up to n of the most recent frames in insertion order.
func (r *frameRing) Tail(n int) []touch.Frame {
	all := r.Slice()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
