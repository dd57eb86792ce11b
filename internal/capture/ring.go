package capture

import (
	"fmt"
	"sync"
)

// Ring is a looping sample buffer shared between an audio producer and the
// capture pipeline. The producer appends float samples in [-1, 1]; old
// samples are overwritten once the ring wraps. Readers track their own
// position, so a slow reader loses audio instead of blocking the producer.
type Ring struct {
	mu      sync.Mutex
	samples []float32
	pos     int
}

// NewRing creates a ring holding the given number of samples. A one second
// ring at the capture rate matches the usual microphone clip length.
func NewRing(size int) (*Ring, error) {
	if size <= 0 {
		return nil, fmt.Errorf("ring size must be positive (got %d)", size)
	}
	return &Ring{samples: make([]float32, size)}, nil
}

// Size returns the ring capacity in samples.
func (r *Ring) Size() int {
	return len(r.samples)
}

// Write appends samples at the current write position, wrapping as needed.
func (r *Ring) Write(in []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(in) > 0 {
		n := copy(r.samples[r.pos:], in)
		r.pos = (r.pos + n) % len(r.samples)
		in = in[n:]
	}
}

// Position returns the current write position in samples.
func (r *Ring) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Read copies len(dst) samples starting at the given position, wrapping
// around the end of the ring.
func (r *Ring) Read(dst []float32, from int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from %= len(r.samples)
	for len(dst) > 0 {
		n := copy(dst, r.samples[from:])
		from = (from + n) % len(r.samples)
		dst = dst[n:]
	}
}
