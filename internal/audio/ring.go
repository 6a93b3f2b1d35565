package audio

import "sync"

// RingBuffer holds the most recent mono samples of a live stream.
// It is written by the audio producer and copied out by the analysis tick;
// both sides hold the mutex only for the duration of a memory copy.
type RingBuffer struct {
	mu      sync.Mutex
	data    []float32
	index   int    // next write position
	written uint64 // total samples accepted since the last resize
}

// NewRingBuffer creates a ring buffer holding capacity samples
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer{
		data: make([]float32, capacity),
	}
}

// Write appends the first channel of interleaved frames, overwriting the oldest samples.
// It is a no-op while the buffer has no storage.
func (rb *RingBuffer) Write(frames []float32, channels int) {
	if channels < 1 {
		channels = 1
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(rb.data)
	if n == 0 {
		return
	}

	for i := 0; i < len(frames); i += channels {
		rb.data[rb.index] = frames[i]
		rb.index++
		if rb.index == n {
			rb.index = 0
		}
		rb.written++
	}
}

// Snapshot copies the newest samples into dst in chronological order.
// Copying starts at the write cursor, so dst[0] is the oldest sample.
// If dst is shorter than the capacity only the newest len(dst) samples are copied.
// Returns the number of samples copied.
func (rb *RingBuffer) Snapshot(dst []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(rb.data)
	if n == 0 || len(dst) == 0 {
		return 0
	}

	count := len(dst)
	if count > n {
		count = n
	}

	// Oldest sample we want sits count positions behind the cursor
	start := rb.index - count
	if start < 0 {
		start += n
	}

	copied := copy(dst[:count], rb.data[start:])
	if copied < count {
		copy(dst[copied:count], rb.data[:count-copied])
	}
	return count
}

// Resize replaces the storage with a zeroed buffer of the given capacity.
// Samples held before the resize are discarded.
func (rb *RingBuffer) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = make([]float32, capacity)
	rb.index = 0
	rb.written = 0
}

// Release drops the storage. Later writes are ignored until Resize is called.
func (rb *RingBuffer) Release() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = nil
	rb.index = 0
	rb.written = 0
}

// Capacity returns the number of samples the buffer holds
func (rb *RingBuffer) Capacity() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.data)
}

// Written returns the number of samples accepted since the last resize
func (rb *RingBuffer) Written() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.written
}
