// Package buffer provides a bounded history buffer for terminal output.
package buffer

import "sync"

// RingBuffer keeps the most recent bytes written to it, up to a fixed
// capacity. It backs the console history that is replayed to clients
// reattaching to a running debug session.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []byte
	start int
	size  int
}

// NewRingBuffer creates a buffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes once capacity is
// exceeded. It always reports len(p) so it satisfies io.Writer.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.buf)
	src := p
	if len(src) > capacity {
		src = src[len(src)-capacity:]
	}

	for _, b := range src {
		end := (rb.start + rb.size) % capacity
		rb.buf[end] = b
		if rb.size < capacity {
			rb.size++
		} else {
			rb.start = (rb.start + 1) % capacity
		}
	}

	return len(p), nil
}

// Bytes returns a copy of the buffered history, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]byte, rb.size)
	capacity := len(rb.buf)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.buf[(rb.start+i)%capacity]
	}
	return out
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Reset discards all buffered data.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start = 0
	rb.size = 0
}
