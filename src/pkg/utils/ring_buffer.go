package utils

import "sync"

// RingBuffer keeps the last size bytes written to it. Safe for concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	writePos int
	full     bool
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 4096
	}
	return &RingBuffer{buf: make([]byte, size)}
}

func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := len(p)
	size := len(rb.buf)
	if n == 0 {
		return 0, nil
	}
	if n >= size {
		copy(rb.buf, p[n-size:])
		rb.writePos = 0
		rb.full = true
		return n, nil
	}
	remaining := size - rb.writePos
	if n <= remaining {
		copy(rb.buf[rb.writePos:], p)
		rb.writePos += n
		if rb.writePos == size {
			rb.writePos = 0
			rb.full = true
		}
		return n, nil
	}
	copy(rb.buf[rb.writePos:], p[:remaining])
	copy(rb.buf, p[remaining:])
	rb.writePos = n - remaining
	rb.full = true
	return n, nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.full {
		out := make([]byte, rb.writePos)
		copy(out, rb.buf[:rb.writePos])
		return out
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.writePos:]...)
	return append(out, rb.buf[:rb.writePos]...)
}

func (rb *RingBuffer) String() string {
	return string(rb.Bytes())
}
