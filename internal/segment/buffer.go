package segment

import "sync"

// Buffer accumulates closed segments between flushes. Append and Drain may be
// called from different goroutines.
type Buffer struct {
	mu       sync.Mutex
	segments []Segment
	frames   int
}

func NewBuffer() *Buffer { return &Buffer{} }

func (b *Buffer) Append(s Segment) {
	b.mu.Lock()
	b.segments = append(b.segments, s)
	b.frames += s.Len()
	b.mu.Unlock()
}

// Drain returns every buffered segment in append order and empties the
// buffer.
func (b *Buffer) Drain() []Segment {
	b.mu.Lock()
	out := b.segments
	b.segments = nil
	b.frames = 0
	b.mu.Unlock()
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}

// Frames is the total frame count across buffered segments.
func (b *Buffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}
