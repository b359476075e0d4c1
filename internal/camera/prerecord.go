package camera

import "gocv.io/x/gocv"

// DefaultPreRecordFrames is the pre-record buffer capacity.
const DefaultPreRecordFrames = 40

// PreRecordBuffer keeps clones of the most recent colour frames. Pushing into a full
// buffer closes and replaces the oldest frame. It is not safe for concurrent use.
type PreRecordBuffer struct {
	frames []gocv.Mat
	head   int // index of the oldest frame
	count  int
}

// NewPreRecordBuffer creates a buffer holding up to capacity frames.
func NewPreRecordBuffer(capacity int) *PreRecordBuffer {
	if capacity <= 0 {
		capacity = DefaultPreRecordFrames
	}
	return &PreRecordBuffer{frames: make([]gocv.Mat, capacity)}
}

// Push stores a clone of frame.
func (b *PreRecordBuffer) Push(frame gocv.Mat) {
	clone := frame.Clone()
	if b.count < len(b.frames) {
		b.frames[(b.head+b.count)%len(b.frames)] = clone
		b.count++
		return
	}
	b.frames[b.head].Close()
	b.frames[b.head] = clone
	b.head = (b.head + 1) % len(b.frames)
}

// Len returns the number of buffered frames.
func (b *PreRecordBuffer) Len() int { return b.count }

// Cap returns the buffer capacity.
func (b *PreRecordBuffer) Cap() int { return len(b.frames) }

// Each calls fn for every buffered frame, oldest first. fn must not retain the frame.
func (b *PreRecordBuffer) Each(fn func(frame gocv.Mat)) {
	for i := range b.count {
		fn(b.frames[(b.head+i)%len(b.frames)])
	}
}

// Reset closes and drops all buffered frames.
func (b *PreRecordBuffer) Reset() {
	for i := range b.count {
		idx := (b.head + i) % len(b.frames)
		b.frames[idx].Close()
		b.frames[idx] = gocv.Mat{}
	}
	b.head = 0
	b.count = 0
}

// Close releases all frames.
func (b *PreRecordBuffer) Close() error {
	b.Reset()
	return nil
}
