package motion

import "gocv.io/x/gocv"

// HistoryDepth is the number of grayscale frames kept for frame differencing.
const HistoryDepth = 3

// History is a fixed ring of the most recent grayscale frames (t, t-1, t-2).
// Pushing evicts and closes the oldest frame. It is owned by the capture goroutine.
type History struct {
	frames [HistoryDepth]gocv.Mat
	head   int // index of the newest frame
	count  int
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Push stores a clone of gray as the newest frame.
func (h *History) Push(gray gocv.Mat) {
	next := (h.head + 1) % HistoryDepth
	if h.count == HistoryDepth {
		h.frames[next].Close()
	} else {
		h.count++
	}
	h.frames[next] = gray.Clone()
	h.head = next
}

// Seed fills every slot with a clone of gray.
func (h *History) Seed(gray gocv.Mat) {
	h.Reset()
	for i := range HistoryDepth {
		h.frames[i] = gray.Clone()
	}
	h.head = HistoryDepth - 1
	h.count = HistoryDepth
}

// Ready reports whether all slots hold a frame.
func (h *History) Ready() bool {
	return h.count == HistoryDepth
}

// Len returns the number of frames held.
func (h *History) Len() int {
	return h.count
}

// At returns the frame age steps back, 0 being the newest. The Mat stays owned by the history.
// At panics when age is outside the held range.
func (h *History) At(age int) gocv.Mat {
	if age < 0 || age >= h.count {
		panic("motion: history index out of range")
	}
	return h.frames[(h.head-age+HistoryDepth)%HistoryDepth]
}

// Current returns the newest frame.
func (h *History) Current() gocv.Mat {
	return h.At(0)
}

// Reset closes all frames and empties the history.
func (h *History) Reset() {
	for i := range h.count {
		h.frames[(h.head-i+HistoryDepth)%HistoryDepth].Close()
	}
	h.frames = [HistoryDepth]gocv.Mat{}
	h.head = 0
	h.count = 0
}

// Close releases the held frames.
func (h *History) Close() error {
	h.Reset()
	return nil
}
