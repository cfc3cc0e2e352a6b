// Package ringbuf provides a fixed-capacity rolling window of float64 values.
// Pushing into a full window evicts the oldest value, so the window never
// grows past its capacity. A running sum is kept so the mean is O(1).
//
// A Window is not safe for concurrent use; each symbol's indicator state is
// owned by a single task.
package ringbuf

// Window is a circular buffer of the most recent Cap() values.
type Window struct {
	buf   []float64
	head  int // next write position
	count int
	sum   float64
}

// New creates a window holding at most capacity values. Minimum capacity is 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends v. If the window was full, the oldest value is evicted and
// returned with evicted=true.
func (w *Window) Push(v float64) (old float64, evicted bool) {
	if w.count == len(w.buf) {
		old = w.buf[w.head]
		evicted = true
		w.sum -= old
	} else {
		w.count++
	}
	w.buf[w.head] = v
	w.sum += v
	w.head = (w.head + 1) % len(w.buf)
	return old, evicted
}

// Len returns the number of values currently held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap() values.
func (w *Window) Full() bool { return w.count == len(w.buf) }

// Sum returns the sum of the values currently held.
func (w *Window) Sum() float64 { return w.sum }

// Mean returns the arithmetic mean of the held values, or 0 when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Values returns the held values ordered oldest to newest.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.count)
	start := (w.head - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.head = 0
	w.count = 0
	w.sum = 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}
