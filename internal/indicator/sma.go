package indicator

import "crossover-trader/internal/ringbuf"

// SMA calculates a Simple Moving Average over a rolling window of closes.
// The window evicts its oldest close once it holds period values.
type SMA struct {
	period int
	win    *ringbuf.Window
}

// NewSMA creates a new SMA with the given period. Periods below 1 are treated as 1.
func NewSMA(period int) *SMA {
	w := ringbuf.New(period)
	return &SMA{period: w.Cap(), win: w}
}

// Period returns the configured window length.
func (s *SMA) Period() int { return s.period }

// Update feeds a close and returns the resulting mean.
func (s *SMA) Update(close float64) Mean {
	s.win.Push(close)
	return s.Value()
}

// Value returns the current mean, absent until the window is full.
func (s *SMA) Value() Mean {
	if !s.win.Full() {
		return Mean{}
	}
	return Mean{Value: s.win.Mean(), Ready: true}
}

// Len returns how many closes are currently in the window.
func (s *SMA) Len() int { return s.win.Len() }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() { s.win.Reset() }
