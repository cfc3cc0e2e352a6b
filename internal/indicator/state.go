package indicator

import "sync"

// Snapshot is the indicator view returned for a symbol after one update:
// the current short/long means and the pair immediately before it.
type Snapshot struct {
	Symbol    string `json:"symbol"`
	Short     Mean   `json:"short"`
	Long      Mean   `json:"long"`
	PrevShort Mean   `json:"prev_short"`
	PrevLong  Mean   `json:"prev_long"`
	Bars      int    `json:"bars"` // closes seen for this symbol
}

// Ready reports whether the current pair is present.
func (s Snapshot) Ready() bool { return s.Short.Ready && s.Long.Ready }

// PrevReady reports whether the previous pair is present.
func (s Snapshot) PrevReady() bool { return s.PrevShort.Ready && s.PrevLong.Ready }

// State is the rolling state for one symbol.
type State struct {
	short     *SMA
	long      *SMA
	prevShort Mean
	prevLong  Mean
	bars      int
}

func newState(shortMA, longMA int) *State {
	return &State{short: NewSMA(shortMA), long: NewSMA(longMA)}
}

func (st *State) update(symbol string, close float64) Snapshot {
	prevShort, prevLong := st.short.Value(), st.long.Value()
	short := st.short.Update(close)
	long := st.long.Update(close)
	st.prevShort, st.prevLong = prevShort, prevLong
	st.bars++
	return Snapshot{
		Symbol:    symbol,
		Short:     short,
		Long:      long,
		PrevShort: prevShort,
		PrevLong:  prevLong,
		Bars:      st.bars,
	}
}

func (st *State) snapshot(symbol string) Snapshot {
	return Snapshot{
		Symbol:    symbol,
		Short:     st.short.Value(),
		Long:      st.long.Value(),
		PrevShort: st.prevShort,
		PrevLong:  st.prevLong,
		Bars:      st.bars,
	}
}

// Tracker keeps indicator state per symbol for one short/long configuration.
// Safe for concurrent use; updates for a single symbol must still arrive in
// bar order.
type Tracker struct {
	shortMA int
	longMA  int

	mu     sync.Mutex
	states map[string]*State
}

// NewTracker creates a tracker with the given window lengths. shortMA < longMA
// is expected but not enforced.
func NewTracker(shortMA, longMA int) *Tracker {
	return &Tracker{
		shortMA: shortMA,
		longMA:  longMA,
		states:  make(map[string]*State),
	}
}

// Windows returns the configured short and long window lengths.
func (t *Tracker) Windows() (short, long int) { return t.shortMA, t.longMA }

// Update appends close to the symbol's windows and returns the current and
// previous mean pairs.
func (t *Tracker) Update(symbol string, close float64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(symbol).update(symbol, close)
}

// Warmup replays historical closes for symbol and returns the final snapshot.
func (t *Tracker) Warmup(symbol string, closes []float64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(symbol)
	snap := st.snapshot(symbol)
	for _, c := range closes {
		snap = st.update(symbol, c)
	}
	return snap
}

// Get returns the latest snapshot for symbol without mutating it.
func (t *Tracker) Get(symbol string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[symbol]
	if !ok {
		return Snapshot{Symbol: symbol}, false
	}
	return st.snapshot(symbol), true
}

// Reset drops all state for symbol.
func (t *Tracker) Reset(symbol string) {
	t.mu.Lock()
	delete(t.states, symbol)
	t.mu.Unlock()
}

func (t *Tracker) stateLocked(symbol string) *State {
	st, ok := t.states[symbol]
	if !ok {
		st = newState(t.shortMA, t.longMA)
		t.states[symbol] = st
	}
	return st
}
