package portfolio

import (
	"encoding/json"
	"sync"
	"time"

	"crossover-trader/internal/markethours"
)

// Deny reasons returned by Admit.
const (
	DenyMaxLoss   = "max daily loss reached"
	DenyMaxTrades = "max daily trades reached"
)

// LedgerLimits are the account-wide daily gates.
type LedgerLimits struct {
	MaxDailyLoss   float64 `json:"max_daily_loss"`
	MaxDailyTrades int     `json:"max_daily_trades"`
}

// TradeOutcome is one admitted trade and the loss realized against it so far.
type TradeOutcome struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Broker     string    `json:"broker"`
	Loss       float64   `json:"loss"`
	AdmittedAt time.Time `json:"admitted_at"`
}

// Decision is the result of Admit.
type Decision struct {
	Allowed        bool
	Reason         string
	TradeCount     int
	CumulativeLoss float64
}

// LedgerSnapshot is the persisted form of the ledger for one trading day.
type LedgerSnapshot struct {
	DayStart       time.Time      `json:"day_start"`
	Boundary       time.Time      `json:"boundary"`
	TradeCount     int            `json:"trade_count"`
	CumulativeLoss float64        `json:"cumulative_loss"`
	Trades         []TradeOutcome `json:"trades"`
}

// JSON returns the JSON-encoded snapshot.
func (s LedgerSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// day is the book for one trading day.
type day struct {
	start          time.Time
	boundary       time.Time
	trades         []TradeOutcome
	cumulativeLoss float64
	tradeCount     int
}

func (d *day) empty() bool { return d.tradeCount == 0 && d.cumulativeLoss == 0 }

// DailyLedger is the process-wide record of trades and realized losses that
// gates admission. Counters only grow within a trading day. The ledger has no
// clock of its own: it rolls over when an Admit or Reset carries a time at or
// after the boundary, and other calls use the latest time it has seen.
//
// A bar-clock ledger (NewBarClockLedger) keeps one book per trading day, so an
// admission stamped with an earlier day than the latest one seen is gated by
// that earlier day's counters. Replay feeds advance independently and need this.
type DailyLedger struct {
	mu     sync.Mutex
	limits LedgerLimits
	reset  markethours.Clock
	loc    *time.Location
	perDay bool

	cur    *day
	past   map[int64]*day // perDay only, keyed by day start (unix seconds)
	byID   map[string]*day
	latest time.Time
}

// NewDailyLedger creates a ledger whose day starts at resetAt in loc, opened
// on the trading day containing now.
func NewDailyLedger(limits LedgerLimits, resetAt markethours.Clock, loc *time.Location, now time.Time) *DailyLedger {
	if loc == nil {
		loc = time.UTC
	}
	l := &DailyLedger{
		limits: limits,
		reset:  resetAt,
		loc:    loc,
	}
	l.rollLocked(now)
	return l
}

// NewBarClockLedger creates a ledger for replays, where admissions are stamped
// with bar time and feeds for different symbols run ahead of each other. The
// first admission opens its own day.
func NewBarClockLedger(limits LedgerLimits, resetAt markethours.Clock, loc *time.Location) *DailyLedger {
	l := NewDailyLedger(limits, resetAt, loc, time.Time{})
	l.perDay = true
	return l
}

// Limits returns the configured limits.
func (l *DailyLedger) Limits() LedgerLimits { return l.limits }

// Admit checks the daily limits and, if they allow it, records tradeID as an
// admitted trade with zero loss. The check and the record happen in one
// critical section, so concurrent callers cannot both pass a limit only one of
// them should pass.
func (l *DailyLedger) Admit(now time.Time, tradeID, symbol, broker string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeRollLocked(now)
	bk := l.cur
	if l.perDay && now.Before(bk.start) {
		bk = l.pastLocked(now)
	}

	d := Decision{TradeCount: bk.tradeCount, CumulativeLoss: bk.cumulativeLoss}
	switch {
	case bk.cumulativeLoss >= l.limits.MaxDailyLoss:
		d.Reason = DenyMaxLoss
		return d
	case bk.tradeCount >= l.limits.MaxDailyTrades:
		d.Reason = DenyMaxTrades
		return d
	}

	bk.trades = append(bk.trades, TradeOutcome{ID: tradeID, Symbol: symbol, Broker: broker, AdmittedAt: now})
	bk.tradeCount++
	l.byID[tradeID] = bk

	d.Allowed = true
	d.TradeCount = bk.tradeCount
	return d
}

// RecordLoss adds a realized loss against tradeID. Non-positive amounts are
// ignored so counters never decrease. A loss for a trade admitted on an
// earlier day still counts against today, except on a bar-clock ledger where
// it counts against the trade's own day. Returns whether tradeID was found.
func (l *DailyLedger) RecordLoss(tradeID string, loss float64) bool {
	if loss <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bk, ok := l.byID[tradeID]
	target := l.cur
	if ok && l.perDay {
		target = bk
	}
	target.cumulativeLoss += loss
	if !ok {
		return false
	}
	for i := range bk.trades {
		if bk.trades[i].ID == tradeID {
			bk.trades[i].Loss += loss
			break
		}
	}
	return true
}

// Reset starts a new trading day containing now and forgets every earlier one.
func (l *DailyLedger) Reset(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.past = nil
	l.byID = nil
	l.rollLocked(now)
}

// Advance rolls the ledger over if now has reached the day boundary and
// reports whether it did.
func (l *DailyLedger) Advance(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := l.cur.start
	l.maybeRollLocked(now)
	return !l.cur.start.Equal(before)
}

// Snapshot returns a copy of the latest day's state.
func (l *DailyLedger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return snapshotOf(l.cur)
}

// SnapshotAt returns a copy of the book for the trading day containing at.
// Only a bar-clock ledger keeps earlier days; otherwise, and for days it never
// saw, the result is an empty book for that day.
func (l *DailyLedger) SnapshotAt(at time.Time) LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := markethours.LastBoundary(at, l.reset, l.loc)
	if start.Equal(l.cur.start) {
		return snapshotOf(l.cur)
	}
	if bk, ok := l.past[start.Unix()]; ok {
		return snapshotOf(bk)
	}
	return LedgerSnapshot{DayStart: start, Boundary: markethours.NextBoundary(at, l.reset, l.loc)}
}

func snapshotOf(bk *day) LedgerSnapshot {
	trades := make([]TradeOutcome, len(bk.trades))
	copy(trades, bk.trades)
	return LedgerSnapshot{
		DayStart:       bk.start,
		Boundary:       bk.boundary,
		TradeCount:     bk.tradeCount,
		CumulativeLoss: bk.cumulativeLoss,
		Trades:         trades,
	}
}

// Restore loads a snapshot taken earlier in the current trading day. Snapshots
// from another day are ignored. Restoring never lowers a counter.
func (l *DailyLedger) Restore(s LedgerSnapshot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	bk := l.cur
	if !s.DayStart.Equal(bk.start) {
		return false
	}
	if s.TradeCount > bk.tradeCount {
		bk.tradeCount = s.TradeCount
	}
	if s.CumulativeLoss > bk.cumulativeLoss {
		bk.cumulativeLoss = s.CumulativeLoss
	}
	for _, t := range s.Trades {
		if _, ok := l.byID[t.ID]; ok {
			continue
		}
		l.byID[t.ID] = bk
		bk.trades = append(bk.trades, t)
	}
	return true
}

func (l *DailyLedger) maybeRollLocked(now time.Time) {
	if now.After(l.latest) {
		l.latest = now
	}
	if !now.Before(l.cur.boundary) {
		l.rollLocked(now)
	}
}

func (l *DailyLedger) rollLocked(now time.Time) {
	l.latest = now
	if l.byID == nil {
		l.byID = make(map[string]*day)
	}
	if l.perDay {
		if l.past == nil {
			l.past = make(map[int64]*day)
		}
		if l.cur != nil && !l.cur.empty() {
			l.past[l.cur.start.Unix()] = l.cur
		}
		start := markethours.LastBoundary(now, l.reset, l.loc)
		if bk, ok := l.past[start.Unix()]; ok {
			delete(l.past, start.Unix())
			l.cur = bk
			return
		}
	} else {
		l.byID = make(map[string]*day)
	}
	l.cur = &day{
		start:    markethours.LastBoundary(now, l.reset, l.loc),
		boundary: markethours.NextBoundary(now, l.reset, l.loc),
	}
}

// pastLocked returns the book for an earlier day than the current one.
func (l *DailyLedger) pastLocked(now time.Time) *day {
	start := markethours.LastBoundary(now, l.reset, l.loc)
	if bk, ok := l.past[start.Unix()]; ok {
		return bk
	}
	bk := &day{start: start, boundary: markethours.NextBoundary(now, l.reset, l.loc)}
	l.past[start.Unix()] = bk
	return bk
}
