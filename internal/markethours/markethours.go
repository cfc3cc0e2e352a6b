// Package markethours answers time-of-day questions for the pipeline: whether
// a bar falls inside a strategy's trading window, and when the next daily
// ledger boundary occurs.
package markethours

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadClock is returned for malformed "HH:MM" values.
var ErrBadClock = errors.New("invalid clock time")

// Clock is a wall-clock time of day in minutes after midnight.
type Clock int

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

func clockOf(t time.Time) Clock { return Clock(t.Hour()*60 + t.Minute()) }

// LoadLocation resolves a zone name, treating "" as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Window is a daily trading window. Both ends are inclusive to the minute;
// a window whose start is after its end wraps midnight.
type Window struct {
	Start    Clock
	End      Clock
	Loc      *time.Location
	Holidays Holidays
	Weekdays bool // only Mon–Fri
}

// ParseWindow builds a Window from "HH:MM" bounds in the named zone.
func ParseWindow(start, end, zone string) (*Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return nil, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return nil, fmt.Errorf("window end: %w", err)
	}
	loc, err := LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("window zone: %w", err)
	}
	return &Window{Start: s, End: e, Loc: loc}, nil
}

// Contains reports whether t falls inside the window. A nil window admits
// every instant.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	local := t.In(w.location())
	if w.Weekdays && !IsWeekday(local) {
		return false
	}
	if w.Holidays.Contains(local) {
		return false
	}
	hm := clockOf(local)
	if w.Start <= w.End {
		return hm >= w.Start && hm <= w.End
	}
	return hm >= w.Start || hm <= w.End
}

func (w *Window) String() string {
	if w == nil {
		return "always"
	}
	return fmt.Sprintf("%s-%s %s", w.Start, w.End, w.location())
}

func (w *Window) location() *time.Location {
	if w.Loc == nil {
		return time.UTC
	}
	return w.Loc
}

// IsWeekday returns true if t is Mon–Fri in its own location.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// LastBoundary returns the most recent occurrence of at in loc that is not
// after t.
func LastBoundary(t time.Time, at Clock, loc *time.Location) time.Time {
	local := t.In(loc)
	b := time.Date(local.Year(), local.Month(), local.Day(), int(at)/60, int(at)%60, 0, 0, loc)
	if b.After(local) {
		b = time.Date(local.Year(), local.Month(), local.Day()-1, int(at)/60, int(at)%60, 0, 0, loc)
	}
	return b
}

// NextBoundary returns the first occurrence of at in loc strictly after t.
func NextBoundary(t time.Time, at Clock, loc *time.Location) time.Time {
	last := LastBoundary(t, at, loc)
	return time.Date(last.Year(), last.Month(), last.Day()+1, int(at)/60, int(at)%60, 0, 0, loc)
}

// Until formats the time left until next, e.g. "3h12m".
func Until(now, next time.Time) string {
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
