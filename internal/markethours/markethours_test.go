package markethours

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil || c != 570 {
		t.Fatalf("expected 570, got %d (%v)", c, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Error("expected error for 25:00")
	}
	if c.String() != "09:30" {
		t.Errorf("expected 09:30, got %s", c)
	}
}

func TestWindow_Contains(t *testing.T) {
	w, err := ParseWindow("00:00", "23:59", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if !w.Contains(time.Date(2026, 3, 2, 23, 59, 30, 0, time.UTC)) {
		t.Error("23:59 should be inside inclusive window")
	}

	w, _ = ParseWindow("08:00", "16:30", "UTC")
	tests := []struct {
		hh, mm int
		want   bool
	}{
		{7, 59, false},
		{8, 0, true},
		{12, 0, true},
		{16, 30, true},
		{16, 31, false},
	}
	for _, tc := range tests {
		got := w.Contains(time.Date(2026, 3, 2, tc.hh, tc.mm, 0, 0, time.UTC))
		if got != tc.want {
			t.Errorf("%02d:%02d: expected %v, got %v", tc.hh, tc.mm, tc.want, got)
		}
	}
}

func TestWindow_WrapsMidnight(t *testing.T) {
	w, _ := ParseWindow("22:00", "02:00", "UTC")
	if !w.Contains(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)) {
		t.Error("23:00 should be inside 22:00-02:00")
	}
	if !w.Contains(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)) {
		t.Error("01:00 should be inside 22:00-02:00")
	}
	if w.Contains(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)) {
		t.Error("12:00 should be outside 22:00-02:00")
	}
}

func TestWindow_HolidaysAndWeekends(t *testing.T) {
	w, _ := ParseWindow("00:00", "23:59", "UTC")
	w.Weekdays = true
	w.Holidays, _ = ParseHolidays([]string{"2026-12-25"})

	if w.Contains(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)) { // Saturday
		t.Error("weekend should be closed")
	}
	if w.Contains(time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)) {
		t.Error("holiday should be closed")
	}
	if !w.Contains(time.Date(2026, 12, 24, 12, 0, 0, 0, time.UTC)) {
		t.Error("2026-12-24 should be open")
	}
}

func TestNilWindowAdmitsAll(t *testing.T) {
	var w *Window
	if !w.Contains(time.Now()) {
		t.Error("nil window must admit every instant")
	}
}

func TestNextBoundary(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	at, _ := ParseClock("17:00")

	before := time.Date(2026, 3, 2, 16, 0, 0, 0, ny)
	if got := NextBoundary(before, at, ny); !got.Equal(time.Date(2026, 3, 2, 17, 0, 0, 0, ny)) {
		t.Errorf("expected same-day boundary, got %v", got)
	}

	exact := time.Date(2026, 3, 2, 17, 0, 0, 0, ny)
	if got := NextBoundary(exact, at, ny); !got.Equal(time.Date(2026, 3, 3, 17, 0, 0, 0, ny)) {
		t.Errorf("boundary at t must be strictly after, got %v", got)
	}
	if got := LastBoundary(exact, at, ny); !got.Equal(exact) {
		t.Errorf("expected last boundary = t, got %v", got)
	}
}

func TestUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if s := Until(now, now.Add(3*time.Hour+12*time.Minute)); s != "3h12m" {
		t.Errorf("expected 3h12m, got %s", s)
	}
	if s := Until(now, now.Add(-time.Minute)); s != "0m" {
		t.Errorf("expected 0m, got %s", s)
	}
}
