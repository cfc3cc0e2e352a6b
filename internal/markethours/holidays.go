package markethours

import (
	"fmt"
	"time"
)

// Holidays is a set of closed calendar dates, keyed "2006-01-02" in the
// window's location.
type Holidays map[string]bool

// ParseHolidays builds a set from ISO dates.
func ParseHolidays(dates []string) (Holidays, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	h := make(Holidays, len(dates))
	for _, d := range dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", d, err)
		}
		h[d] = true
	}
	return h, nil
}

// Contains returns true if t's date is a holiday.
func (h Holidays) Contains(t time.Time) bool {
	if len(h) == 0 {
		return false
	}
	return h[t.Format(time.DateOnly)]
}
