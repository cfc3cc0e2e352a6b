// Package indicator maintains per-symbol rolling indicator state over bar closes.
//
// Each symbol carries a short and a long simple moving average. A mean is
// reported absent until its window has accumulated a full period of closes,
// so callers never treat a ramping average as a crossing value.
package indicator

import "fmt"

// Mean is an optional moving-average value.
type Mean struct {
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

func (m Mean) String() string {
	if !m.Ready {
		return "n/a"
	}
	return fmt.Sprintf("%.5f", m.Value)
}
