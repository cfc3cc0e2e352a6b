package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidBar is returned when a bar fails basic sanity checks.
var ErrInvalidBar = errors.New("invalid bar")

// Bar is one OHLCV sample for a symbol over a fixed interval.
// Bars are immutable once constructed and arrive time-ordered per symbol.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bar start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate rejects bars that cannot be fed to the indicator state.
func (b *Bar) Validate() error {
	switch {
	case b.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidBar)
	case b.TS.IsZero():
		return fmt.Errorf("%w: %s has no timestamp", ErrInvalidBar, b.Symbol)
	case b.Close <= 0:
		return fmt.Errorf("%w: %s close %.6f", ErrInvalidBar, b.Symbol, b.Close)
	case b.High < b.Low:
		return fmt.Errorf("%w: %s high %.6f < low %.6f", ErrInvalidBar, b.Symbol, b.High, b.Low)
	}
	return nil
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
