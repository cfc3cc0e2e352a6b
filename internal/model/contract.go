package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedSecurityType is returned for sec types outside {CASH, STK, FUT, OPT}.
	ErrUnsupportedSecurityType = errors.New("unsupported security type")

	// ErrIncompleteContract is returned when a derivative lacks its expiry, right or strike.
	ErrIncompleteContract = errors.New("incomplete contract")
)

// SecType is the enumerated instrument category.
type SecType string

const (
	SecCash   SecType = "CASH"
	SecStock  SecType = "STK"
	SecFuture SecType = "FUT"
	SecOption SecType = "OPT"
)

// ParseSecType normalises s into a SecType. An empty string defaults to CASH.
func ParseSecType(s string) (SecType, error) {
	st := SecType(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" {
		return SecCash, nil
	}
	switch st {
	case SecCash, SecStock, SecFuture, SecOption:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSecurityType, s)
}

// OptionRight is CALL or PUT.
type OptionRight string

const (
	RightCall OptionRight = "CALL"
	RightPut  OptionRight = "PUT"
)

// DerivativeTerms carries the extra fields futures and options need.
type DerivativeTerms struct {
	Expiry string      `json:"expiry" yaml:"expiry"` // YYYYMM or YYYYMMDD
	Right  OptionRight `json:"right,omitempty" yaml:"right"`
	Strike float64     `json:"strike,omitempty" yaml:"strike"`
}

// Contract is the broker-native instrument descriptor.
type Contract struct {
	Symbol   string      `json:"symbol"`
	SecType  SecType     `json:"sec_type"`
	Currency string      `json:"currency"`
	Exchange string      `json:"exchange"`
	Expiry   string      `json:"expiry,omitempty"`
	Right    OptionRight `json:"right,omitempty"`
	Strike   float64     `json:"strike,omitempty"`
}

// NewContract maps (symbol, secType, currency, exchange) to a contract.
// Every SecType has exactly one branch; anything else fails.
func NewContract(symbol string, secType SecType, currency, exchange string, terms *DerivativeTerms) (Contract, error) {
	c := Contract{Symbol: symbol, SecType: secType, Currency: currency, Exchange: exchange}
	switch secType {
	case SecCash:
		// Six-letter pairs (EURUSD) split into base symbol and quote currency.
		if len(symbol) == 6 {
			c.Symbol = symbol[:3]
			c.Currency = symbol[3:]
		}
		if c.Exchange == "" {
			c.Exchange = "IDEALPRO"
		}
	case SecStock:
		if c.Exchange == "" {
			c.Exchange = "SMART"
		}
	case SecFuture:
		if terms == nil || terms.Expiry == "" {
			return Contract{}, fmt.Errorf("%w: future %s needs an expiry", ErrIncompleteContract, symbol)
		}
		c.Expiry = terms.Expiry
	case SecOption:
		if terms == nil || terms.Expiry == "" || terms.Strike <= 0 {
			return Contract{}, fmt.Errorf("%w: option %s needs expiry and strike", ErrIncompleteContract, symbol)
		}
		if terms.Right != RightCall && terms.Right != RightPut {
			return Contract{}, fmt.Errorf("%w: option %s right %q", ErrIncompleteContract, symbol, terms.Right)
		}
		c.Expiry = terms.Expiry
		c.Right = terms.Right
		c.Strike = terms.Strike
	default:
		return Contract{}, fmt.Errorf("%w: %q", ErrUnsupportedSecurityType, secType)
	}
	return c, nil
}
