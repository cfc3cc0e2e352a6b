package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crossover-trader/internal/portfolio"
)

const (
	ledgerKey = "ledger:daily"
	ledgerTTL = 48 * time.Hour
)

// LedgerStore saves and loads the daily ledger snapshot.
type LedgerStore struct {
	client Client
}

// NewLedgerStore creates a store over c.
func NewLedgerStore(c Client) *LedgerStore { return &LedgerStore{client: c} }

// Save overwrites the stored snapshot.
func (s *LedgerStore) Save(ctx context.Context, snap portfolio.LedgerSnapshot) error {
	if err := s.client.Set(ctx, ledgerKey, string(snap.JSON()), ledgerTTL); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. ok is false when none exists.
func (s *LedgerStore) Load(ctx context.Context) (snap portfolio.LedgerSnapshot, ok bool, err error) {
	raw, err := s.client.Get(ctx, ledgerKey)
	if errors.Is(err, ErrNotFound) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("load ledger: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return snap, false, fmt.Errorf("decode ledger: %w", err)
	}
	return snap, true, nil
}
