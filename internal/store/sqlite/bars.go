package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"crossover-trader/internal/model"
)

const barSchema = `
	CREATE TABLE IF NOT EXISTS bars (
		symbol  TEXT    NOT NULL,
		ts      INTEGER NOT NULL,
		open    REAL    NOT NULL,
		high    REAL    NOT NULL,
		low     REAL    NOT NULL,
		close   REAL    NOT NULL,
		volume  REAL,
		PRIMARY KEY (symbol, ts)
	);
`

// BarStore holds bar history for replay and indicator warm-up.
type BarStore struct {
	db *sql.DB
}

// OpenBarStore opens (or creates) the bar database at path.
func OpenBarStore(path string, log *slog.Logger) (*BarStore, error) {
	db, err := open(path, barSchema)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("opened bar store", "component", "barstore", "path", path)
	return &BarStore{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *BarStore) DB() *sql.DB { return s.db }

// Insert upserts bars in a single transaction.
func (s *BarStore) Insert(ctx context.Context, bars ...model.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s: %w", b.Symbol, err)
		}
	}
	return tx.Commit()
}

// ReadBars returns the bars of symbol strictly after the given instant,
// ordered by timestamp ascending for correct replay order.
func (s *BarStore) ReadBars(ctx context.Context, symbol string, after time.Time) ([]model.Bar, error) {
	var afterMS int64 = -1 << 62
	if !after.IsZero() {
		afterMS = after.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterMS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var (
			b      model.Bar
			tsMS   int64
			volume sql.NullFloat64
		)
		if err := rows.Scan(&b.Symbol, &tsMS, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(tsMS).UTC()
		b.Volume = volume.Float64
		out = append(out, b)
	}
	return out, rows.Err()
}

// LastCloses returns up to n most recent closes of symbol, oldest first, for
// indicator warm-up.
func (s *BarStore) LastCloses(ctx context.Context, symbol string, n int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT close FROM (
			SELECT ts, close FROM bars WHERE symbol = ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC
	`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query closes: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Symbols lists the symbols with stored bars.
func (s *BarStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *BarStore) Close() error {
	return s.db.Close()
}
