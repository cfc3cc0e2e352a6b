package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"crossover-trader/internal/execution"
	"crossover-trader/internal/metrics"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

const journalSchema = `
	CREATE TABLE IF NOT EXISTS orders (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT    NOT NULL,
		strategy    TEXT    NOT NULL,
		broker      TEXT    NOT NULL,
		symbol      TEXT    NOT NULL,
		sec_type    TEXT    NOT NULL,
		action      TEXT    NOT NULL,
		quantity    INTEGER NOT NULL,
		ref_price   REAL    NOT NULL,
		fill_price  REAL,
		status      TEXT    NOT NULL,
		error       TEXT,
		reason      TEXT,
		latency_us  INTEGER NOT NULL,
		at          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol, broker);
	CREATE INDEX IF NOT EXISTS idx_orders_at ON orders(at);
`

// OrderRecord is one row of the orders table.
type OrderRecord struct {
	ID        int64         `json:"id"`
	OrderID   string        `json:"order_id"`
	Strategy  string        `json:"strategy"`
	Broker    string        `json:"broker"`
	Symbol    string        `json:"symbol"`
	SecType   string        `json:"sec_type"`
	Action    string        `json:"action"`
	Quantity  int64         `json:"quantity"`
	RefPrice  float64       `json:"ref_price"`
	FillPrice float64       `json:"fill_price,omitempty"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Latency   time.Duration `json:"latency"`
	At        time.Time     `json:"at"`
}

// Journal records every dispatch outcome for audit.
type Journal struct {
	db      *sql.DB
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string, log *slog.Logger, m *metrics.Metrics) (*Journal, error) {
	db, err := open(path, journalSchema)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	log = log.With("component", "journal")
	log.Info("opened order journal", "path", path)
	return &Journal{db: db, log: log, metrics: m}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Run reads outcomes from in and inserts them in batched transactions,
// flushing every batch of defaultBatchSize or every defaultFlushDelay,
// whichever comes first. Returns when in is closed or ctx is cancelled,
// after flushing what it holds.
func (j *Journal) Run(ctx context.Context, in <-chan execution.Outcome) {
	batch := make([]execution.Outcome, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be cancelled; the final flush must still land
		if err := j.Record(context.WithoutCancel(ctx), batch...); err != nil {
			j.log.Error("batch insert failed", "count", len(batch), "error", err)
		} else {
			j.metrics.SQLiteCommitDur.Observe(time.Since(start).Seconds())
			j.log.Debug("committed outcomes", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case out, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, out)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Record inserts outcomes in a single transaction.
func (j *Journal) Record(ctx context.Context, outs ...execution.Outcome) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (order_id, strategy, broker, symbol, sec_type, action, quantity,
			ref_price, fill_price, status, error, reason, latency_us, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, o := range outs {
		var fillPrice sql.NullFloat64
		if o.Fill != nil {
			fillPrice = sql.NullFloat64{Float64: o.Fill.Price, Valid: true}
		}
		s := o.Signal
		if _, err := stmt.ExecContext(ctx, o.OrderID, s.Strategy, s.Broker, s.Symbol, string(s.SecType),
			string(s.Action), s.Quantity, s.Price, fillPrice, o.Status, o.Error, s.Reason,
			o.Latency.Microseconds(), o.At.UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert order %s: %w", o.OrderID, err)
		}
	}
	return tx.Commit()
}

// Recent returns the last limit orders, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]OrderRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, order_id, strategy, broker, symbol, sec_type, action, quantity,
			ref_price, fill_price, status, error, reason, latency_us, at
		FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			r         OrderRecord
			fillPrice sql.NullFloat64
			errText   sql.NullString
			reason    sql.NullString
			latencyUS int64
			atMS      int64
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Strategy, &r.Broker, &r.Symbol, &r.SecType, &r.Action,
			&r.Quantity, &r.RefPrice, &fillPrice, &r.Status, &errText, &reason, &latencyUS, &atMS); err != nil {
			return nil, fmt.Errorf("sqlite scan orders: %w", err)
		}
		r.FillPrice = fillPrice.Float64
		r.Error = errText.String
		r.Reason = reason.String
		r.Latency = time.Duration(latencyUS) * time.Microsecond
		r.At = time.UnixMilli(atMS).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
