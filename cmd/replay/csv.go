package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"crossover-trader/internal/model"
)

const importBatch = 500

// BarInserter is the subset of the bar store used by the importer.
type BarInserter interface {
	Insert(ctx context.Context, bars ...model.Bar) error
}

// importCSV loads bars from a CSV file with the columns
// symbol,ts,open,high,low,close,volume. ts is RFC3339 or unix seconds. A first
// row starting with "symbol" is treated as a header.
func importCSV(ctx context.Context, store BarInserter, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return readBars(ctx, store, f)
}

func readBars(ctx context.Context, store BarInserter, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 7
	cr.TrimLeadingSpace = true

	var (
		batch = make([]model.Bar, 0, importBatch)
		total int
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.Insert(ctx, batch...); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], "symbol") {
			continue
		}
		bar, err := parseBar(rec)
		if err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, bar)
		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}

func parseBar(rec []string) (model.Bar, error) {
	ts, err := parseTS(rec[1])
	if err != nil {
		return model.Bar{}, err
	}
	var vals [5]float64
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(rec[i+2], 64); err != nil {
			return model.Bar{}, fmt.Errorf("column %d: %w", i+3, err)
		}
	}
	bar := model.Bar{
		Symbol: strings.ToUpper(strings.TrimSpace(rec[0])),
		TS:     ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	return bar, bar.Validate()
}

func parseTS(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return ts.UTC(), nil
}
