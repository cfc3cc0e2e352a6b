package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossover-trader/internal/model"
)

type sliceStore struct {
	bars    []model.Bar
	inserts int
}

func (s *sliceStore) Insert(_ context.Context, bars ...model.Bar) error {
	s.inserts++
	s.bars = append(s.bars, bars...)
	return nil
}

func TestReadBars(t *testing.T) {
	in := `symbol,ts,open,high,low,close,volume
eurusd,2024-01-02T09:00:00Z,1.1,1.2,1.0,1.15,100
EURUSD,1704186060,1.15,1.16,1.14,1.155,0
`
	store := &sliceStore{}
	n, err := readBars(context.Background(), store, strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.bars, 2)
	assert.Equal(t, "EURUSD", store.bars[0].Symbol)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), store.bars[0].TS)
	assert.Equal(t, 1.15, store.bars[0].Close)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC), store.bars[1].TS)
}

func TestReadBars_Batches(t *testing.T) {
	var b strings.Builder
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < importBatch+10; i++ {
		b.WriteString("AAPL," + start.Add(time.Duration(i)*time.Minute).Format(time.RFC3339) + ",1,2,1,1.5,10\n")
	}
	store := &sliceStore{}
	n, err := readBars(context.Background(), store, strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, importBatch+10, n)
	assert.Equal(t, 2, store.inserts)
}

func TestReadBars_Errors(t *testing.T) {
	cases := map[string]string{
		"bad timestamp":   "AAPL,yesterday,1,2,1,1.5,10\n",
		"bad number":      "AAPL,1704186060,1,x,1,1.5,10\n",
		"invalid bar":     "AAPL,1704186060,1,1,2,1.5,10\n",
		"too few columns": "AAPL,1704186060,1,2,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readBars(context.Background(), &sliceStore{}, strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}
