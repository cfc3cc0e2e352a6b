package model

import "time"

// Fill is what a broker connection reports for an accepted order.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Broker   string    `json:"broker"`
	Symbol   string    `json:"symbol"`
	Action   Action    `json:"action"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"` // 0 when the broker did not report a fill price
	FilledAt time.Time `json:"filled_at"`
}
