package broker

import "crossover-trader/internal/model"

// Frame types on the gateway WebSocket.
const (
	FrameLogin    = "login"
	FrameLoginAck = "login_ack"
	FrameOrder    = "order"
	FrameOrderAck = "order_ack"
)

// Order statuses carried by order_ack.
const (
	StatusOK       = "OK"
	StatusFilled   = "FILLED"
	StatusRejected = "REJECTED"
)

// GatewayPath is the WebSocket endpoint served by a broker gateway.
const GatewayPath = "/gateway"

// Frame is one JSON message on the gateway WebSocket. Requests and replies
// share the envelope; replies echo the request ID.
//
//	{"type":"login","client_id":1,"otp":"123456"}
//	{"type":"order","id":"…","contract":{…},"action":"BUY","quantity":2}
//	{"type":"order_ack","id":"…","status":"FILLED","fill_price":1.1002}
type Frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	ClientID  int             `json:"client_id,omitempty"`
	OTP       string          `json:"otp,omitempty"`
	Symbol    string          `json:"symbol,omitempty"`
	Contract  *model.Contract `json:"contract,omitempty"`
	Action    model.Action    `json:"action,omitempty"`
	Quantity  int64           `json:"quantity,omitempty"`
	RefPrice  float64         `json:"ref_price,omitempty"`
	Status    string          `json:"status,omitempty"`
	FillPrice float64         `json:"fill_price,omitempty"`
	Message   string          `json:"message,omitempty"`
}
