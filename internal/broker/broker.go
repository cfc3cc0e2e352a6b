// Package broker provides broker connections: a lifecycle state machine
// (Disconnected → Connecting → Connected) plus order submission.
//
// Connections are safe for concurrent SendOrder calls. Connect and Disconnect
// take the lifecycle lock exclusively, so they never race an in-flight order.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"crossover-trader/internal/model"
)

var (
	// ErrNotConnected is returned by SendOrder when the connection is not Connected.
	ErrNotConnected = errors.New("broker not connected")
	// ErrOrderRejected is returned when the broker refuses an order.
	ErrOrderRejected = errors.New("order rejected by broker")
	// ErrLoginFailed is returned when the gateway refuses the login handshake.
	ErrLoginFailed = errors.New("broker login failed")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Order is a market order for one contract.
type Order struct {
	ID       string         `json:"id"` // client order id, echoed on the fill
	Symbol   string         `json:"symbol"`
	Contract model.Contract `json:"contract"`
	Action   model.Action   `json:"action"`
	Quantity int64          `json:"quantity"`
	RefPrice float64        `json:"ref_price"` // signal price, used by paper fills
}

// Connection is the capability surface the router needs from a broker.
type Connection interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendOrder(ctx context.Context, o Order) (model.Fill, error)
	State() State
}

// Config holds per-broker connection parameters.
type Config struct {
	Name           string
	Type           string // "gateway" or "paper"
	Host           string
	Port           int
	ClientID       int
	TOTPSecret     string
	ConnectTimeout time.Duration
	OrderTimeout   time.Duration
	SlippageBps    int64
}

func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 7497
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.OrderTimeout == 0 {
		c.OrderTimeout = 10 * time.Second
	}
}

// New builds a connection for cfg.Type.
func New(cfg Config, log *slog.Logger) (Connection, error) {
	switch cfg.Type {
	case "gateway", "":
		return NewGateway(cfg, log), nil
	case "paper":
		return NewPaper(cfg, log), nil
	default:
		return nil, fmt.Errorf("broker %s: unknown type %q", cfg.Name, cfg.Type)
	}
}

// guard holds the lifecycle state and serialises transitions against sends.
// Sends hold life for reading; Connect and Disconnect hold it for writing.
type guard struct {
	life  sync.RWMutex
	state atomic.Int32
}

func (g *guard) State() State { return State(g.state.Load()) }

func (g *guard) set(s State) { g.state.Store(int32(s)) }
