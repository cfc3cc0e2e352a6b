package simulator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crossover-trader/internal/model"
)

// BarServer broadcasts bars as JSON to WebSocket clients. A client may pass
// ?symbol=EURUSD to receive only that symbol.
type BarServer struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*barClient
}

type barClient struct {
	symbol string
	ch     chan []byte
}

// NewBarServer creates a bar server with no clients.
func NewBarServer(log *slog.Logger) *BarServer {
	if log == nil {
		log = slog.Default()
	}
	return &BarServer{
		log:     log.With("component", "simulator", "server", "bars"),
		clients: make(map[*websocket.Conn]*barClient),
	}
}

// Clients returns the number of connected clients.
func (s *BarServer) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Publish sends bar to every client subscribed to its symbol. Slow clients
// drop bars.
func (s *BarServer) Publish(bar model.Bar) {
	b, err := json.Marshal(bar)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.symbol != "" && c.symbol != bar.Symbol {
			continue
		}
		select {
		case c.ch <- b:
		default:
		}
	}
}

// ServeHTTP upgrades and runs the client's write pump.
func (s *BarServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", "error", err)
		return
	}
	c := &barClient{symbol: r.URL.Query().Get("symbol"), ch: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()
	s.log.Info("client connected", "remote", r.RemoteAddr, "symbol", c.symbol)

	// reader only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
		s.log.Info("client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		select {
		case <-gone:
			return
		case msg := <-c.ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Generate publishes one random-walk bar per symbol every interval until ctx
// is cancelled. start maps symbol to its opening price.
func (s *BarServer) Generate(ctx context.Context, start map[string]float64, interval time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64, len(start))
	for sym, p := range start {
		prices[sym] = p
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for sym, p := range prices {
				bar := walk(rng, sym, p, now.UTC())
				prices[sym] = bar.Close
				s.Publish(bar)
			}
		}
	}
}

// walk derives a bar from the previous close with up to ±0.1% drift.
func walk(rng *rand.Rand, symbol string, prev float64, ts time.Time) model.Bar {
	pct := (rng.Float64()*0.2 - 0.1) / 100
	cl := prev * (1 + pct)
	hi, lo := max(prev, cl), min(prev, cl)
	return model.Bar{
		Symbol: symbol,
		TS:     ts,
		Open:   prev,
		High:   hi * (1 + rng.Float64()/2000),
		Low:    lo * (1 - rng.Float64()/2000),
		Close:  cl,
		Volume: float64(rng.Intn(1000) + 1),
	}
}
