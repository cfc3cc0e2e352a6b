// Package simulator serves demo endpoints that speak the pipeline's wire
// protocols: a bar stream for feed.WSSource and a broker gateway for
// broker.Gateway. cmd/simserver runs both; tests mount them on httptest.
package simulator

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"crossover-trader/internal/broker"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// GatewayServer is a demo broker gateway. It logs in clients (checking the
// TOTP code when TOTPSecret is set) and fills every order at its reference
// price unless the symbol is listed in Reject.
type GatewayServer struct {
	TOTPSecret string
	Reject     map[string]bool // symbols to reject
	AckDelay   time.Duration   // delay before each order_ack
	Silent     bool            // never ack orders

	log    *slog.Logger
	orders atomic.Int64

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewGatewayServer creates a gateway simulator.
func NewGatewayServer(log *slog.Logger) *GatewayServer {
	if log == nil {
		log = slog.Default()
	}
	return &GatewayServer{
		log:   log.With("component", "simulator", "server", "gateway"),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Orders returns how many order frames the server has received.
func (s *GatewayServer) Orders() int64 { return s.orders.Load() }

// DropAll closes every client connection, simulating a gateway restart.
func (s *GatewayServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// ServeHTTP upgrades to WebSocket and serves one client session.
func (s *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", "error", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var login broker.Frame
	if err := conn.ReadJSON(&login); err != nil || login.Type != broker.FrameLogin {
		return
	}
	if s.TOTPSecret != "" && !totp.Validate(login.OTP, s.TOTPSecret) {
		conn.WriteJSON(broker.Frame{Type: broker.FrameLoginAck, Status: "DENIED", Message: "invalid otp"})
		return
	}
	if err := conn.WriteJSON(broker.Frame{Type: broker.FrameLoginAck, Status: broker.StatusOK}); err != nil {
		return
	}
	s.log.Info("client logged in", "client_id", login.ClientID, "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	for {
		var req broker.Frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Type != broker.FrameOrder {
			continue
		}
		s.orders.Add(1)
		if s.Silent {
			continue
		}
		go func(req broker.Frame) {
			if s.AckDelay > 0 {
				time.Sleep(s.AckDelay)
			}
			reply := s.fill(req)
			writeMu.Lock()
			conn.WriteJSON(reply)
			writeMu.Unlock()
		}(req)
	}
}

func (s *GatewayServer) fill(req broker.Frame) broker.Frame {
	reply := broker.Frame{Type: broker.FrameOrderAck, ID: req.ID}
	switch {
	case req.Quantity <= 0:
		reply.Status = broker.StatusRejected
		reply.Message = "quantity must be positive"
	case s.Reject[req.Symbol]:
		reply.Status = broker.StatusRejected
		reply.Message = fmt.Sprintf("%s not tradable", req.Symbol)
	default:
		reply.Status = broker.StatusFilled
		reply.FillPrice = req.RefPrice
	}
	return reply
}
