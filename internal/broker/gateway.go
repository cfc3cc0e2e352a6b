package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"crossover-trader/internal/model"
)

type ack struct {
	frame Frame
	err   error
}

// session is one dialled socket and the orders awaiting an ack on it. Once
// closed it accepts no new orders.
type session struct {
	conn *websocket.Conn
	done chan struct{} // closed when the read loop exits

	mu      sync.Mutex
	closed  bool
	pending map[string]chan ack
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, done: make(chan struct{}), pending: make(map[string]chan ack)}
}

func (s *session) register(id string, ch chan ack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending[id] = ch
	return true
}

func (s *session) take(id string) (chan ack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	return ch, ok
}

// fail closes the session and fails every order still waiting on it.
func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.pending {
		ch <- ack{err: err}
		delete(s.pending, id)
	}
}

// Gateway is a broker connection speaking JSON frames over a WebSocket to
// ws://host:port/gateway. Order acknowledgements are matched to requests by
// order ID, so many orders may be in flight at once.
type Gateway struct {
	guard
	cfg Config
	log *slog.Logger

	sessMu  sync.Mutex
	sess    *session
	writeMu sync.Mutex
}

// NewGateway creates a gateway connection. It does not dial until Connect.
func NewGateway(cfg Config, log *slog.Logger) *Gateway {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		cfg: cfg,
		log: log.With("component", "broker", "broker", cfg.Name, "type", "gateway"),
	}
}

func (g *Gateway) Name() string { return g.cfg.Name }

// URL returns the gateway endpoint.
func (g *Gateway) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port)),
		Path:   GatewayPath,
	}
	return u.String()
}

// Connect dials the gateway and performs the login handshake within the
// configured connect timeout. A failed attempt leaves the connection
// Disconnected; callers retry by calling Connect again.
func (g *Gateway) Connect(ctx context.Context) error {
	g.life.Lock()
	defer g.life.Unlock()

	if g.State() == StateConnected {
		return nil
	}
	g.set(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()

	conn, err := g.dial(ctx)
	if err != nil {
		g.set(StateDisconnected)
		g.log.Warn("connect failed", "url", g.URL(), "error", err)
		return fmt.Errorf("broker %s connect: %w", g.cfg.Name, err)
	}

	sess := newSession(conn)
	g.sessMu.Lock()
	g.sess = sess
	g.set(StateConnected)
	g.sessMu.Unlock()
	go g.readLoop(sess)

	g.log.Info("connected", "url", g.URL(), "client_id", g.cfg.ClientID)
	return nil
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.URL(), nil)
	if err != nil {
		return nil, err
	}

	login := Frame{Type: FrameLogin, ClientID: g.cfg.ClientID}
	if g.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(g.cfg.TOTPSecret, time.Now())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("generate otp: %w", err)
		}
		login.OTP = code
	}

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)
	if err := conn.WriteJSON(login); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send login: %w", err)
	}
	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read login ack: %w", err)
	}
	if reply.Type != FrameLoginAck || reply.Status != StatusOK {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, reply.Message)
	}
	conn.SetWriteDeadline(time.Time{})
	conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// readLoop delivers order acks until the socket fails. On exit every order
// pending on this session fails, and the gateway drops to Disconnected unless
// a newer session has already replaced it.
func (g *Gateway) readLoop(s *session) {
	defer close(s.done)
	defer s.conn.Close()
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			g.endSession(s, err)
			return
		}
		if f.Type != FrameOrderAck {
			g.log.Debug("ignoring frame", "type", f.Type)
			continue
		}
		ch, ok := s.take(f.ID)
		if !ok {
			g.log.Warn("ack for unknown order", "order_id", f.ID)
			continue
		}
		ch <- ack{frame: f}
	}
}

func (g *Gateway) endSession(s *session, err error) {
	s.fail(fmt.Errorf("%w: %v", ErrNotConnected, err))

	g.sessMu.Lock()
	defer g.sessMu.Unlock()
	if g.sess != s {
		return
	}
	if g.State() == StateConnected {
		g.log.Warn("gateway connection lost", "error", err)
	}
	g.sess = nil
	g.set(StateDisconnected)
}

// current returns the live session, or nil when not connected.
func (g *Gateway) current() *session {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()
	if g.State() != StateConnected {
		return nil
	}
	return g.sess
}

// Disconnect closes the socket and waits for the read loop to exit.
func (g *Gateway) Disconnect(ctx context.Context) error {
	g.life.Lock()
	defer g.life.Unlock()

	g.sessMu.Lock()
	s := g.sess
	g.sess = nil
	g.set(StateDisconnected)
	g.sessMu.Unlock()
	if s == nil {
		return nil
	}

	g.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(time.Second))
	g.writeMu.Unlock()
	s.conn.Close()

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("broker %s disconnect: %w", g.cfg.Name, ctx.Err())
	}
	g.log.Info("disconnected")
	return nil
}

// SendOrder submits o and waits for its acknowledgement, bounded by the
// order timeout and ctx.
func (g *Gateway) SendOrder(ctx context.Context, o Order) (model.Fill, error) {
	g.life.RLock()
	defer g.life.RUnlock()

	s := g.current()
	if s == nil {
		return model.Fill{}, ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.OrderTimeout)
	defer cancel()

	ch := make(chan ack, 1)
	if !s.register(o.ID, ch) {
		return model.Fill{}, ErrNotConnected
	}
	defer s.take(o.ID)

	contract := o.Contract
	req := Frame{
		Type:     FrameOrder,
		ID:       o.ID,
		Symbol:   o.Symbol,
		Contract: &contract,
		Action:   o.Action,
		Quantity: o.Quantity,
		RefPrice: o.RefPrice,
	}
	g.writeMu.Lock()
	deadline, _ := ctx.Deadline()
	s.conn.SetWriteDeadline(deadline)
	err := s.conn.WriteJSON(req)
	g.writeMu.Unlock()
	if err != nil {
		return model.Fill{}, fmt.Errorf("send order %s: %w", o.ID, err)
	}

	select {
	case <-ctx.Done():
		return model.Fill{}, fmt.Errorf("order %s: %w", o.ID, ctx.Err())
	case a := <-ch:
		if a.err != nil {
			return model.Fill{}, a.err
		}
		if a.frame.Status != StatusFilled {
			return model.Fill{}, fmt.Errorf("%w: %s %s", ErrOrderRejected, a.frame.Status, a.frame.Message)
		}
		price := a.frame.FillPrice
		return model.Fill{
			OrderID:  o.ID,
			Broker:   g.cfg.Name,
			Symbol:   o.Symbol,
			Action:   o.Action,
			Quantity: o.Quantity,
			Price:    price,
			FilledAt: time.Now(),
		}, nil
	}
}
