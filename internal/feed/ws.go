package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"crossover-trader/internal/model"
)

// WSConfig configures a WebSocket bar stream client.
type WSConfig struct {
	// URL of the bar stream, e.g. "ws://localhost:9001/bars". The symbol is
	// appended as ?symbol=.
	URL    string
	Symbol string

	// FetchTimeout bounds the dial and each wait for a bar. Defaults to 60s.
	FetchTimeout time.Duration
}

// WSSource streams JSON-encoded model.Bar messages for one symbol.
//
// The connection is dialled lazily by Next and dropped on any read error;
// the following Next call redials. Reconnect pacing is the caller's backoff.
type WSSource struct {
	cfg  WSConfig
	log  *slog.Logger
	conn *websocket.Conn

	// OnReconnect is called each time a dropped connection is redialled.
	OnReconnect func()
	dialled     bool
}

// NewWSSource creates an unconnected source.
func NewWSSource(cfg WSConfig, log *slog.Logger) *WSSource {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSSource{cfg: cfg, log: log.With("component", "feed", "symbol", cfg.Symbol)}
}

func (s *WSSource) streamURL() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	if s.cfg.Symbol != "" {
		q := u.Query()
		q.Set("symbol", s.cfg.Symbol)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *WSSource) dial(ctx context.Context) error {
	target, err := s.streamURL()
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, target, nil)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}
	s.conn = conn
	if s.dialled && s.OnReconnect != nil {
		s.OnReconnect()
	}
	s.dialled = true
	s.log.Info("feed connected", "url", target)
	return nil
}

// Next returns the next bar for the configured symbol. Messages that do not
// parse or belong to another symbol are skipped.
func (s *WSSource) Next(ctx context.Context) (model.Bar, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Bar{}, err
		}
		if s.conn == nil {
			if err := s.dial(ctx); err != nil {
				return model.Bar{}, err
			}
		}

		raw, err := s.read(ctx)
		if err != nil {
			s.drop()
			if ctx.Err() != nil {
				return model.Bar{}, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return model.Bar{}, fmt.Errorf("%w after %s", ErrFetchTimeout, s.cfg.FetchTimeout)
			}
			return model.Bar{}, fmt.Errorf("feed read: %w", err)
		}

		var bar model.Bar
		if err := json.Unmarshal(raw, &bar); err != nil {
			s.log.Warn("parse error", "error", err, "raw", string(raw))
			continue
		}
		if s.cfg.Symbol != "" && bar.Symbol != s.cfg.Symbol {
			continue
		}
		return bar, nil
	}
}

// read blocks for one message. Cancelling ctx expires the read deadline so
// the blocked read returns immediately.
func (s *WSSource) read(ctx context.Context) ([]byte, error) {
	conn := s.conn
	conn.SetReadDeadline(time.Now().Add(s.cfg.FetchTimeout))
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()
	_, raw, err := conn.ReadMessage()
	return raw, err
}

func (s *WSSource) drop() {
	if s.conn == nil {
		return
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(time.Second))
	s.conn.Close()
	s.conn = nil
}

// Close drops the connection.
func (s *WSSource) Close() error {
	s.drop()
	return nil
}
