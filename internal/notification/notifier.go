// Package notification provides alert delivery to external channels
// (Telegram, webhooks, logs) for trading events such as broker connect
// failures and daily-limit denials.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	Broker  string     `json:"broker,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.log.Log(ctx, level, alert.Title, "message", alert.Message, "symbol", alert.Symbol, "broker", alert.Broker)
	return nil
}

// Multi delivers each alert to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async queues alerts and delivers them from a single goroutine so that
// callers on the trading path never wait on a slow backend. Alerts are
// dropped when the queue is full.
type Async struct {
	next    Notifier
	log     *slog.Logger
	queue   chan Alert
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts a delivery goroutine for next with a queue of size buf.
func NewAsync(next Notifier, buf int, log *slog.Logger) *Async {
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		next:    next,
		log:     log.With("component", "notify"),
		queue:   make(chan Alert, buf),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for alert := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Send(ctx, alert); err != nil {
			a.log.Warn("alert delivery failed", "title", alert.Title, "error", err)
		}
		cancel()
	}
}

// Send enqueues alert. It never blocks.
func (a *Async) Send(_ context.Context, alert Alert) error {
	select {
	case a.queue <- alert:
	default:
		a.log.Warn("alert queue full, dropping", "title", alert.Title)
	}
	return nil
}

// Close stops accepting alerts and waits for queued ones to be delivered.
// Send must not be called after Close.
func (a *Async) Close() {
	a.closeOnce.Do(func() { close(a.queue) })
	<-a.done
}
