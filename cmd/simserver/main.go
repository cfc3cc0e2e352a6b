// cmd/simserver serves a simulated bar stream and order gateway for running
// the trader without a real broker.
//
// Endpoints:
//
//	/bars?symbol=EURUSD  bar stream (JSON bars over WebSocket)
//	/gateway             order gateway (TOTP login, order/order_ack frames)
//	/health
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"crossover-trader/internal/logger"
	"crossover-trader/internal/simulator"
)

func main() {
	addr := flag.String("addr", ":7497", "listen address")
	symbols := flag.String("symbols", "EURUSD=1.0850", "comma-separated SYMBOL=PRICE opening prices")
	interval := flag.Duration("interval", time.Second, "bar interval")
	secret := flag.String("totp-secret", os.Getenv("SIM_TOTP_SECRET"), "require TOTP login with this base32 secret")
	reject := flag.String("reject", "", "comma-separated symbols whose orders are rejected")
	ackDelay := flag.Duration("ack-delay", 0, "delay before each order ack")
	flag.Parse()

	log := logger.Init("simserver", slog.LevelInfo)

	start, err := parseSymbols(*symbols)
	if err != nil {
		log.Error("bad -symbols", "error", err)
		os.Exit(1)
	}

	bars := simulator.NewBarServer(log)
	gw := simulator.NewGatewayServer(log)
	gw.TOTPSecret = *secret
	gw.AckDelay = *ackDelay
	gw.Reject = make(map[string]bool)
	for _, s := range strings.Split(*reject, ",") {
		if s = strings.TrimSpace(s); s != "" {
			gw.Reject[s] = true
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bars.Generate(ctx, start, *interval)

	srv := &http.Server{Addr: *addr, Handler: simulator.Mux(bars, gw)}
	go func() {
		log.Info("listening", "addr", *addr, "symbols", len(start), "interval", interval.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Info("shutdown complete", "orders", gw.Orders())
}

func parseSymbols(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, price, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want SYMBOL=PRICE", pair)
		}
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("%q: bad price", pair)
		}
		out[strings.ToUpper(sym)] = p
	}
	if len(out) == 0 {
		return nil, errors.New("no symbols")
	}
	return out, nil
}
