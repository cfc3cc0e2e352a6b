package simulator

import (
	"fmt"
	"net/http"

	"crossover-trader/internal/broker"
)

// BarsPath is the bar stream endpoint.
const BarsPath = "/bars"

// Mux mounts the bar server at /bars and the gateway at /gateway.
func Mux(bars *BarServer, gw *GatewayServer) *http.ServeMux {
	mux := http.NewServeMux()
	if bars != nil {
		mux.Handle(BarsPath, bars)
	}
	if gw != nil {
		mux.Handle(broker.GatewayPath, gw)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"simserver"}`)
	})
	return mux
}
