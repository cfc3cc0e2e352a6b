package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	brokers        map[string]string
	lastBarTime    time.Time
	redisEnabled   bool
	redisConnected bool
	sqliteOK       bool

	redisLatencyMs  float64
	sqliteLatencyMs float64
	lastCheckAt     time.Time
	startedAt       time.Time

	samplers []func()
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		brokers:   make(map[string]string),
		sqliteOK:  true,
		startedAt: time.Now(),
	}
}

// SetBrokerState records a broker's lifecycle state name.
func (h *HealthStatus) SetBrokerState(name, state string) {
	h.mu.Lock()
	h.brokers[name] = state
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	if t.After(h.lastBarTime) {
		h.lastBarTime = t
	}
	h.mu.Unlock()
}

// SetRedisEnabled marks Redis as a dependency that health depends on.
func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.redisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.redisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.sqliteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisConnected = err == nil
	h.redisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteOK = err == nil
	h.sqliteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// AddSampler registers fn to run on every liveness tick, after the
// dependency probes. Samplers publish gauges that are cheaper to poll than to
// update on every event.
func (h *HealthStatus) AddSampler(fn func()) {
	h.mu.Lock()
	h.samplers = append(h.samplers, fn)
	h.mu.Unlock()
}

// Sample runs every registered sampler once.
func (h *HealthStatus) Sample() {
	h.mu.RLock()
	fns := append([]func(){}, h.samplers...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// StartLivenessChecker runs periodic dependency checks and samplers until ctx
// is done. Either dependency may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
				h.Sample()
			}
		}
	}()
}

// Report is the JSON body served on /healthz.
type Report struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	Brokers         map[string]string `json:"brokers"`
	Disconnected    []string          `json:"disconnected,omitempty"`
	LastBarTime     string            `json:"last_bar_time,omitempty"`
	BarAge          string            `json:"bar_age,omitempty"`
	RedisEnabled    bool              `json:"redis_enabled"`
	RedisConnected  bool              `json:"redis_connected"`
	RedisLatencyMs  float64           `json:"redis_latency_ms"`
	SQLiteOK        bool              `json:"sqlite_ok"`
	SQLiteLatencyMs float64           `json:"sqlite_latency_ms"`
	LastCheckAt     string            `json:"last_check_at,omitempty"`
}

// Report builds the current health report. Status is "healthy" when every
// broker is connected and enabled stores answer, "unhealthy" when no broker
// is connected, and "degraded" otherwise.
func (h *HealthStatus) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Status:          "healthy",
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
		Brokers:         make(map[string]string, len(h.brokers)),
		RedisEnabled:    h.redisEnabled,
		RedisConnected:  h.redisConnected,
		RedisLatencyMs:  h.redisLatencyMs,
		SQLiteOK:        h.sqliteOK,
		SQLiteLatencyMs: h.sqliteLatencyMs,
	}
	connected := 0
	for name, st := range h.brokers {
		r.Brokers[name] = st
		if st == "connected" {
			connected++
		} else {
			r.Disconnected = append(r.Disconnected, name)
		}
	}
	sort.Strings(r.Disconnected)
	if !h.lastBarTime.IsZero() {
		r.LastBarTime = h.lastBarTime.Format(time.RFC3339)
		r.BarAge = time.Since(h.lastBarTime).Round(time.Millisecond).String()
	}
	if !h.lastCheckAt.IsZero() {
		r.LastCheckAt = h.lastCheckAt.Format(time.RFC3339)
	}

	if len(r.Disconnected) > 0 || !h.sqliteOK || (h.redisEnabled && !h.redisConnected) {
		r.Status = "degraded"
	}
	if len(h.brokers) > 0 && connected == 0 {
		r.Status = "unhealthy"
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server serving metrics from g.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With("component", "metrics"),
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
