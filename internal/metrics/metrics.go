package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the streaming pipeline.
type Metrics struct {
	TradesTotal   prometheus.Counter
	TradesDropped prometheus.Counter
	ParseErrors   prometheus.Counter

	// Consensus signals by kind (BUY, SELL, HOLD)
	SignalsTotal *prometheus.CounterVec

	SourceLatency  prometheus.Histogram // exchange timestamp to local receipt
	PublishBlocked prometheus.Histogram // time publishes waited on full queues

	QueueSaturationPct *prometheus.GaugeVec // labels: subscriber
	ProviderConnected  prometheus.Gauge     // 0=down, 1=up

	// Redis publisher state
	RedisBreakerState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisPendingWrites prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdterm_trades_total",
			Help: "Total trades ingested from the provider",
		}),
		TradesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdterm_trades_dropped_total",
			Help: "Trades dropped by validation",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdterm_parse_errors_total",
			Help: "Provider frames that failed to decode",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdterm_signals_total",
			Help: "Consensus signals emitted (by kind)",
		}, []string{"kind"}),
		SourceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdterm_source_latency_seconds",
			Help:    "Latency from exchange timestamp to local receipt",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		PublishBlocked: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdterm_publish_block_seconds",
			Help:    "Time publishes spent blocked on full subscriber queues",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
		}),
		QueueSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdterm_queue_saturation_pct",
			Help: "Subscriber queue fill percentage (len/cap * 100)",
		}, []string{"subscriber"}),
		ProviderConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdterm_provider_connected",
			Help: "Provider WebSocket state (0=down, 1=up)",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdterm_redis_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisPendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdterm_redis_pending_writes",
			Help: "Consensus signals buffered while Redis is unreachable",
		}),
	}

	prometheus.MustRegister(
		m.TradesTotal,
		m.TradesDropped,
		m.ParseErrors,
		m.SignalsTotal,
		m.SourceLatency,
		m.PublishBlocked,
		m.QueueSaturationPct,
		m.ProviderConnected,
		m.RedisBreakerState,
		m.RedisPendingWrites,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Provider          string
	ProviderConnected bool
	LastTradeTime     time.Time

	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(provider string) *HealthStatus {
	return &HealthStatus{
		Provider:  provider,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetProviderConnected(v bool) {
	h.mu.Lock()
	h.ProviderConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTradeTime(t time.Time) {
	h.mu.Lock()
	h.LastTradeTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client
// may be nil when that store is not configured.
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
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	storesOK := (!h.RedisEnabled || h.RedisConnected) && (!h.SQLiteEnabled || h.SQLiteOK)

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.ProviderConnected || !storesOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.ProviderConnected && !storesOK {
		overallStatus = "unhealthy"
	}

	tradeAge := ""
	if !h.LastTradeTime.IsZero() {
		tradeAge = time.Since(h.LastTradeTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		Provider          string  `json:"provider"`
		ProviderConnected bool    `json:"provider_connected"`
		LastTradeTime     string  `json:"last_trade_time"`
		TradeAge          string  `json:"trade_age"`
		RedisEnabled      bool    `json:"redis_enabled"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		SQLiteEnabled     bool    `json:"sqlite_enabled"`
		SQLiteOK          bool    `json:"sqlite_ok"`
		SQLiteLatencyMs   float64 `json:"sqlite_latency_ms"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		Provider:          h.Provider,
		ProviderConnected: h.ProviderConnected,
		LastTradeTime:     h.LastTradeTime.Format(time.RFC3339),
		TradeAge:          tradeAge,
		RedisEnabled:      h.RedisEnabled,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		SQLiteEnabled:     h.SQLiteEnabled,
		SQLiteOK:          h.SQLiteOK,
		SQLiteLatencyMs:   h.SQLiteLatencyMs,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
