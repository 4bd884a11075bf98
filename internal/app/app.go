// Package app wires the streaming pipeline together and owns its
// lifecycle.
//
// The layout is one producer chain feeding the broker and independent
// subscriber chains hanging off it:
//
//	provider → broker ─┬─ stats collector → view model → renderer
//	                   ├─ indicator engine → aggregator → consensus sinks
//	                   └─ redis trade fan-out (optional)
//
// Consensus sinks are the redis stream, the sqlite journal, the alerter
// and the dashboard's consensus line. Redis, the journal, the metrics
// endpoint and webhook alerts all attach only when configured; the
// terminal runs with none of them. The trade stream closing is normal
// end-of-input, not an error: the dashboard freezes on its last state
// and the operator exits with Ctrl-C.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"

	"mdstreamv1/config"
	"mdstreamv1/internal/indicator"
	"mdstreamv1/internal/logger"
	"mdstreamv1/internal/marketdata/bus"
	"mdstreamv1/internal/marketdata/finnhub"
	"mdstreamv1/internal/marketdata/polygon"
	"mdstreamv1/internal/markethours"
	"mdstreamv1/internal/metrics"
	"mdstreamv1/internal/model"
	"mdstreamv1/internal/notification"
	"mdstreamv1/internal/signal"
	"mdstreamv1/internal/stats"
	redisstore "mdstreamv1/internal/store/redis"
	sqlitestore "mdstreamv1/internal/store/sqlite"
	"mdstreamv1/internal/terminal"
)

// App is one wired pipeline instance. Build with New, drive with Run,
// release with Close.
type App struct {
	cfg    *config.Config
	window stats.WindowConfig

	provider  model.Provider
	broker    *bus.Broker
	collector *stats.Collector
	tracker   *stats.LatencyTracker
	vm        *terminal.ViewModel
	renderer  *terminal.Renderer
	engine    *indicator.Engine
	agg       *signal.Aggregator
	alerter   *notification.ConsensusAlerter

	publisher *redisstore.Publisher // nil without REDIS_URL
	journal   *sqlitestore.Journal  // nil without JOURNAL_PATH

	prom       *metrics.Metrics
	health     *metrics.HealthStatus
	metricsSrv *metrics.Server

	consensusUI chan model.Signal
}

// New assembles an App from a validated config. Dashboard frames are
// written to out. A redis that cannot be reached degrades to a warning;
// a journal that cannot be opened is fatal, since the operator asked
// for signals to be persisted.
func New(cfg *config.Config, out io.Writer) (*App, error) {
	a := &App{cfg: cfg, consensusUI: make(chan model.Signal, 1)}

	window, err := windowFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.window = window

	if cfg.MetricsAddr != "" {
		a.prom = metrics.NewMetrics()
		a.health = metrics.NewHealthStatus(cfg.Provider)
		a.metricsSrv = metrics.NewServer(cfg.MetricsAddr, a.health)
	}

	switch cfg.Provider {
	case "finnhub":
		p := finnhub.New(finnhub.Config{Token: cfg.FinnhubToken, URL: cfg.FinnhubURL})
		p.OnParseError = a.countParseError
		p.OnDropped = a.countDropped
		a.provider = p
	case "polygon":
		p := polygon.New(polygon.Config{APIKey: cfg.PolygonKey, URL: cfg.PolygonURL})
		p.OnParseError = a.countParseError
		p.OnDropped = a.countDropped
		a.provider = p
	default:
		return nil, fmt.Errorf("app: unknown provider %q", cfg.Provider)
	}

	a.broker = bus.New(bus.Config{
		Capacity:        cfg.Capacity,
		SortByTimestamp: cfg.SortByTimestamp,
	})
	if a.prom != nil {
		a.broker.OnBlocked = func(wait time.Duration) {
			a.prom.PublishBlocked.Observe(wait.Seconds())
		}
	}

	a.collector = stats.NewCollector(window)
	if cfg.EnhancedMetrics {
		a.tracker = stats.NewLatencyTracker(0)
	}
	a.vm = terminal.New(terminal.Config{
		Symbols:   cfg.Symbols,
		MaxTrades: cfg.MaxTrades,
	}, a.collector, a.tracker)
	a.renderer = terminal.NewRenderer(out, cfg.EnhancedMetrics, a.tracker)

	a.engine = indicator.NewEngine(defaultIndicators(cfg.Symbols)...)
	a.agg = signal.NewAggregator()

	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	a.alerter = notification.NewConsensusAlerter(cfg.AlertThreshold, notifiers...)

	if cfg.RedisURL != "" {
		pub, err := redisstore.New(redisConfig(cfg.RedisURL))
		if err != nil {
			log.Printf("[app] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			a.publisher = pub
		}
	}

	if cfg.JournalPath != "" {
		j, err := sqlitestore.New(sqlitestore.Config{
			Path:     cfg.JournalPath,
			Provider: cfg.Provider,
			Symbols:  cfg.Symbols,
		})
		if err != nil {
			if a.publisher != nil {
				a.publisher.Close()
			}
			return nil, fmt.Errorf("app: journal init: %w", err)
		}
		a.journal = j
	}

	return a, nil
}

// Run subscribes the provider and drives the pipeline until ctx is
// cancelled. Subscription failures (bad credentials, unreachable
// endpoint) are returned; a stream that ends mid-run is not an error.
func (a *App) Run(ctx context.Context) error {
	ctx = logger.WithRunID(ctx, logger.NewRunID(a.cfg.Provider, time.Now()))

	if a.metricsSrv != nil {
		a.metricsSrv.Start()
		var rdb *goredis.Client
		if a.publisher != nil {
			rdb = a.publisher.Client()
		}
		var db *sql.DB
		if a.journal != nil {
			db = a.journal.DB()
		}
		a.health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)
	}

	trades, err := a.provider.Subscribe(ctx, a.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}
	a.setConnected(true)
	slog.Info("pipeline started", append(logger.RunAttrs(ctx),
		slog.String("provider", a.provider.Name()),
		slog.String("symbols", strings.Join(a.cfg.Symbols, ",")),
		slog.String("window", a.window.String()))...)

	monitored := bus.Tap(trades, func(t model.TradeRecord) {
		if a.prom != nil {
			a.prom.TradesTotal.Inc()
			a.prom.SourceLatency.Observe(float64(t.LatencyMs) / 1000.0)
		}
		if a.health != nil {
			a.health.SetLastTradeTime(time.Now())
		}
	})

	// Relay that sees the stream end before the broker does, so the
	// disconnect is reported once, here.
	input := make(chan model.TradeRecord)
	go func() {
		defer close(input)
		for t := range monitored {
			select {
			case input <- t:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil {
			a.setConnected(false)
			log.Printf("[app] trade stream ended, dashboard frozen (Ctrl-C to exit)")
		}
	}()

	// Every subscription is taken before the pump starts, so no consumer
	// misses the first trades.
	statsSub := a.broker.Subscribe(ctx)
	vmSub := a.broker.Subscribe(ctx)
	var pubSub *bus.Subscription
	if a.publisher != nil {
		pubSub = a.broker.Subscribe(ctx)
	}
	emissions := a.engine.Run(ctx, func(c context.Context) <-chan model.TradeRecord {
		return a.broker.Subscribe(c).C()
	})
	consensus := a.agg.Run(ctx, emissions)

	go a.collector.Run(ctx, statsSub.C())
	go a.vm.Run(ctx, vmSub.C())
	if pubSub != nil {
		go a.publisher.Run(ctx, pubSub.C())
	}
	go a.consumeConsensus(ctx, consensus)
	go a.telemetryLoop(ctx)

	go a.broker.Run(ctx, input)

	a.banner()
	a.renderLoop(ctx)
	return nil
}

// Close releases everything New wired, upstream first: the provider so
// the stream ends, the broker so subscribers terminate, then the sinks.
func (a *App) Close() {
	if c, ok := a.provider.(interface{ Close() error }); ok {
		c.Close()
	}
	a.broker.Close()

	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.metricsSrv.Stop(shutdownCtx)
		cancel()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Printf("[app] journal close: %v", err)
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
}

// consumeConsensus distributes every consensus signal to its sinks.
func (a *App) consumeConsensus(ctx context.Context, in <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			if a.prom != nil {
				a.prom.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
			}
			if a.publisher != nil {
				a.publisher.PublishConsensus(ctx, sig)
			}
			if a.journal != nil {
				if err := a.journal.Record(ctx, sig); err != nil {
					log.Printf("[app] journal record: %v", err)
				}
			}
			a.alerter.Observe(ctx, sig)
			a.pushConsensus(sig)
		}
	}
}

// pushConsensus replaces whatever consensus the render loop has not
// taken yet.
func (a *App) pushConsensus(sig model.Signal) {
	for {
		select {
		case a.consensusUI <- sig:
			return
		default:
		}
		select {
		case <-a.consensusUI:
		default:
		}
	}
}

// renderLoop owns the renderer. View-model snapshots, consensus updates
// and the market-session header line all land here; nothing else may
// touch the renderer while it runs.
func (a *App) renderLoop(ctx context.Context) {
	a.renderer.SetStatus(markethours.StatusString(time.Now()))
	statusTick := time.NewTicker(time.Minute)
	defer statusTick.Stop()

	updates := a.vm.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			a.renderer.Render(snap)
		case sig := <-a.consensusUI:
			a.renderer.SetConsensus(sig)
		case <-statusTick.C:
			a.renderer.SetStatus(markethours.StatusString(time.Now()))
		}
	}
}

// telemetryLoop samples queue saturation and publisher state every 5s
// and pushes the per-symbol statistics payloads to redis on the same
// tick.
func (a *App) telemetryLoop(ctx context.Context) {
	if a.prom == nil && a.publisher == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sampleTelemetry()
			if a.publisher != nil {
				a.publishStats(ctx)
			}
		}
	}
}

// sampleTelemetry refreshes the gauges that are read, not counted.
func (a *App) sampleTelemetry() {
	if a.prom == nil {
		return
	}
	for i, s := range a.broker.ChannelStats() {
		if s.Cap > 0 {
			pct := float64(s.Len) / float64(s.Cap) * 100
			a.prom.QueueSaturationPct.WithLabelValues("subscriber_" + strconv.Itoa(i)).Set(pct)
		}
	}
	if a.publisher != nil {
		a.prom.RedisBreakerState.Set(float64(a.publisher.BreakerState()))
		a.prom.RedisPendingWrites.Set(float64(a.publisher.PendingCount()))
	}
}

// publishStats stores the latest per-symbol statistics in redis.
func (a *App) publishStats(ctx context.Context) {
	for sym, st := range a.collector.Snapshot() {
		payload, err := json.Marshal(st)
		if err != nil {
			continue
		}
		a.publisher.PublishStats(ctx, sym, payload)
	}
}

func (a *App) setConnected(v bool) {
	if a.health != nil {
		a.health.SetProviderConnected(v)
	}
	if a.prom != nil {
		if v {
			a.prom.ProviderConnected.Set(1)
		} else {
			a.prom.ProviderConnected.Set(0)
		}
	}
}

func (a *App) countParseError() {
	if a.prom != nil {
		a.prom.ParseErrors.Inc()
	}
}

func (a *App) countDropped() {
	if a.prom != nil {
		a.prom.TradesDropped.Inc()
	}
}

// banner prints the startup frame before the first render.
func (a *App) banner() {
	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}
	row := func(s string) { log.Printf("[app] ║  %-57s ║", s) }

	log.Println("[app] ╔════════════════════════════════════════════════════════════╗")
	row("Market Data Terminal")
	row("")
	row("Provider: " + a.provider.Name())
	row("Symbols:  " + strings.Join(a.cfg.Symbols, ", "))
	row("Window:   " + a.window.String())
	row(fmt.Sprintf("Redis: %s   Journal: %s   Metrics: %s   Alerts: %s",
		onOff(a.publisher != nil), onOff(a.journal != nil),
		onOff(a.metricsSrv != nil), onOff(a.cfg.AlertWebhookURL != "")))
	log.Println("[app] ╚════════════════════════════════════════════════════════════╝")
	log.Printf("[app] %s", markethours.StatusString(time.Now()))
}

// windowFor maps config knobs to a retention policy: event-based by
// default, time-based when only seconds are set, hybrid when both are.
func windowFor(cfg *config.Config) (stats.WindowConfig, error) {
	switch {
	case cfg.WindowSize > 0 && cfg.WindowSeconds > 0:
		return stats.HybridWindow(cfg.WindowSize, time.Duration(cfg.WindowSeconds)*time.Second)
	case cfg.WindowSeconds > 0:
		return stats.TimeWindow(time.Duration(cfg.WindowSeconds) * time.Second)
	default:
		return stats.EventWindow(cfg.WindowSize)
	}
}

// redisConfig accepts both redis:// URLs and bare host:port addresses.
func redisConfig(raw string) redisstore.Config {
	if opts, err := goredis.ParseURL(raw); err == nil {
		return redisstore.Config{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}
	return redisstore.Config{Addr: raw}
}

// defaultIndicators is the suite attached to every symbol: trend
// (SMA, EMA, CrossMA), momentum (RSI), bands (Bollinger), volume
// (session VWAP) and regime (annualized volatility).
func defaultIndicators(symbols []string) []indicator.Indicator {
	var out []indicator.Indicator
	for _, sym := range symbols {
		out = append(out,
			indicator.NewSMA(20, sym),
			indicator.NewEMA(20, sym),
			indicator.NewRSI(14, sym),
			indicator.NewBollinger(20, sym),
			indicator.NewVWAP(sym, true),
			indicator.NewVolatility(20, sym, indicator.MethodStdDev, 60),
			indicator.NewCrossMA(10, 50, sym),
		)
	}
	return out
}
