package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mdstreamv1/config"
	"mdstreamv1/internal/app"
	"mdstreamv1/internal/logger"
)

var (
	flagProvider        string
	flagToken           string
	flagURL             string
	flagSymbols         string
	flagMaxTrades       int
	flagWindowSize      int
	flagWindowSeconds   int
	flagEnhanced        bool
	flagSortByTimestamp bool
	flagCapacity        int
	flagJournal         string
	flagRedisURL        string
	flagMetricsAddr     string
	flagAlertWebhook    string
	flagLogLevel        string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:   "mdterm",
		Short: "Live market-data terminal",
		Long: `mdterm streams trades from a market-data provider (Finnhub or
Polygon), renders a terminal dashboard with rolling per-symbol
statistics and an indicator consensus, and optionally publishes to
Redis, journals signals to SQLite and serves Prometheus metrics.`,
		Run: runTerminal,
	}

	f := rootCmd.Flags()
	f.StringVar(&flagProvider, "provider", "", "market data provider (finnhub|polygon)")
	f.StringVar(&flagToken, "token", "", "API token for the selected provider")
	f.StringVar(&flagURL, "url", "", "WebSocket endpoint override (simulators, staging)")
	f.StringVar(&flagSymbols, "symbol", "", "comma-separated symbols to stream")
	f.IntVar(&flagMaxTrades, "max-trades", 20, "recent trades kept on the dashboard")
	f.IntVar(&flagWindowSize, "window-size", 50, "statistics window size in trades")
	f.IntVar(&flagWindowSeconds, "window-seconds", 0, "statistics window in seconds (time/hybrid windows)")
	f.BoolVar(&flagEnhanced, "enhanced-metrics", false, "show volatility, momentum, velocity and spread columns")
	f.BoolVar(&flagSortByTimestamp, "sort-by-timestamp", false, "order drained bursts by source timestamp")
	f.IntVar(&flagCapacity, "capacity", 1024, "per-subscriber queue capacity")
	f.StringVar(&flagJournal, "journal", "", "SQLite path for the consensus signal journal")
	f.StringVar(&flagRedisURL, "redis-url", "", "Redis URL or host:port for live publishing")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "Prometheus/health listen address (e.g. :9090)")
	f.StringVar(&flagAlertWebhook, "alert-webhook", "", "webhook URL for strong-consensus alerts")
	f.StringVar(&flagLogLevel, "log-level", "", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(newSignalsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTerminal(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	applyFlags(cmd, cfg)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Printf("[mdterm] %v, using info", err)
	}
	logger.Init("mdterm", level)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[mdterm] %v", err)
	}

	a, err := app.New(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("[mdterm] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		a.Close()
		log.Fatalf("[mdterm] %v", err)
	}

	log.Println("[mdterm] shutting down...")
	a.Close()
	log.Println("[mdterm] shutdown complete.")
}

// applyFlags overlays explicitly-set flags onto the env-resolved
// config. --token and --url bind to whichever provider ends up
// selected, so apply --provider first.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("provider") {
		cfg.Provider = flagProvider
	}
	if f.Changed("token") {
		if cfg.Provider == "polygon" {
			cfg.PolygonKey = flagToken
		} else {
			cfg.FinnhubToken = flagToken
		}
	}
	if f.Changed("url") {
		if cfg.Provider == "polygon" {
			cfg.PolygonURL = flagURL
		} else {
			cfg.FinnhubURL = flagURL
		}
	}
	if f.Changed("symbol") {
		cfg.Symbols = config.ParseSymbols(flagSymbols)
	}
	if f.Changed("max-trades") {
		cfg.MaxTrades = flagMaxTrades
	}
	if f.Changed("window-size") {
		cfg.WindowSize = flagWindowSize
	}
	if f.Changed("window-seconds") {
		cfg.WindowSeconds = flagWindowSeconds
	}
	if f.Changed("enhanced-metrics") {
		cfg.EnhancedMetrics = flagEnhanced
	}
	if f.Changed("sort-by-timestamp") {
		cfg.SortByTimestamp = flagSortByTimestamp
	}
	if f.Changed("capacity") {
		cfg.Capacity = flagCapacity
	}
	if f.Changed("journal") {
		cfg.JournalPath = flagJournal
	}
	if f.Changed("redis-url") {
		cfg.RedisURL = flagRedisURL
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if f.Changed("alert-webhook") {
		cfg.AlertWebhookURL = flagAlertWebhook
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
}
