// Package config resolves the terminal's configuration from environment
// variables (with a best-effort .env load) and validates the result.
// CLI flags override individual fields before Validate is called.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Provider selection and credentials
	Provider     string `validate:"oneof=finnhub polygon"`
	FinnhubToken string `validate:"required_if=Provider finnhub"`
	FinnhubURL   string
	PolygonKey   string `validate:"required_if=Provider polygon"`
	PolygonURL   string

	// Subscription
	Symbols []string `validate:"min=1,dive,required"`

	// Terminal view
	MaxTrades       int `validate:"gt=0"`
	EnhancedMetrics bool

	// Statistics window: event-based by default, time-based when
	// WindowSeconds > 0, hybrid when both are set.
	WindowSize    int `validate:"gte=0"`
	WindowSeconds int `validate:"gte=0"`

	// Broker tuning
	Capacity        int `validate:"gt=0"`
	SortByTimestamp bool

	// Optional integrations (disabled when empty)
	RedisURL        string
	JournalPath     string
	MetricsAddr     string  `validate:"omitempty,hostname_port"`
	AlertWebhookURL string  `validate:"omitempty,url"`
	AlertThreshold  float64 `validate:"gte=0,lte=1"`

	LogLevel string `validate:"omitempty,oneof=debug info warn warning error"`
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is honored when
// present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		Provider:     getEnv("MARKET_DATA_PROVIDER", "finnhub"),
		FinnhubToken: getEnv("FINNHUB_TOKEN", ""),
		FinnhubURL:   getEnv("FINNHUB_WS_URL", ""),
		PolygonKey:   getEnv("POLYGON_API_KEY", ""),
		PolygonURL:   getEnv("POLYGON_WS_URL", ""),

		Symbols: ParseSymbols(getEnv("SYMBOLS", "AAPL,GOOGL,MSFT")),

		MaxTrades:       getEnvInt("MAX_TRADES", 20),
		EnhancedMetrics: getEnvBool("ENHANCED_METRICS", false),

		WindowSize:    getEnvInt("WINDOW_SIZE", 50),
		WindowSeconds: getEnvInt("WINDOW_SECONDS", 0),

		Capacity:        getEnvInt("BROKER_CAPACITY", 1024),
		SortByTimestamp: getEnvBool("SORT_BY_TIMESTAMP", false),

		RedisURL:        getEnv("REDIS_URL", ""),
		JournalPath:     getEnv("JOURNAL_PATH", ""),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		AlertThreshold:  getEnvFloat("ALERT_THRESHOLD", 0.8),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the resolved configuration. Returns the first
// problem found.
func (c *Config) Validate() error {
	if c.WindowSize <= 0 && c.WindowSeconds <= 0 {
		return fmt.Errorf("config: either window size or window seconds must be positive")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseSymbols splits a comma-separated symbol list, trims and
// uppercases each entry and drops duplicates (first occurrence wins).
func ParseSymbols(s string) []string {
	parts := strings.Split(s, ",")
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		sym := strings.ToUpper(strings.TrimSpace(p))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
