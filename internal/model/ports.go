package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the pipeline from concrete implementations
// (provider transports, Redis, SQLite). Each implementation satisfies one or
// more of these interfaces; the composition root wires them together.

// Provider authenticates against a market-data source and streams trades.
type Provider interface {
	// Name identifies the provider ("finnhub", "polygon", ...).
	Name() string

	// Authenticate establishes the connection. Fails with *ProviderAuthError
	// (non-retryable) or *ProviderConnectError (retryable).
	Authenticate(ctx context.Context) error

	// Subscribe sends subscription frames for symbols and returns the trade
	// stream. The channel closes on terminal transport error or ctx cancel;
	// a closed stream is not restartable; reopen requires a new Subscribe
	// on a fresh connection.
	Subscribe(ctx context.Context, symbols []string) (<-chan TradeRecord, error)
}

// TradePublisher fans trades and consensus signals out to an external bus
// (e.g. Redis pub/sub). Publishing is fire-and-forget from the pipeline's
// point of view: errors are logged by the implementation, never propagated
// back into the hot path.
type TradePublisher interface {
	// PublishTrade broadcasts one trade to live listeners.
	PublishTrade(ctx context.Context, trade TradeRecord)

	// PublishConsensus broadcasts, and durably appends, a consensus signal.
	PublishConsensus(ctx context.Context, sig Signal)

	// PublishStats stores the latest per-symbol statistics payload.
	PublishStats(ctx context.Context, symbol string, payload []byte)

	// Close releases underlying resources.
	Close() error
}

// SignalRecorder persists consensus signals for session review.
type SignalRecorder interface {
	// Record appends one consensus signal to the journal.
	Record(ctx context.Context, sig Signal) error

	// Close flushes and releases underlying resources.
	Close() error
}
