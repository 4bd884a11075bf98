package model

import (
	"math"

	json "github.com/goccy/go-json"
)

// TradeRecord represents a single executed trade as reported by a market-data
// provider, normalised and validated at the decode boundary. Values are
// immutable once constructed; malformed payloads never reach downstream
// queues.
type TradeRecord struct {
	Symbol     string   `json:"symbol"`
	Price      float64  `json:"price"`
	Volume     float64  `json:"volume"`
	SourceTS   int64    `json:"source_ts"`   // exchange wall clock, ms since epoch
	ReceivedTS int64    `json:"received_ts"` // local clock when the record left the decoder, ms
	LatencyMs  int64    `json:"latency_ms"`  // ReceivedTS − SourceTS
	Conditions []string `json:"conditions,omitempty"`
}

// NewTradeRecord builds a validated TradeRecord. It fails with a
// ValidationError when any field violates its constraint: empty symbol,
// non-finite or negative price/volume, non-positive timestamps, or a source
// timestamp ahead of the local clock (negative latency).
func NewTradeRecord(symbol string, price, volume float64, sourceTS, receivedTS int64, conditions []string) (TradeRecord, error) {
	if symbol == "" {
		return TradeRecord{}, &ValidationError{Field: "symbol", Msg: "must be non-empty"}
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return TradeRecord{}, &ValidationError{Field: "price", Msg: "must be finite and >= 0"}
	}
	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		return TradeRecord{}, &ValidationError{Field: "volume", Msg: "must be finite and >= 0"}
	}
	if sourceTS <= 0 {
		return TradeRecord{}, &ValidationError{Field: "sourceTimestamp", Msg: "must be a positive epoch-ms integer"}
	}
	if receivedTS <= 0 {
		return TradeRecord{}, &ValidationError{Field: "receivedTimestamp", Msg: "must be a positive epoch-ms integer"}
	}
	latency := receivedTS - sourceTS
	if latency < 0 {
		return TradeRecord{}, &ValidationError{Field: "latencyMs", Msg: "source timestamp is ahead of local clock"}
	}
	return TradeRecord{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		SourceTS:   sourceTS,
		ReceivedTS: receivedTS,
		LatencyMs:  latency,
		Conditions: conditions,
	}, nil
}

// JSON returns the JSON-encoded trade (ignoring errors for hot-path usage).
func (t *TradeRecord) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
