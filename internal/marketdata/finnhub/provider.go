// Package finnhub streams live trades from the Finnhub WebSocket API.
//
// Wire format (server → client):
//
//	{"type":"trade","data":[{"s":"AAPL","p":175.42,"v":100,"t":1699372845123,"c":["T","F"]}]}
//	{"type":"ping"}
//	{"type":"error","msg":"..."}
//
// `t` is milliseconds since epoch. Authentication is a token query
// parameter checked at dial time. The stream ends on transport error or
// cancellation; reconnection is the caller's policy.
package finnhub

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"mdstreamv1/internal/model"
)

const defaultURL = "wss://ws.finnhub.io"

// Config holds connection settings for the Finnhub provider.
type Config struct {
	// Token is the API token, sent as a query parameter.
	Token string

	// URL overrides the production endpoint (tests, simulators).
	URL string
}

// Provider connects to Finnhub and emits validated trade records.
type Provider struct {
	cfg  Config
	conn *websocket.Conn
	now  func() int64 // receive clock, ms since epoch

	// OnParseError observes malformed frames, OnDropped observes trades
	// rejected by validation. Optional metrics hooks, called on the read
	// goroutine.
	OnParseError func()
	OnDropped    func()
}

// New creates a Finnhub provider.
func New(cfg Config) *Provider {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	return &Provider{
		cfg: cfg,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

func (p *Provider) Name() string { return "finnhub" }

// Authenticate dials the WebSocket endpoint with the token attached.
// A 401/403 handshake rejection means bad credentials; anything else is
// a retryable connect failure.
func (p *Provider) Authenticate(ctx context.Context) error {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
	}
	q := u.Query()
	q.Set("token", p.cfg.Token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &model.ProviderAuthError{Provider: p.Name(), Msg: resp.Status}
		}
		return &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
	}
	p.conn = conn
	return nil
}

// Subscribe sends one subscribe frame per symbol and returns the trade
// stream. The channel closes on transport error or ctx cancellation;
// end-of-stream is the normal terminal condition, not an error.
func (p *Provider) Subscribe(ctx context.Context, symbols []string) (<-chan model.TradeRecord, error) {
	if p.conn == nil {
		if err := p.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	for _, s := range symbols {
		msg := struct {
			Type   string `json:"type"`
			Symbol string `json:"symbol"`
		}{Type: "subscribe", Symbol: s}
		if err := p.conn.WriteJSON(msg); err != nil {
			p.conn.Close()
			return nil, &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
		}
	}
	log.Printf("[finnhub] subscribed to %d symbols", len(symbols))

	out := make(chan model.TradeRecord)
	go p.readLoop(ctx, out)
	return out, nil
}

type wsMessage struct {
	Type string         `json:"type"`
	Data []tradePayload `json:"data"`
	Msg  string         `json:"msg"`
}

type tradePayload struct {
	Symbol     string   `json:"s"`
	Price      float64  `json:"p"`
	Volume     float64  `json:"v"`
	TS         int64    `json:"t"`
	Conditions []string `json:"c"`
}

func (p *Provider) readLoop(ctx context.Context, out chan<- model.TradeRecord) {
	defer close(out)

	// Closes the socket on cancellation so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			p.conn.Close()
		case <-done:
			p.conn.Close()
		}
	}()

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[finnhub] read: %v", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[finnhub] %v", &model.ParseError{Provider: p.Name(), Msg: "malformed frame", Err: err})
			if p.OnParseError != nil {
				p.OnParseError()
			}
			continue
		}

		switch msg.Type {
		case "trade":
			received := p.now()
			for _, item := range msg.Data {
				rec, err := model.NewTradeRecord(item.Symbol, item.Price, item.Volume, item.TS, received, item.Conditions)
				if err != nil {
					log.Printf("[finnhub] dropping trade: %v", err)
					if p.OnDropped != nil {
						p.OnDropped()
					}
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		case "ping":
			// keepalive, nothing to do
		case "error":
			log.Printf("[finnhub] server error: %s", msg.Msg)
		default:
			log.Printf("[finnhub] ignoring message type %q", msg.Type)
		}
	}
}

// Close tears down the connection if one is open.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
