// Package polygon streams live trades from the Polygon.io WebSocket API.
//
// Unlike Finnhub, authentication is an in-band frame exchange: the
// client sends {"action":"auth","params":<key>} and waits for a status
// event with status "auth_success". Trade events arrive as JSON arrays:
//
//	[{"ev":"T","sym":"AAPL","p":175.42,"s":100,"t":1699372845123000000,"c":[12,37]}]
//
// `t` is nanoseconds since epoch (divided by 10⁶ for milliseconds) and
// `c` carries integer condition codes, rendered as decimal strings.
package polygon

import (
	"context"
	"log"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"mdstreamv1/internal/model"
)

const defaultURL = "wss://socket.polygon.io/stocks"

// Config holds connection settings for the Polygon provider.
type Config struct {
	// APIKey authenticates the session via the in-band auth frame.
	APIKey string

	// URL overrides the production endpoint (tests, simulators).
	URL string
}

// Provider connects to Polygon and emits validated trade records.
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

// New creates a Polygon provider.
func New(cfg Config) *Provider {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	return &Provider{
		cfg: cfg,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

func (p *Provider) Name() string { return "polygon" }

type action struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// event is one element of a Polygon frame. Status and trade events
// share the envelope; `ev` discriminates.
type event struct {
	Ev         string  `json:"ev"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Symbol     string  `json:"sym"`
	Price      float64 `json:"p"`
	Size       float64 `json:"s"`
	TS         int64   `json:"t"` // nanoseconds
	Conditions []int   `json:"c"`
}

// Authenticate dials the endpoint, sends the auth frame, and reads
// status events until the server accepts or rejects the key.
func (p *Provider) Authenticate(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
	}

	if err := conn.WriteJSON(action{Action: "auth", Params: p.cfg.APIKey}); err != nil {
		conn.Close()
		return &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
		}
		var events []event
		if err := json.Unmarshal(raw, &events); err != nil {
			log.Printf("[polygon] %v", &model.ParseError{Provider: p.Name(), Msg: "malformed frame during auth", Err: err})
			continue
		}
		for _, ev := range events {
			if ev.Ev != "status" {
				continue
			}
			switch ev.Status {
			case "auth_success":
				p.conn = conn
				return nil
			case "auth_failed":
				conn.Close()
				return &model.ProviderAuthError{Provider: p.Name(), Msg: ev.Message}
			default:
				log.Printf("[polygon] status: %s %s", ev.Status, ev.Message)
			}
		}
	}
}

// Subscribe requests the trade channel for each symbol ("T.<SYM>") in a
// single frame and returns the trade stream.
func (p *Provider) Subscribe(ctx context.Context, symbols []string) (<-chan model.TradeRecord, error) {
	if p.conn == nil {
		if err := p.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	params := ""
	for i, s := range symbols {
		if i > 0 {
			params += ","
		}
		params += "T." + s
	}
	if err := p.conn.WriteJSON(action{Action: "subscribe", Params: params}); err != nil {
		p.conn.Close()
		return nil, &model.ProviderConnectError{Provider: p.Name(), URL: p.cfg.URL, Err: err}
	}
	log.Printf("[polygon] subscribed: %s", params)

	out := make(chan model.TradeRecord)
	go p.readLoop(ctx, out)
	return out, nil
}

func (p *Provider) readLoop(ctx context.Context, out chan<- model.TradeRecord) {
	defer close(out)

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
				log.Printf("[polygon] read: %v", err)
			}
			return
		}

		var events []event
		if err := json.Unmarshal(raw, &events); err != nil {
			log.Printf("[polygon] %v", &model.ParseError{Provider: p.Name(), Msg: "malformed frame", Err: err})
			if p.OnParseError != nil {
				p.OnParseError()
			}
			continue
		}

		received := p.now()
		for _, ev := range events {
			switch ev.Ev {
			case "T":
				rec, err := model.NewTradeRecord(ev.Symbol, ev.Price, ev.Size, ev.TS/1e6, received, condStrings(ev.Conditions))
				if err != nil {
					log.Printf("[polygon] dropping trade: %v", err)
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
			case "status":
				log.Printf("[polygon] status: %s %s", ev.Status, ev.Message)
			default:
				log.Printf("[polygon] ignoring event type %q", ev.Ev)
			}
		}
	}
}

// condStrings renders integer condition codes as decimal strings, the
// record's venue-neutral representation.
func condStrings(codes []int) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = strconv.Itoa(c)
	}
	return out
}

// Close tears down the connection if one is open.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
