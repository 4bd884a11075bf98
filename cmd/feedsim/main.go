// cmd/feedsim is a local Finnhub-protocol WebSocket simulator.
// Serves random-walk trade frames so the terminal can run without
// credentials or market hours:
//
//	feedsim &
//	mdterm --url ws://localhost:9001/ws --token dev
//
// Each client manages its own symbol set with the standard subscribe /
// unsubscribe frames; trade frames and pings match the Finnhub wire
// shape. Any token is accepted.
//
// Config (env vars):
//
//	FEEDSIM_ADDR         listen address (default ":9001")
//	FEEDSIM_SYMBOLS      comma-separated symbols (default "AAPL,GOOGL,MSFT")
//	FEEDSIM_INTERVAL_MS  trade interval milliseconds (default "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// tradeItem mirrors one element of a Finnhub trade frame's data array.
type tradeItem struct {
	Symbol     string   `json:"s"`
	Price      float64  `json:"p"`
	Volume     float64  `json:"v"`
	TS         int64    `json:"t"` // ms since epoch
	Conditions []string `json:"c,omitempty"`
}

type frame struct {
	Type string      `json:"type"`
	Data []tradeItem `json:"data,omitempty"`
}

// control is a client → server subscribe/unsubscribe frame.
type control struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

// client is one WebSocket session and its subscription set.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

// filter keeps the items this client subscribed to.
func (c *client) filter(items []tradeItem) []tradeItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []tradeItem
	for _, it := range items {
		if _, ok := c.subs[it.Symbol]; ok {
			out = append(out, it)
		}
	}
	return out
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcastTrades sends each client the subset of items it subscribed
// to, batched into a single trade frame.
func (h *hub) broadcastTrades(items []tradeItem) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		sel := c.filter(items)
		if len(sel) == 0 {
			continue
		}
		b, err := json.Marshal(frame{Type: "trade", Data: sel})
		if err != nil {
			continue
		}
		select {
		case c.send <- b:
		default: // slow client, drop the frame
		}
	}
}

func (h *hub) broadcastPing() {
	msg := []byte(`{"type":"ping"}`)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		c := &client{
			conn: conn,
			send: make(chan []byte, 256),
			subs: make(map[string]struct{}),
		}
		h.register(c)
		log.Printf("[feedsim] client connected: %s (token=%q)", r.RemoteAddr, r.URL.Query().Get("token"))

		go c.writePump()
		c.readPump(h)
		conn.Close()
		log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
	}
}

// readPump consumes subscribe/unsubscribe frames until the client hangs
// up, then releases the session.
func (c *client) readPump(h *hub) {
	defer h.unregister(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg control
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[feedsim] ignoring malformed frame from %s: %v", c.conn.RemoteAddr(), err)
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(msg.Symbol))
		switch msg.Type {
		case "subscribe":
			c.mu.Lock()
			c.subs[sym] = struct{}{}
			c.mu.Unlock()
			log.Printf("[feedsim] %s subscribed %s", c.conn.RemoteAddr(), sym)
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subs, sym)
			c.mu.Unlock()
			log.Printf("[feedsim] %s unsubscribed %s", c.conn.RemoteAddr(), sym)
		default:
			log.Printf("[feedsim] ignoring message type %q", msg.Type)
		}
	}
}

// writePump sends frames to this client until its channel closes.
func (c *client) writePump() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ─── Trade generator ──────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	price += price * pct
	if price < 0.01 {
		price = 0.01
	}
	return price
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UnixMilli()
		items := make([]tradeItem, len(instruments))
		for i := range instruments {
			instruments[i].Price = walkPrice(instruments[i].Price)
			items[i] = tradeItem{
				Symbol:     instruments[i].Symbol,
				Price:      math.Round(instruments[i].Price*100) / 100,
				Volume:     float64(rand.Intn(500) + 1),
				TS:         now,
				Conditions: []string{"T"},
			}
		}
		h.broadcastTrades(items)
	}
}

func runPinger(h *hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		h.broadcastPing()
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting simulator...")

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	symbolsEnv := envOrDefault("FEEDSIM_SYMBOLS", "AAPL,GOOGL,MSFT")
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 100)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no symbols configured via FEEDSIM_SYMBOLS")
	}
	log.Printf("[feedsim] symbols: %+v", instruments)
	log.Printf("[feedsim] trade interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)
	go runPinger(h, 10*time.Second)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	defaultPrices := map[string]float64{
		"AAPL":  175.50,
		"GOOGL": 140.25,
		"MSFT":  380.10,
		"TSLA":  250.75,
		"NVDA":  495.20,
	}

	var result []instrument
	for _, part := range strings.Split(s, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		price := defaultPrices[sym]
		if price == 0 {
			price = 100.00
		}
		result = append(result, instrument{Symbol: sym, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
