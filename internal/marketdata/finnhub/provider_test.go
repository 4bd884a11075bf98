package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mdstreamv1/internal/model"
)

// wsServer runs an in-process WebSocket endpoint driven by handler.
func wsServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvTrade(t *testing.T, ch <-chan model.TradeRecord) model.TradeRecord {
	t.Helper()
	select {
	case tr, ok := <-ch:
		if !ok {
			t.Fatal("stream closed before expected trade")
		}
		return tr
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trade")
	}
	return model.TradeRecord{}
}

func expectClosed(t *testing.T, ch <-chan model.TradeRecord) {
	t.Helper()
	select {
	case tr, ok := <-ch:
		if ok {
			t.Fatalf("expected end-of-stream, got trade %s", tr.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}

func TestSubscribe_SendsTokenAndFrames(t *testing.T) {
	type sub struct {
		token string
		frame string
	}
	got := make(chan sub, 2)

	srv, url := wsServer(t, func(r *http.Request, conn *websocket.Conn) {
		token := r.URL.Query().Get("token")
		for i := 0; i < 2; i++ {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			got <- sub{token: token, frame: string(raw)}
		}
		conn.ReadMessage() // hold open until the client hangs up
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Token: "secret-token", URL: url})
	if _, err := p.Subscribe(ctx, []string{"AAPL", "MSFT"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	wantSymbols := []string{"AAPL", "MSFT"}
	for _, sym := range wantSymbols {
		select {
		case s := <-got:
			if s.token != "secret-token" {
				t.Errorf("token = %q, want secret-token", s.token)
			}
			if !strings.Contains(s.frame, `"type":"subscribe"`) || !strings.Contains(s.frame, `"symbol":"`+sym+`"`) {
				t.Errorf("frame = %s, want subscribe for %s", s.frame, sym)
			}
		case <-time.After(time.Second):
			t.Fatalf("server never received subscribe frame for %s", sym)
		}
	}
}

func TestReadLoop_ParsesTradeFrame(t *testing.T) {
	frame := `{"type":"trade","data":[` +
		`{"s":"AAPL","p":175.42,"v":100,"t":1699372845123,"c":["T","F"]},` +
		`{"s":"MSFT","p":350.5,"v":50,"t":1699372845124}]}`

	srv, url := wsServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.ReadMessage() // subscribe frame
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Token: "tok", URL: url})
	p.now = func() int64 { return 1699372845163 }

	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	first := recvTrade(t, out)
	if first.Symbol != "AAPL" || first.Price != 175.42 || first.Volume != 100 {
		t.Errorf("first = %+v, want AAPL 175.42 x100", first)
	}
	if first.SourceTS != 1699372845123 || first.LatencyMs != 40 {
		t.Errorf("first ts/latency = %d/%d, want 1699372845123/40", first.SourceTS, first.LatencyMs)
	}
	if len(first.Conditions) != 2 || first.Conditions[0] != "T" {
		t.Errorf("conditions = %v, want [T F]", first.Conditions)
	}

	second := recvTrade(t, out)
	if second.Symbol != "MSFT" || second.LatencyMs != 39 {
		t.Errorf("second = %s latency %d, want MSFT 39", second.Symbol, second.LatencyMs)
	}
	if second.Conditions != nil {
		t.Errorf("conditions = %v, want nil when absent", second.Conditions)
	}
}

func TestReadLoop_SkipsMalformedFrames(t *testing.T) {
	srv, url := wsServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{malformed`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","msg":"slow down"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"news","data":[]}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1699372845123}]}`))
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Token: "tok", URL: url})
	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Malformed, ping, error, and unknown frames are all passed over;
	// the stream survives to deliver the real trade.
	tr := recvTrade(t, out)
	if tr.Symbol != "AAPL" || tr.Price != 100 {
		t.Errorf("got %+v, want the AAPL trade", tr)
	}
}

func TestReadLoop_DropsInvalidTrades(t *testing.T) {
	srv, url := wsServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		// Negative price, then a source timestamp ahead of the receive
		// clock (negative latency), then a valid trade.
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":-5,"v":1,"t":1699372845123}]}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1699372999999}]}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1699372845123}]}`))
		conn.ReadMessage()
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Token: "tok", URL: url})
	p.now = func() int64 { return 1699372845163 }

	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tr := recvTrade(t, out)
	if tr.Price != 100 || tr.LatencyMs != 40 {
		t.Errorf("got %+v, want only the valid trade (latency 40)", tr)
	}
}

func TestReadLoop_EndsOnServerClose(t *testing.T) {
	srv, url := wsServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":100,"v":1,"t":1699372845123}]}`))
		// handler returns: server closes the socket
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Token: "tok", URL: url})
	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	recvTrade(t, out)
	expectClosed(t, out) // transport loss surfaces as end-of-stream
}

func TestReadLoop_EndsOnCancel(t *testing.T) {
	srv, url := wsServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{Token: "tok", URL: url})
	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()
	expectClosed(t, out)
}

func TestAuthenticate_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(Config{Token: "bad", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	err := p.Authenticate(context.Background())

	var authErr *model.ProviderAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *ProviderAuthError", err)
	}
	if model.IsRetryable(err) {
		t.Error("auth rejection must not be retryable")
	}
}

func TestAuthenticate_ConnectFailure(t *testing.T) {
	p := New(Config{Token: "tok", URL: "ws://127.0.0.1:1"})
	err := p.Authenticate(context.Background())

	var connErr *model.ProviderConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ProviderConnectError", err)
	}
	if !model.IsRetryable(err) {
		t.Error("connect failure should be retryable")
	}
}
