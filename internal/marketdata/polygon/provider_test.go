package polygon

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

const authOK = `[{"ev":"status","status":"auth_success","message":"authenticated"}]`

func wsServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// handshake consumes the auth frame and approves it.
func handshake(t *testing.T, conn *websocket.Conn, wantKey string) bool {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	if !strings.Contains(string(raw), `"action":"auth"`) || !strings.Contains(string(raw), wantKey) {
		t.Errorf("auth frame = %s, want action auth with key %s", raw, wantKey)
	}
	conn.WriteMessage(websocket.TextMessage,
		[]byte(`[{"ev":"status","status":"connected","message":"Connected Successfully"}]`))
	conn.WriteMessage(websocket.TextMessage, []byte(authOK))
	return true
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

func TestAuthenticate_Success(t *testing.T) {
	srv, url := wsServer(t, func(conn *websocket.Conn) {
		if !handshake(t, conn, "good-key") {
			return
		}
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	p := New(Config{APIKey: "good-key", URL: url})
	if err := p.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestAuthenticate_Failed(t *testing.T) {
	srv, url := wsServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage() // auth frame
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`[{"ev":"status","status":"auth_failed","message":"invalid api key"}]`))
	})
	defer srv.Close()

	p := New(Config{APIKey: "bad-key", URL: url})
	err := p.Authenticate(context.Background())

	var authErr *model.ProviderAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *ProviderAuthError", err)
	}
	if !strings.Contains(authErr.Error(), "invalid api key") {
		t.Errorf("error %q should carry the server message", authErr.Error())
	}
	if model.IsRetryable(err) {
		t.Error("auth rejection must not be retryable")
	}
}

func TestAuthenticate_ConnectFailure(t *testing.T) {
	p := New(Config{APIKey: "key", URL: "ws://127.0.0.1:1"})
	err := p.Authenticate(context.Background())

	var connErr *model.ProviderConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ProviderConnectError", err)
	}
	if !model.IsRetryable(err) {
		t.Error("connect failure should be retryable")
	}
}

func TestSubscribe_BuildsChannelParams(t *testing.T) {
	subFrames := make(chan string, 1)
	srv, url := wsServer(t, func(conn *websocket.Conn) {
		if !handshake(t, conn, "key") {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subFrames <- string(raw)
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{APIKey: "key", URL: url})
	if _, err := p.Subscribe(ctx, []string{"AAPL", "MSFT", "TSLA"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case frame := <-subFrames:
		if !strings.Contains(frame, `"action":"subscribe"`) ||
			!strings.Contains(frame, `"params":"T.AAPL,T.MSFT,T.TSLA"`) {
			t.Errorf("subscribe frame = %s, want T.AAPL,T.MSFT,T.TSLA", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received a subscribe frame")
	}
}

func TestReadLoop_ConvertsNanosAndConditions(t *testing.T) {
	// t is nanoseconds on the Polygon wire: 1699372845123 ms scaled up.
	frame := `[{"ev":"T","sym":"AAPL","p":175.42,"s":100,"t":1699372845123000000,"c":[12,37]}]`

	srv, url := wsServer(t, func(conn *websocket.Conn) {
		if !handshake(t, conn, "key") {
			return
		}
		conn.ReadMessage() // subscribe frame
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{APIKey: "key", URL: url})
	p.now = func() int64 { return 1699372845163 }

	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tr := recvTrade(t, out)
	if tr.Symbol != "AAPL" || tr.Price != 175.42 || tr.Volume != 100 {
		t.Errorf("trade = %+v, want AAPL 175.42 x100", tr)
	}
	if tr.SourceTS != 1699372845123 {
		t.Errorf("SourceTS = %d, want 1699372845123 (ns scaled to ms)", tr.SourceTS)
	}
	if tr.LatencyMs != 40 {
		t.Errorf("LatencyMs = %d, want 40", tr.LatencyMs)
	}
	if len(tr.Conditions) != 2 || tr.Conditions[0] != "12" || tr.Conditions[1] != "37" {
		t.Errorf("conditions = %v, want [12 37] as strings", tr.Conditions)
	}
}

func TestReadLoop_SkipsStatusAndMalformed(t *testing.T) {
	srv, url := wsServer(t, func(conn *websocket.Conn) {
		if !handshake(t, conn, "key") {
			return
		}
		conn.ReadMessage() // subscribe frame
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"success","message":"subscribed to: T.AAPL"}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"A","sym":"AAPL"}]`)) // aggregate event, not subscribed kind
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`[{"ev":"T","sym":"AAPL","p":100,"s":1,"t":1699372845123000000}]`))
		conn.ReadMessage() // hold open
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{APIKey: "key", URL: url})
	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tr := recvTrade(t, out)
	if tr.Price != 100 {
		t.Errorf("got %+v, want the trade that followed the noise", tr)
	}
}

func TestReadLoop_EndsOnServerClose(t *testing.T) {
	srv, url := wsServer(t, func(conn *websocket.Conn) {
		if !handshake(t, conn, "key") {
			return
		}
		conn.ReadMessage() // subscribe frame; handler returns → socket closes
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{APIKey: "key", URL: url})
	out, err := p.Subscribe(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected end-of-stream after server close")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}
