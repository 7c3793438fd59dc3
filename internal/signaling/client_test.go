package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var echoUpgrader = websocket.Upgrader{}

// echoHandler upgrades every request on /ws and echoes back whatever it
// reads, stashing the server-side connection in *connOut under mu so the
// test can drive a server-initiated close.
func echoHandler(t *testing.T, mu *sync.Mutex, connOut **websocket.Conn) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := echoUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		*connOut = conn
		mu.Unlock()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				conn.WriteMessage(websocket.TextMessage, data)
			}
		}
	})
	return mux
}

func TestIsAbsoluteWS(t *testing.T) {
	cases := map[string]bool{
		"wss://relay.example/ws":       true,
		"ws://localhost:8443/ws":       true,
		"https://resolve.example/host": false,
		"not a url at all":             false,
	}
	for in, want := range cases {
		if got := isAbsoluteWS(in); got != want {
			t.Errorf("isAbsoluteWS(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClientConnectSendReceive(t *testing.T) {
	received := make(chan []byte, 4)
	var mu sync.Mutex
	var serverConn *websocket.Conn

	ts := httptest.NewServer(nil)
	defer ts.Close()
	ts.Config.Handler = echoHandler(t, &mu, &serverConn)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	c := New(func(raw []byte) { received <- raw }, nil)
	if err := c.Connect(wsURL); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	waitForCondition(t, func() bool { return c.Connected() })

	if !c.Send([]byte(`{"type":"ping"}`)) {
		t.Fatal("Send should succeed on a live connection")
	}

	select {
	case msg := <-received:
		if !strings.Contains(string(msg), "ping") {
			t.Fatalf("unexpected echoed message: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestClientDisconnectHandlerFiresOnServerClose(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	var mu sync.Mutex
	var serverConn *websocket.Conn

	ts := httptest.NewServer(nil)
	defer ts.Close()
	ts.Config.Handler = echoHandler(t, &mu, &serverConn)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	c := New(nil, func() { disconnected <- struct{}{} })
	if err := c.Connect(wsURL); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	waitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return serverConn != nil
	})

	mu.Lock()
	serverConn.Close()
	mu.Unlock()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected onDisconnect to fire after the server closed the socket")
	}
}

// Replacing a live connection via Connect (what the resolver does on an
// endpoint change) must fire the disconnect handler so the session lease is
// torn down, while connecting fresh or after a dead connection must not.
func TestClientConnectSupersedeFiresDisconnect(t *testing.T) {
	disconnects := make(chan struct{}, 4)
	var mu1, mu2 sync.Mutex
	var conn1, conn2 *websocket.Conn

	ts1 := httptest.NewServer(nil)
	defer ts1.Close()
	ts1.Config.Handler = echoHandler(t, &mu1, &conn1)
	ts2 := httptest.NewServer(nil)
	defer ts2.Close()
	ts2.Config.Handler = echoHandler(t, &mu2, &conn2)

	url1 := "ws" + strings.TrimPrefix(ts1.URL, "http") + "/ws"
	url2 := "ws" + strings.TrimPrefix(ts2.URL, "http") + "/ws"

	c := New(nil, func() { disconnects <- struct{}{} })
	if err := c.Connect(url1); err != nil {
		t.Fatalf("Connect (first): %v", err)
	}
	defer c.Close()

	select {
	case <-disconnects:
		t.Fatal("a fresh Connect must not fire the disconnect handler")
	case <-time.After(100 * time.Millisecond):
	}

	if err := c.Connect(url2); err != nil {
		t.Fatalf("Connect (supersede): %v", err)
	}

	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("expected superseding a live connection to fire the disconnect handler")
	}

	waitForCondition(t, func() bool { return c.Connected() })
	if !c.Send([]byte(`{"type":"ping"}`)) {
		t.Fatal("Send should succeed on the new connection")
	}
}

func TestClientCloseThenConnectFails(t *testing.T) {
	ts := httptest.NewServer(nil)
	defer ts.Close()
	var mu sync.Mutex
	var serverConn *websocket.Conn
	ts.Config.Handler = echoHandler(t, &mu, &serverConn)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	c := New(nil, nil)
	if err := c.Connect(wsURL); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Close()

	if err := c.Connect(wsURL); err == nil {
		t.Fatal("expected Connect to fail on a closed client")
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
