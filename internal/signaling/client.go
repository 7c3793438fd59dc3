// Package signaling implements the signaling client and resolver loop: a
// durable outbound WebSocket to the relay, and the periodic lookup that
// discovers the relay's current endpoint. One connection generation lives
// at a time; each runs a read pump and a write pump, and reconnects ride
// a jittered exponential backoff.
package signaling

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/agent/internal/logging"
)

var log = logging.L("signaling")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
)

// Handler is invoked for every complete text message received. It runs on
// the client's single read goroutine; handlers that need to do real work
// should hand off (e.g. via the orchestrator's own event channel) rather
// than block here.
type Handler func(raw []byte)

// DisconnectHandler is invoked once per connection loss, including a
// graceful remote close, so the caller (the session orchestrator) can
// release the lease and reset WebRTC.
type DisconnectHandler func()

// Client maintains at most one outbound WebSocket connection. Connect
// replaces any prior socket; the previous connection's read/write pumps
// exit on their own once the old conn is closed.
type Client struct {
	onMessage    Handler
	onDisconnect DisconnectHandler

	mu       sync.Mutex
	conn     *websocket.Conn
	sendCh   chan []byte
	stopCh   chan struct{}
	genDone  chan struct{}
	closed   bool
}

// New builds a Client. Call Connect to establish the first connection.
func New(onMessage Handler, onDisconnect DisconnectHandler) *Client {
	return &Client{
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
	}
}

// Connect replaces any existing socket with a new connection to uri. The
// previous connection's pumps are torn down before the new one starts, and
// replacing a still-live connection fires the disconnect handler: the old
// transport's session lease must not carry over onto the new endpoint.
// Connect is not safe for concurrent use with itself; the Resolver is its
// single caller.
func (c *Client) Connect(uri string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(uri, nil)
	if err != nil {
		return fmt.Errorf("signaling: dial %s: %w", uri, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("signaling: client stopped")
	}
	oldStop := c.stopCh
	oldDone := c.genDone
	oldConn := c.conn
	c.stopCh = nil
	c.mu.Unlock()

	// Tear the old generation down without holding the mutex: its pumps
	// take the lock on exit, and the read pump only unblocks once the old
	// socket is closed underneath it.
	if oldStop != nil {
		close(oldStop)
		if oldConn != nil {
			oldConn.Close()
		}
		<-oldDone
	}
	if oldConn != nil && c.onDisconnect != nil {
		c.onDisconnect()
	}

	stopCh := make(chan struct{})
	genDone := make(chan struct{})
	sendCh := make(chan []byte, 64)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("signaling: client stopped")
	}
	c.conn = conn
	c.stopCh = stopCh
	c.genDone = genDone
	c.sendCh = sendCh
	c.mu.Unlock()

	go c.run(conn, sendCh, stopCh, genDone)
	log.Info("connected", "url", uri)
	return nil
}

// Send writes raw as a single text frame. Returns false if there is no live
// connection or the outbound queue is full.
func (c *Client) Send(raw []byte) bool {
	c.mu.Lock()
	ch := c.sendCh
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- raw:
		return true
	default:
		log.Warn("send queue full, dropping message")
		return false
	}
}

// Connected reports whether a socket is currently live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears down the connection and prevents further Connect calls.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	stopCh := c.stopCh
	genDone := c.genDone
	c.stopCh = nil
	c.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		<-genDone
	}
}

// run drives one connection generation's read and write pumps until the
// socket closes, errors, or stopCh fires. At most one onDisconnect call
// happens per generation: here on socket loss, from Connect when a live
// generation is superseded, and none at all on Close.
func (c *Client) run(conn *websocket.Conn, sendCh chan []byte, stopCh, genDone chan struct{}) {
	defer close(genDone)

	writeDone := make(chan struct{})
	go c.writePump(conn, sendCh, stopCh, writeDone)

	c.readPump(conn, stopCh)
	close(writeDone)
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.sendCh = nil
	}
	c.mu.Unlock()

	select {
	case <-stopCh:
		// Explicit teardown. Close means process shutdown (no callback);
		// a superseding Connect reports the disconnect itself after this
		// generation drains, so firing here would double-report.
	default:
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
	}
}

// readPump reassembles fragmented text frames (gorilla/websocket's
// ReadMessage already coalesces continuation frames into one complete
// message) and dispatches each to onMessage.
func (c *Client) readPump(conn *websocket.Conn, stopCh chan struct{}) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case <-stopCh:
			return
		default:
		}
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, sendCh chan []byte, stopCh chan struct{}, writeDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-writeDone:
			return
		case <-stopCh:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isAbsoluteWS reports whether uri is already a ws:// or wss:// endpoint,
// letting the Resolver Loop bypass the HTTP lookup for local deployments.
func isAbsoluteWS(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}
