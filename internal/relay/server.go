// Package relay implements the lightweight signaling relay: a single `/ws`
// WebSocket endpoint that pairs exactly one host with however many
// operators present that host's id, plus a `/health` probe. Each client
// gets a buffered send channel drained by its own write pump, keyed by
// host id; upgrades are gated by a per-remote-IP sliding-window limiter
// before the handshake is paid for.
package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/agent/internal/logging"
)

var log = logging.L("relay")

const (
	rateLimitWindow = 1 * time.Second
	rateLimitMax    = 10

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Role distinguishes a host connection from an operator connection.
type Role string

const (
	RoleHost     Role = "host"
	RoleOperator Role = "operator"
)

// client is one upgraded WebSocket connection, paired to a host id.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	role   Role
	hostID string
}

// Server is the relay's connection registry: one host connection per host
// id, and a set of operator connections per host id. Pairing and fan-out
// are an in-memory map; the relay is a single process, so no cross-process
// state is needed.
type Server struct {
	limiter *ipLimiter

	mu        sync.Mutex
	hosts     map[string]*client
	operators map[string]map[*client]bool
}

// New builds a relay Server ready to be wired into an http.ServeMux.
func New() *Server {
	return &Server{
		limiter:   newIPLimiter(rateLimitMax, rateLimitWindow),
		hosts:     make(map[string]*client),
		operators: make(map[string]map[*client]bool),
	}
}

// Handler returns the mux for `/ws` and `/health`.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWS enforces the per-IP sliding-window rate limit before the
// upgrade, then registers the connection per its role query parameter and
// runs its read/write pumps until it disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.limiter.allow(ip) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	role := Role(r.URL.Query().Get("role"))
	if role != RoleHost && role != RoleOperator {
		http.Error(w, "role must be host or operator", http.StatusBadRequest)
		return
	}
	hostID := r.URL.Query().Get("hostId")
	if role == RoleOperator && hostID == "" {
		http.Error(w, "hostId is required for operator role", http.StatusBadRequest)
		return
	}
	if role == RoleHost {
		hostID = ""
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("relay: upgrade failed", "error", err, "remote", ip)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64), role: role, hostID: hostID}

	if role == RoleOperator {
		s.registerOperator(c)
		defer s.unregisterOperator(c)
	}
	// Host registration happens lazily on its first message (see
	// handleHostMessage) so the host id is taken from the message body,
	// not a query parameter.

	s.sendWelcome(c)

	done := make(chan struct{})
	go s.writePump(c, done)
	s.readPump(c)
	close(done)

	if role == RoleHost {
		s.unregisterHost(c)
	}
	conn.Close()
}

func (s *Server) sendWelcome(c *client) {
	data, _ := json.Marshal(map[string]string{"type": "welcome", "role": string(c.role)})
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.role == RoleHost {
			s.handleHostMessage(c, data)
		} else {
			s.handleOperatorMessage(c, data)
		}
	}
}

func (s *Server) writePump(c *client, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleHostMessage installs the sender into the host map on the first
// message that parses as JSON carrying a host_id (idempotent per session),
// then fans the message out to every operator registered under that id.
func (s *Server) handleHostMessage(c *client, data []byte) {
	if c.hostID == "" {
		var probe struct {
			HostID string `json:"host_id"`
		}
		if err := json.Unmarshal(data, &probe); err != nil || probe.HostID == "" {
			log.Debug("relay: host message with no host_id before registration, dropping")
			return
		}
		c.hostID = probe.HostID
		s.registerHost(c)
	}

	s.mu.Lock()
	ops := make([]*client, 0, len(s.operators[c.hostID]))
	for op := range s.operators[c.hostID] {
		ops = append(ops, op)
	}
	s.mu.Unlock()

	for _, op := range ops {
		select {
		case op.send <- data:
		default:
			log.Warn("relay: operator send queue full, dropping message", "hostId", c.hostID)
		}
	}
}

// handleOperatorMessage fans a message to the single host connection
// registered under the operator's hostId, dropping it silently if no host
// is currently connected.
func (s *Server) handleOperatorMessage(c *client, data []byte) {
	s.mu.Lock()
	host := s.hosts[c.hostID]
	s.mu.Unlock()
	if host == nil {
		return
	}
	select {
	case host.send <- data:
	default:
		log.Warn("relay: host send queue full, dropping message", "hostId", c.hostID)
	}
}

func (s *Server) registerHost(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[c.hostID] = c
}

func (s *Server) unregisterHost(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hosts[c.hostID] == c {
		delete(s.hosts, c.hostID)
	}
}

func (s *Server) registerOperator(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.operators[c.hostID] == nil {
		s.operators[c.hostID] = make(map[*client]bool)
	}
	s.operators[c.hostID][c] = true
}

func (s *Server) unregisterOperator(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ops, ok := s.operators[c.hostID]; ok {
		delete(ops, c)
		if len(ops) == 0 {
			delete(s.operators, c.hostID)
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
