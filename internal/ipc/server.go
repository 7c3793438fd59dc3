package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/breeze-rmm/agent/internal/config"
	"github.com/breeze-rmm/agent/internal/logging"
)

var log = logging.L("ipc")

// Server accepts local connections on the platform's named pipe / Unix
// socket, authenticates each peer against the OS-level ACL, and serves the
// line-delimited JSON request/response protocol against one Config Store.
// Every accept runs on its own goroutine, observing ctx like every other
// long-running loop in the process per the concurrency model.
type Server struct {
	cfg      *config.Store
	listener net.Listener
	limiter  *RateLimiter
}

// Listen opens the platform listener at the default socket/pipe path. The
// caller is responsible for calling Serve to start accepting and Close to
// release the listener.
func Listen(cfg *config.Store) (*Server, error) {
	ln, err := newPlatformListener(DefaultSocketPath())
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		listener: ln,
		limiter:  NewRateLimiter(5, 10*time.Second),
	}, nil
}

// Close releases the underlying listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Serve accepts connections until ctx is canceled. Each connection is
// authenticated via peer credentials before any request is dispatched;
// an unauthorized peer's connection is closed immediately without a
// response — the ACL is the control surface, not the protocol.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn("ipc: accept failed", "error", err)
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	creds, err := GetPeerCredentials(conn)
	if err != nil {
		log.Warn("ipc: could not verify peer credentials, closing", "error", err)
		return
	}
	if !s.limiter.Allow(creds.IdentityKey()) {
		log.Warn("ipc: peer exceeded connect rate, closing", "identity", creds.IdentityKey())
		return
	}
	if !IsAuthorized(creds) {
		log.Warn("ipc: unauthorized peer, closing", "identity", creds.IdentityKey(), "binary", creds.BinaryPath)
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	writer := conn

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := Dispatch(s.cfg, line)
		data, err := marshalLine(resp)
		if err != nil {
			continue
		}
		if _, err := writer.Write(data); err != nil {
			return
		}
	}
}

func marshalLine(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
