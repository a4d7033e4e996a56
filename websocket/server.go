package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// defaultMaxPendingConnections bounds Server's accept queue, matching the
// original implementation's default (see DESIGN.md's Open Question
// decisions).
const defaultMaxPendingConnections = 30

// ServerOptions configures NewServer.
type ServerOptions struct {
	// Subprotocols the server is willing to negotiate. The first
	// client-offered subprotocol found here is chosen; the order of this
	// list does not affect the choice.
	Subprotocols []string

	// CheckOrigin decides whether to accept a handshake given its Origin
	// header. A nil CheckOrigin accepts every origin.
	CheckOrigin func(origin string) bool

	// TLSConfig, if non-nil, makes the server accept wss:// connections via
	// tls.NewListener instead of plain TCP.
	TLSConfig *tls.Config

	// MaxPendingConnections bounds the queue of handshake-complete
	// connections awaiting NextPendingConnection. Zero uses
	// defaultMaxPendingConnections.
	MaxPendingConnections int

	// HandshakeTimeout bounds each accepted connection's opening handshake.
	// Zero disables the timeout, per spec.md §4.6's default.
	HandshakeTimeout time.Duration

	// MaxWriteFrameSize overrides defaultMaxWriteFrame for Conns this
	// server produces.
	MaxWriteFrameSize int

	// Handler receives this Server's lifecycle events.
	Handler ServerHandler

	// ConnHandler is installed as the ConnHandler for every accepted Conn.
	ConnHandler ConnHandler

	// Logger overrides the package default logger.
	Logger *zerolog.Logger
}

// Server listens for and accepts incoming WebSocket connections,
// performing the opening handshake itself before staging each Conn on a
// bounded pending queue (spec.md §4.6).
//
// Grounded on coregx-stream/websocket/hub.go's channel-driven event-loop
// shape, generalized from broadcast fan-out to an accept queue, plus
// golang.org/x/sync/errgroup (as used elsewhere in the retrieved corpus) to
// run the per-connection handshake goroutines as one group, which the
// accept loop waits on before firing OnClosed.
type Server struct {
	opts ServerOptions
	log  zerolog.Logger

	ln net.Listener

	pendingMu sync.Mutex
	pending   []*Conn
	signal    chan struct{} // non-blocking wakeup for NextPendingConnection

	eg *errgroup.Group

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServer binds addr (host:port) and prepares a Server; call Serve to
// start accepting connections.
func NewServer(addr string, opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}
	if opts.MaxPendingConnections <= 0 {
		opts.MaxPendingConnections = defaultMaxPendingConnections
	}
	if opts.Handler == nil {
		opts.Handler = ServerNoopHandler{}
	}
	if opts.ConnHandler == nil {
		opts.ConnHandler = ConnNoopHandler{}
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket: listen: %w", err)
	}
	if opts.TLSConfig != nil {
		ln = tls.NewListener(ln, opts.TLSConfig)
	}

	return &Server{
		opts:   *opts,
		log:    logger.With().Str("component", "ws-server").Str("addr", addr).Logger(),
		ln:     ln,
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// IsListening reports whether the server has not yet been closed.
func (s *Server) IsListening() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Serve runs the accept loop, handing each accepted transport connection
// its own goroutine to perform the opening handshake. It blocks until ctx
// is cancelled, Close is called, or Accept fails (a failure while still
// listening is reported via OnAcceptError), then waits for in-flight
// handshakes, fires OnClosed and returns nil (errors encountered
// per-connection are reported via ServerHandler, not returned here).
func (s *Server) Serve(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	s.eg = eg

	go func() {
		<-egCtx.Done()
		_ = s.Close()
	}()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.IsListening() {
				s.opts.Handler.OnAcceptError(s, err)
			}
			_ = s.eg.Wait()
			s.opts.Handler.OnClosed(s)
			return nil
		}

		s.eg.Go(func() error {
			s.handshakeAndEnqueue(nc)
			return nil
		})
	}
}

// handshakeAndEnqueue performs the opening handshake on an accepted
// transport, then either stages the resulting Conn on the pending queue or
// rejects it. It runs as one goroutine in the Server's errgroup, which the
// accept loop waits on before returning.
func (s *Server) handshakeAndEnqueue(nc net.Conn) {
	if s.opts.HandshakeTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	}

	br := bufio.NewReader(nc)
	req, err := parseClientRequest(br)
	if err != nil {
		s.rejectHandshake(nc, err)
		return
	}

	s.opts.Handler.OnOriginAuthenticationRequired(s, req.origin)
	if s.opts.CheckOrigin != nil && !s.opts.CheckOrigin(req.origin) {
		s.rejectHandshake(nc, fmt.Errorf("websocket: %w", ErrOriginDenied))
		return
	}

	subprotocol := negotiateSubprotocol(s.opts.Subprotocols, req.subprotocols)
	resp := buildAcceptResponse(req.key, subprotocol)
	if _, err := nc.Write(resp); err != nil {
		_ = nc.Close()
		s.opts.Handler.OnAcceptError(s, fmt.Errorf("websocket: write handshake response: %w", err))
		return
	}

	_ = nc.SetDeadline(time.Time{})

	c := newConn(nc, connConfig{
		isServer:    true,
		subprotocol: subprotocol,
		requestURL:  req.path,
		origin:      req.origin,
		maxWrite:    s.opts.MaxWriteFrameSize,
		handler:     s.opts.ConnHandler,
		logger:      s.log,
	})

	if !s.enqueue(c) {
		s.opts.Handler.OnServerError(s, CloseAbnormal)
		_ = c.Abort()
		return
	}

	c.start()
	s.opts.Handler.OnNewConnection(s)
}

func (s *Server) rejectHandshake(nc net.Conn, err error) {
	code, reason := 400, "Bad Request"
	switch {
	case errors.Is(err, ErrInvalidMethod), errors.Is(err, ErrInvalidHTTPVersion):
		code, reason = 400, "Bad Request"
	case errors.Is(err, ErrUnsupportedVersion):
		code, reason = 426, "Upgrade Required"
	case errors.Is(err, ErrOriginDenied):
		code, reason = 403, "Forbidden"
	}
	_, _ = nc.Write(buildErrorResponse(code, reason))
	_ = nc.Close()
	s.opts.Handler.OnAcceptError(s, err)
}

// enqueue stages c on the pending queue, reporting false if the queue was
// already at MaxPendingConnections (spec.md §4.6's bounded-queue
// invariant).
func (s *Server) enqueue(c *Conn) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pending) >= s.opts.MaxPendingConnections {
		return false
	}
	s.pending = append(s.pending, c)

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

// HasPendingConnections reports whether NextPendingConnection would return
// immediately.
func (s *Server) HasPendingConnections() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending) > 0
}

// NextPendingConnection pops the oldest handshake-complete Conn off the
// queue, blocking until one is available or ctx is cancelled.
func (s *Server) NextPendingConnection(ctx context.Context) (*Conn, error) {
	for {
		s.pendingMu.Lock()
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			s.pendingMu.Unlock()
			return c, nil
		}
		s.pendingMu.Unlock()

		select {
		case <-s.signal:
		case <-s.closed:
			return nil, ErrServerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops accepting new connections and unblocks any waiters on
// NextPendingConnection. It does not close Conns already handed out.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.ln.Close()
	})
	return err
}
