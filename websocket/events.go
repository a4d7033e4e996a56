package websocket

import "time"

// ConnState is a Conn's position in the lifecycle spec.md §3 defines:
// Unconnected -> HostLookup -> Connecting -> Connected -> Closing -> Closed.
// Conns built by Dial and Server go from StateUnconnected straight to
// StateConnected once the opening handshake is done; StateHostLookup and
// StateConnecting are defined but never set by this package.
type ConnState int

const (
	StateUnconnected ConnState = iota
	StateHostLookup
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateHostLookup:
		return "host-lookup"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnHandler receives the events a Conn produces over its lifetime.
//
// The source implementation this package is adapted from dispatches these
// as Qt signals/slots; this package replaces that with a plain Go
// interface so every event type a caller can observe is visible at the
// call site instead of being discovered by connecting to a string-named
// signal. Embed ConnNoopHandler to implement only the events you care
// about.
//
// Methods are called from the Conn's read-loop goroutine or from the
// goroutine of the call that triggered the event; OnBytesWritten runs with
// the Conn's write mutex held. Implementations must not block for long, and
// OnBytesWritten must not call the same Conn's Send*, Ping or Close (doing
// so would deadlock against the write mutex).
type ConnHandler interface {
	// OnConnected fires once, after the opening handshake succeeds.
	OnConnected(c *Conn)

	// OnStateChanged fires on every transition, including the one into
	// StateClosed (which also triggers OnDisconnected).
	OnStateChanged(c *Conn, state ConnState)

	// OnTextMessage fires once a fragmented or unfragmented Text message
	// is fully assembled and has passed UTF-8 validation.
	OnTextMessage(c *Conn, text string)

	// OnBinaryMessage fires once a fragmented or unfragmented Binary
	// message is fully assembled.
	OnBinaryMessage(c *Conn, data []byte)

	// OnTextFrame fires for every frame of a text message, including
	// intermediate fragments; isFinal matches the frame's FIN bit.
	OnTextFrame(c *Conn, text string, isFinal bool)

	// OnBinaryFrame fires for every frame of a binary message, including
	// intermediate fragments; isFinal matches the frame's FIN bit.
	OnBinaryFrame(c *Conn, data []byte, isFinal bool)

	// OnPing fires when a Ping frame arrives, before the automatic Pong
	// reply is written.
	OnPing(c *Conn, payload []byte)

	// OnPong fires when a Pong frame arrives. elapsed is the time since
	// the most recent Ping this Conn sent, or zero if no Ping is
	// outstanding (an unsolicited Pong).
	OnPong(c *Conn, elapsed time.Duration, payload []byte)

	// OnError fires on a transport or protocol error. The Conn transitions
	// toward StateClosed immediately after.
	OnError(c *Conn, err error)

	// OnDisconnected fires exactly once, when the Conn reaches StateClosed.
	// code and reason reflect the close frame exchanged, if any.
	OnDisconnected(c *Conn, code CloseCode, reason string)

	// OnBytesWritten fires after n bytes of an outgoing frame (from Send*,
	// Ping, Close, or an automatic Pong or Close reply) are handed to the
	// transport, letting callers throttle on backpressure.
	OnBytesWritten(c *Conn, n int)

	// OnSSLErrors is the hook for TLS certificate verification problems
	// surfaced rather than failed on. No code in this package calls it:
	// Dial installs no tls.Config.VerifyPeerCertificate callback.
	OnSSLErrors(c *Conn, errs []error)

	// OnProxyAuthenticationRequired is the hook for an HTTP proxy's
	// credential challenge. No code in this package calls it: Dial connects
	// directly and has no proxy support.
	OnProxyAuthenticationRequired(c *Conn, realm string)
}

// ConnNoopHandler implements ConnHandler with empty bodies so callers can
// embed it and override only the events they need.
type ConnNoopHandler struct{}

func (ConnNoopHandler) OnConnected(*Conn)                           {}
func (ConnNoopHandler) OnStateChanged(*Conn, ConnState)             {}
func (ConnNoopHandler) OnTextMessage(*Conn, string)                 {}
func (ConnNoopHandler) OnBinaryMessage(*Conn, []byte)               {}
func (ConnNoopHandler) OnTextFrame(*Conn, string, bool)             {}
func (ConnNoopHandler) OnBinaryFrame(*Conn, []byte, bool)           {}
func (ConnNoopHandler) OnPing(*Conn, []byte)                        {}
func (ConnNoopHandler) OnPong(*Conn, time.Duration, []byte)         {}
func (ConnNoopHandler) OnError(*Conn, error)                        {}
func (ConnNoopHandler) OnDisconnected(*Conn, CloseCode, string)     {}
func (ConnNoopHandler) OnBytesWritten(*Conn, int)                   {}
func (ConnNoopHandler) OnSSLErrors(*Conn, []error)                  {}
func (ConnNoopHandler) OnProxyAuthenticationRequired(*Conn, string) {}

// ServerHandler receives the events a Server produces.
//
// Embed ServerNoopHandler to implement only the events you care about.
type ServerHandler interface {
	// OnNewConnection fires after a client's handshake succeeds and the
	// Conn has been staged on the pending queue.
	OnNewConnection(s *Server)

	// OnClosed fires once the listening socket is down.
	OnClosed(s *Server)

	// OnServerError fires on server-level failures, notably
	// CloseAbnormal when the pending queue is at capacity.
	OnServerError(s *Server, code CloseCode)

	// OnAcceptError fires when accepting a raw transport connection fails.
	OnAcceptError(s *Server, err error)

	// OnOriginAuthenticationRequired fires once per handshake, before the
	// CheckOrigin hook's verdict is applied, so callers can audit origin
	// decisions independently of enforcing them.
	OnOriginAuthenticationRequired(s *Server, origin string)

	// OnPeerVerifyError is the hook for a failed TLS peer certificate
	// verification on an accepted connection. No code in this package calls
	// it: Server installs no TLS verification callback.
	OnPeerVerifyError(s *Server, err error)

	// OnSSLErrors is the hook for non-fatal TLS certificate problems. No
	// code in this package calls it.
	OnSSLErrors(s *Server, errs []error)

	// OnPreSharedKeyAuthenticationRequired is the hook for a PSK-TLS
	// identity hint. No code in this package calls it, and the engine does
	// not supply PSKs itself.
	OnPreSharedKeyAuthenticationRequired(s *Server, hint string)
}

// ServerNoopHandler implements ServerHandler with empty bodies.
type ServerNoopHandler struct{}

func (ServerNoopHandler) OnNewConnection(*Server)                              {}
func (ServerNoopHandler) OnClosed(*Server)                                     {}
func (ServerNoopHandler) OnServerError(*Server, CloseCode)                     {}
func (ServerNoopHandler) OnAcceptError(*Server, error)                         {}
func (ServerNoopHandler) OnOriginAuthenticationRequired(*Server, string)       {}
func (ServerNoopHandler) OnPeerVerifyError(*Server, error)                     {}
func (ServerNoopHandler) OnSSLErrors(*Server, []error)                        {}
func (ServerNoopHandler) OnPreSharedKeyAuthenticationRequired(*Server, string) {}
