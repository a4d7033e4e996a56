package websocket

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// defaultMaxWriteFrame is the largest single frame Conn.SendText/SendBinary
// will emit before fragmenting, per spec.md §4.5's suggested default.
const defaultMaxWriteFrame = 512 * 1024

// connReadBuffer is the chunk size used to read off the transport; frames
// spanning more than one read are reassembled across calls by DecodeFrame's
// "need more bytes" signal.
const connReadBuffer = 4096

// Conn is one WebSocket connection: the state machine described in
// spec.md §4.5, bridging a raw net.Conn transport to typed message and
// control events via a ConnHandler.
//
// A Conn runs its read loop on its own goroutine ("one event loop per
// connection", spec.md §5). Message, frame, ping, pong and error callbacks
// run on that goroutine; OnConnected, OnStateChanged, OnDisconnected and
// OnBytesWritten can also run on the goroutine of the call that triggered
// them (Dial or the Server's handshake goroutine, Send*, Ping, Close,
// Abort). Send*/Ping/Close/Abort are safe to call from any goroutine.
type Conn struct {
	id       uuid.UUID
	nc       net.Conn
	isServer bool // server connections do not mask outbound frames

	subprotocol string
	requestURL  string
	origin      string
	// extension is never invoked: DecodeFrame rejects any frame with RSV1
	// set (ErrReservedBits) since no extension is negotiated during the
	// handshake, so no frame reaching the read loop ever has RSV1=true.
	// Kept on Conn as the hook point ExtensionTransform documents, for a
	// future permessage-deflate package to set via connConfig.
	extension ExtensionTransform
	maxWrite  int

	log zerolog.Logger

	stateMu sync.RWMutex
	state   ConnState
	lastErr error

	writeMu       sync.Mutex
	sendMu        sync.Mutex // held across all frames of one outbound data message
	closeSent     atomic.Bool
	closeReceived atomic.Bool
	bytesToWrite  atomic.Int64

	pingMu     sync.Mutex
	pingSentAt time.Time
	pingOut    bool

	closeOnce sync.Once
	doneCh    chan struct{}

	asm assembler

	handler ConnHandler
}

// connConfig bundles the construction-time parameters shared by Dial and
// the Server's accept path.
type connConfig struct {
	isServer    bool
	subprotocol string
	requestURL  string
	origin      string
	extension   ExtensionTransform
	maxWrite    int
	handler     ConnHandler
	logger      zerolog.Logger
}

func newConn(nc net.Conn, cfg connConfig) *Conn {
	maxWrite := cfg.maxWrite
	if maxWrite <= 0 {
		maxWrite = defaultMaxWriteFrame
	}
	handler := cfg.handler
	if handler == nil {
		handler = ConnNoopHandler{}
	}
	id := uuid.New()
	c := &Conn{
		id:          id,
		nc:          nc,
		isServer:    cfg.isServer,
		subprotocol: cfg.subprotocol,
		requestURL:  cfg.requestURL,
		origin:      cfg.origin,
		extension:   cfg.extension,
		maxWrite:    maxWrite,
		log:         cfg.logger.With().Str("conn_id", id.String()).Logger(),
		doneCh:      make(chan struct{}),
		handler:     handler,
	}
	return c
}

// start transitions the Conn into StateConnected, fires OnConnected, and
// launches the read loop. Called by Dial and by the Server once the
// opening handshake has completed.
func (c *Conn) start() {
	c.setState(StateConnected)
	c.handler.OnConnected(c)
	go c.readLoop()
}

// ID returns a unique identifier stamped on this Conn at construction,
// useful as a correlation key in logs across many concurrent connections.
func (c *Conn) ID() uuid.UUID { return c.id }

// State returns the Conn's current position in its lifecycle.
func (c *Conn) State() ConnState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// ErrorString returns a human-readable description of the last error this
// Conn observed, or "" if none.
func (c *Conn) ErrorString() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.lastErr == nil {
		return ""
	}
	return c.lastErr.Error()
}

// Subprotocol returns the subprotocol negotiated during the handshake, or
// "" if none was negotiated.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// RequestURL returns the ws:// or wss:// URL the client dialed (client
// role) or the request path the server received (server role).
func (c *Conn) RequestURL() string { return c.requestURL }

// Origin returns the Origin header associated with the handshake.
func (c *Conn) Origin() string { return c.origin }

// LocalAddr returns the transport's local address.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the transport's peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// BytesToWrite reports bytes handed to Send*/Ping/Close that have not yet
// been accepted by the transport's Write call, so callers can throttle
// under backpressure (spec.md §5).
func (c *Conn) BytesToWrite() int64 { return c.bytesToWrite.Load() }

func (c *Conn) setState(s ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.handler.OnStateChanged(c, s)
}

func (c *Conn) setErr(err error) {
	c.stateMu.Lock()
	c.lastErr = err
	c.stateMu.Unlock()
}

// readLoop pulls bytes off the transport, decodes frames incrementally,
// and dispatches each to either the control-frame handler or the
// assembler. It exits (and closes the Conn) on any transport or protocol
// error, or once the close handshake completes.
func (c *Conn) readLoop() {
	var buf []byte
	chunk := make([]byte, connReadBuffer)

	for {
		f, consumed, err := DecodeFrame(buf)
		if err != nil {
			c.log.Warn().Err(err).Msg("protocol error decoding frame")
			c.failProtocol(err)
			return
		}
		if f == nil {
			n, rerr := c.nc.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					c.finish(CloseAbnormal, "", nil)
				} else {
					c.log.Debug().Err(rerr).Msg("transport read error")
					c.handler.OnError(c, rerr)
					c.finish(CloseAbnormal, "", rerr)
				}
				return
			}
			continue
		}
		buf = buf[consumed:]

		if maskErr := c.checkMaskPolicy(f); maskErr != nil {
			c.failProtocol(maskErr)
			return
		}

		if f.Opcode.IsControl() {
			if done := c.handleControlFrame(f); done {
				return
			}
			continue
		}

		ev, aerr := c.asm.feed(f)
		if aerr != nil {
			c.failProtocol(aerr)
			return
		}
		c.dispatchMessageEvent(ev)
	}
}

func (c *Conn) checkMaskPolicy(f *Frame) error {
	if c.isServer && !f.Masked {
		return fmt.Errorf("websocket: %w", ErrMaskRequired)
	}
	if !c.isServer && f.Masked {
		return fmt.Errorf("websocket: %w", ErrMaskUnexpected)
	}
	return nil
}

func (c *Conn) dispatchMessageEvent(ev messageEvent) {
	if ev.msgType == TextMessage {
		c.handler.OnTextFrame(c, string(ev.payload), ev.final)
		if ev.final {
			c.handler.OnTextMessage(c, string(ev.payload))
		}
		return
	}
	c.handler.OnBinaryFrame(c, ev.payload, ev.final)
	if ev.final {
		c.handler.OnBinaryMessage(c, ev.payload)
	}
}

// handleControlFrame processes Ping/Pong/Close and reports whether the
// read loop should stop (true for Close).
func (c *Conn) handleControlFrame(f *Frame) (stop bool) {
	switch f.Opcode {
	case OpPing:
		c.handler.OnPing(c, f.Payload)
		if err := c.writeFrame(OpPong, f.Payload, true); err != nil {
			c.log.Debug().Err(err).Msg("failed to send pong")
			c.finish(CloseAbnormal, "", err)
			return true
		}
		return false

	case OpPong:
		elapsed := c.recordPong()
		c.handler.OnPong(c, elapsed, f.Payload)
		return false

	case OpClose:
		code, reason := parseClosePayload(f.Payload)
		c.closeReceived.Store(true)
		if !c.closeSent.Load() {
			_ = c.writeFrame(OpClose, encodeClosePayload(code, reason), true)
			c.closeSent.Store(true)
		}
		c.finish(code, reason, nil)
		return true

	default:
		return false
	}
}

// recordPong returns the time elapsed since the most recently sent Ping,
// or zero if none is outstanding.
func (c *Conn) recordPong() time.Duration {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if !c.pingOut {
		return 0
	}
	c.pingOut = false
	return time.Since(c.pingSentAt)
}

func parseClosePayload(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return CloseNoStatus, ""
	}
	code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	reason := string(payload[2:])
	if !code.Valid() {
		return CloseProtocolError, reason
	}
	return code, reason
}

func encodeClosePayload(code CloseCode, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	payload := make([]byte, 2, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	// Truncate reason so the whole control payload stays within 125 bytes.
	if len(reason) > maxControlLen-2 {
		reason = reason[:maxControlLen-2]
	}
	return append(payload, reason...)
}

// failProtocol responds to a locally detected protocol violation by
// sending the matching Close frame (if one has not gone out already) and
// tearing the connection down.
func (c *Conn) failProtocol(err error) {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		pe = newProtocolError(err)
	}
	if !c.closeSent.Load() {
		_ = c.writeFrame(OpClose, encodeClosePayload(pe.Code, pe.Reason), true)
		c.closeSent.Store(true)
	}
	c.handler.OnError(c, pe)
	c.finish(pe.Code, pe.Reason, pe)
}

// finish tears down the transport and transitions to StateClosed exactly
// once.
func (c *Conn) finish(code CloseCode, reason string, err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.setErr(err)
		}
		_ = c.nc.Close()
		close(c.doneCh)
		c.setState(StateClosed)
		c.handler.OnDisconnected(c, code, reason)
	})
}

// writeFrame builds and writes a single frame, applying this Conn's
// masking policy. It holds writeMu while writing one frame; sendMessage
// also holds sendMu across all frames of a message, so a fragmented
// message's frames are never interleaved with another Send*, while control
// writes (Ping, Pong, Close) can still go out between its fragments
// (spec.md §4.5's write-ordering guarantee).
func (c *Conn) writeFrame(opcode OpCode, payload []byte, fin bool) error {
	var key [4]byte
	if !c.isServer {
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("websocket: generate mask key: %w", err)
		}
	}
	out, err := EncodeFrame(opcode, payload, fin, !c.isServer, key)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.bytesToWrite.Add(int64(len(out)))
	n, werr := c.nc.Write(out)
	c.bytesToWrite.Add(-int64(len(out)))
	if n > 0 {
		c.handler.OnBytesWritten(c, n)
	}
	return werr
}

// SendText fragments and writes a UTF-8 text message, returning the number
// of application bytes written (not the wire byte count, which is larger
// by the per-frame header overhead).
func (c *Conn) SendText(text string) (int, error) {
	return c.sendMessage(OpText, []byte(text))
}

// SendBinary fragments and writes an arbitrary binary message.
func (c *Conn) SendBinary(data []byte) (int, error) {
	return c.sendMessage(OpBinary, data)
}

func (c *Conn) sendMessage(opcode OpCode, data []byte) (int, error) {
	switch c.State() {
	case StateConnected:
	case StateClosing, StateClosed:
		return 0, ErrClosed
	default:
		return 0, ErrConnecting
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closeSent.Load() {
		return 0, ErrClosed
	}

	if len(data) == 0 {
		return 0, c.writeFrame(opcode, nil, true)
	}

	total := len(data)
	for offset := 0; offset < total; offset += c.maxWrite {
		end := offset + c.maxWrite
		if end > total {
			end = total
		}
		op := opcode
		if offset > 0 {
			op = OpContinuation
		}
		fin := end == total
		if err := c.writeFrame(op, data[offset:end], fin); err != nil {
			return offset, err
		}
	}
	return total, nil
}

// Ping sends a Ping frame and arms the elapsed-time timer the next Pong
// will report against (spec.md §4.5).
func (c *Conn) Ping(payload []byte) error {
	if len(payload) > maxControlLen {
		return fmt.Errorf("websocket: %w", ErrControlTooLarge)
	}
	c.pingMu.Lock()
	c.pingSentAt = time.Now()
	c.pingOut = true
	c.pingMu.Unlock()
	return c.writeFrame(OpPing, payload, true)
}

// Close sends a Close frame with code and reason (truncating reason if
// needed to keep the control payload within 125 bytes) and transitions to
// StateClosing. It is idempotent: a second call after the first is a
// no-op, as is a call on a Conn already in StateClosed, matching spec.md
// §5's cancellation rules.
func (c *Conn) Close(code CloseCode, reason string) error {
	if code == 0 {
		code = CloseNormal
	}
	if !code.Valid() && code != CloseNormal {
		return fmt.Errorf("websocket: %w: %d", ErrInvalidCloseCode, code)
	}
	if c.State() == StateClosed {
		return nil
	}
	if c.closeSent.Swap(true) {
		return nil
	}
	c.setState(StateClosing)
	err := c.writeFrame(OpClose, encodeClosePayload(code, reason), true)
	if c.closeReceived.Load() {
		c.finish(code, reason, nil)
	}
	return err
}

// Abort forcibly drops the transport without attempting a Close exchange.
func (c *Conn) Abort() error {
	c.closeSent.Store(true)
	c.finish(CloseAbnormal, "", nil)
	return nil
}

// Done returns a channel closed once the Conn reaches StateClosed, for
// callers that want to select on connection teardown.
func (c *Conn) Done() <-chan struct{} { return c.doneCh }
