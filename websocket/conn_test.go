package websocket

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingHandler collects the events a Conn fires so tests can assert on
// them without racing against the read-loop goroutine directly.
type recordingHandler struct {
	ConnNoopHandler
	text   chan string
	binary chan []byte
	pong   chan []byte
	closed chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		text:   make(chan string, 8),
		binary: make(chan []byte, 8),
		pong:   make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (h *recordingHandler) OnTextMessage(_ *Conn, text string)     { h.text <- text }
func (h *recordingHandler) OnBinaryMessage(_ *Conn, data []byte)   { h.binary <- append([]byte(nil), data...) }
func (h *recordingHandler) OnPong(_ *Conn, _ time.Duration, p []byte) { h.pong <- p }
func (h *recordingHandler) OnDisconnected(_ *Conn, _ CloseCode, _ string) {
	close(h.closed)
}

// newConnPair wires a client-role and a server-role Conn directly over a
// net.Pipe, skipping the handshake codec so the connection state machine
// can be exercised in isolation.
func newConnPair(t *testing.T, clientHandler, serverHandler ConnHandler) (client, server *Conn) {
	t.Helper()
	c1, c2 := net.Pipe()

	client = newConn(c1, connConfig{isServer: false, handler: clientHandler, logger: zerolog.Nop()})
	server = newConn(c2, connConfig{isServer: true, handler: serverHandler, logger: zerolog.Nop()})
	client.start()
	server.start()
	return client, server
}

// TestConn_SendTextDeliversMessage exercises the basic send/receive path:
// client sends a masked text frame, the server Conn validates the mask,
// reassembles it (trivially, since it is unfragmented), and fires
// OnTextMessage.
func TestConn_SendTextDeliversMessage(t *testing.T) {
	serverHandler := newRecordingHandler()
	client, server := newConnPair(t, ConnNoopHandler{}, serverHandler)
	defer client.Abort()
	defer server.Abort()

	if _, err := client.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case got := <-serverHandler.text:
		if got != "hello" {
			t.Errorf("received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for text message")
	}
}

// TestConn_SendBinaryFragmentsOnMaxWrite covers spec.md §4.5's
// write-fragmentation: a message larger than maxWrite is split into
// Continuation frames and reassembles correctly on the other end.
func TestConn_SendBinaryFragmentsOnMaxWrite(t *testing.T) {
	c1, c2 := net.Pipe()
	serverHandler := newRecordingHandler()

	client := newConn(c1, connConfig{isServer: false, handler: ConnNoopHandler{}, logger: zerolog.Nop(), maxWrite: 4})
	server := newConn(c2, connConfig{isServer: true, handler: serverHandler, logger: zerolog.Nop()})
	client.start()
	server.start()
	defer client.Abort()
	defer server.Abort()

	payload := []byte("0123456789")
	if _, err := client.SendBinary(payload); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	select {
	case got := <-serverHandler.binary:
		if string(got) != string(payload) {
			t.Errorf("received %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for binary message")
	}
}

// TestConn_PingPong covers the automatic Pong reply: the peer answers a
// Ping with a Pong carrying the same payload, which OnPong reports.
func TestConn_PingPong(t *testing.T) {
	clientHandler := newRecordingHandler()
	client, server := newConnPair(t, clientHandler, ConnNoopHandler{})
	defer client.Abort()
	defer server.Abort()

	if err := client.Ping([]byte("ping-payload")); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	select {
	case got := <-clientHandler.pong:
		if string(got) != "ping-payload" {
			t.Errorf("pong payload = %q, want %q", got, "ping-payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

// TestConn_CloseHandshake covers spec.md §4.5: a locally initiated Close
// is answered by the peer's own Close frame, and both sides reach
// StateClosed.
func TestConn_CloseHandshake(t *testing.T) {
	clientHandler := newRecordingHandler()
	serverHandler := newRecordingHandler()
	client, server := newConnPair(t, clientHandler, serverHandler)

	if err := client.Close(CloseNormal, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-serverHandler.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server Conn did not reach StateClosed")
	}
	select {
	case <-clientHandler.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client Conn did not reach StateClosed")
	}

	if client.State() != StateClosed {
		t.Errorf("client state = %v, want StateClosed", client.State())
	}
	if server.State() != StateClosed {
		t.Errorf("server state = %v, want StateClosed", server.State())
	}
}

// TestConn_MaskPolicyViolation covers spec.md §7: a server Conn receiving
// an unmasked frame (here, forged directly onto the pipe) tears the
// connection down rather than accepting it.
func TestConn_MaskPolicyViolation(t *testing.T) {
	c1, c2 := net.Pipe()
	serverHandler := newRecordingHandler()
	server := newConn(c2, connConfig{isServer: true, handler: serverHandler, logger: zerolog.Nop()})
	server.start()
	defer server.Abort()

	unmasked, err := EncodeFrame(OpText, []byte("no mask"), true, false, [4]byte{})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	go func() {
		_, _ = c1.Write(unmasked)
		// Drain the server's close-frame reply so its write doesn't block
		// forever on an unread pipe.
		discard := make([]byte, 256)
		for {
			if _, err := c1.Read(discard); err != nil {
				return
			}
		}
	}()

	select {
	case <-serverHandler.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server Conn did not close after an unmasked client frame")
	}
}
