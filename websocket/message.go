package websocket

import (
	"errors"
	"net"
)

// MessageType distinguishes the two application-level message kinds RFC
// 6455 defines (Section 5.6): Text (UTF-8) and Binary.
type MessageType OpCode

const (
	// TextMessage is a UTF-8 text message (opcode 0x1).
	TextMessage = MessageType(OpText)

	// BinaryMessage is an arbitrary binary message (opcode 0x2).
	BinaryMessage = MessageType(OpBinary)
)

// String returns a short human-readable name for mt.
func (mt MessageType) String() string {
	return OpCode(mt).String()
}

// IsCloseError reports whether err is (or wraps) the normal outcome of a
// peer-initiated or locally initiated close: ErrClosed, or a
// *ProtocolError carrying one of the codes listed in want. With no codes
// given it matches any ProtocolError or ErrClosed.
func IsCloseError(err error, want ...CloseCode) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	if len(want) == 0 {
		return true
	}
	for _, code := range want {
		if pe.Code == code {
			return true
		}
	}
	return false
}

// IsTemporaryError reports whether err is a transient net.Error that a
// caller might reasonably retry, as opposed to a protocol violation or a
// closed connection.
func IsTemporaryError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
