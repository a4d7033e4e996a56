package websocket

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// assembler reconstructs fragmented application messages from the stream of
// Frames the decoder produces, and validates the fragmentation and opcode
// rules spec.md §4.4 defines. It is a straight extraction of the
// bookkeeping coregx-stream/websocket/conn.go's Read method used to inline,
// pulled out to its own type since the spec treats it as an independent
// component and the connection state machine needs to run it from a
// goroutine loop rather than a blocking call.
//
// An assembler is not safe for concurrent use; each Conn owns exactly one.
type assembler struct {
	opcode     OpCode // OpText or OpBinary while a fragmented message is open
	inFragment bool
	buf        bytes.Buffer
}

// messageEvent is what the assembler produces for one complete data frame:
// either an intermediate fragment or, when final, the full message.
type messageEvent struct {
	msgType MessageType
	payload []byte
	final   bool
}

// feed consumes one already-decoded, already-unmasked data frame (Opcode
// must not be a control opcode; control frames are handled separately by
// Conn before reaching the assembler) and returns the event to dispatch, or
// an error identifying a fragmentation-rule violation.
func (a *assembler) feed(f *Frame) (messageEvent, error) {
	switch f.Opcode {
	case OpText, OpBinary:
		if a.inFragment {
			return messageEvent{}, fmt.Errorf("websocket: %w: opcode 0x%X", ErrInterruptedMessage, byte(f.Opcode))
		}
		if f.Fin {
			if f.Opcode == OpText && !utf8.Valid(f.Payload) {
				return messageEvent{}, fmt.Errorf("websocket: %w", ErrInvalidUTF8)
			}
			return messageEvent{msgType: MessageType(f.Opcode), payload: f.Payload, final: true}, nil
		}
		a.inFragment = true
		a.opcode = f.Opcode
		a.buf.Reset()
		a.buf.Write(f.Payload)
		return messageEvent{msgType: MessageType(f.Opcode), payload: f.Payload, final: false}, nil

	case OpContinuation:
		if !a.inFragment {
			return messageEvent{}, fmt.Errorf("websocket: %w", ErrUnexpectedContinuation)
		}
		a.buf.Write(f.Payload)
		if !f.Fin {
			return messageEvent{msgType: MessageType(a.opcode), payload: f.Payload, final: false}, nil
		}

		a.inFragment = false
		msgType := MessageType(a.opcode)
		full := make([]byte, a.buf.Len())
		copy(full, a.buf.Bytes())
		a.buf.Reset()

		if msgType == TextMessage && !utf8.Valid(full) {
			return messageEvent{}, fmt.Errorf("websocket: %w", ErrInvalidUTF8)
		}
		return messageEvent{msgType: msgType, payload: full, final: true}, nil

	default:
		return messageEvent{}, fmt.Errorf("websocket: %w: opcode 0x%X is not a data opcode", ErrProtocolError, byte(f.Opcode))
	}
}

// reset clears fragmentation state, used when a Conn is aborting a message
// in progress (e.g. after a protocol error forces a close).
func (a *assembler) reset() {
	a.inFragment = false
	a.opcode = 0
	a.buf.Reset()
}
