package websocket

// ExtensionTransform is a per-direction payload transform a negotiated
// extension could apply between the frame codec and the message assembler
// (spec.md §9 Design Notes). No extension is negotiated by this package —
// Sec-WebSocket-Extensions is parsed by the server but never acted on (spec.md
// §4.3) — so this hook has no built-in implementation and Conn's default
// leaves it nil.
//
// A future permessage-deflate package would implement Decode to inflate an
// inbound frame's payload before it reaches the assembler, and Encode to
// deflate an outbound payload before framing, keyed by the RSV1 bit the
// extension reserves for itself.
type ExtensionTransform interface {
	// Decode transforms an inbound frame payload. rsv1 is the frame's RSV1
	// bit, which permessage-deflate uses to mark compressed frames.
	Decode(payload []byte, rsv1 bool) ([]byte, error)

	// Encode transforms an outbound payload before it is framed, and
	// reports the RSV1 bit to set on the resulting frame.
	Encode(payload []byte) (out []byte, rsv1 bool, err error)
}
