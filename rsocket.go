package rsocket

import "context"

// Message is one application-level payload: optional metadata plus
// data (spec.md §3's Payload shape, renamed here to avoid colliding
// with the wire-level Payload frame type).
type Message struct {
	Metadata []byte
	Data     []byte
}

// HasMetadata reports whether Metadata should be wire-encoded as
// present (nil means "no metadata block", not "empty metadata block").
func (m Message) HasMetadata() bool { return m.Metadata != nil }

// RSocket is the application-facing interface each connection exposes
// in both directions: the requester calls it to issue requests, the
// acceptor returns one to fulfil them (spec.md §6).
type RSocket interface {
	// MetadataPush sends connection-level metadata with no response.
	MetadataPush(ctx context.Context, metadata []byte) error

	// FireAndForget sends msg with no response expected.
	FireAndForget(ctx context.Context, msg Message) error

	// RequestResponse sends msg and awaits exactly one reply or error.
	RequestResponse(ctx context.Context, msg Message) (Message, error)

	// RequestStream opens a stream and returns a channel of StreamEvent
	// delivering payloads until a terminal Complete/Err.
	RequestStream(ctx context.Context, msg Message, initialRequestN uint32) (<-chan StreamEvent, error)

	// RequestChannel opens a bidirectional channel: outbound is read
	// from msgs until it closes (signalling local completion); inbound
	// payloads and the terminal signal are delivered on the returned
	// channel.
	RequestChannel(ctx context.Context, msgs <-chan Message, initialRequestN uint32) (<-chan StreamEvent, error)
}

// Acceptor is invoked once per accepted connection with the peer's
// SETUP payload and a requester RSocket bound to that connection; it
// returns the responder RSocket to fulfil requests from that peer
// (spec.md §6, §4.7).
type Acceptor func(setup Message, requester RSocket) (RSocket, error)

// HandlerFuncs is a cooperative-handler record: a struct of optional
// per-interaction closures with default-rejecting behavior for any
// left nil (spec.md §9's "Cooperative handlers"/"Builder DSL" design
// notes).
//
// Grounded on the teacher's fasthttp.RequestHandler single-function
// dispatch, expanded into one field per RSocket interaction since the
// four models have incompatible signatures.
type HandlerFuncs struct {
	MetadataPushFunc    func(ctx context.Context, metadata []byte)
	FireAndForgetFunc   func(ctx context.Context, msg Message)
	RequestResponseFunc func(ctx context.Context, msg Message) (Message, error)
	RequestStreamFunc   func(ctx context.Context, msg Message, initialRequestN uint32) (<-chan StreamEvent, error)
	RequestChannelFunc  func(ctx context.Context, msgs <-chan Message, initialRequestN uint32) (<-chan StreamEvent, error)

	// Requester is not set by the connection; callers may set it (e.g.
	// from the requester an Acceptor receives) so handler bodies can
	// issue their own requests back to the peer.
	Requester RSocket
}

var _ RSocket = (*HandlerFuncs)(nil)

func (h *HandlerFuncs) MetadataPush(ctx context.Context, metadata []byte) error {
	if h.MetadataPushFunc == nil {
		return NewConnectionError(ErrorRejected, "metadataPush not implemented")
	}
	h.MetadataPushFunc(ctx, metadata)
	return nil
}

func (h *HandlerFuncs) FireAndForget(ctx context.Context, msg Message) error {
	if h.FireAndForgetFunc == nil {
		return NewStreamError(0, ErrorRejected, "fireAndForget not implemented")
	}
	h.FireAndForgetFunc(ctx, msg)
	return nil
}

func (h *HandlerFuncs) RequestResponse(ctx context.Context, msg Message) (Message, error) {
	if h.RequestResponseFunc == nil {
		return Message{}, NewStreamError(0, ErrorRejected, "requestResponse not implemented")
	}
	return h.RequestResponseFunc(ctx, msg)
}

func (h *HandlerFuncs) RequestStream(ctx context.Context, msg Message, initialRequestN uint32) (<-chan StreamEvent, error) {
	if h.RequestStreamFunc == nil {
		return nil, NewStreamError(0, ErrorRejected, "requestStream not implemented")
	}
	return h.RequestStreamFunc(ctx, msg, initialRequestN)
}

func (h *HandlerFuncs) RequestChannel(ctx context.Context, msgs <-chan Message, initialRequestN uint32) (<-chan StreamEvent, error) {
	if h.RequestChannelFunc == nil {
		return nil, NewStreamError(0, ErrorRejected, "requestChannel not implemented")
	}
	return h.RequestChannelFunc(ctx, msgs, initialRequestN)
}
