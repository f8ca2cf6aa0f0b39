package rsocket

import (
	"context"
	"sync"
)

// StreamKind identifies which of the four interaction models a stream
// implements (spec.md §3, §4.5).
type StreamKind uint8

const (
	StreamKindFNF StreamKind = iota
	StreamKindRequestResponse
	StreamKindRequestStream
	StreamKindRequestChannel
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindFNF:
		return "fire-and-forget"
	case StreamKindRequestResponse:
		return "request-response"
	case StreamKindRequestStream:
		return "request-stream"
	case StreamKindRequestChannel:
		return "request-channel"
	default:
		return "unknown"
	}
}

// StreamRole distinguishes the peer that opened a stream from the peer
// fulfilling it.
type StreamRole uint8

const (
	RoleRequester StreamRole = iota
	RoleResponder
)

// StreamPhase is the per-stream lifecycle phase shared by all four
// FSMs (spec.md §3's Stream state shape).
type StreamPhase uint8

const (
	PhaseIdle StreamPhase = iota
	PhaseActive
	PhaseHalfClosedLocal
	PhaseHalfClosedRemote
	PhaseTerminated
)

func (p StreamPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseActive:
		return "Active"
	case PhaseHalfClosedLocal:
		return "HalfClosedLocal"
	case PhaseHalfClosedRemote:
		return "HalfClosedRemote"
	case PhaseTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// StreamEvent is one item delivered to a stream's application-facing
// consumer: either a payload, a terminal completion, or a terminal
// error. Exactly one of these populates a given event.
type StreamEvent struct {
	Metadata []byte
	Data     []byte
	HasNext  bool
	Complete bool
	Err      error
}

// Stream is the single-writer state of one multiplexed stream. It is
// fed by one ingress goroutine (the connection's read loop dispatching
// frames by stream id) and drives one egress mailbox; per spec.md §9's
// "Reference cycles" note, it holds only the connection's egress
// channel, never the connection itself, to avoid a reference cycle
// through the stream registry.
//
// Grounded on the teacher's Stream (stream.go) state/window fields,
// expanded from HTTP/2's single flow-control window into RSocket's
// four-FSM-by-kind model plus fragment reassembly.
type Stream struct {
	id   uint32
	role StreamRole
	kind StreamKind

	mu               sync.Mutex
	phase            StreamPhase
	outboundCredit   uint64
	inboundCredit    uint64
	cancelled        bool
	localComplete    bool
	remoteComplete   bool
	reassembler      Reassembler

	// inboundTracker paces RequestN replenishment for the demand this
	// side has granted the peer (nil until the stream is driving an
	// inbound flow: RequestStream's requester side, RequestChannel's
	// either side).
	inboundTracker *InboundCreditTracker

	// headComplete remembers RequestChannel's opening complete flag
	// across a fragmented head, since the responder handler isn't
	// invoked until reassembly finishes.
	headComplete bool

	// channelInbound carries payloads arriving on a responder-role
	// RequestChannel stream into the local handler's inbound parameter.
	channelInbound     chan Message
	channelInboundOnce sync.Once

	egress       chan<- *FrameHeader
	events       chan StreamEvent
	creditSignal chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// NewStream creates a stream in PhaseIdle, ready to be driven by
// Activate once the opening frame has been sent or received.
func NewStream(id uint32, role StreamRole, kind StreamKind, egress chan<- *FrameHeader) *Stream {
	return &Stream{
		id:           id,
		role:         role,
		kind:         kind,
		phase:        PhaseIdle,
		egress:       egress,
		events:       make(chan StreamEvent, 8),
		creditSignal: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// SetInboundTracker attaches the RequestN batching policy this side
// uses to replenish the peer's sending credit.
func (s *Stream) SetInboundTracker(t *InboundCreditTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboundTracker = t
}

// InboundTracker returns the attached tracker, or nil if none was set.
func (s *Stream) InboundTracker() *InboundCreditTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inboundTracker
}

func (s *Stream) ID() uint32        { return s.id }
func (s *Stream) Kind() StreamKind  { return s.kind }
func (s *Stream) Role() StreamRole  { return s.role }

func (s *Stream) Phase() StreamPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Events is the application-facing channel of payloads/terminal
// signals for this stream (spec.md §9's "lazy sequences" note: a
// push-pull channel coupled to credit).
func (s *Stream) Events() <-chan StreamEvent { return s.events }

// Done closes when the stream reaches PhaseTerminated.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Activate moves an Idle stream to Active, seeding outbound credit
// with initialOutboundCredit: a Responder passes the requester's
// initialRequestN, a Requester passes zero and waits for RequestN.
func (s *Stream) Activate(initialOutboundCredit uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return
	}
	s.phase = PhaseActive
	s.outboundCredit = initialOutboundCredit
}

// AddOutboundCredit applies a received RequestN, saturating at
// u64::MAX (spec.md §4.5 credit rules).
func (s *Stream) AddOutboundCredit(n uint64) {
	s.mu.Lock()
	if s.outboundCredit+n < s.outboundCredit {
		s.outboundCredit = ^uint64(0)
	} else {
		s.outboundCredit += n
	}
	s.mu.Unlock()

	select {
	case s.creditSignal <- struct{}{}:
	default:
	}
}

// WaitOutboundCredit blocks until one unit of outbound credit is
// available (consuming it before returning), ctx is done, or the
// stream terminates.
func (s *Stream) WaitOutboundCredit(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.phase == PhaseTerminated {
			s.mu.Unlock()
			return ErrStreamTerminated
		}
		if s.outboundCredit > 0 {
			s.outboundCredit--
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStreamTerminated
		case <-s.creditSignal:
		}
	}
}

// TryConsumeOutboundCredit consumes one unit of outbound credit,
// reporting whether the producer may emit a next payload (spec.md
// §4.5: "a responder must not emit a next payload without consuming
// one unit of outbound credit").
func (s *Stream) TryConsumeOutboundCredit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outboundCredit == 0 {
		return false
	}
	s.outboundCredit--
	return true
}

func (s *Stream) OutboundCredit() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outboundCredit
}

// deliver pushes ev to the application consumer. events is buffered
// and drained by the stream's single consumer; when the buffer is full,
// deliver blocks the caller until the consumer makes room or the
// stream's done channel closes.
func (s *Stream) deliver(ev StreamEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// HandleFragmentHead begins (or, for unfragmented frames, immediately
// finishes) reassembly for a REQUEST_* or PAYLOAD head frame. For a
// follows=true head, data is the first raw chunk of the chain's blob
// (as fragment.go builds it) and is fed to the reassembler as-is.
func (s *Stream) HandleFragmentHead(kind FrameType, follows, hasMetadata bool, metadata, data []byte) (done bool, rMetadata, rData []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !follows {
		return true, metadata, data, nil
	}
	s.reassembler.Begin(kind, hasMetadata)
	s.reassembler.Feed(data)
	return false, nil, nil, nil
}

// HandleFragmentContinuation feeds one Payload continuation frame into
// the in-flight reassembly for this stream.
func (s *Stream) HandleFragmentContinuation(follows bool, raw []byte) (done bool, metadata, data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reassembler.Active() {
		return false, nil, nil, NewConnectionError(ErrorConnectionError, "payload continuation with no active fragment chain")
	}
	s.reassembler.Feed(raw)
	if follows {
		return false, nil, nil, nil
	}
	metadata, data, err = s.reassembler.Finish()
	return true, metadata, data, err
}

// DeliverNext pushes one application-visible next-payload. Copies
// metadata/data so the caller may release the pool-backed frame body
// immediately afterwards.
func (s *Stream) DeliverNext(metadata, data []byte) {
	s.deliver(StreamEvent{
		Metadata: append([]byte(nil), metadata...),
		Data:     append([]byte(nil), data...),
		HasNext:  true,
	})
}

// Cancel implements the requester-side cancellation semantics of
// spec.md §5: send CANCEL, transition to Terminated, discard further
// inbound frames for this id.
func (s *Stream) Cancel() *FrameHeader {
	s.mu.Lock()
	already := s.cancelled || s.phase == PhaseTerminated
	s.cancelled = true
	s.mu.Unlock()

	s.terminate(nil)
	if already {
		return nil
	}

	c := AcquireFrame(FrameTypeCancel).(*Cancel)
	fh := AcquireFrameHeader()
	fh.SetStream(s.id)
	fh.SetBody(c)
	return fh
}

// ObserveComplete records a complete signal from one direction. For
// FNF/RequestResponse/RequestStream (single-direction completion) it
// terminates immediately. For RequestChannel it half-closes the
// relevant side and terminates only once both sides are closed, per
// spec.md §4.5 and the mutual-complete tie-break (concurrent completes
// from both peers terminate cleanly with no error).
func (s *Stream) ObserveComplete(local bool) {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}

	if s.kind != StreamKindRequestChannel {
		s.mu.Unlock()
		s.terminate(nil)
		return
	}

	if local {
		s.localComplete = true
	} else {
		s.remoteComplete = true
	}
	bothDone := s.localComplete && s.remoteComplete
	if bothDone {
		s.phase = PhaseTerminated
	} else if local {
		s.phase = PhaseHalfClosedLocal
	} else {
		s.phase = PhaseHalfClosedRemote
	}
	s.mu.Unlock()

	if bothDone {
		s.deliver(StreamEvent{Complete: true})
		s.closeDone()
	} else if !local {
		s.deliver(StreamEvent{Complete: true})
	}
}

// ObserveError terminates the stream with an application-visible
// error. Per the spec.md §4.5 tie-break, Error always wins a race
// against a concurrent complete.
func (s *Stream) ObserveError(err error) {
	s.terminate(err)
}

// terminate is the single idempotent path to PhaseTerminated (spec.md
// §8 property 5: Cancel/Error/Complete applied twice is a no-op after
// the first).
func (s *Stream) terminate(err error) {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseTerminated
	s.reassembler.Reset()
	s.mu.Unlock()

	if err != nil {
		s.deliver(StreamEvent{Err: err})
	} else {
		s.deliver(StreamEvent{Complete: true})
	}
	s.closeDone()
}

func (s *Stream) closeDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// HandlePeerCancel applies an inbound CANCEL: terminate with no error
// and no outbound frame (the requester already knows it cancelled).
func (s *Stream) HandlePeerCancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.terminate(nil)
}

func (s *Stream) SetHeadComplete(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headComplete = v
}

func (s *Stream) HeadComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headComplete
}

// EnsureChannelInbound lazily creates the inbound Message channel a
// responder-role RequestChannel handler reads from.
func (s *Stream) EnsureChannelInbound(bufSize int) chan Message {
	s.channelInboundOnce.Do(func() {
		s.mu.Lock()
		s.channelInbound = make(chan Message, bufSize)
		s.mu.Unlock()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelInbound
}

// CloseChannelInbound closes the inbound channel, if one was created,
// signalling the local handler that the peer has finished sending.
func (s *Stream) CloseChannelInbound() {
	s.mu.Lock()
	ch := s.channelInbound
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}
