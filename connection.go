package rsocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/domsolutions/rsocket/resume"
	"github.com/domsolutions/rsocket/transport"
)

// ConnPhase is the connection-wide lifecycle phase (spec.md §4.7, C7).
type ConnPhase uint8

const (
	ConnConnecting ConnPhase = iota
	ConnAwaitingSetup
	ConnEstablished
	ConnClosing
	ConnClosed
)

func (p ConnPhase) String() string {
	switch p {
	case ConnConnecting:
		return "Connecting"
	case ConnAwaitingSetup:
		return "AwaitingSetup"
	case ConnEstablished:
		return "Established"
	case ConnClosing:
		return "Closing"
	case ConnClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnRole distinguishes the side that sent SETUP from the side that
// received it; it picks the stream-id parity via IDAllocator.
type ConnRole uint8

const (
	ConnRoleClient ConnRole = iota
	ConnRoleServer
)

// Connection is one RSocket session: the connection FSM (C7), its
// keep-alive driver (C8), and error/close propagation (C9), all built
// around a transport.Transport. It implements RSocket itself, as the
// requester handed to an Acceptor and returned by Connect.
//
// Grounded on the teacher's Conn (conn.go): the in/out-mailbox
// writeLoop/readLoop split, the ping ticker racing against egress in
// one select, and the atomic-guarded Close/finish path, generalized
// from an HTTP/2-over-fasthttp connection to a transport-agnostic
// RSocket session carrying SETUP/stream-0 dispatch instead of HTTP
// semantics.
type Connection struct {
	t    transport.Transport
	role ConnRole
	opts ConnectionOptions

	ids      *IDAllocator
	registry *StreamRegistry
	lease    *LeaseState

	mu        sync.Mutex
	phase     ConnPhase
	closeErr  error
	responder RSocket

	egress chan *FrameHeader
	done   chan struct{}

	framesReceived   uint64
	keepaliveResetCh chan struct{}

	resumeStore resume.Store
	resumeToken []byte

	closeOnce sync.Once
}

var _ RSocket = (*Connection)(nil)

func newConnection(t transport.Transport, role ConnRole, opts ConnectionOptions) *Connection {
	var ids *IDAllocator
	if role == ConnRoleClient {
		ids = NewClientIDAllocator()
	} else {
		ids = NewServerIDAllocator()
	}
	return &Connection{
		t:                t,
		role:             role,
		opts:             opts,
		ids:              ids,
		registry:         NewStreamRegistry(),
		lease:            NewLeaseState(),
		egress:           make(chan *FrameHeader, 64),
		done:             make(chan struct{}),
		keepaliveResetCh: make(chan struct{}, 1),
		resumeStore:      opts.ResumeStore,
		resumeToken:      opts.ResumeToken,
	}
}

// Connect performs the client side of the handshake: send SETUP, then
// start the connection's read/write/keep-alive loops. responder
// fulfils any request the peer sends back over this connection.
func Connect(t transport.Transport, opts ConnectionOptions, responder RSocket) (*Connection, error) {
	opts = opts.WithDefaults()
	c := newConnection(t, ConnRoleClient, opts)
	c.responder = responder
	c.phase = ConnConnecting

	setup := AcquireFrame(FrameTypeSetup).(*Setup)
	setup.SetVersion(1, 0)
	setup.SetKeepAliveInterval(uint32(opts.KeepAliveInterval / time.Millisecond))
	setup.SetMaxLifetime(uint32(opts.KeepAliveMaxLifetime / time.Millisecond))
	setup.SetMetadataMimeType(opts.MetadataMimeType)
	setup.SetDataMimeType(opts.DataMimeType)
	setup.SetLeaseRequested(opts.LeaseEnabled)
	if opts.ResumeEnabled {
		setup.SetResumeToken(opts.ResumeToken)
	}
	setup.SetPayload(opts.SetupPayload.Metadata, opts.SetupPayload.Data)

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(setup)
	b, err := fh.EncodeFrame()
	ReleaseFrameHeader(fh)
	if err != nil {
		return nil, err
	}
	if err := t.SendFrame(b); err != nil {
		return nil, err
	}

	c.phase = ConnEstablished
	c.start()
	return c, nil
}

// Accept performs the server side of the handshake: block for the
// peer's first frame, which is either a SETUP (fresh connection) or a
// RESUME (reconnection attempt against opts.ResumeStore), validate it,
// invoke acceptor for the responder, then start the connection's loops.
func Accept(t transport.Transport, opts ConnectionOptions, acceptor Acceptor) (*Connection, error) {
	opts = opts.WithDefaults()
	c := newConnection(t, ConnRoleServer, opts)
	c.phase = ConnAwaitingSetup

	raw, err := t.ReceiveFrame()
	if err != nil {
		return nil, err
	}
	fh, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	defer ReleaseFrameHeader(fh)

	if res, isResume := fh.Body().(*Resume); isResume {
		return c.acceptResume(res, acceptor)
	}

	setup, ok := fh.Body().(*Setup)
	if !ok {
		c.rejectSetup(ErrorInvalidSetup, "first frame must be SETUP or RESUME")
		return nil, NewConnectionError(ErrorInvalidSetup, "first frame must be SETUP or RESUME")
	}
	major, _ := setup.Version()
	if major != 1 {
		c.rejectSetup(ErrorUnsupportedSetup, "unsupported major version")
		return nil, NewConnectionError(ErrorUnsupportedSetup, "unsupported major version")
	}

	if setup.LeaseRequested() {
		c.opts.LeaseEnabled = true
	}
	if iv := setup.KeepAliveInterval(); iv > 0 {
		c.opts.KeepAliveInterval = time.Duration(iv) * time.Millisecond
	}
	if ml := setup.MaxLifetime(); ml > 0 {
		c.opts.KeepAliveMaxLifetime = time.Duration(ml) * time.Millisecond
	}
	if setup.ResumeEnabled() {
		c.opts.ResumeEnabled = true
		c.resumeToken = append([]byte(nil), setup.ResumeToken()...)
	}

	setupMsg := Message{
		Metadata: append([]byte(nil), setup.Metadata()...),
		Data:     append([]byte(nil), setup.Data()...),
	}

	responder, err := acceptor(setupMsg, c)
	if err != nil {
		c.rejectSetup(ErrorRejectedSetup, err.Error())
		return nil, err
	}
	c.responder = responder
	c.phase = ConnEstablished
	c.start()
	return c, nil
}

func (c *Connection) rejectSetup(code ErrorCode, message string) {
	e := AcquireFrame(FrameTypeError).(*ErrorFrame)
	e.SetCode(code)
	e.SetData([]byte(message))
	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(e)
	b, err := fh.EncodeFrame()
	ReleaseFrameHeader(fh)
	if err == nil {
		_ = c.t.SendFrame(b)
	}
	_ = c.t.Close()
}

// acceptResume handles an inbound RESUME as Accept's first frame: it
// validates the token against opts.ResumeStore and, if known,
// re-invokes acceptor with an empty SETUP payload (RESUME carries no
// setup metadata to replay) to obtain a responder, then replies
// ResumeOK instead of establishing via SETUP.
//
// This recovers the token/position bookkeeping RESUME needs to be
// meaningful, but stops short of full stream migration: it does not
// replay frames the peer missed while disconnected, nor does it
// reattach to a still-live Connection's in-flight streams — both would
// require buffering every unacknowledged frame for the lifetime of the
// session, which is out of scope here (see DESIGN.md).
func (c *Connection) acceptResume(res *Resume, acceptor Acceptor) (*Connection, error) {
	major, _ := res.Version()
	if major != 1 {
		c.rejectSetup(ErrorUnsupportedSetup, "unsupported major version")
		return nil, NewConnectionError(ErrorUnsupportedSetup, "unsupported major version")
	}
	if c.opts.ResumeStore == nil {
		c.rejectSetup(ErrorRejectedResume, "resume is not supported by this server")
		return nil, NewConnectionError(ErrorRejectedResume, "resume is not supported by this server")
	}

	token := append([]byte(nil), res.ResumeToken()...)
	position, ok, err := c.opts.ResumeStore.Load(context.Background(), token)
	if err != nil || !ok {
		c.rejectSetup(ErrorRejectedResume, "unknown resume token")
		return nil, NewConnectionError(ErrorRejectedResume, "unknown resume token")
	}

	c.opts.ResumeEnabled = true
	c.resumeToken = token

	responder, err := acceptor(Message{}, c)
	if err != nil {
		c.rejectSetup(ErrorRejectedResume, err.Error())
		return nil, err
	}
	c.responder = responder

	ok2 := AcquireFrame(FrameTypeResumeOK).(*ResumeOK)
	ok2.SetLastReceivedClientPosition(position)
	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(ok2)
	b, encErr := fh.EncodeFrame()
	ReleaseFrameHeader(fh)
	if encErr != nil {
		return nil, encErr
	}
	if err := c.t.SendFrame(b); err != nil {
		return nil, err
	}

	c.phase = ConnEstablished
	c.start()
	return c, nil
}

func (c *Connection) start() {
	go c.writeLoop()
	go c.readLoop()
	go c.keepaliveWatchdog()
}

// Phase reports the connection's current lifecycle phase.
func (c *Connection) Phase() ConnPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Done closes once the connection reaches ConnClosed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close begins an orderly local shutdown: every live stream is
// terminated with ErrConnectionClosed and the transport is released.
func (c *Connection) Close() error {
	c.fail(nil)
	return nil
}

// fail drives the connection to Closed. A nil err means a local,
// orderly close; a non-nil err is the reason every live stream and the
// transport gets torn down with (spec.md §4.7, C9).
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.phase = ConnClosing
		c.closeErr = err
		c.mu.Unlock()

		terminal := err
		if terminal == nil {
			terminal = ErrConnectionClosed
		}
		c.registry.ForEach(func(id uint32, st StreamHandle) {
			st.ObserveError(terminal)
		})

		_ = c.t.Close()
		close(c.done)

		c.mu.Lock()
		c.phase = ConnClosed
		c.mu.Unlock()
	})
}

func (c *Connection) enqueue(fh *FrameHeader) {
	select {
	case c.egress <- fh:
	case <-c.done:
		ReleaseFrameHeader(fh)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case fh, ok := <-c.egress:
			if !ok {
				return
			}
			b, err := fh.EncodeFrame()
			ReleaseFrameHeader(fh)
			if err != nil {
				c.opts.Logger.Printf("rsocket: encode failed: %v", err)
				continue
			}
			if err := c.t.SendFrame(b); err != nil {
				c.fail(NewConnectionError(ErrorConnectionError, err.Error()))
				return
			}
		case <-ticker.C:
			c.sendKeepAliveDirect(true)
			c.saveResumePosition()
		case <-c.done:
			return
		}
	}
}

// saveResumePosition persists the connection's last-received frame
// position to ResumeStore, piggybacking on the keep-alive tick rather
// than every frame so a FileStore-backed rewrite-whole-snapshot Save
// doesn't sit on the read hot path.
func (c *Connection) saveResumePosition() {
	if !c.opts.ResumeEnabled || c.resumeStore == nil {
		return
	}
	pos := atomic.LoadUint64(&c.framesReceived)
	token := append([]byte(nil), c.resumeToken...)
	go func() {
		if err := c.resumeStore.Save(context.Background(), token, pos); err != nil {
			c.opts.Logger.Printf("rsocket: resume: saving position for token: %v", err)
		}
	}()
}

// sendKeepAliveDirect writes straight to the transport; only writeLoop
// (the sole transport writer) may call this.
func (c *Connection) sendKeepAliveDirect(respond bool) {
	k := AcquireFrame(FrameTypeKeepAlive).(*KeepAlive)
	k.SetRespond(respond)
	k.SetLastReceivedPosition(atomic.LoadUint64(&c.framesReceived))
	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(k)
	b, err := fh.EncodeFrame()
	ReleaseFrameHeader(fh)
	if err != nil {
		return
	}
	if err := c.t.SendFrame(b); err != nil {
		c.fail(NewConnectionError(ErrorConnectionError, err.Error()))
	}
}

func (c *Connection) readLoop() {
	for {
		raw, err := c.t.ReceiveFrame()
		if err != nil {
			c.fail(NewConnectionError(ErrorConnectionError, err.Error()))
			return
		}
		atomic.AddUint64(&c.framesReceived, 1)
		c.resetKeepaliveDeadline()

		fh, err := DecodeFrame(raw)
		if err != nil {
			if rerr, ok := err.(Error); ok && !rerr.IsConnectionScoped() {
				c.opts.Logger.Printf("rsocket: dropping malformed stream frame: %v", rerr)
				continue
			}
			c.fail(err)
			return
		}

		c.dispatch(fh)
	}
}

func (c *Connection) keepaliveWatchdog() {
	timer := time.NewTimer(c.opts.KeepAliveMaxLifetime)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			c.fail(ErrKeepaliveTimeout)
			return
		case <-c.keepaliveResetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.opts.KeepAliveMaxLifetime)
		case <-c.done:
			return
		}
	}
}

func (c *Connection) resetKeepaliveDeadline() {
	select {
	case c.keepaliveResetCh <- struct{}{}:
	default:
	}
}

func (c *Connection) dispatch(fh *FrameHeader) {
	if fh.Stream() == 0 {
		c.dispatchConnectionFrame(fh)
		return
	}
	c.dispatchStreamFrame(fh)
}

func (c *Connection) dispatchConnectionFrame(fh *FrameHeader) {
	defer ReleaseFrameHeader(fh)

	switch body := fh.Body().(type) {
	case *KeepAlive:
		if body.Respond() {
			c.echoKeepAlive(body.Data())
		}
	case *Lease:
		c.lease.Update(body.TTL(), body.NumberOfRequests())
	case *MetadataPush:
		if c.responder != nil {
			md := append([]byte(nil), body.Metadata()...)
			go func() { _ = c.responder.MetadataPush(context.Background(), md) }()
		}
	case *ErrorFrame:
		c.fail(NewConnectionError(body.Code(), string(body.Data())))
	case *Resume, *ResumeOK:
		c.opts.Logger.Printf("rsocket: resume is not negotiated by this connection; ignoring %s", fh.Type())
	default:
		c.opts.IgnoredFrameConsumer(0, fh.Type(), nil)
	}
}

func (c *Connection) echoKeepAlive(data []byte) {
	k := AcquireFrame(FrameTypeKeepAlive).(*KeepAlive)
	k.SetRespond(false)
	k.SetLastReceivedPosition(atomic.LoadUint64(&c.framesReceived))
	k.SetData(data)
	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(k)
	c.enqueue(fh)
}

func (c *Connection) dispatchStreamFrame(fh *FrameHeader) {
	id := fh.Stream()
	st := c.registry.Get(id)
	if st == nil {
		switch fh.Body().(type) {
		case *RequestResponse, *RequestFNF, *RequestStream, *RequestChannel:
			c.openResponderStream(fh)
		default:
			ReleaseFrameHeader(fh)
			c.opts.IgnoredFrameConsumer(id, fh.Type(), nil)
		}
		return
	}
	c.routeToStream(st, fh)
}

func (c *Connection) openResponderStream(fh *FrameHeader) {
	id := fh.Stream()
	var kind StreamKind
	switch fh.Body().(type) {
	case *RequestResponse:
		kind = StreamKindRequestResponse
	case *RequestFNF:
		kind = StreamKindFNF
	case *RequestStream:
		kind = StreamKindRequestStream
	case *RequestChannel:
		kind = StreamKindRequestChannel
	}

	st := NewStream(id, RoleResponder, kind, c.egress)
	if err := c.registry.Insert(id, st); err != nil {
		ReleaseFrameHeader(fh)
		c.opts.Logger.Printf("rsocket: duplicate stream id %d from peer", id)
		return
	}
	c.routeToStream(st, fh)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (c *Connection) routeToStream(st StreamHandle, fh *FrameHeader) {
	defer ReleaseFrameHeader(fh)

	switch body := fh.Body().(type) {
	case *RequestResponse:
		st.Activate(0)
		done, md, data, err := st.HandleFragmentHead(FrameTypeRequestResponse, body.Follows(), body.HasMetadata(), body.Metadata(), body.Data())
		if err != nil {
			c.abortStream(st, err)
			return
		}
		if done {
			c.beginRequestResponse(st, Message{Metadata: cloneBytes(md), Data: cloneBytes(data)})
		}

	case *RequestFNF:
		st.Activate(0)
		done, md, data, err := st.HandleFragmentHead(FrameTypeRequestFNF, body.Follows(), body.HasMetadata(), body.Metadata(), body.Data())
		if err != nil {
			c.abortStream(st, err)
			return
		}
		if done {
			c.beginFireAndForget(st, Message{Metadata: cloneBytes(md), Data: cloneBytes(data)})
		}

	case *RequestStream:
		st.Activate(uint64(body.InitialRequestN()))
		done, md, data, err := st.HandleFragmentHead(FrameTypeRequestStream, body.Follows(), body.HasMetadata(), body.Metadata(), body.Data())
		if err != nil {
			c.abortStream(st, err)
			return
		}
		if done {
			c.beginRequestStream(st, Message{Metadata: cloneBytes(md), Data: cloneBytes(data)}, body.InitialRequestN())
		}

	case *RequestChannel:
		st.Activate(uint64(body.InitialRequestN()))
		st.SetHeadComplete(body.Complete())
		// The responder's own consumption of the requester's post-head
		// items needs exactly the same batching policy the requester
		// uses for the responder's replies: without it the requester's
		// outbound credit (seeded at zero, see RequestChannel below)
		// would never be replenished past the declared initialRequestN.
		st.SetInboundTracker(NewInboundCreditTracker(c.opts.InitialRequestN))
		done, md, data, err := st.HandleFragmentHead(FrameTypeRequestChannel, body.Follows(), body.HasMetadata(), body.Metadata(), body.Data())
		if err != nil {
			c.abortStream(st, err)
			return
		}
		if done {
			c.beginRequestChannel(st, Message{Metadata: cloneBytes(md), Data: cloneBytes(data)}, body.InitialRequestN())
		}

	case *Payload:
		c.handlePayloadFrame(st, body)

	case *RequestN:
		if st.reassemblerActive() {
			c.fail(NewConnectionError(ErrorConnectionError, "REQUEST_N received mid-fragment-chain"))
			return
		}
		st.AddOutboundCredit(uint64(body.N()))

	case *Cancel:
		if st.reassemblerActive() {
			c.fail(NewConnectionError(ErrorConnectionError, "CANCEL received mid-fragment-chain"))
			return
		}
		c.registry.Remove(st.ID())
		st.HandlePeerCancel()

	case *ErrorFrame:
		if st.reassemblerActive() {
			c.fail(NewConnectionError(ErrorConnectionError, "ERROR received mid-fragment-chain"))
			return
		}
		c.registry.Remove(st.ID())
		st.ObserveError(NewStreamError(st.ID(), body.Code(), string(body.Data())))
	}
}

func (c *Connection) abortStream(st StreamHandle, err error) {
	c.registry.Remove(st.ID())
	st.ObserveError(err)
}

// handlePayloadFrame routes one inbound PAYLOAD frame, either a
// fragment continuation of an in-flight reassembly or, once a chain
// completes, an application-visible item.
func (c *Connection) handlePayloadFrame(st StreamHandle, body *Payload) {
	if !body.Follows() && !st.reassemblerActive() {
		if !body.IsWellFormed() {
			c.abortStream(st, NewStreamError(st.ID(), ErrorConnectionError, "payload frame has next=0, complete=0, follows=0"))
			return
		}
		c.deliverPayload(st, body.Next(), body.Complete(), body.Metadata(), body.Data())
		return
	}

	raw := buildBlob(body.Metadata(), body.HasMetadata(), body.Data())
	if !st.reassemblerActive() {
		// this Payload frame is itself the head of a fragmented reply or
		// channel item (FragmentPayload), so it starts a new chain.
		if _, _, _, err := st.HandleFragmentHead(FrameTypePayload, true, body.HasMetadata(), body.Metadata(), body.Data()); err != nil {
			c.abortStream(st, err)
		}
		return
	}
	done, metadata, data, err := st.HandleFragmentContinuation(body.Follows(), raw)
	if err != nil {
		c.abortStream(st, err)
		return
	}
	if done {
		// body.Follows() is false here (that's what made done true), so
		// the same next=0/complete=0 combination is just as malformed on
		// the terminal fragment of a chain as on an unfragmented frame.
		if !body.IsWellFormed() {
			c.abortStream(st, NewStreamError(st.ID(), ErrorConnectionError, "payload frame has next=0, complete=0, follows=0"))
			return
		}
		c.deliverPayload(st, body.Next(), body.Complete(), metadata, data)
	}
}

func (c *Connection) deliverPayload(st StreamHandle, next, complete bool, metadata, data []byte) {
	if next {
		switch st.Kind() {
		case StreamKindRequestChannel:
			if st.Role() == RoleResponder {
				ch := st.EnsureChannelInbound(8)
				select {
				case ch <- Message{Metadata: cloneBytes(metadata), Data: cloneBytes(data)}:
				case <-st.Done():
				}
				if tr := st.InboundTracker(); tr != nil {
					if n := tr.Consume(); n > 0 {
						c.sendRequestN(st.ID(), n)
					}
				}
			} else {
				st.DeliverNext(metadata, data)
				if tr := st.InboundTracker(); tr != nil {
					if n := tr.Consume(); n > 0 {
						c.sendRequestN(st.ID(), n)
					}
				}
			}
		default:
			st.DeliverNext(metadata, data)
			if tr := st.InboundTracker(); tr != nil {
				if n := tr.Consume(); n > 0 {
					c.sendRequestN(st.ID(), n)
				}
			}
		}
	}
	if complete {
		if st.Kind() == StreamKindRequestChannel && st.Role() == RoleResponder {
			st.CloseChannelInbound()
		}
		st.ObserveComplete(false)
		if st.Phase() == PhaseTerminated {
			c.registry.Remove(st.ID())
		}
	}
}

func (c *Connection) sendRequestN(stream uint32, n uint32) {
	rn := AcquireFrame(FrameTypeRequestN).(*RequestN)
	if err := rn.SetN(n); err != nil {
		ReleaseFrame(rn)
		return
	}
	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(rn)
	c.enqueue(fh)
}

// beginRequestResponse invokes the local responder for an inbound
// REQUEST_RESPONSE and streams back its single reply or error.
func (c *Connection) beginRequestResponse(st StreamHandle, msg Message) {
	go func() {
		reply, err := c.responder.RequestResponse(context.Background(), msg)
		c.registry.Remove(st.ID())
		if err != nil {
			c.sendStreamError(st.ID(), err)
			st.ObserveError(err)
			return
		}
		for _, fh := range FragmentPayload(st.ID(), true, true, reply.Metadata, reply.HasMetadata(), reply.Data, c.opts.FragmentationMTU) {
			c.enqueue(fh)
		}
		st.ObserveComplete(true)
	}()
}

func (c *Connection) beginFireAndForget(st StreamHandle, msg Message) {
	c.registry.Remove(st.ID())
	go func() {
		_ = c.responder.FireAndForget(context.Background(), msg)
		st.ObserveComplete(true)
	}()
}

func (c *Connection) beginRequestStream(st StreamHandle, msg Message, initialRequestN uint32) {
	go func() {
		events, err := c.responder.RequestStream(context.Background(), msg, initialRequestN)
		if err != nil {
			c.registry.Remove(st.ID())
			c.sendStreamError(st.ID(), err)
			st.ObserveError(err)
			return
		}
		c.pumpResponderEvents(st, events)
	}()
}

func (c *Connection) beginRequestChannel(st StreamHandle, msg Message, initialRequestN uint32) {
	inbound := st.EnsureChannelInbound(8)
	inbound <- msg
	if st.HeadComplete() {
		close(inbound)
	} else {
		// The wire head frame only ever carries one InitialRequestN, which
		// seeds our own outbound credit above; the peer's post-head send
		// credit is activated at zero (see RequestChannel) and depends
		// entirely on REQUEST_N frames we choose to send. Grant the first
		// batch up front, the same way subscribing to an inbound publisher
		// would request(n) immediately in a reactive-streams responder.
		c.sendRequestN(st.ID(), c.opts.InitialRequestN)
	}

	go func() {
		events, err := c.responder.RequestChannel(context.Background(), inbound, initialRequestN)
		if err != nil {
			c.registry.Remove(st.ID())
			c.sendStreamError(st.ID(), err)
			st.ObserveError(err)
			return
		}
		c.pumpResponderEvents(st, events)
	}()
}

// pumpResponderEvents drains a local handler's outbound StreamEvent
// channel, gating each next-payload on the peer-granted outbound
// credit and fragmenting per the negotiated MTU.
func (c *Connection) pumpResponderEvents(st StreamHandle, events <-chan StreamEvent) {
	for ev := range events {
		if ev.Err != nil {
			c.registry.Remove(st.ID())
			c.sendStreamError(st.ID(), ev.Err)
			st.ObserveError(ev.Err)
			return
		}
		if ev.HasNext {
			if err := st.WaitOutboundCredit(context.Background()); err != nil {
				return
			}
			hasMetadata := ev.Metadata != nil
			for _, fh := range FragmentPayload(st.ID(), true, false, ev.Metadata, hasMetadata, ev.Data, c.opts.FragmentationMTU) {
				c.enqueue(fh)
			}
		}
		if ev.Complete {
			for _, fh := range FragmentPayload(st.ID(), false, true, nil, false, nil, c.opts.FragmentationMTU) {
				c.enqueue(fh)
			}
			st.ObserveComplete(true)
			if st.Phase() == PhaseTerminated {
				c.registry.Remove(st.ID())
			}
			return
		}
	}
}

func (c *Connection) sendStreamError(stream uint32, err error) {
	code := ErrorApplicationError
	message := err.Error()
	if rerr, ok := err.(Error); ok {
		code = rerr.Code
		message = rerr.Message
	}
	e := AcquireFrame(FrameTypeError).(*ErrorFrame)
	e.SetCode(code)
	e.SetData([]byte(message))
	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(e)
	c.enqueue(fh)
}

// ---- RSocket interface: the requester side this connection exposes ----

// MetadataPush sends connection-level metadata with no response.
func (c *Connection) MetadataPush(ctx context.Context, metadata []byte) error {
	if !c.lease.Allow() {
		return NewConnectionError(ErrorRejected, "lease quota exhausted")
	}
	m := AcquireFrame(FrameTypeMetadataPush).(*MetadataPush)
	m.SetMetadata(metadata)
	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(m)
	c.enqueue(fh)
	return nil
}

// FireAndForget sends msg with no response expected.
func (c *Connection) FireAndForget(ctx context.Context, msg Message) error {
	if !c.lease.Allow() {
		return NewConnectionError(ErrorRejected, "lease quota exhausted")
	}
	id := c.ids.Next(c.registry, NewStream(0, RoleRequester, StreamKindFNF, c.egress))
	c.registry.Remove(id)

	for _, fh := range FragmentRequestFNF(id, msg.Metadata, msg.HasMetadata(), msg.Data, c.opts.FragmentationMTU) {
		c.enqueue(fh)
	}
	return nil
}

// RequestResponse sends msg and awaits exactly one reply or error.
func (c *Connection) RequestResponse(ctx context.Context, msg Message) (Message, error) {
	if !c.lease.Allow() {
		return Message{}, NewConnectionError(ErrorRejected, "lease quota exhausted")
	}

	st := NewStream(0, RoleRequester, StreamKindRequestResponse, c.egress)
	id := c.ids.Next(c.registry, st)
	st.idAssigned(id)
	st.Activate(0)

	for _, fh := range FragmentRequestResponse(id, msg.Metadata, msg.HasMetadata(), msg.Data, c.opts.FragmentationMTU) {
		c.enqueue(fh)
	}

	select {
	case ev := <-st.Events():
		c.registry.Remove(id)
		if ev.Err != nil {
			return Message{}, ev.Err
		}
		return Message{Metadata: ev.Metadata, Data: ev.Data}, nil
	case <-ctx.Done():
		c.cancelRequesterStream(st)
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrConnectionClosed
	}
}

// RequestStream opens a stream and returns a channel of StreamEvent
// delivering payloads until a terminal Complete/Err.
func (c *Connection) RequestStream(ctx context.Context, msg Message, initialRequestN uint32) (<-chan StreamEvent, error) {
	if !c.lease.Allow() {
		return nil, NewConnectionError(ErrorRejected, "lease quota exhausted")
	}
	if initialRequestN == 0 {
		initialRequestN = c.opts.InitialRequestN
	}

	st := NewStream(0, RoleRequester, StreamKindRequestStream, c.egress)
	id := c.ids.Next(c.registry, st)
	st.idAssigned(id)
	st.Activate(0)
	st.SetInboundTracker(NewInboundCreditTracker(initialRequestN))

	fhs, err := FragmentRequestStream(id, initialRequestN, msg.Metadata, msg.HasMetadata(), msg.Data, c.opts.FragmentationMTU)
	if err != nil {
		c.registry.Remove(id)
		return nil, err
	}
	for _, fh := range fhs {
		c.enqueue(fh)
	}

	go c.watchRequesterCancellation(ctx, st)
	return st.Events(), nil
}

// RequestChannel opens a bidirectional channel: outbound is read from
// msgs until it closes, inbound payloads and the terminal signal are
// delivered on the returned channel.
func (c *Connection) RequestChannel(ctx context.Context, msgs <-chan Message, initialRequestN uint32) (<-chan StreamEvent, error) {
	if !c.lease.Allow() {
		return nil, NewConnectionError(ErrorRejected, "lease quota exhausted")
	}
	if initialRequestN == 0 {
		initialRequestN = c.opts.InitialRequestN
	}

	st := NewStream(0, RoleRequester, StreamKindRequestChannel, c.egress)
	id := c.ids.Next(c.registry, st)
	st.idAssigned(id)
	st.SetInboundTracker(NewInboundCreditTracker(initialRequestN))
	// Outbound credit for items pushed after the head is granted solely
	// by the responder's own REQUEST_N frames, so this starts at zero.
	st.Activate(0)

	first, hasFirst := <-msgs
	fhs, err := FragmentRequestChannel(id, initialRequestN, !hasFirst, first.Metadata, first.HasMetadata(), first.Data, c.opts.FragmentationMTU)
	if err != nil {
		c.registry.Remove(id)
		return nil, err
	}
	for _, fh := range fhs {
		c.enqueue(fh)
	}
	if hasFirst {
		go c.pumpRequesterOutbound(st, msgs)
	} else {
		st.ObserveComplete(true)
	}

	go c.watchRequesterCancellation(ctx, st)
	return st.Events(), nil
}

// idAssigned is a tiny helper letting the connection set a stream's id
// after NewStream(0, ...) was used as IDAllocator's placeholder value;
// IDAllocator.Next only needs a distinct pointer to register, not a
// pre-populated id.
func (s *Stream) idAssigned(id uint32) { s.id = id }

func (s *Stream) reassemblerActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reassembler.Active()
}

func (c *Connection) pumpRequesterOutbound(st StreamHandle, msgs <-chan Message) {
	for msg := range msgs {
		if err := st.WaitOutboundCredit(context.Background()); err != nil {
			return
		}
		for _, fh := range FragmentPayload(st.ID(), true, false, msg.Metadata, msg.HasMetadata(), msg.Data, c.opts.FragmentationMTU) {
			c.enqueue(fh)
		}
	}
	for _, fh := range FragmentPayload(st.ID(), false, true, nil, false, nil, c.opts.FragmentationMTU) {
		c.enqueue(fh)
	}
	st.ObserveComplete(true)
}

// watchRequesterCancellation sends CANCEL if ctx is done before the
// stream reaches its own terminal state, and in all cases removes the
// stream from the registry once it is done with it.
func (c *Connection) watchRequesterCancellation(ctx context.Context, st StreamHandle) {
	select {
	case <-ctx.Done():
		c.cancelRequesterStream(st)
	case <-st.Done():
		c.registry.Remove(st.ID())
	}
}

func (c *Connection) cancelRequesterStream(st StreamHandle) {
	if fh := st.Cancel(); fh != nil {
		c.enqueue(fh)
	}
	c.registry.Remove(st.ID())
}
