package rsocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domsolutions/rsocket/resume"
	"github.com/domsolutions/rsocket/transport"
)

// dialPair wires a client/server Connection over an in-memory Transport
// pair, running the handshake synchronously so the returned
// connections are already Established.
func dialPair(t *testing.T, clientResponder RSocket, acceptor Acceptor) (client, server *Connection) {
	t.Helper()
	clientT, serverT := transport.NewLocalPair(16)

	type acceptResult struct {
		c   *Connection
		err error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		c, err := Accept(serverT, ConnectionOptions{}, acceptor)
		acceptCh <- acceptResult{c, err}
	}()

	clientConn, err := Connect(clientT, ConnectionOptions{}, clientResponder)
	require.NoError(t, err)

	res := <-acceptCh
	require.NoError(t, res.err)

	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = res.c.Close()
	})

	return clientConn, res.c
}

func TestConnectAcceptHandshakeEstablishesBothSides(t *testing.T) {
	var capturedSetup Message
	client, server := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		capturedSetup = setup
		return &HandlerFuncs{}, nil
	})

	assert.Equal(t, ConnEstablished, client.Phase())
	assert.Equal(t, ConnEstablished, server.Phase())
	assert.Equal(t, DefaultDataMimeType, MimeApplicationJSON) // sanity: defaults are wired
	_ = capturedSetup
}

func TestRequestResponseRoundTrip(t *testing.T) {
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			RequestResponseFunc: func(ctx context.Context, msg Message) (Message, error) {
				return Message{Data: append([]byte("echo: "), msg.Data...)}, nil
			},
		}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := client.RequestResponse(ctx, Message{Data: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, []byte("echo: hi"), reply.Data)
}

func TestRequestResponseApplicationError(t *testing.T) {
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			RequestResponseFunc: func(ctx context.Context, msg Message) (Message, error) {
				return Message{}, NewStreamError(0, ErrorApplicationError, "nope")
			},
		}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.RequestResponse(ctx, Message{Data: []byte("hi")})
	require.Error(t, err)
	rerr, ok := err.(Error)
	require.True(t, ok, "expected a stream-scoped Error, got %T: %v", err, err)
	assert.Equal(t, ErrorApplicationError, rerr.Code)
	assert.Equal(t, "nope", rerr.Message)
}

func TestFireAndForgetInvokesHandler(t *testing.T) {
	received := make(chan []byte, 1)
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			FireAndForgetFunc: func(ctx context.Context, msg Message) {
				received <- msg.Data
			},
		}, nil
	})

	require.NoError(t, client.FireAndForget(context.Background(), Message{Data: []byte("ping")}))

	select {
	case data := <-received:
		assert.Equal(t, []byte("ping"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("fire-and-forget was never delivered")
	}
}

func TestMetadataPushInvokesHandler(t *testing.T) {
	received := make(chan []byte, 1)
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			MetadataPushFunc: func(ctx context.Context, metadata []byte) {
				received <- metadata
			},
		}, nil
	})

	require.NoError(t, client.MetadataPush(context.Background(), []byte("route-to-x")))

	select {
	case md := <-received:
		assert.Equal(t, []byte("route-to-x"), md)
	case <-time.After(2 * time.Second):
		t.Fatal("metadata push was never delivered")
	}
}

func TestRequestStreamDeliversAllItemsAndCompletes(t *testing.T) {
	const total = 10
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			RequestStreamFunc: func(ctx context.Context, msg Message, initialRequestN uint32) (<-chan StreamEvent, error) {
				out := make(chan StreamEvent, 1)
				go func() {
					defer close(out)
					for i := 0; i < total; i++ {
						out <- StreamEvent{Data: []byte{byte(i)}, HasNext: true}
					}
					out <- StreamEvent{Complete: true}
				}()
				return out, nil
			},
		}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := client.RequestStream(ctx, Message{Data: []byte("go")}, 3)
	require.NoError(t, err)

	var items int
	completed := false
loop:
	for {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("unexpected stream error: %v", ev.Err)
			}
			if ev.HasNext {
				items++
			}
			if ev.Complete {
				completed = true
				break loop
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for stream to complete")
		}
	}

	assert.Equal(t, total, items)
	assert.True(t, completed)
}

func TestRequestChannelEchoesEachItem(t *testing.T) {
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			RequestChannelFunc: func(ctx context.Context, msgs <-chan Message, initialRequestN uint32) (<-chan StreamEvent, error) {
				out := make(chan StreamEvent, 1)
				go func() {
					defer close(out)
					for msg := range msgs {
						out <- StreamEvent{Data: append([]byte("got "), msg.Data...), HasNext: true}
					}
					out <- StreamEvent{Complete: true}
				}()
				return out, nil
			},
		}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	outbound := make(chan Message, 4)
	outbound <- Message{Data: []byte("one")}
	outbound <- Message{Data: []byte("two")}
	close(outbound)

	events, err := client.RequestChannel(ctx, outbound, 8)
	require.NoError(t, err)

	var got [][]byte
	for {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("unexpected channel error: %v", ev.Err)
			}
			if ev.HasNext {
				got = append(got, ev.Data)
			}
			if ev.Complete {
				assert.Equal(t, [][]byte{[]byte("got one"), []byte("got two")}, got)
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for channel to complete")
		}
	}
}

func TestRequestStreamCancellationStopsDelivery(t *testing.T) {
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			RequestStreamFunc: func(ctx context.Context, msg Message, initialRequestN uint32) (<-chan StreamEvent, error) {
				out := make(chan StreamEvent)
				go func() {
					defer close(out)
					<-ctx.Done()
				}()
				return out, nil
			},
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.RequestStream(ctx, Message{Data: []byte("go")}, 1)
	require.NoError(t, err)

	cancel()

	select {
	case ev := <-events:
		assert.True(t, ev.Complete, "cancelling the requester side should surface a local terminal Complete")
	case <-time.After(2 * time.Second):
		t.Fatal("RequestStream did not react to context cancellation")
	}
}

func TestConnectionCloseFansOutToLiveStreams(t *testing.T) {
	neverReplies := make(chan struct{})
	client, _ := dialPair(t, &HandlerFuncs{}, func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{
			RequestResponseFunc: func(ctx context.Context, msg Message) (Message, error) {
				<-neverReplies
				return Message{}, nil
			},
		}, nil
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		client.Close()
	}()

	_, err := client.RequestResponse(context.Background(), Message{Data: []byte("hang")})
	require.Error(t, err)
	assert.Equal(t, ErrConnectionClosed, err)
}

// blackholeTransport never delivers a frame, letting a keepalive
// watchdog test run to its timeout with no peer to echo KEEPALIVEs
// back and reset the deadline.
type blackholeTransport struct {
	closed chan struct{}
}

func newBlackholeTransport() *blackholeTransport {
	return &blackholeTransport{closed: make(chan struct{})}
}

func (b *blackholeTransport) ReceiveFrame() ([]byte, error) {
	<-b.closed
	return nil, transport.ErrClosed
}

func (b *blackholeTransport) SendFrame(_ []byte) error {
	select {
	case <-b.closed:
		return transport.ErrClosed
	default:
		return nil
	}
}

func (b *blackholeTransport) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestKeepaliveTimeoutClosesConnection(t *testing.T) {
	tr := newBlackholeTransport()
	opts := ConnectionOptions{
		KeepAliveMaxLifetime: 30 * time.Millisecond,
		KeepAliveInterval:    time.Hour,
	}.WithDefaults()

	c := newConnection(tr, ConnRoleServer, opts)
	c.responder = &HandlerFuncs{}
	c.phase = ConnEstablished
	c.start()
	defer c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not time out waiting for keepalives")
	}
	assert.Equal(t, ConnClosed, c.Phase())
}

func TestRequestNMidFragmentChainClosesConnection(t *testing.T) {
	tr := newBlackholeTransport()
	c := newConnection(tr, ConnRoleServer, ConnectionOptions{}.WithDefaults())
	c.phase = ConnEstablished
	c.start()
	defer c.Close()

	st := NewStream(1, RoleResponder, StreamKindRequestResponse, c.egress)
	require.NoError(t, c.registry.Insert(1, st))
	st.Activate(0)

	// Begin a fragmented REQUEST_RESPONSE head (follows=true) so the
	// reassembler is left active, then interleave a REQUEST_N for the
	// same stream before the chain's terminal fragment ever arrives.
	done, _, _, err := st.HandleFragmentHead(FrameTypeRequestResponse, true, false, nil, []byte("part1"))
	require.NoError(t, err)
	require.False(t, done)

	fh := AcquireFrameHeader()
	fh.SetStream(1)
	n := AcquireFrame(FrameTypeRequestN).(*RequestN)
	require.NoError(t, n.SetN(1))
	fh.SetBody(n)

	c.routeToStream(st, fh)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a REQUEST_N mid-fragment-chain to close the connection")
	}
	assert.Equal(t, ConnClosed, c.Phase())
}

func TestHandlePayloadFrameRejectsMalformedFrame(t *testing.T) {
	tr := newBlackholeTransport()
	c := newConnection(tr, ConnRoleClient, ConnectionOptions{}.WithDefaults())
	c.phase = ConnEstablished

	st := NewStream(1, RoleRequester, StreamKindRequestResponse, c.egress)
	require.NoError(t, c.registry.Insert(1, st))
	st.Activate(0)

	body := AcquireFrame(FrameTypePayload).(*Payload)
	defer ReleaseFrame(body)
	// next=0, complete=0, follows=0: spec.md's malformed combination.

	c.handlePayloadFrame(st, body)

	select {
	case ev := <-st.Events():
		require.Error(t, ev.Err)
		rerr, ok := ev.Err.(Error)
		require.True(t, ok)
		assert.Equal(t, ErrorConnectionError, rerr.Code)
	default:
		t.Fatal("expected a terminal error event after a malformed payload frame")
	}
}

// TestDialResumableReconnectsViaResumeFrame exercises the full RESUME
// round trip: a first connection saves its position to a shared
// resume.Store on a keep-alive tick, then DialResumable — dialing a
// brand new transport pair — sends RESUME instead of SETUP and the
// server's Accept answers with RESUME_OK rather than invoking the
// fresh-SETUP acceptor.
func TestDialResumableReconnectsViaResumeFrame(t *testing.T) {
	store := resume.NewMemoryStore()
	token := []byte("reconnect-me")

	opts := ConnectionOptions{
		ResumeEnabled:     true,
		ResumeToken:       token,
		ResumeStore:       store,
		KeepAliveInterval: 20 * time.Millisecond,
	}.WithDefaults()

	acceptor := func(setup Message, requester RSocket) (RSocket, error) {
		return &HandlerFuncs{}, nil
	}

	clientT, serverT := transport.NewLocalPair(16)
	acceptCh := make(chan *Connection, 1)
	go func() {
		c, err := Accept(serverT, opts, acceptor)
		require.NoError(t, err)
		acceptCh <- c
	}()

	firstClient, err := Connect(clientT, opts, &HandlerFuncs{})
	require.NoError(t, err)
	firstServer := <-acceptCh

	// Wait for at least one keep-alive tick so the position gets saved.
	require.Eventually(t, func() bool {
		_, ok, _ := store.Load(context.Background(), token)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	firstClient.Close()
	firstServer.Close()

	var dialCount int32
	dial := func() (transport.Transport, error) {
		dialCount++
		ct, st := transport.NewLocalPair(16)
		go func() {
			c, err := Accept(st, opts, acceptor)
			if err == nil {
				acceptCh <- c
			}
		}()
		return ct, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resumed, err := DialResumable(ctx, dial, opts, &HandlerFuncs{})
	require.NoError(t, err)
	defer resumed.Close()

	second := <-acceptCh
	defer second.Close()

	assert.Equal(t, int32(1), dialCount, "resume should succeed on the first dial, no SETUP fallback redial")
	assert.Equal(t, ConnEstablished, resumed.Phase())
	assert.Equal(t, ConnEstablished, second.Phase())
}
