package rsocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(kind StreamKind, role StreamRole) *Stream {
	egress := make(chan *FrameHeader, 8)
	return NewStream(1, role, kind, egress)
}

func TestStreamActivateSeedsOutboundCredit(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleResponder)
	s.Activate(5)
	assert.Equal(t, PhaseActive, s.Phase())
	assert.EqualValues(t, 5, s.OutboundCredit())
}

func TestStreamActivateIsIdempotent(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleRequester)
	s.Activate(3)
	s.Activate(99) // already Active: must not reseed credit
	assert.EqualValues(t, 3, s.OutboundCredit())
}

func TestStreamAddOutboundCreditSaturates(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleResponder)
	s.Activate(0)
	s.outboundCredit = ^uint64(0) - 1
	s.AddOutboundCredit(10)
	assert.Equal(t, ^uint64(0), s.OutboundCredit())
}

func TestStreamTryConsumeOutboundCredit(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleResponder)
	s.Activate(1)
	assert.True(t, s.TryConsumeOutboundCredit())
	assert.False(t, s.TryConsumeOutboundCredit())
}

func TestStreamWaitOutboundCreditUnblocksOnGrant(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleResponder)
	s.Activate(0)

	done := make(chan error, 1)
	go func() { done <- s.WaitOutboundCredit(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("WaitOutboundCredit returned before credit was granted")
	default:
	}

	s.AddOutboundCredit(1)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitOutboundCredit did not unblock after AddOutboundCredit")
	}
	assert.Zero(t, s.OutboundCredit())
}

func TestStreamWaitOutboundCreditRespectsContext(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleResponder)
	s.Activate(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WaitOutboundCredit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamWaitOutboundCreditTerminatedReturnsError(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleRequester)
	s.Activate(0)
	s.ObserveError(ErrConnectionClosed)

	err := s.WaitOutboundCredit(context.Background())
	assert.Equal(t, ErrStreamTerminated, err)
}

func TestStreamObserveCompleteSingleDirectionTerminatesImmediately(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleRequester)
	s.Activate(0)
	s.ObserveComplete(true)

	assert.Equal(t, PhaseTerminated, s.Phase())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() did not close after ObserveComplete")
	}
}

func TestStreamChannelMutualCompleteTieBreak(t *testing.T) {
	s := newTestStream(StreamKindRequestChannel, RoleRequester)
	s.Activate(0)

	s.ObserveComplete(true) // local half-close
	assert.Equal(t, PhaseHalfClosedLocal, s.Phase())

	s.ObserveComplete(false) // remote half-close: both sides now done
	assert.Equal(t, PhaseTerminated, s.Phase())

	select {
	case ev := <-s.Events():
		assert.True(t, ev.Complete)
		assert.Nil(t, ev.Err)
	default:
		t.Fatal("expected a terminal Complete event")
	}
}

func TestStreamErrorWinsRaceAgainstComplete(t *testing.T) {
	s := newTestStream(StreamKindRequestChannel, RoleRequester)
	s.Activate(0)

	s.ObserveComplete(true)
	assert.Equal(t, PhaseHalfClosedLocal, s.Phase())

	s.ObserveError(NewStreamError(1, ErrorApplicationError, "boom"))
	assert.Equal(t, PhaseTerminated, s.Phase())

	// a complete event may already have been delivered for the local
	// half-close; drain until the terminal error event appears.
	var gotErr bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-s.Events():
			if ev.Err != nil {
				gotErr = true
			}
		default:
		}
	}
	assert.True(t, gotErr, "expected the error to surface as a terminal event")
}

func TestStreamTerminateIsIdempotent(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleRequester)
	s.Activate(0)

	s.ObserveError(ErrConnectionClosed)
	assert.NotPanics(t, func() { s.ObserveError(ErrConnectionClosed) })
	assert.NotPanics(t, func() { s.ObserveComplete(true) })
}

func TestStreamCancelReturnsFrameOnce(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleRequester)
	s.Activate(0)

	fh := s.Cancel()
	require.NotNil(t, fh)
	assert.Equal(t, FrameTypeCancel, fh.Type())
	ReleaseFrameHeader(fh)

	assert.Nil(t, s.Cancel(), "a second Cancel must not re-emit a frame")
}

func TestStreamHandleFragmentHeadUnfragmented(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleResponder)
	done, md, data, err := s.HandleFragmentHead(FrameTypeRequestResponse, false, true, []byte("m"), []byte("d"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("m"), md)
	assert.Equal(t, []byte("d"), data)
}

func TestStreamFragmentHeadAndContinuationReassemble(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleResponder)
	full := buildBlob([]byte("meta"), true, []byte("payload-body"))
	head, tail := full[:4], full[4:]

	done, _, _, err := s.HandleFragmentHead(FrameTypeRequestResponse, true, true, nil, head)
	require.NoError(t, err)
	assert.False(t, done)

	done, md, data, err := s.HandleFragmentContinuation(false, tail)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("meta"), md)
	assert.Equal(t, []byte("payload-body"), data)
}

func TestStreamHandleFragmentContinuationWithoutActiveChainErrors(t *testing.T) {
	s := newTestStream(StreamKindRequestResponse, RoleResponder)
	_, _, _, err := s.HandleFragmentContinuation(false, []byte("x"))
	assert.Error(t, err)
}

func TestStreamEnsureChannelInboundIsLazyAndStable(t *testing.T) {
	s := newTestStream(StreamKindRequestChannel, RoleResponder)
	ch1 := s.EnsureChannelInbound(4)
	ch2 := s.EnsureChannelInbound(4)
	assert.Equal(t, ch1, ch2)
}

func TestStreamCloseChannelInboundClosesOnlyIfCreated(t *testing.T) {
	s := newTestStream(StreamKindRequestChannel, RoleResponder)
	assert.NotPanics(t, func() { s.CloseChannelInbound() })

	ch := s.EnsureChannelInbound(1)
	s.CloseChannelInbound()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStreamHandlePeerCancelTerminatesWithoutError(t *testing.T) {
	s := newTestStream(StreamKindRequestStream, RoleResponder)
	s.Activate(0)
	s.HandlePeerCancel()

	ev := <-s.Events()
	assert.True(t, ev.Complete)
	assert.Nil(t, ev.Err)
}
