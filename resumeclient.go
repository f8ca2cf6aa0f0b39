package rsocket

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/domsolutions/rsocket/transport"
)

// DialResumable dials dial, honoring opts.ResumeEnabled/opts.ResumeStore
// the way a resuming RSocket client should (spec.md §6, §9): if the
// store already holds a position for opts.ResumeToken, it tries a
// RESUME against the freshly dialed transport first; only when that is
// rejected, times out, or no saved position exists does it fall back
// to a fresh SETUP via Connect. Re-dials use jpillora/backoff, mirroring
// transport.Dialer.DialWithRetry.
//
// dial is called once per attempt and must return a new, unestablished
// Transport each time (e.g. (&transport.Dialer{Addr: addr}).Dial).
func DialResumable(ctx context.Context, dial func() (transport.Transport, error), opts ConnectionOptions, responder RSocket) (*Connection, error) {
	opts = opts.WithDefaults()

	t, err := dialWithBackoff(ctx, dial)
	if err != nil {
		return nil, err
	}

	if opts.ResumeEnabled && opts.ResumeStore != nil {
		if position, ok, err := opts.ResumeStore.Load(ctx, opts.ResumeToken); err == nil && ok {
			c, err := tryResume(ctx, t, opts, responder, position)
			if err == nil {
				return c, nil
			}
			opts.Logger.Printf("rsocket: resume attempt failed, falling back to SETUP: %v", err)
			t, err = dialWithBackoff(ctx, dial)
			if err != nil {
				return nil, err
			}
		}
	}

	return Connect(t, opts, responder)
}

func dialWithBackoff(ctx context.Context, dial func() (transport.Transport, error)) (transport.Transport, error) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, Jitter: true}
	for {
		t, err := dial()
		if err == nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

// tryResume sends one RESUME frame over t and waits for RESUME_OK. On
// any other response (or ctx expiring first) it closes t and returns an
// error, leaving the caller to fall back to Connect on a new dial.
func tryResume(ctx context.Context, t transport.Transport, opts ConnectionOptions, responder RSocket, lastReceivedServerPosition uint64) (*Connection, error) {
	res := AcquireFrame(FrameTypeResume).(*Resume)
	res.SetVersion(1, 0)
	res.SetResumeToken(opts.ResumeToken)
	res.SetLastReceivedServerPosition(lastReceivedServerPosition)
	res.SetFirstAvailableClientPosition(0)

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(res)
	b, err := fh.EncodeFrame()
	ReleaseFrameHeader(fh)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if err := t.SendFrame(b); err != nil {
		_ = t.Close()
		return nil, err
	}

	replyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		raw, err := t.ReceiveFrame()
		if err != nil {
			errCh <- err
			return
		}
		replyCh <- raw
	}()

	select {
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	case err := <-errCh:
		_ = t.Close()
		return nil, err
	case raw := <-replyCh:
		replyFh, err := DecodeFrame(raw)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		defer ReleaseFrameHeader(replyFh)

		if _, ok := replyFh.Body().(*ResumeOK); !ok {
			_ = t.Close()
			if ef, ok := replyFh.Body().(*ErrorFrame); ok {
				return nil, NewConnectionError(ef.Code(), string(ef.Data()))
			}
			return nil, NewConnectionError(ErrorRejectedResume, "peer did not reply RESUME_OK")
		}

		c := newConnection(t, ConnRoleClient, opts)
		c.responder = responder
		c.phase = ConnEstablished
		c.start()
		return c, nil
	}
}
