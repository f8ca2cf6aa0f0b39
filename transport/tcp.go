package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

const (
	maxFrameLen     = 1<<24 - 1
	defaultBufSize  = 4096
	defaultDialPort = "7878"
)

// TCP is a Transport over a raw or TLS-wrapped net.Conn, length-
// delimited by a 24-bit big-endian prefix per frame (spec.md §6).
//
// Grounded on the teacher's Conn's bufio.Reader/Writer pairing
// (conn.go), replacing HTTP/2's self-describing frame header length
// with an explicit wire-level length prefix, since RSocket's own frame
// header carries none.
type TCP struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	writeMu sync.Mutex
	closed  bool
}

// NewTCP wraps an already-established connection (raw or *tls.Conn).
func NewTCP(c net.Conn) *TCP {
	return &TCP{
		c:  c,
		br: bufio.NewReaderSize(c, defaultBufSize),
		bw: bufio.NewWriterSize(c, defaultBufSize),
	}
}

func (t *TCP) ReceiveFrame() ([]byte, error) {
	var lenBuf [3]byte
	if _, err := io.ReadFull(t.br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0])<<16 | int(lenBuf[1])<<8 | int(lenBuf[2])

	b := make([]byte, n)
	if _, err := io.ReadFull(t.br, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *TCP) SendFrame(b []byte) error {
	if len(b) > maxFrameLen {
		return fmt.Errorf("transport: frame of %d bytes exceeds 24-bit length prefix", len(b))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed {
		return ErrClosed
	}

	// One pooled buffer holds the length prefix and the frame so the
	// write reaches the socket in a single bufio.Writer.Write call
	// instead of two.
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = append(buf.B, byte(len(b)>>16), byte(len(b)>>8), byte(len(b)))
	buf.B = append(buf.B, b...)

	if _, err := t.bw.Write(buf.B); err != nil {
		return err
	}
	return t.bw.Flush()
}

func (t *TCP) Close() error {
	t.writeMu.Lock()
	t.closed = true
	t.writeMu.Unlock()
	return t.c.Close()
}

// Dialer creates TCP transports by address, optionally over TLS.
//
// Grounded on the teacher's Dialer (conn.go), generalized from a
// hardwired "h2" ALPN negotiation to a plain or TLS TCP dial.
type Dialer struct {
	Addr      string
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// Dial connects and returns a ready Transport.
func (d *Dialer) Dial() (Transport, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		c   net.Conn
		err error
	)
	if d.TLSConfig != nil {
		dialer := &net.Dialer{Timeout: timeout}
		c, err = tls.DialWithDialer(dialer, "tcp", d.Addr, d.TLSConfig)
	} else {
		c, err = net.DialTimeout("tcp", d.Addr, timeout)
	}
	if err != nil {
		return nil, err
	}

	return NewTCP(c), nil
}

// DialWithRetry calls Dial, retrying with jittered exponential backoff
// (capped at maxBackoff) until it succeeds or ctx is cancelled. Useful
// for a client reconnecting to a server that may still be starting up.
func (d *Dialer) DialWithRetry(ctx context.Context, maxBackoff time.Duration) (Transport, error) {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    maxBackoff,
		Jitter: true,
	}

	for {
		t, err := d.Dial()
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

// Listener accepts TCP transports, optionally terminating TLS with an
// ACME-issued certificate for hostPolicy.
//
// Grounded on the teacher's examples/autocert/main.go, swapping its
// net/http handoff for a direct net.Listener the connection FSM can
// Accept() against.
type Listener struct {
	Addr       string
	AutocertOn bool
	HostPolicy func(ctx context.Context, host string) error
	CacheDir   string

	ln net.Listener
}

// Listen opens the underlying listener (TLS-wrapped when AutocertOn).
func (l *Listener) Listen() error {
	if !l.AutocertOn {
		ln, err := net.Listen("tcp", l.Addr)
		if err != nil {
			return err
		}
		l.ln = ln
		return nil
	}

	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: l.HostPolicy,
		Cache:      autocert.DirCache(l.CacheDir),
	}
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{acme.ALPNProto, "rsocket"},
	}

	ln, err := tls.Listen("tcp", l.Addr, cfg)
	if err != nil {
		return err
	}
	l.ln = ln
	return nil
}

// Accept blocks for the next inbound connection and wraps it as a
// Transport.
func (l *Listener) Accept() (Transport, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCP(c), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}
