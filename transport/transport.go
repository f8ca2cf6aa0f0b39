// Package transport provides the duplex frame channel collaborator
// RSocket's connection FSM is built against: something that can hand
// back one complete, already-delimited frame at a time and accept one
// complete frame to send, regardless of how that delimiting happens on
// the wire (spec.md §6).
package transport

import "errors"

// ErrClosed is returned by Local's ReceiveFrame/SendFrame and by TCP's
// SendFrame once Close has run.
var ErrClosed = errors.New("transport: closed")

// Transport is the duplex frame channel an RSocket connection is built
// on top of. Implementations delimit frames however their medium
// requires: TCP prefixes each frame with a 24-bit big-endian length,
// WebSocket sends one frame per binary message, and local/in-memory
// channels pass whole packets with no framing at all.
//
// A Transport is safe for one concurrent reader and one concurrent
// writer (i.e. ReceiveFrame from one goroutine, SendFrame from
// another), matching the connection FSM's single ingress/single egress
// task split (spec.md §5).
type Transport interface {
	// ReceiveFrame blocks until one complete frame's bytes are
	// available, the peer closes the stream (io.EOF), or an error
	// occurs.
	ReceiveFrame() ([]byte, error)

	// SendFrame writes one complete frame's bytes, applying whatever
	// length-delimiting this transport's medium requires.
	SendFrame(b []byte) error

	// Close releases the underlying medium. Subsequent ReceiveFrame/
	// SendFrame calls return an error (ErrClosed, or the medium's own
	// error on TCP reads and WebSocket).
	Close() error
}
