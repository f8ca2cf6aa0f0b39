package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &RequestN{}

// RequestN adds n units of outbound credit to the peer's stream
// (spec.md §4.5, §4.6). n must be non-zero.
//
// Grounded on the teacher's WindowUpdate (windowUpdate.go), generalized
// from a connection/stream byte-window to RSocket's per-stream payload
// credit.
type RequestN struct {
	n uint32
}

func (r *RequestN) Type() FrameType { return FrameTypeRequestN }

func (r *RequestN) Reset() { r.n = 0 }

func (r *RequestN) N() uint32 { return r.n }

func (r *RequestN) SetN(n uint32) error {
	if n == 0 {
		return ErrInvalidRequestN
	}
	r.n = n & (1<<31 - 1)
	return nil
}

func (r *RequestN) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) < 4 {
		return ErrMissingBytes
	}
	r.n = wireutil.BytesToUint32(fh.payload) & (1<<31 - 1)
	if r.n == 0 {
		return ErrInvalidRequestN
	}
	return nil
}

func (r *RequestN) Serialize(fh *FrameHeader) {
	fh.payload = wireutil.AppendUint32Bytes(fh.payload[:0], r.n)
}
