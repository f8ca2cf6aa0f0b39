package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &ErrorFrame{}

// ErrorFrame is the wire form of Error: streamId==0 is connection-
// scoped, streamId>0 is stream-scoped (spec.md §4.9).
//
// Grounded on the teacher's GoAway (goaway.go), generalized from
// HTTP/2's last-stream-processed semantics to RSocket's per-stream or
// per-connection error frame.
type ErrorFrame struct {
	code ErrorCode
	data []byte
}

func (e *ErrorFrame) Type() FrameType { return FrameTypeError }

func (e *ErrorFrame) Reset() {
	e.code = 0
	e.data = e.data[:0]
}

func (e *ErrorFrame) Code() ErrorCode     { return e.code }
func (e *ErrorFrame) SetCode(c ErrorCode) { e.code = c }
func (e *ErrorFrame) Data() []byte        { return e.data }
func (e *ErrorFrame) SetData(b []byte)    { e.data = append(e.data[:0], b...) }

func (e *ErrorFrame) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) < 4 {
		return ErrMissingBytes
	}
	e.code = ErrorCode(wireutil.BytesToUint32(fh.payload[:4]))
	e.data = append(e.data[:0], fh.payload[4:]...)
	return nil
}

func (e *ErrorFrame) Serialize(fh *FrameHeader) {
	out := wireutil.AppendUint32Bytes(make([]byte, 0, 4+len(e.data)), uint32(e.code))
	out = append(out, e.data...)
	fh.setPayload(out)
}
