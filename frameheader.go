package rsocket

import (
	"sync"

	"github.com/domsolutions/rsocket/wireutil"
)

const (
	// HeaderSize is the fixed 6-byte RSocket frame header: a 31-bit
	// stream id (top bit reserved, always 0) followed by a 6-bit frame
	// type and a 10-bit flags word (spec.md §4.1).
	HeaderSize = 6

	defaultMaxFrameSize = 1 << 24 // metadata/data length fields are 24-bit
)

// FrameFlags is the 10-bit flags word shared by every frame type. Each
// frame type interprets a different subset of bits (see the per-frame
// Has/Add calls in each frame's Serialize/Deserialize).
type FrameFlags uint16

const (
	FlagIgnore   FrameFlags = 1 << 9 // I — safe to ignore if frame type/stream unknown
	FlagMetadata FrameFlags = 1 << 8 // M — metadata block present
	FlagResumeEn FrameFlags = 1 << 7 // SETUP: resume enabled
	FlagLease    FrameFlags = 1 << 6 // SETUP: lease requested
	FlagFollows  FrameFlags = 1 << 7 // F — fragment continues
	FlagComplete FrameFlags = 1 << 6 // C — terminal on this direction
	FlagNext     FrameFlags = 1 << 5 // N — payload carries a data/metadata value
	FlagRespond  FrameFlags = 1 << 7 // KEEPALIVE: reply requested
)

func (f FrameFlags) Has(flag FrameFlags) bool       { return f&flag == flag }
func (f FrameFlags) Add(flag FrameFlags) FrameFlags { return f | flag }
func (f FrameFlags) Del(flag FrameFlags) FrameFlags { return f &^ flag }

var frameHeaderPool = sync.Pool{
	New: func() interface{} { return &FrameHeader{} },
}

// FrameHeader is the wire envelope: stream id + type + flags + a typed
// Frame body. It owns the raw payload buffer and is pool-recycled.
//
// Unlike HTTP/2, an RSocket frame carries no self-describing length —
// the transport (§6) is responsible for delimiting one frame's bytes
// (a 24-bit length prefix on TCP, one message per frame on WebSocket,
// a whole packet on local/in-memory channels). DecodeFrame therefore
// consumes one already-delimited []byte in full, and EncodeFrame
// produces one []byte meant to be handed whole to Transport.SendFrame.
//
// A FrameHeader instance MUST NOT be used from more than one goroutine
// concurrently.
//
// Grounded on the teacher's FrameHeader in frameHeader.go, re-sized for
// RSocket's 6-byte header and 24-bit length fields instead of HTTP/2's.
type FrameHeader struct {
	stream uint32
	kind   FrameType
	flags  FrameFlags

	maxLen uint32

	payload []byte

	fr Frame
}

// AcquireFrameHeader returns a FrameHeader from the pool, reset to zero values.
func AcquireFrameHeader() *FrameHeader {
	fh := frameHeaderPool.Get().(*FrameHeader)
	fh.Reset()
	return fh
}

// ReleaseFrameHeader releases fh's body frame and returns fh to the pool.
func ReleaseFrameHeader(fh *FrameHeader) {
	if fh.fr != nil {
		ReleaseFrame(fh.fr)
	}
	frameHeaderPool.Put(fh)
}

// Reset clears fh for reuse.
func (fh *FrameHeader) Reset() {
	fh.stream = 0
	fh.kind = 0
	fh.flags = 0
	fh.maxLen = defaultMaxFrameSize
	fh.fr = nil
	fh.payload = fh.payload[:0]
}

func (fh *FrameHeader) Type() FrameType       { return fh.kind }
func (fh *FrameHeader) Flags() FrameFlags     { return fh.flags }
func (fh *FrameHeader) SetFlags(f FrameFlags) { fh.flags = f }
func (fh *FrameHeader) Stream() uint32        { return fh.stream }
func (fh *FrameHeader) SetStream(id uint32)   { fh.stream = id & (1<<31 - 1) }
func (fh *FrameHeader) Len() int              { return len(fh.payload) }
func (fh *FrameHeader) SetMaxLen(n uint32)    { fh.maxLen = n }

// Body returns the decoded/attached Frame.
func (fh *FrameHeader) Body() Frame { return fh.fr }

// SetBody attaches fr as fh's body, ahead of Serialize/Encode.
func (fh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("rsocket: frame body cannot be nil")
	}
	fh.kind = fr.Type()
	fh.fr = fr
}

func (fh *FrameHeader) setPayload(b []byte) {
	fh.payload = append(fh.payload[:0], b...)
}

// parseValues decodes the 6-byte raw header into stream/type/flags.
func (fh *FrameHeader) parseValues(header []byte) error {
	stream := wireutil.BytesToUint32(header[:4])
	if stream&(1<<31) != 0 {
		return ErrReservedBitSet
	}
	fh.stream = stream

	word := uint16(header[4])<<8 | uint16(header[5])
	fh.kind = FrameType(word >> 10)
	fh.flags = FrameFlags(word & 0x3FF)
	return nil
}

func (fh *FrameHeader) buildHeader(header []byte) {
	wireutil.Uint32ToBytes(header[:4], fh.stream)
	word := uint16(fh.kind)<<10 | uint16(fh.flags)
	header[4] = byte(word >> 8)
	header[5] = byte(word)
}

func (fh *FrameHeader) checkLen() error {
	if fh.maxLen != 0 && uint32(len(fh.payload)) > fh.maxLen {
		return ErrPayloadExceeds
	}
	return nil
}

// DecodeFrame decodes one complete, already-delimited frame from b.
//
// This is C1's decode(bytes) -> frame | ProtocolError contract
// (spec.md §4.1). Truncated input, a set reserved bit, a stream-only
// frame carrying stream id 0 (or vice versa), and an unknown frame type
// without the I flag all produce a protocol Error carrying the
// offending stream id.
func DecodeFrame(b []byte) (*FrameHeader, error) {
	fh := AcquireFrameHeader()
	if err := fh.decode(b); err != nil {
		ReleaseFrameHeader(fh)
		return nil, err
	}
	return fh, nil
}

func (fh *FrameHeader) decode(b []byte) error {
	if len(b) < HeaderSize {
		return ErrMissingBytes
	}
	if err := fh.parseValues(b[:HeaderSize]); err != nil {
		return err
	}
	fh.payload = append(fh.payload[:0], b[HeaderSize:]...)

	// ERROR is the one frame type whose stream id is neither always
	// required nor always forbidden: streamId==0 is connection-scoped,
	// streamId>0 is stream-scoped (errorframe.go), so it sits out both
	// checks below rather than being forced onto streamRequired()'s
	// binary list.
	if fh.kind != FrameTypeError {
		if fh.kind.streamRequired() && fh.stream == 0 {
			return Error{Code: ErrorConnectionError, Stream: 0, Message: "stream id must be non-zero for this frame type", frameKey: FrameTypeError}
		}
		if !fh.kind.streamRequired() && fh.kind != FrameTypeExt && fh.stream != 0 {
			return Error{Code: ErrorConnectionError, Stream: fh.stream, Message: "stream id must be zero for this frame type", frameKey: FrameTypeError}
		}
	}

	fr := AcquireFrame(fh.kind)
	if fr == nil {
		if !fh.flags.Has(FlagIgnore) || !fh.kind.allowsIgnore() {
			return Error{Code: ErrorConnectionError, Stream: fh.stream, Message: "unknown frame type", frameKey: FrameTypeError}
		}
		fr = &Ext{}
	}
	fh.fr = fr

	return fr.Deserialize(fh)
}

// EncodeFrame serializes fh's body into one wire-ready []byte
// (header || payload). This is C1's encode(frame) -> bytes contract.
func (fh *FrameHeader) EncodeFrame() ([]byte, error) {
	fh.fr.Serialize(fh)

	if err := fh.checkLen(); err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize+len(fh.payload))
	fh.buildHeader(out[:HeaderSize])
	copy(out[HeaderSize:], fh.payload)
	return out, nil
}
