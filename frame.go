package rsocket

import "sync"

// FrameType is the 6-bit RSocket frame type carried in the frame header.
type FrameType uint8

const (
	FrameTypeReserved        FrameType = 0x00
	FrameTypeSetup           FrameType = 0x01
	FrameTypeLease           FrameType = 0x02
	FrameTypeKeepAlive       FrameType = 0x03
	FrameTypeRequestResponse FrameType = 0x04
	FrameTypeRequestFNF      FrameType = 0x05
	FrameTypeRequestStream   FrameType = 0x06
	FrameTypeRequestChannel  FrameType = 0x07
	FrameTypeRequestN        FrameType = 0x08
	FrameTypeCancel          FrameType = 0x09
	FrameTypePayload         FrameType = 0x0A
	FrameTypeError           FrameType = 0x0B
	FrameTypeMetadataPush    FrameType = 0x0C
	FrameTypeResume          FrameType = 0x0D
	FrameTypeResumeOK        FrameType = 0x0E
	FrameTypeExt             FrameType = 0x3F
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeSetup:
		return "SETUP"
	case FrameTypeLease:
		return "LEASE"
	case FrameTypeKeepAlive:
		return "KEEPALIVE"
	case FrameTypeRequestResponse:
		return "REQUEST_RESPONSE"
	case FrameTypeRequestFNF:
		return "REQUEST_FNF"
	case FrameTypeRequestStream:
		return "REQUEST_STREAM"
	case FrameTypeRequestChannel:
		return "REQUEST_CHANNEL"
	case FrameTypeRequestN:
		return "REQUEST_N"
	case FrameTypeCancel:
		return "CANCEL"
	case FrameTypePayload:
		return "PAYLOAD"
	case FrameTypeError:
		return "ERROR"
	case FrameTypeMetadataPush:
		return "METADATA_PUSH"
	case FrameTypeResume:
		return "RESUME"
	case FrameTypeResumeOK:
		return "RESUME_OK"
	case FrameTypeExt:
		return "EXT"
	default:
		return "UNKNOWN"
	}
}

// streamRequired reports whether frames of this type MUST carry a
// non-zero stream id (spec.md §3 invariants).
func (t FrameType) streamRequired() bool {
	switch t {
	case FrameTypeRequestResponse, FrameTypeRequestFNF, FrameTypeRequestStream,
		FrameTypeRequestChannel, FrameTypeRequestN, FrameTypeCancel, FrameTypePayload:
		return true
	}
	return false
}

// allowsIgnore reports whether an unknown/extension frame of this type
// may be silently ignored when I=1, per spec.md §4.1. SETUP may never be
// ignored.
func (t FrameType) allowsIgnore() bool {
	return t != FrameTypeSetup
}

// Frame is the payload-specific half of a wire frame: it knows how to
// read/write itself into a FrameHeader's raw payload buffer.
//
// Grounded on the teacher's Frame interface in frameHeader.go/utils.go.
type Frame interface {
	Type() FrameType
	Reset()
	Deserialize(fh *FrameHeader) error
	Serialize(fh *FrameHeader)
}

var framePools = map[FrameType]*sync.Pool{
	FrameTypeSetup:           {New: func() interface{} { return &Setup{} }},
	FrameTypeLease:           {New: func() interface{} { return &Lease{} }},
	FrameTypeKeepAlive:       {New: func() interface{} { return &KeepAlive{} }},
	FrameTypeRequestResponse: {New: func() interface{} { return &RequestResponse{} }},
	FrameTypeRequestFNF:      {New: func() interface{} { return &RequestFNF{} }},
	FrameTypeRequestStream:   {New: func() interface{} { return &RequestStream{} }},
	FrameTypeRequestChannel:  {New: func() interface{} { return &RequestChannel{} }},
	FrameTypeRequestN:        {New: func() interface{} { return &RequestN{} }},
	FrameTypeCancel:          {New: func() interface{} { return &Cancel{} }},
	FrameTypePayload:         {New: func() interface{} { return &Payload{} }},
	FrameTypeError:           {New: func() interface{} { return &ErrorFrame{} }},
	FrameTypeMetadataPush:    {New: func() interface{} { return &MetadataPush{} }},
	FrameTypeResume:          {New: func() interface{} { return &Resume{} }},
	FrameTypeResumeOK:        {New: func() interface{} { return &ResumeOK{} }},
	FrameTypeExt:             {New: func() interface{} { return &Ext{} }},
}

// AcquireFrame returns a pooled Frame body of the given type, or nil if
// the type is unknown to this engine.
func AcquireFrame(t FrameType) Frame {
	pool, ok := framePools[t]
	if !ok {
		return nil
	}
	return pool.Get().(Frame)
}

// ReleaseFrame resets fr and returns it to its type's pool.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	fr.Reset()
	if pool, ok := framePools[fr.Type()]; ok {
		pool.Put(fr)
	}
}
