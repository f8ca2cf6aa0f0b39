package rsocket

import "fmt"

// ErrorCode is a wire-level RSocket error code (spec.md §4.1).
type ErrorCode uint32

const (
	ErrorInvalidSetup     ErrorCode = 0x00000001
	ErrorUnsupportedSetup ErrorCode = 0x00000002
	ErrorRejectedSetup    ErrorCode = 0x00000003
	ErrorRejectedResume   ErrorCode = 0x00000004
	ErrorConnectionError  ErrorCode = 0x00000101
	ErrorConnectionClose  ErrorCode = 0x00000102
	ErrorApplicationError ErrorCode = 0x00000201
	ErrorRejected         ErrorCode = 0x00000202
	ErrorCanceled         ErrorCode = 0x00000203
	ErrorInvalid          ErrorCode = 0x00000204
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorInvalidSetup:
		return "INVALID_SETUP"
	case ErrorUnsupportedSetup:
		return "UNSUPPORTED_SETUP"
	case ErrorRejectedSetup:
		return "REJECTED_SETUP"
	case ErrorRejectedResume:
		return "REJECTED_RESUME"
	case ErrorConnectionError:
		return "CONNECTION_ERROR"
	case ErrorConnectionClose:
		return "CONNECTION_CLOSE"
	case ErrorApplicationError:
		return "APPLICATION_ERROR"
	case ErrorRejected:
		return "REJECTED"
	case ErrorCanceled:
		return "CANCELED"
	case ErrorInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("ERROR(0x%08x)", uint32(c))
	}
}

// validForSetup reports whether code is legal on a stream-id-0 ERROR
// frame sent before the connection reaches Established.
func (c ErrorCode) validForSetup() bool {
	switch c {
	case ErrorInvalidSetup, ErrorUnsupportedSetup, ErrorRejectedSetup, ErrorRejectedResume:
		return true
	}
	return false
}

// Error is the engine's internal error type. It carries enough
// information for the connection/stream FSMs to know which frame kind
// to emit (ERROR on a stream, or a connection-level ERROR) and is also
// the error value surfaced to application handlers.
//
// Grounded on the teacher's errHTTP2{err, frameToSend} wrapper.
type Error struct {
	Code     ErrorCode
	Stream   uint32 // 0 for connection-scoped errors
	Message  string
	frameKey FrameType // frame to send on the wire for this error
}

func (e Error) Error() string {
	if e.Stream == 0 {
		return fmt.Sprintf("rsocket: connection error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rsocket: stream %d error %s: %s", e.Stream, e.Code, e.Message)
}

// NewConnectionError builds a connection-scoped (stream id 0) error.
func NewConnectionError(code ErrorCode, message string) Error {
	return Error{Code: code, Stream: 0, Message: message, frameKey: FrameTypeError}
}

// NewStreamError builds a stream-scoped error.
func NewStreamError(stream uint32, code ErrorCode, message string) Error {
	return Error{Code: code, Stream: stream, Message: message, frameKey: FrameTypeError}
}

// IsConnectionScoped reports whether the error terminates the whole
// connection rather than a single stream.
func (e Error) IsConnectionScoped() bool {
	return e.Stream == 0
}

var (
	ErrUnknownFrameType = NewConnectionError(ErrorConnectionError, "unknown frame type")
	ErrMissingBytes     = NewConnectionError(ErrorConnectionError, "frame truncated")
	ErrPayloadExceeds   = NewConnectionError(ErrorConnectionError, "frame exceeds negotiated maximum size")
	ErrReservedBitSet   = NewConnectionError(ErrorConnectionError, "reserved bit set")
	ErrStreamIDZero     = NewConnectionError(ErrorConnectionError, "stream id must be zero for this frame")
	ErrStreamIDNonZero  = NewConnectionError(ErrorConnectionError, "stream id must be non-zero for this frame")
	ErrKeepaliveTimeout = NewConnectionError(ErrorConnectionError, "keepalive timeout")
	ErrMetadataTooLarge = NewConnectionError(ErrorConnectionError, "metadata length exceeds 24 bits")
	ErrInvalidRequestN  = NewConnectionError(ErrorInvalid, "REQUEST_N of 0 is invalid")
	ErrDuplicateStream  = fmt.Errorf("rsocket: stream id already present in registry")
	ErrStreamNotFound   = fmt.Errorf("rsocket: stream id not found in registry")
	ErrStreamTerminated = fmt.Errorf("rsocket: stream already terminated")
	ErrConnectionClosed = fmt.Errorf("rsocket: connection closed")
)
