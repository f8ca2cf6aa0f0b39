package rsocket

import (
	"time"

	"github.com/google/uuid"

	"github.com/domsolutions/rsocket/resume"
)

// Logger is the minimal structured-logging seam the connection and
// its collaborators write through; *log.Logger satisfies it directly.
//
// Grounded on fasthttp.Logger, the interface the teacher's server/conn
// types accept for diagnostic output.
type Logger interface {
	Printf(format string, args ...interface{})
}

// IgnoredFrameConsumer is invoked with any frame that was legally
// discarded: an unknown stream id, or an extension frame with I=1
// (spec.md §6, §9's open question on observability policy). It must
// not block or panic; the default is a silent no-op matching the
// source's documented default.
type IgnoredFrameConsumer func(streamID uint32, frameType FrameType, raw []byte)

// ConnectionOptions configures one connection's negotiated behavior
// (spec.md §6's Configuration options table).
//
// Grounded on the teacher's ConnOpts/ClientOpts (conn.go, client.go),
// expanded from HTTP/2's ping-interval-only knob set to RSocket's full
// SETUP/lease/fragmentation/credit configuration surface.
type ConnectionOptions struct {
	// KeepAliveInterval is the period between outbound KEEPALIVEs.
	KeepAliveInterval time.Duration
	// KeepAliveMaxLifetime is the deadline without any inbound frame
	// before the connection is closed.
	KeepAliveMaxLifetime time.Duration

	// FragmentationMTU caps encoded frame size; 0 disables fragmentation.
	FragmentationMTU int

	MetadataMimeType string
	DataMimeType     string

	// SetupPayload is sent opaque alongside SETUP's negotiated fields.
	SetupPayload Message

	// LeaseEnabled sets the L flag in SETUP. Outbound requests are gated
	// by lease accounting once a LEASE frame arrives from the peer,
	// whether or not this is set.
	LeaseEnabled bool

	// InitialRequestN is the default initial credit handed to new
	// requester streams this side opens (RequestStream/RequestChannel).
	InitialRequestN uint32

	// ResumeEnabled sets the RESUME_ENABLE flag and, on the client,
	// attaches ResumeToken to SETUP.
	ResumeEnabled bool
	ResumeToken   []byte

	// ResumeStore persists this connection's last-received frame
	// position under ResumeToken so a later RESUME attempt (see
	// DialResumable) can be honored. Nil disables resume on both the
	// client (DialResumable always falls back to a fresh SETUP) and the
	// server (an inbound RESUME is rejected with REJECTED_RESUME).
	ResumeStore resume.Store

	IgnoredFrameConsumer IgnoredFrameConsumer

	Logger Logger
}

const (
	DefaultKeepAliveInterval    = 20 * time.Second
	DefaultKeepAliveMaxLifetime = 90 * time.Second
	DefaultInitialRequestN      = 64
)

// WithDefaults fills in any zero-valued field with the engine's
// defaults, returning a new ConnectionOptions.
func (o ConnectionOptions) WithDefaults() ConnectionOptions {
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.KeepAliveMaxLifetime <= 0 {
		o.KeepAliveMaxLifetime = DefaultKeepAliveMaxLifetime
	}
	if o.MetadataMimeType == "" {
		o.MetadataMimeType = DefaultMetadataMimeType
	}
	if o.DataMimeType == "" {
		o.DataMimeType = DefaultDataMimeType
	}
	if o.InitialRequestN == 0 {
		o.InitialRequestN = DefaultInitialRequestN
	}
	if o.IgnoredFrameConsumer == nil {
		o.IgnoredFrameConsumer = func(uint32, FrameType, []byte) {}
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.ResumeEnabled && len(o.ResumeToken) == 0 {
		token := uuid.New()
		o.ResumeToken = token[:]
	}
	return o
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
