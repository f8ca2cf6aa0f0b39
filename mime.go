package rsocket

// Well-known RSocket MIME type strings (used in SETUP's metadataMimeType
// and dataMimeType fields). These are names; the engine never interprets
// MIME type content, per spec.md §6.
const (
	MimeApplicationJSON       = "application/json"
	MimeApplicationOctetStream = "application/octet-stream"
	MimeApplicationCBOR       = "application/cbor"
	MimeApplicationAvro       = "avro/binary"
	MimeApplicationProtobuf   = "application/vnd.google.protobuf"
	MimeTextPlain             = "text/plain"
	MimeMessageXRSocketMimeType       = "message/x.rsocket.mime-type.v0"
	MimeMessageXRSocketAcceptMimeTypes = "message/x.rsocket.accept-mime-types.v0"
	MimeMessageXRSocketAuthentication = "message/x.rsocket.authentication.v0"
	MimeMessageXRSocketCompositeMetadata = "message/x.rsocket.composite-metadata.v0"
	MimeMessageXRSocketRouting        = "message/x.rsocket.routing.v0"
	MimeMessageXRSocketTracingZipkin  = "message/x.rsocket.tracing-zipkin.v0"

	// DefaultMetadataMimeType and DefaultDataMimeType are used by
	// ConnectionOptions when the caller leaves SETUP's MIME fields unset.
	DefaultMetadataMimeType = MimeMessageXRSocketCompositeMetadata
	DefaultDataMimeType     = MimeApplicationJSON
)

// wellKnownMimeIDs assigns each well-known MIME string a 1-byte id, so
// SETUP can encode it in a single byte instead of a length-prefixed
// string (spec.md §3's MIME fields; id values are this engine's own
// ordering, not interoperable with the public RSocket mime-type
// registry since spec.md names no specific id table to match).
var wellKnownMimeIDs = map[string]byte{
	MimeApplicationJSON:                  0,
	MimeApplicationOctetStream:           1,
	MimeApplicationCBOR:                  2,
	MimeApplicationAvro:                  3,
	MimeApplicationProtobuf:              4,
	MimeTextPlain:                        5,
	MimeMessageXRSocketMimeType:          6,
	MimeMessageXRSocketAcceptMimeTypes:   7,
	MimeMessageXRSocketAuthentication:    8,
	MimeMessageXRSocketCompositeMetadata: 9,
	MimeMessageXRSocketRouting:           10,
	MimeMessageXRSocketTracingZipkin:     11,
}

var wellKnownMimeByID = func() [128]string {
	var byID [128]string
	for s, id := range wellKnownMimeIDs {
		byID[id] = s
	}
	return byID
}()

// mimeToID reports the 1-byte id for a well-known MIME string, if any.
func mimeToID(s string) (byte, bool) {
	id, ok := wellKnownMimeIDs[s]
	return id, ok
}

// mimeFromID reports the MIME string for a well-known 1-byte id.
func mimeFromID(id byte) (string, bool) {
	if int(id) >= len(wellKnownMimeByID) {
		return "", false
	}
	s := wellKnownMimeByID[id]
	return s, s != ""
}
