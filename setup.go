package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &Setup{}

// Setup is the first frame of a connection, carrying version and MIME
// negotiation plus an optional resume token (spec.md §3, §4.7).
//
// Grounded on the teacher's settings.go field/flag layout, replacing
// HTTP/2 SETTINGS key-value pairs with RSocket's fixed SETUP fields.
type Setup struct {
	versionMajor uint16
	versionMinor uint16

	keepaliveInterval uint32 // ms
	maxLifetime       uint32 // ms

	resumeEnabled bool
	resumeToken   []byte

	leaseRequested bool

	metadataMimeType string
	dataMimeType     string

	hasMetadata bool
	metadata    []byte
	data        []byte
}

func (s *Setup) Type() FrameType { return FrameTypeSetup }

func (s *Setup) Reset() {
	s.versionMajor = 0
	s.versionMinor = 0
	s.keepaliveInterval = 0
	s.maxLifetime = 0
	s.resumeEnabled = false
	s.resumeToken = s.resumeToken[:0]
	s.leaseRequested = false
	s.metadataMimeType = ""
	s.dataMimeType = ""
	s.hasMetadata = false
	s.metadata = s.metadata[:0]
	s.data = s.data[:0]
}

func (s *Setup) Version() (major, minor uint16) { return s.versionMajor, s.versionMinor }
func (s *Setup) SetVersion(major, minor uint16) { s.versionMajor, s.versionMinor = major, minor }

func (s *Setup) KeepAliveInterval() uint32     { return s.keepaliveInterval }
func (s *Setup) SetKeepAliveInterval(ms uint32) { s.keepaliveInterval = ms }

func (s *Setup) MaxLifetime() uint32      { return s.maxLifetime }
func (s *Setup) SetMaxLifetime(ms uint32) { s.maxLifetime = ms }

func (s *Setup) ResumeEnabled() bool { return s.resumeEnabled }
func (s *Setup) ResumeToken() []byte { return s.resumeToken }

func (s *Setup) SetResumeToken(token []byte) {
	s.resumeEnabled = true
	s.resumeToken = append(s.resumeToken[:0], token...)
}

func (s *Setup) LeaseRequested() bool      { return s.leaseRequested }
func (s *Setup) SetLeaseRequested(v bool)  { s.leaseRequested = v }

func (s *Setup) MetadataMimeType() string     { return s.metadataMimeType }
func (s *Setup) SetMetadataMimeType(v string) { s.metadataMimeType = v }

func (s *Setup) DataMimeType() string     { return s.dataMimeType }
func (s *Setup) SetDataMimeType(v string) { s.dataMimeType = v }

func (s *Setup) HasMetadata() bool  { return s.hasMetadata }
func (s *Setup) Metadata() []byte   { return s.metadata }
func (s *Setup) Data() []byte       { return s.data }

// SetPayload sets the SETUP payload; metadata may be nil.
func (s *Setup) SetPayload(metadata, data []byte) {
	s.hasMetadata = metadata != nil
	s.metadata = append(s.metadata[:0], metadata...)
	s.data = append(s.data[:0], data...)
}

func (s *Setup) Deserialize(fh *FrameHeader) error {
	b := fh.payload
	if len(b) < 4+4+4+1+1 {
		return ErrMissingBytes
	}

	s.versionMajor = uint16(b[0])<<8 | uint16(b[1])
	s.versionMinor = uint16(b[2])<<8 | uint16(b[3])
	s.keepaliveInterval = wireutil.BytesToUint32(b[4:8])
	s.maxLifetime = wireutil.BytesToUint32(b[8:12])
	b = b[12:]

	s.resumeEnabled = fh.Flags().Has(FlagResumeEn)
	if s.resumeEnabled {
		if len(b) < 2 {
			return ErrMissingBytes
		}
		tokLen := int(uint16(b[0])<<8 | uint16(b[1]))
		b = b[2:]
		if len(b) < tokLen {
			return ErrMissingBytes
		}
		s.resumeToken = append(s.resumeToken[:0], b[:tokLen]...)
		b = b[tokLen:]
	}

	metadataMimeType, b, err := decodeMimeField(b)
	if err != nil {
		return err
	}
	s.metadataMimeType = metadataMimeType

	dataMimeType, b, err := decodeMimeField(b)
	if err != nil {
		return err
	}
	s.dataMimeType = dataMimeType

	s.leaseRequested = fh.Flags().Has(FlagLease)
	s.hasMetadata = fh.Flags().Has(FlagMetadata)

	metadata, data, err := splitMetadataData(b, s.hasMetadata)
	if err != nil {
		return err
	}
	s.metadata = append(s.metadata[:0], metadata...)
	s.data = append(s.data[:0], data...)

	return nil
}

func (s *Setup) Serialize(fh *FrameHeader) {
	flags := fh.Flags()
	if s.resumeEnabled {
		flags = flags.Add(FlagResumeEn)
	}
	if s.leaseRequested {
		flags = flags.Add(FlagLease)
	}
	if s.hasMetadata {
		flags = flags.Add(FlagMetadata)
	}
	fh.SetFlags(flags)

	out := make([]byte, 0, 12+len(s.resumeToken)+len(s.metadataMimeType)+len(s.dataMimeType)+len(s.metadata)+len(s.data)+16)
	out = append(out, byte(s.versionMajor>>8), byte(s.versionMajor), byte(s.versionMinor>>8), byte(s.versionMinor))
	out = wireutil.AppendUint32Bytes(out, s.keepaliveInterval)
	out = wireutil.AppendUint32Bytes(out, s.maxLifetime)

	if s.resumeEnabled {
		out = append(out, byte(len(s.resumeToken)>>8), byte(len(s.resumeToken)))
		out = append(out, s.resumeToken...)
	}

	out = appendMimeField(out, s.metadataMimeType)
	out = appendMimeField(out, s.dataMimeType)

	out = appendMetadataData(out, s.metadata, s.hasMetadata, s.data)

	fh.setPayload(out)
}

// mimeLenWellKnown, set on a MIME field's length byte, marks that
// byte's low 7 bits as a well-known MIME id rather than a length
// (spec.md §3): bit 7 of the byte that would otherwise hold a 7-bit
// string length.
const mimeLenWellKnown = 0x80

// appendMimeField writes mime as either one byte (mimeLenWellKnown set,
// low 7 bits the well-known id) or a length-prefixed string (low 7 bits
// the length, capped at 127 bytes — MIME type strings are always far
// shorter than that in practice).
func appendMimeField(out []byte, mime string) []byte {
	if id, ok := mimeToID(mime); ok {
		return append(out, mimeLenWellKnown|id)
	}
	if len(mime) > 0x7F {
		mime = mime[:0x7F]
	}
	return append(append(out, byte(len(mime))&0x7F), mime...)
}

// decodeMimeField reads one MIME field written by appendMimeField,
// returning the decoded string and the remaining bytes.
func decodeMimeField(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, ErrMissingBytes
	}
	lenByte := b[0]
	b = b[1:]

	if lenByte&mimeLenWellKnown != 0 {
		s, ok := mimeFromID(lenByte &^ mimeLenWellKnown)
		if !ok {
			return "", nil, ErrMissingBytes
		}
		return s, b, nil
	}

	n := int(lenByte)
	if len(b) < n {
		return "", nil, ErrMissingBytes
	}
	return string(b[:n]), b[n:], nil
}
