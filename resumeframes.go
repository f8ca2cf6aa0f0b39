package rsocket

var _ Frame = &Resume{}
var _ Frame = &ResumeOK{}

// Resume requests reattachment to a prior connection identified by
// resumeToken (spec.md §6's resume-token store collaborator, §9 open
// question on resume semantics).
type Resume struct {
	versionMajor uint16
	versionMinor uint16

	resumeToken []byte

	lastReceivedServerPosition uint64
	firstAvailableClientPosition uint64
}

func (r *Resume) Type() FrameType { return FrameTypeResume }

func (r *Resume) Reset() {
	r.versionMajor, r.versionMinor = 0, 0
	r.resumeToken = r.resumeToken[:0]
	r.lastReceivedServerPosition = 0
	r.firstAvailableClientPosition = 0
}

func (r *Resume) Version() (major, minor uint16)    { return r.versionMajor, r.versionMinor }
func (r *Resume) SetVersion(major, minor uint16)      { r.versionMajor, r.versionMinor = major, minor }
func (r *Resume) ResumeToken() []byte                { return r.resumeToken }
func (r *Resume) SetResumeToken(b []byte)            { r.resumeToken = append(r.resumeToken[:0], b...) }
func (r *Resume) LastReceivedServerPosition() uint64 { return r.lastReceivedServerPosition }
func (r *Resume) SetLastReceivedServerPosition(p uint64) {
	r.lastReceivedServerPosition = p
}
func (r *Resume) FirstAvailableClientPosition() uint64 { return r.firstAvailableClientPosition }
func (r *Resume) SetFirstAvailableClientPosition(p uint64) {
	r.firstAvailableClientPosition = p
}

func (r *Resume) Deserialize(fh *FrameHeader) error {
	b := fh.payload
	if len(b) < 4+2 {
		return ErrMissingBytes
	}
	r.versionMajor = uint16(b[0])<<8 | uint16(b[1])
	r.versionMinor = uint16(b[2])<<8 | uint16(b[3])
	b = b[4:]

	tokLen := int(uint16(b[0])<<8 | uint16(b[1]))
	b = b[2:]
	if len(b) < tokLen+16 {
		return ErrMissingBytes
	}
	r.resumeToken = append(r.resumeToken[:0], b[:tokLen]...)
	b = b[tokLen:]

	r.lastReceivedServerPosition = beUint64(b[:8])
	r.firstAvailableClientPosition = beUint64(b[8:16])
	return nil
}

func (r *Resume) Serialize(fh *FrameHeader) {
	out := make([]byte, 0, 4+2+len(r.resumeToken)+16)
	out = append(out, byte(r.versionMajor>>8), byte(r.versionMajor), byte(r.versionMinor>>8), byte(r.versionMinor))
	out = append(out, byte(len(r.resumeToken)>>8), byte(len(r.resumeToken)))
	out = append(out, r.resumeToken...)

	pos := make([]byte, 16)
	putBeUint64(pos[:8], r.lastReceivedServerPosition)
	putBeUint64(pos[8:], r.firstAvailableClientPosition)
	out = append(out, pos...)

	fh.setPayload(out)
}

// ResumeOK acknowledges a Resume, reporting how far the server has
// replayed from the client's perspective.
type ResumeOK struct {
	lastReceivedClientPosition uint64
}

func (r *ResumeOK) Type() FrameType { return FrameTypeResumeOK }

func (r *ResumeOK) Reset() { r.lastReceivedClientPosition = 0 }

func (r *ResumeOK) LastReceivedClientPosition() uint64 { return r.lastReceivedClientPosition }
func (r *ResumeOK) SetLastReceivedClientPosition(p uint64) {
	r.lastReceivedClientPosition = p
}

func (r *ResumeOK) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) < 8 {
		return ErrMissingBytes
	}
	r.lastReceivedClientPosition = beUint64(fh.payload[:8])
	return nil
}

func (r *ResumeOK) Serialize(fh *FrameHeader) {
	out := make([]byte, 8)
	putBeUint64(out, r.lastReceivedClientPosition)
	fh.setPayload(out)
}
