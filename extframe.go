package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &Ext{}

// Ext is the fallback body for any frame type this engine does not
// recognize but is allowed to ignore (I flag set) or the reserved
// EXT frame type itself. It preserves the extended type and raw
// payload for an ignored-frame consumer (spec.md §6).
type Ext struct {
	extendedType uint32
	payload      []byte
}

func (e *Ext) Type() FrameType { return FrameTypeExt }

func (e *Ext) Reset() {
	e.extendedType = 0
	e.payload = e.payload[:0]
}

func (e *Ext) ExtendedType() uint32 { return e.extendedType }
func (e *Ext) Payload() []byte      { return e.payload }

func (e *Ext) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) < 4 {
		e.extendedType = 0
		e.payload = append(e.payload[:0], fh.payload...)
		return nil
	}
	e.extendedType = wireutil.BytesToUint32(fh.payload[:4])
	e.payload = append(e.payload[:0], fh.payload[4:]...)
	return nil
}

func (e *Ext) Serialize(fh *FrameHeader) {
	fh.SetFlags(fh.Flags().Add(FlagIgnore))
	out := wireutil.AppendUint32Bytes(make([]byte, 0, 4+len(e.payload)), e.extendedType)
	out = append(out, e.payload...)
	fh.setPayload(out)
}
