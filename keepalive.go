package rsocket

var _ Frame = &KeepAlive{}

// KeepAlive is the liveness ping described in spec.md §4.8. When
// respond=true the peer must echo the data back immediately with
// respond=false, carrying its own lastReceivedPosition.
//
// Grounded on the teacher's ping.go (Ack flag / fixed data payload).
type KeepAlive struct {
	respond              bool
	lastReceivedPosition uint64
	data                 []byte
}

func (k *KeepAlive) Type() FrameType { return FrameTypeKeepAlive }

func (k *KeepAlive) Reset() {
	k.respond = false
	k.lastReceivedPosition = 0
	k.data = k.data[:0]
}

func (k *KeepAlive) Respond() bool                    { return k.respond }
func (k *KeepAlive) SetRespond(v bool)                 { k.respond = v }
func (k *KeepAlive) LastReceivedPosition() uint64      { return k.lastReceivedPosition }
func (k *KeepAlive) SetLastReceivedPosition(pos uint64) { k.lastReceivedPosition = pos }
func (k *KeepAlive) Data() []byte                      { return k.data }
func (k *KeepAlive) SetData(b []byte)                  { k.data = append(k.data[:0], b...) }

func (k *KeepAlive) Deserialize(fh *FrameHeader) error {
	b := fh.payload
	if len(b) < 8 {
		return ErrMissingBytes
	}
	k.respond = fh.Flags().Has(FlagRespond)
	k.lastReceivedPosition = beUint64(b[:8])
	k.data = append(k.data[:0], b[8:]...)
	return nil
}

func (k *KeepAlive) Serialize(fh *FrameHeader) {
	if k.respond {
		fh.SetFlags(fh.Flags().Add(FlagRespond))
	}

	out := make([]byte, 8, 8+len(k.data))
	putBeUint64(out, k.lastReceivedPosition)
	out = append(out, k.data...)
	fh.setPayload(out)
}

func beUint64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

func putBeUint64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}
