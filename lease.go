package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &Lease{}

// Lease carries a server-granted request quota valid for ttlMillis
// (spec.md §3, §4.6's lease quota tracking).
type Lease struct {
	ttlMillis       uint32
	numberOfRequests uint32

	hasMetadata bool
	metadata    []byte
}

func (l *Lease) Type() FrameType { return FrameTypeLease }

func (l *Lease) Reset() {
	l.ttlMillis = 0
	l.numberOfRequests = 0
	l.hasMetadata = false
	l.metadata = l.metadata[:0]
}

func (l *Lease) TTL() uint32              { return l.ttlMillis }
func (l *Lease) SetTTL(ms uint32)         { l.ttlMillis = ms }
func (l *Lease) NumberOfRequests() uint32 { return l.numberOfRequests }
func (l *Lease) SetNumberOfRequests(n uint32) { l.numberOfRequests = n }
func (l *Lease) Metadata() []byte         { return l.metadata }

func (l *Lease) SetMetadata(b []byte) {
	l.hasMetadata = b != nil
	l.metadata = append(l.metadata[:0], b...)
}

func (l *Lease) Deserialize(fh *FrameHeader) error {
	b := fh.payload
	if len(b) < 8 {
		return ErrMissingBytes
	}
	l.ttlMillis = wireutil.BytesToUint32(b[:4])
	l.numberOfRequests = wireutil.BytesToUint32(b[4:8])

	l.hasMetadata = fh.Flags().Has(FlagMetadata)
	if l.hasMetadata {
		l.metadata = append(l.metadata[:0], b[8:]...)
	} else {
		l.metadata = l.metadata[:0]
	}
	return nil
}

func (l *Lease) Serialize(fh *FrameHeader) {
	if l.hasMetadata {
		fh.SetFlags(fh.Flags().Add(FlagMetadata))
	}

	out := make([]byte, 0, 8+len(l.metadata))
	out = wireutil.AppendUint32Bytes(out, l.ttlMillis)
	out = wireutil.AppendUint32Bytes(out, l.numberOfRequests)
	if l.hasMetadata {
		out = append(out, l.metadata...)
	}
	fh.setPayload(out)
}
