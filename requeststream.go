package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &RequestStream{}

// RequestStream opens a request/stream interaction, seeding the
// responder's outbound credit with initialRequestN (spec.md §3, §4.5,
// §4.6).
type RequestStream struct {
	follows         bool
	initialRequestN uint32

	hasMetadata bool
	metadata    []byte
	data        []byte
}

func (r *RequestStream) Type() FrameType { return FrameTypeRequestStream }

func (r *RequestStream) Reset() {
	r.follows = false
	r.initialRequestN = 0
	r.hasMetadata = false
	r.metadata = r.metadata[:0]
	r.data = r.data[:0]
}

func (r *RequestStream) Follows() bool        { return r.follows }
func (r *RequestStream) SetFollows(v bool)     { r.follows = v }
func (r *RequestStream) InitialRequestN() uint32 { return r.initialRequestN }
func (r *RequestStream) HasMetadata() bool     { return r.hasMetadata }
func (r *RequestStream) Metadata() []byte      { return r.metadata }
func (r *RequestStream) Data() []byte          { return r.data }

// SetInitialRequestN sets the seed credit; n must be >0 and fit 31 bits.
func (r *RequestStream) SetInitialRequestN(n uint32) error {
	if n == 0 {
		return ErrInvalidRequestN
	}
	r.initialRequestN = n & (1<<31 - 1)
	return nil
}

func (r *RequestStream) SetPayload(metadata, data []byte) {
	r.hasMetadata = metadata != nil
	r.metadata = append(r.metadata[:0], metadata...)
	r.data = append(r.data[:0], data...)
}

func (r *RequestStream) Deserialize(fh *FrameHeader) error {
	b := fh.payload
	if len(b) < 4 {
		return ErrMissingBytes
	}
	r.follows = fh.Flags().Has(FlagFollows)
	r.initialRequestN = wireutil.BytesToUint32(b[:4]) & (1<<31 - 1)
	r.hasMetadata = fh.Flags().Has(FlagMetadata)

	metadata, data, err := splitMetadataData(b[4:], r.hasMetadata)
	if err != nil {
		return err
	}
	r.metadata = append(r.metadata[:0], metadata...)
	r.data = append(r.data[:0], data...)
	return nil
}

func (r *RequestStream) Serialize(fh *FrameHeader) {
	flags := fh.Flags()
	if r.follows {
		flags = flags.Add(FlagFollows)
	}
	if r.hasMetadata {
		flags = flags.Add(FlagMetadata)
	}
	fh.SetFlags(flags)

	out := wireutil.AppendUint32Bytes(make([]byte, 0, 4+len(r.metadata)+len(r.data)+3), r.initialRequestN)
	out = appendMetadataData(out, r.metadata, r.hasMetadata, r.data)
	fh.setPayload(out)
}
