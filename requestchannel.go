package rsocket

import "github.com/domsolutions/rsocket/wireutil"

var _ Frame = &RequestChannel{}

// RequestChannel opens a bidirectional request/channel interaction
// (spec.md §3, §4.5). complete=true marks the requester's direction
// already half-closed on the opening frame itself.
type RequestChannel struct {
	follows         bool
	complete        bool
	initialRequestN uint32

	hasMetadata bool
	metadata    []byte
	data        []byte
}

func (r *RequestChannel) Type() FrameType { return FrameTypeRequestChannel }

func (r *RequestChannel) Reset() {
	r.follows = false
	r.complete = false
	r.initialRequestN = 0
	r.hasMetadata = false
	r.metadata = r.metadata[:0]
	r.data = r.data[:0]
}

func (r *RequestChannel) Follows() bool         { return r.follows }
func (r *RequestChannel) SetFollows(v bool)      { r.follows = v }
func (r *RequestChannel) Complete() bool         { return r.complete }
func (r *RequestChannel) SetComplete(v bool)      { r.complete = v }
func (r *RequestChannel) InitialRequestN() uint32 { return r.initialRequestN }
func (r *RequestChannel) HasMetadata() bool      { return r.hasMetadata }
func (r *RequestChannel) Metadata() []byte       { return r.metadata }
func (r *RequestChannel) Data() []byte           { return r.data }

func (r *RequestChannel) SetInitialRequestN(n uint32) error {
	if n == 0 {
		return ErrInvalidRequestN
	}
	r.initialRequestN = n & (1<<31 - 1)
	return nil
}

func (r *RequestChannel) SetPayload(metadata, data []byte) {
	r.hasMetadata = metadata != nil
	r.metadata = append(r.metadata[:0], metadata...)
	r.data = append(r.data[:0], data...)
}

func (r *RequestChannel) Deserialize(fh *FrameHeader) error {
	b := fh.payload
	if len(b) < 4 {
		return ErrMissingBytes
	}
	r.follows = fh.Flags().Has(FlagFollows)
	r.complete = fh.Flags().Has(FlagComplete)
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

func (r *RequestChannel) Serialize(fh *FrameHeader) {
	flags := fh.Flags()
	if r.follows {
		flags = flags.Add(FlagFollows)
	}
	if r.complete {
		flags = flags.Add(FlagComplete)
	}
	if r.hasMetadata {
		flags = flags.Add(FlagMetadata)
	}
	fh.SetFlags(flags)

	out := wireutil.AppendUint32Bytes(make([]byte, 0, 4+len(r.metadata)+len(r.data)+3), r.initialRequestN)
	out = appendMetadataData(out, r.metadata, r.hasMetadata, r.data)
	fh.setPayload(out)
}
