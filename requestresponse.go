package rsocket

var _ Frame = &RequestResponse{}

// RequestResponse opens a request/response stream (spec.md §3, §4.5).
type RequestResponse struct {
	follows bool

	hasMetadata bool
	metadata    []byte
	data        []byte
}

func (r *RequestResponse) Type() FrameType { return FrameTypeRequestResponse }

func (r *RequestResponse) Reset() {
	r.follows = false
	r.hasMetadata = false
	r.metadata = r.metadata[:0]
	r.data = r.data[:0]
}

func (r *RequestResponse) Follows() bool    { return r.follows }
func (r *RequestResponse) SetFollows(v bool) { r.follows = v }
func (r *RequestResponse) HasMetadata() bool { return r.hasMetadata }
func (r *RequestResponse) Metadata() []byte { return r.metadata }
func (r *RequestResponse) Data() []byte     { return r.data }

func (r *RequestResponse) SetPayload(metadata, data []byte) {
	r.hasMetadata = metadata != nil
	r.metadata = append(r.metadata[:0], metadata...)
	r.data = append(r.data[:0], data...)
}

func (r *RequestResponse) Deserialize(fh *FrameHeader) error {
	r.follows = fh.Flags().Has(FlagFollows)
	r.hasMetadata = fh.Flags().Has(FlagMetadata)

	metadata, data, err := splitMetadataData(fh.payload, r.hasMetadata)
	if err != nil {
		return err
	}
	r.metadata = append(r.metadata[:0], metadata...)
	r.data = append(r.data[:0], data...)
	return nil
}

func (r *RequestResponse) Serialize(fh *FrameHeader) {
	flags := fh.Flags()
	if r.follows {
		flags = flags.Add(FlagFollows)
	}
	if r.hasMetadata {
		flags = flags.Add(FlagMetadata)
	}
	fh.SetFlags(flags)

	fh.setPayload(appendMetadataData(make([]byte, 0, len(r.metadata)+len(r.data)+3), r.metadata, r.hasMetadata, r.data))
}
