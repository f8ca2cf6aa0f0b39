package rsocket

var _ Frame = &RequestFNF{}

// RequestFNF is a fire-and-forget request: no response is expected
// (spec.md §3, §4.5 Fire-and-forget FSM).
type RequestFNF struct {
	follows bool

	hasMetadata bool
	metadata    []byte
	data        []byte
}

func (r *RequestFNF) Type() FrameType { return FrameTypeRequestFNF }

func (r *RequestFNF) Reset() {
	r.follows = false
	r.hasMetadata = false
	r.metadata = r.metadata[:0]
	r.data = r.data[:0]
}

func (r *RequestFNF) Follows() bool     { return r.follows }
func (r *RequestFNF) SetFollows(v bool)  { r.follows = v }
func (r *RequestFNF) HasMetadata() bool { return r.hasMetadata }
func (r *RequestFNF) Metadata() []byte  { return r.metadata }
func (r *RequestFNF) Data() []byte      { return r.data }

func (r *RequestFNF) SetPayload(metadata, data []byte) {
	r.hasMetadata = metadata != nil
	r.metadata = append(r.metadata[:0], metadata...)
	r.data = append(r.data[:0], data...)
}

func (r *RequestFNF) Deserialize(fh *FrameHeader) error {
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

func (r *RequestFNF) Serialize(fh *FrameHeader) {
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
