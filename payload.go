package rsocket

var _ Frame = &Payload{}

// Payload carries one data/metadata value and/or the fragment and
// terminal flags for a stream (spec.md §3). follows, complete, and
// next combine per §4.5's rules; a frame with all three unset is a
// protocol error, enforced by the connection's frame router rather
// than the codec (see IsWellFormed).
type Payload struct {
	follows  bool
	complete bool
	next     bool

	hasMetadata bool
	metadata    []byte
	data        []byte
}

func (p *Payload) Type() FrameType { return FrameTypePayload }

func (p *Payload) Reset() {
	p.follows = false
	p.complete = false
	p.next = false
	p.hasMetadata = false
	p.metadata = p.metadata[:0]
	p.data = p.data[:0]
}

func (p *Payload) Follows() bool     { return p.follows }
func (p *Payload) SetFollows(v bool)  { p.follows = v }
func (p *Payload) Complete() bool    { return p.complete }
func (p *Payload) SetComplete(v bool) { p.complete = v }
func (p *Payload) Next() bool        { return p.next }
func (p *Payload) SetNext(v bool)     { p.next = v }
func (p *Payload) HasMetadata() bool { return p.hasMetadata }
func (p *Payload) Metadata() []byte  { return p.metadata }
func (p *Payload) Data() []byte      { return p.data }

func (p *Payload) SetPayload(metadata, data []byte) {
	p.hasMetadata = metadata != nil
	p.metadata = append(p.metadata[:0], metadata...)
	p.data = append(p.data[:0], data...)
}

// IsWellFormed reports the spec.md §4.5 rule that a Payload frame with
// next=0, complete=0, and follows=0 is a protocol error.
func (p *Payload) IsWellFormed() bool {
	return p.next || p.complete || p.follows
}

func (p *Payload) Deserialize(fh *FrameHeader) error {
	p.follows = fh.Flags().Has(FlagFollows)
	p.complete = fh.Flags().Has(FlagComplete)
	p.next = fh.Flags().Has(FlagNext)
	p.hasMetadata = fh.Flags().Has(FlagMetadata)

	metadata, data, err := splitMetadataData(fh.payload, p.hasMetadata)
	if err != nil {
		return err
	}
	p.metadata = append(p.metadata[:0], metadata...)
	p.data = append(p.data[:0], data...)

	// IsWellFormed is enforced by the connection's frame router
	// (handlePayloadFrame), not here: an intermediate fragment-chain
	// continuation legitimately has follows=1 with no next/complete, and
	// IsWellFormed is meaningless until a chain's terminal frame (the one
	// with follows=0) is known.
	return nil
}

func (p *Payload) Serialize(fh *FrameHeader) {
	flags := fh.Flags()
	if p.follows {
		flags = flags.Add(FlagFollows)
	}
	if p.complete {
		flags = flags.Add(FlagComplete)
	}
	if p.next {
		flags = flags.Add(FlagNext)
	}
	if p.hasMetadata {
		flags = flags.Add(FlagMetadata)
	}
	fh.SetFlags(flags)

	fh.setPayload(appendMetadataData(make([]byte, 0, len(p.metadata)+len(p.data)+3), p.metadata, p.hasMetadata, p.data))
}
