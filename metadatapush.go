package rsocket

var _ Frame = &MetadataPush{}

// MetadataPush carries connection-level, streamId==0 metadata with no
// accompanying data (spec.md §3, §4.7).
type MetadataPush struct {
	metadata []byte
}

func (m *MetadataPush) Type() FrameType { return FrameTypeMetadataPush }

func (m *MetadataPush) Reset() { m.metadata = m.metadata[:0] }

func (m *MetadataPush) Metadata() []byte { return m.metadata }
func (m *MetadataPush) SetMetadata(b []byte) {
	m.metadata = append(m.metadata[:0], b...)
}

func (m *MetadataPush) Deserialize(fh *FrameHeader) error {
	m.metadata = append(m.metadata[:0], fh.payload...)
	return nil
}

func (m *MetadataPush) Serialize(fh *FrameHeader) {
	fh.SetFlags(fh.Flags().Add(FlagMetadata))
	fh.setPayload(m.metadata)
}
