package rsocket

var _ Frame = &Cancel{}

// Cancel carries no payload; the stream id in the frame header is the
// entire signal (spec.md §3, §5 cancellation semantics).
//
// Grounded on the teacher's RstStream (rststream.go), generalized from
// HTTP/2's error-coded reset to RSocket's bare cancel.
type Cancel struct{}

func (c *Cancel) Type() FrameType { return FrameTypeCancel }

func (c *Cancel) Reset() {}

func (c *Cancel) Deserialize(fh *FrameHeader) error {
	return nil
}

func (c *Cancel) Serialize(fh *FrameHeader) {
	fh.payload = fh.payload[:0]
}
