package rsocket

// fragment.go implements C2: splitting an oversize request/payload into
// a follows-chain of wire frames at a configured MTU, and reassembling
// a follows-chain back into one logical payload (spec.md §4.2).
//
// Only the head frame of a chain carries the M flag and the 24-bit
// metadata length prefix; it applies to the chain's whole reassembled
// byte blob. Continuation frames are plain Payload frames contributing
// raw bytes to that same blob, so chunk boundaries need not respect
// the metadata/data split.
//
// Grounded on the teacher's Continuation chain handling
// (continuation.go, serverConn.go's header-block accumulation),
// generalized from HPACK header blocks to RSocket payload blobs.

// buildBlob concatenates the optional 24-bit metadata length prefix,
// metadata, and data into the single byte stream a fragment chain
// carries.
func buildBlob(metadata []byte, hasMetadata bool, data []byte) []byte {
	return appendMetadataData(make([]byte, 0, 3+len(metadata)+len(data)), metadata, hasMetadata, data)
}

// splitBlob is the reassembler-side inverse of buildBlob.
func splitBlob(blob []byte, hasMetadata bool) (metadata, data []byte, err error) {
	return splitMetadataData(blob, hasMetadata)
}

// chunkBlob splits blob into pieces no larger than headBudget (for the
// first piece) and contBudget (for every later piece). Both budgets
// must be >0; planFragments falls back to a single whole-blob chunk
// when the mtu leaves no room for one. Always returns at least one
// chunk, even for an empty blob.
func chunkBlob(blob []byte, headBudget, contBudget int) [][]byte {
	if len(blob) == 0 {
		return [][]byte{blob[:0]}
	}

	var chunks [][]byte
	budget := headBudget
	for len(blob) > 0 {
		n := budget
		if n > len(blob) {
			n = len(blob)
		}
		chunks = append(chunks, blob[:n])
		blob = blob[n:]
		budget = contBudget
	}
	return chunks
}

// planFragments computes the chunk sequence for a (metadata,data) blob
// given the head frame's own fixed-field size (e.g. 4 bytes for
// RequestStream's initialRequestN) and the negotiated mtu. mtu==0
// disables fragmentation: the whole blob goes in the head frame.
func planFragments(mtu int, headFixedLen int, metadata []byte, hasMetadata bool, data []byte) [][]byte {
	blob := buildBlob(metadata, hasMetadata, data)

	if mtu == 0 {
		return [][]byte{blob}
	}

	headBudget := mtu - HeaderSize - headFixedLen
	contBudget := mtu - HeaderSize
	if headBudget <= 0 || contBudget <= 0 {
		headBudget, contBudget = len(blob), len(blob)
		if headBudget == 0 {
			headBudget = 1
		}
	}

	return chunkBlob(blob, headBudget, contBudget)
}

// buildContinuations turns chunks[1:] into Payload frame headers for
// stream. next/complete apply only to the last element of the whole
// chain (chunks[len-1]), and only when applyTerminal is true; every
// other continuation carries follows=true and no next/complete flags.
func buildContinuations(stream uint32, chunks [][]byte, applyTerminal bool, next, complete bool) []*FrameHeader {
	var out []*FrameHeader
	for i := 1; i < len(chunks); i++ {
		p := AcquireFrame(FrameTypePayload).(*Payload)
		isLastChunk := i == len(chunks)-1
		p.SetFollows(!isLastChunk)
		if isLastChunk && applyTerminal {
			p.SetNext(next)
			p.SetComplete(complete)
		}
		p.SetPayload(nil, chunks[i])
		p.hasMetadata = false

		fh := AcquireFrameHeader()
		fh.SetStream(stream)
		fh.SetBody(p)
		out = append(out, fh)
	}
	return out
}

// FragmentRequestResponse builds the wire frame chain for a (possibly
// fragmented) REQUEST_RESPONSE.
func FragmentRequestResponse(stream uint32, metadata []byte, hasMetadata bool, data []byte, mtu int) []*FrameHeader {
	chunks := planFragments(mtu, 0, metadata, hasMetadata, data)

	head := AcquireFrame(FrameTypeRequestResponse).(*RequestResponse)
	head.SetFollows(len(chunks) > 1)
	head.SetPayload(nil, chunks[0])
	head.hasMetadata = hasMetadata

	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(head)

	out := append([]*FrameHeader{fh}, buildContinuations(stream, chunks, false, false, false)...)
	return out
}

// FragmentRequestFNF builds the wire frame chain for a (possibly
// fragmented) REQUEST_FNF.
func FragmentRequestFNF(stream uint32, metadata []byte, hasMetadata bool, data []byte, mtu int) []*FrameHeader {
	chunks := planFragments(mtu, 0, metadata, hasMetadata, data)

	head := AcquireFrame(FrameTypeRequestFNF).(*RequestFNF)
	head.SetFollows(len(chunks) > 1)
	head.SetPayload(nil, chunks[0])
	head.hasMetadata = hasMetadata

	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(head)

	return append([]*FrameHeader{fh}, buildContinuations(stream, chunks, false, false, false)...)
}

// FragmentRequestStream builds the wire frame chain for a (possibly
// fragmented) REQUEST_STREAM.
func FragmentRequestStream(stream uint32, initialRequestN uint32, metadata []byte, hasMetadata bool, data []byte, mtu int) ([]*FrameHeader, error) {
	chunks := planFragments(mtu, 4, metadata, hasMetadata, data)

	head := AcquireFrame(FrameTypeRequestStream).(*RequestStream)
	if err := head.SetInitialRequestN(initialRequestN); err != nil {
		ReleaseFrame(head)
		return nil, err
	}
	head.SetFollows(len(chunks) > 1)
	head.SetPayload(nil, chunks[0])
	head.hasMetadata = hasMetadata

	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(head)

	return append([]*FrameHeader{fh}, buildContinuations(stream, chunks, false, false, false)...), nil
}

// FragmentRequestChannel builds the wire frame chain for a (possibly
// fragmented) REQUEST_CHANNEL.
func FragmentRequestChannel(stream uint32, initialRequestN uint32, complete bool, metadata []byte, hasMetadata bool, data []byte, mtu int) ([]*FrameHeader, error) {
	chunks := planFragments(mtu, 4, metadata, hasMetadata, data)

	head := AcquireFrame(FrameTypeRequestChannel).(*RequestChannel)
	if err := head.SetInitialRequestN(initialRequestN); err != nil {
		ReleaseFrame(head)
		return nil, err
	}
	head.SetFollows(len(chunks) > 1)
	head.SetComplete(complete)
	head.SetPayload(nil, chunks[0])
	head.hasMetadata = hasMetadata

	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(head)

	return append([]*FrameHeader{fh}, buildContinuations(stream, chunks, false, false, false)...), nil
}

// FragmentPayload builds the wire frame chain for a (possibly
// fragmented) outbound Payload, used for every next/complete value a
// responder or channel peer emits after the initial request.
func FragmentPayload(stream uint32, next, complete bool, metadata []byte, hasMetadata bool, data []byte, mtu int) []*FrameHeader {
	chunks := planFragments(mtu, 0, metadata, hasMetadata, data)

	head := AcquireFrame(FrameTypePayload).(*Payload)
	isTerminal := len(chunks) == 1
	head.SetFollows(!isTerminal)
	if isTerminal {
		head.SetNext(next)
		head.SetComplete(complete)
	}
	head.SetPayload(nil, chunks[0])
	head.hasMetadata = hasMetadata

	fh := AcquireFrameHeader()
	fh.SetStream(stream)
	fh.SetBody(head)

	return append([]*FrameHeader{fh}, buildContinuations(stream, chunks, true, next, complete)...)
}

// Reassembler buffers follow-chained fragments per stream id and
// delivers one logical payload when the terminal fragment (follows=
// false) arrives (spec.md §4.2).
//
// A Reassembler instance is owned by a single stream and must only be
// driven by that stream's single ingress writer.
type Reassembler struct {
	kind        FrameType // the frame type of the chain's head
	hasMetadata bool
	blob        []byte
	active      bool
}

// Begin starts (or restarts) a fragment chain for the head frame's
// kind and metadata flag.
func (r *Reassembler) Begin(kind FrameType, hasMetadata bool) {
	r.kind = kind
	r.hasMetadata = hasMetadata
	r.blob = r.blob[:0]
	r.active = true
}

func (r *Reassembler) Active() bool { return r.active }

// Feed appends one fragment's raw bytes to the buffered blob.
func (r *Reassembler) Feed(b []byte) {
	r.blob = append(r.blob, b...)
}

// Finish completes the chain and returns the reassembled metadata/data.
func (r *Reassembler) Finish() (metadata, data []byte, err error) {
	r.active = false
	metadata, data, err = splitBlob(r.blob, r.hasMetadata)
	r.blob = r.blob[:0]
	return metadata, data, err
}

// Reset discards any buffered fragment state, e.g. on cancel/error.
func (r *Reassembler) Reset() {
	r.active = false
	r.blob = r.blob[:0]
}
