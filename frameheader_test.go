package rsocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeDecode(t *testing.T, fh *FrameHeader) *FrameHeader {
	t.Helper()
	b, err := fh.EncodeFrame()
	require.NoError(t, err)

	out, err := DecodeFrame(b)
	require.NoError(t, err)
	return out
}

func TestFrameHeaderRoundTripSetup(t *testing.T) {
	setup := AcquireFrame(FrameTypeSetup).(*Setup)
	setup.SetVersion(1, 0)
	setup.SetKeepAliveInterval(20000)
	setup.SetMaxLifetime(90000)
	setup.SetMetadataMimeType(MimeMessageXRSocketCompositeMetadata)
	setup.SetDataMimeType(MimeApplicationJSON)
	setup.SetLeaseRequested(true)
	setup.SetResumeToken([]byte("resume-token"))
	setup.SetPayload([]byte("meta"), []byte("data"))

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(setup)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*Setup)
	major, minor := body.Version()
	assert.EqualValues(t, 1, major)
	assert.EqualValues(t, 0, minor)
	assert.EqualValues(t, 20000, body.KeepAliveInterval())
	assert.EqualValues(t, 90000, body.MaxLifetime())
	assert.True(t, body.LeaseRequested())
	assert.True(t, body.ResumeEnabled())
	assert.Equal(t, []byte("resume-token"), body.ResumeToken())
	assert.Equal(t, MimeMessageXRSocketCompositeMetadata, body.MetadataMimeType())
	assert.Equal(t, MimeApplicationJSON, body.DataMimeType())
	assert.Equal(t, []byte("meta"), body.Metadata())
	assert.Equal(t, []byte("data"), body.Data())
}

func TestFrameHeaderRoundTripRequestResponse(t *testing.T) {
	rr := AcquireFrame(FrameTypeRequestResponse).(*RequestResponse)
	rr.SetPayload([]byte("md"), []byte("hello"))

	fh := AcquireFrameHeader()
	fh.SetStream(7)
	fh.SetBody(rr)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	assert.EqualValues(t, 7, out.Stream())
	body := out.Body().(*RequestResponse)
	assert.True(t, body.HasMetadata())
	assert.Equal(t, []byte("md"), body.Metadata())
	assert.Equal(t, []byte("hello"), body.Data())
}

func TestFrameHeaderRoundTripRequestStream(t *testing.T) {
	rs := AcquireFrame(FrameTypeRequestStream).(*RequestStream)
	require.NoError(t, rs.SetInitialRequestN(42))
	rs.SetPayload(nil, []byte("query"))

	fh := AcquireFrameHeader()
	fh.SetStream(3)
	fh.SetBody(rs)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*RequestStream)
	assert.EqualValues(t, 42, body.InitialRequestN())
	assert.False(t, body.HasMetadata())
	assert.Equal(t, []byte("query"), body.Data())
}

func TestFrameHeaderRoundTripRequestChannel(t *testing.T) {
	rc := AcquireFrame(FrameTypeRequestChannel).(*RequestChannel)
	require.NoError(t, rc.SetInitialRequestN(5))
	rc.SetComplete(true)
	rc.SetPayload(nil, []byte("open"))

	fh := AcquireFrameHeader()
	fh.SetStream(9)
	fh.SetBody(rc)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*RequestChannel)
	assert.EqualValues(t, 5, body.InitialRequestN())
	assert.True(t, body.Complete())
}

func TestFrameHeaderRoundTripPayload(t *testing.T) {
	p := AcquireFrame(FrameTypePayload).(*Payload)
	p.SetNext(true)
	p.SetComplete(true)
	p.SetPayload([]byte("m"), []byte("d"))

	fh := AcquireFrameHeader()
	fh.SetStream(11)
	fh.SetBody(p)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*Payload)
	assert.True(t, body.Next())
	assert.True(t, body.Complete())
	assert.True(t, body.IsWellFormed())
}

func TestFrameHeaderRoundTripKeepAlive(t *testing.T) {
	k := AcquireFrame(FrameTypeKeepAlive).(*KeepAlive)
	k.SetRespond(true)
	k.SetLastReceivedPosition(1234)
	k.SetData([]byte("ping"))

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(k)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*KeepAlive)
	assert.True(t, body.Respond())
	assert.EqualValues(t, 1234, body.LastReceivedPosition())
	assert.Equal(t, []byte("ping"), body.Data())
}

func TestFrameHeaderRoundTripError(t *testing.T) {
	e := AcquireFrame(FrameTypeError).(*ErrorFrame)
	e.SetCode(ErrorApplicationError)
	e.SetData([]byte("boom"))

	fh := AcquireFrameHeader()
	fh.SetStream(5)
	fh.SetBody(e)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*ErrorFrame)
	assert.Equal(t, ErrorApplicationError, body.Code())
	assert.Equal(t, []byte("boom"), body.Data())
}

func TestFrameHeaderReservedBitRejected(t *testing.T) {
	b := make([]byte, HeaderSize)
	b[0] = 0x80 // top bit of the 31-bit stream id set

	_, err := DecodeFrame(b)
	require.Error(t, err)
	rerr, ok := err.(Error)
	require.True(t, ok)
	assert.True(t, rerr.IsConnectionScoped())
}

func TestFrameHeaderStreamIDInvariant(t *testing.T) {
	rr := AcquireFrame(FrameTypeRequestResponse).(*RequestResponse)
	rr.SetPayload(nil, []byte("x"))
	fh := AcquireFrameHeader()
	fh.SetStream(0) // invalid: REQUEST_RESPONSE requires a non-zero stream id
	fh.SetBody(rr)

	b, err := fh.EncodeFrame()
	require.NoError(t, err)
	ReleaseFrameHeader(fh)

	_, err = DecodeFrame(b)
	require.Error(t, err)
}

func TestFrameHeaderTruncated(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	assert.Equal(t, ErrMissingBytes, err)
}

func TestFrameHeaderRoundTripLease(t *testing.T) {
	l := AcquireFrame(FrameTypeLease).(*Lease)
	l.SetTTL(60000)
	l.SetNumberOfRequests(128)
	l.SetMetadata([]byte("lease-md"))

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(l)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*Lease)
	assert.EqualValues(t, 60000, body.TTL())
	assert.EqualValues(t, 128, body.NumberOfRequests())
	assert.Equal(t, []byte("lease-md"), body.Metadata())
}

func TestFrameHeaderRoundTripLeaseWithoutMetadata(t *testing.T) {
	l := AcquireFrame(FrameTypeLease).(*Lease)
	l.SetTTL(1000)
	l.SetNumberOfRequests(1)

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(l)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*Lease)
	assert.EqualValues(t, 1000, body.TTL())
	assert.Empty(t, body.Metadata())
}

func TestFrameHeaderRoundTripMetadataPush(t *testing.T) {
	m := AcquireFrame(FrameTypeMetadataPush).(*MetadataPush)
	m.SetMetadata([]byte("route-to-service"))

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(m)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*MetadataPush)
	assert.Equal(t, []byte("route-to-service"), body.Metadata())
}

func TestFrameHeaderRoundTripResume(t *testing.T) {
	r := AcquireFrame(FrameTypeResume).(*Resume)
	r.SetVersion(1, 0)
	r.SetResumeToken([]byte("resume-token-bytes"))
	r.SetLastReceivedServerPosition(4096)
	r.SetFirstAvailableClientPosition(2048)

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(r)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*Resume)
	major, minor := body.Version()
	assert.EqualValues(t, 1, major)
	assert.EqualValues(t, 0, minor)
	assert.Equal(t, []byte("resume-token-bytes"), body.ResumeToken())
	assert.EqualValues(t, 4096, body.LastReceivedServerPosition())
	assert.EqualValues(t, 2048, body.FirstAvailableClientPosition())
}

func TestFrameHeaderRoundTripResumeOK(t *testing.T) {
	r := AcquireFrame(FrameTypeResumeOK).(*ResumeOK)
	r.SetLastReceivedClientPosition(8192)

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(r)

	out := encodeDecode(t, fh)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*ResumeOK)
	assert.EqualValues(t, 8192, body.LastReceivedClientPosition())
}

func TestSetupMimeFieldWellKnownAndCustomRoundTrip(t *testing.T) {
	setup := AcquireFrame(FrameTypeSetup).(*Setup)
	setup.SetVersion(1, 0)
	setup.SetMetadataMimeType(MimeMessageXRSocketCompositeMetadata)
	setup.SetDataMimeType("application/x.custom-made-up-type")
	setup.SetPayload(nil, []byte("data"))

	fh := AcquireFrameHeader()
	fh.SetStream(0)
	fh.SetBody(setup)

	b, err := fh.EncodeFrame()
	require.NoError(t, err)

	out, err := DecodeFrame(b)
	require.NoError(t, err)
	defer ReleaseFrameHeader(out)

	body := out.Body().(*Setup)
	assert.Equal(t, MimeMessageXRSocketCompositeMetadata, body.MetadataMimeType())
	assert.Equal(t, "application/x.custom-made-up-type", body.DataMimeType())

	id, ok := mimeToID(MimeMessageXRSocketCompositeMetadata)
	require.True(t, ok)
	assert.Equal(t, byte(9), id)
	_, ok = mimeToID("application/x.custom-made-up-type")
	assert.False(t, ok, "a made-up MIME type must not collide with the well-known table")
}

func TestFrameHeaderUnknownTypeFallsBackToExt(t *testing.T) {
	b := make([]byte, HeaderSize)
	b[4] = 0x3D<<2 | 0x02 // an unassigned frame type, I flag set

	fh, err := DecodeFrame(b)
	require.NoError(t, err)
	defer ReleaseFrameHeader(fh)

	_, ok := fh.Body().(*Ext)
	assert.True(t, ok)
}
