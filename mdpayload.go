package rsocket

import "github.com/domsolutions/rsocket/wireutil"

// appendMetadataData appends metadata (24-bit length prefixed, when
// hasMetadata) followed by data to dst, per spec.md §3's Payload shape
// and §4.1's metadata-block rule.
func appendMetadataData(dst, metadata []byte, hasMetadata bool, data []byte) []byte {
	if hasMetadata {
		dst = wireutil.AppendUint24Bytes(dst, uint32(len(metadata)))
		dst = append(dst, metadata...)
	}
	return append(dst, data...)
}

// splitMetadataData reverses appendMetadataData.
func splitMetadataData(payload []byte, hasMetadata bool) (metadata, data []byte, err error) {
	if !hasMetadata {
		return nil, payload, nil
	}
	if len(payload) < 3 {
		return nil, nil, ErrMissingBytes
	}
	mlen := int(wireutil.BytesToUint24(payload[:3]))
	payload = payload[3:]
	if len(payload) < mlen {
		return nil, nil, ErrMissingBytes
	}
	return payload[:mlen], payload[mlen:], nil
}
