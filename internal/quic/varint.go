// Package quic parses the Initial packet of a client's first QUIC v1
// datagram (spec §4.8) far enough to recover the TLS ClientHello SNI,
// using stdlib crypto/aes+cipher for AES-128-ECB/GCM and
// golang.org/x/crypto/hkdf for RFC 9001 §5.2 key derivation.
package quic

// decodeVarint decodes a QUIC variable-length integer (RFC 9000 §16): the
// top two bits of the first byte select a length of 1, 2, 4, or 8 bytes.
// Returns the decoded value, the number of bytes consumed, and false if
// data is too short to hold the encoded length.
func decodeVarint(data []byte) (value uint64, n int, ok bool) {
	if len(data) == 0 {
		return 0, 0, false
	}
	length := 1 << (data[0] >> 6)
	if len(data) < length {
		return 0, 0, false
	}
	value = uint64(data[0] & 0x3f)
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(data[i])
	}
	return value, length, true
}
