package quic

import "errors"

// minInitialSize is spec §4.8's ≥ 1200 byte requirement for a datagram
// carrying a client Initial (RFC 9000 §14.1 anti-amplification padding).
const minInitialSize = 1200

const quicVersion1 = 1

var (
	errTooShort     = errors.New("quic: datagram shorter than a client Initial")
	errNotInitial   = errors.New("quic: not a long-header v1 Initial packet")
	errTruncated    = errors.New("quic: truncated Initial header")
	errCIDTooLong   = errors.New("quic: connection ID exceeds 20 bytes")
	errSamplePast   = errors.New("quic: header protection sample extends past the packet")
)

// ParseClientHelloSNI attempts to recover the SNI hostname from a UDP
// datagram's first packet, per spec §4.8. Any parsing failure at any
// step is non-fatal: it returns an error and the caller proceeds without
// a remote name.
func ParseClientHelloSNI(datagram []byte) (string, error) {
	if len(datagram) < minInitialSize {
		return "", errTooShort
	}
	if datagram[0]&0xf0 != 0xc0 {
		return "", errNotInitial
	}
	if len(datagram) < 5 {
		return "", errTruncated
	}
	version := uint32(datagram[1])<<24 | uint32(datagram[2])<<16 | uint32(datagram[3])<<8 | uint32(datagram[4])
	if version != quicVersion1 {
		return "", errNotInitial
	}

	off := 5
	dcidLen := int(datagram[off])
	off++
	if dcidLen > 20 {
		return "", errCIDTooLong
	}
	if len(datagram) < off+dcidLen {
		return "", errTruncated
	}
	dcid := datagram[off : off+dcidLen]
	off += dcidLen

	if len(datagram) < off+1 {
		return "", errTruncated
	}
	scidLen := int(datagram[off])
	off++
	if scidLen > 20 {
		return "", errCIDTooLong
	}
	if len(datagram) < off+scidLen {
		return "", errTruncated
	}
	off += scidLen

	tokenLen, n, ok := decodeVarint(datagram[off:])
	if !ok {
		return "", errTruncated
	}
	off += n
	if len(datagram) < off+int(tokenLen) {
		return "", errTruncated
	}
	off += int(tokenLen)

	packetLen, n, ok := decodeVarint(datagram[off:])
	if !ok {
		return "", errTruncated
	}
	off += n
	pnOffset := off
	if uint64(len(datagram)-off) < packetLen {
		return "", errTruncated
	}

	keys, err := deriveInitialKeys(dcid)
	if err != nil {
		return "", err
	}

	// Header protection sample starts 4 bytes into the (as-yet-unknown
	// length) packet number field, per RFC 9001 §5.4.2.
	const pnMaxLen = 4
	const sampleLen = 16
	sampleOffset := pnOffset + pnMaxLen
	if len(datagram) < sampleOffset+sampleLen {
		return "", errSamplePast
	}
	sample := datagram[sampleOffset : sampleOffset+sampleLen]

	mask, err := headerProtectionMask(keys.hp, sample)
	if err != nil {
		return "", err
	}

	unprotected := make([]byte, len(datagram))
	copy(unprotected, datagram)
	unprotected[0] ^= mask[0] & 0x0f

	pnLen := int(unprotected[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		unprotected[pnOffset+i] ^= mask[1+i]
	}

	var pn uint64
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint64(unprotected[pnOffset+i])
	}

	header := unprotected[:pnOffset+pnLen]
	ciphertextEnd := pnOffset + int(packetLen)
	if ciphertextEnd > len(unprotected) {
		ciphertextEnd = len(unprotected)
	}
	ciphertext := unprotected[pnOffset+pnLen : ciphertextEnd]

	nonce := packetNonce(keys.iv, pn)
	payload, err := decryptPayload(keys.key, nonce, header, ciphertext)
	if err != nil {
		return "", err
	}

	segments, err := parseInitialFrames(payload)
	if err != nil {
		return "", err
	}
	assembled := reassembleCrypto(segments)
	if len(assembled) == 0 {
		return "", errors.New("quic: no crypto data assembled")
	}

	return extractSNI(assembled)
}
