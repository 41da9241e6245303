package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeVarint encodes v into exactly length bytes (1, 2, 4, or 8),
// mirroring decodeVarint's prefix convention. Test-only helper: the
// production code only ever needs to decode received varints.
func encodeVarint(v uint64, length int) []byte {
	var prefix byte
	switch length {
	case 1:
		prefix = 0x00
	case 2:
		prefix = 0x40
	case 4:
		prefix = 0x80
	case 8:
		prefix = 0xc0
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	out[0] |= prefix
	return out
}

// buildInitialDatagram assembles a valid, header-protected, AES-128-GCM
// encrypted QUIC v1 client Initial datagram carrying a single CRYPTO
// frame (a ClientHello advertising sni), padded to the 1200-byte floor.
func buildInitialDatagram(t *testing.T, dcid []byte, sni string) []byte {
	t.Helper()

	clientHello := buildClientHelloWithSNI(t, sni)

	cryptoFrame := []byte{frameTypeCrypto}
	cryptoFrame = append(cryptoFrame, encodeVarint(0, 1)...) // offset 0
	cryptoFrame = append(cryptoFrame, encodeVarint(uint64(len(clientHello)), 2)...)
	cryptoFrame = append(cryptoFrame, clientHello...)

	const minPayload = 1200
	payload := append([]byte{}, cryptoFrame...)
	for len(payload) < minPayload {
		payload = append(payload, frameTypePadding)
	}

	keys, err := deriveInitialKeys(dcid)
	require.NoError(t, err)

	const pn = uint64(1)
	const pnLen = 1

	header := []byte{0xc0} // long header, fixed bit, type=Initial, pnLen-1=0
	header = append(header, 0x00, 0x00, 0x00, 0x01) // version 1
	header = append(header, byte(len(dcid)))
	header = append(header, dcid...)
	header = append(header, 0x00) // scid len 0
	header = append(header, encodeVarint(0, 1)...) // token length 0

	ciphertextLen := pnLen + len(payload) + 16 // +GCM tag
	header = append(header, encodeVarint(uint64(ciphertextLen), 2)...)
	pnOffset := len(header)
	header = append(header, byte(pn)) // pnLen=1

	nonce := packetNonce(keys.iv, pn)
	ciphertext, err := aeadSeal(keys.key, nonce, header, payload)
	require.NoError(t, err)

	datagram := append(append([]byte{}, header...), ciphertext...)

	const sampleLen = 16
	sampleOffset := pnOffset + 4
	require.GreaterOrEqual(t, len(datagram), sampleOffset+sampleLen)
	sample := datagram[sampleOffset : sampleOffset+sampleLen]

	mask, err := headerProtectionMask(keys.hp, sample)
	require.NoError(t, err)

	datagram[0] ^= mask[0] & 0x0f
	for i := 0; i < pnLen; i++ {
		datagram[pnOffset+i] ^= mask[1+i]
	}

	return datagram
}

func TestParseClientHelloSNI_RoundTrip(t *testing.T) {
	dcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	datagram := buildInitialDatagram(t, dcid, "www.google.com")

	name, err := ParseClientHelloSNI(datagram)
	require.NoError(t, err)
	require.Equal(t, "www.google.com", name)
}

func TestParseClientHelloSNI_RejectsShortDatagram(t *testing.T) {
	_, err := ParseClientHelloSNI(make([]byte, 100))
	require.Error(t, err)
}

func TestParseClientHelloSNI_RejectsNonInitialFirstByte(t *testing.T) {
	datagram := make([]byte, minInitialSize)
	datagram[0] = 0x40 // short header
	_, err := ParseClientHelloSNI(datagram)
	require.Error(t, err)
}
