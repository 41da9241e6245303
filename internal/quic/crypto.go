package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// initialSaltV1 is the fixed salt RFC 9001 §5.2 specifies for deriving
// QUIC v1 Initial secrets from a connection's destination connection ID.
var initialSaltV1 = mustHex("38762cf7f55934b34d179ae6a4c80cadccbb7f0a")

// initialKeys holds the client-direction key material derived from a
// connection's DCID: enough to remove header protection and decrypt an
// Initial packet's payload.
type initialKeys struct {
	hp  []byte // 16 bytes, AES-128 header protection key
	key []byte // 16 bytes, AES-128-GCM payload key
	iv  []byte // 12 bytes, GCM nonce base
}

// deriveInitialKeys implements RFC 9001 §5.2's client initial secret
// derivation chain entirely via HKDF-SHA256.
func deriveInitialKeys(dcid []byte) (*initialKeys, error) {
	initialSecret := hkdf.Extract(sha256.New, dcid, initialSaltV1)

	clientSecret, err := hkdfExpandLabel(initialSecret, "client in", nil, 32)
	if err != nil {
		return nil, err
	}

	hp, err := hkdfExpandLabel(clientSecret, "quic hp", nil, 16)
	if err != nil {
		return nil, err
	}
	key, err := hkdfExpandLabel(clientSecret, "quic key", nil, 16)
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(clientSecret, "quic iv", nil, 12)
	if err != nil {
		return nil, err
	}

	return &initialKeys{hp: hp, key: key, iv: iv}, nil
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 §7.1),
// which QUIC reuses verbatim (RFC 9001 §5.1) with the label prefixed by
// "tls13 " and an empty context for all four Initial-secret derivations.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	fullLabel := "tls13 " + label

	hkdfLabel := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	hkdfLabel = binary.BigEndian.AppendUint16(hkdfLabel, uint16(length))
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, secret, hkdfLabel), out); err != nil {
		return nil, err
	}
	return out, nil
}

// headerProtectionMask runs AES-128 in single-block ECB mode (encrypting
// exactly one block) over sample, per RFC 9001 §5.4.
func headerProtectionMask(hpKey, sample []byte) ([]byte, error) {
	block, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}
	mask := make([]byte, block.BlockSize())
	block.Encrypt(mask, sample)
	return mask, nil
}

// packetNonce XORs the packet number into the low-order bytes of the
// big-endian IV, per RFC 9001 §5.3.
func packetNonce(iv []byte, pn uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}

// decryptPayload runs AES-128-GCM with additionalData as the unprotected
// header bytes, per RFC 9001 §5.3.
func decryptPayload(key, nonce, additionalData, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, additionalData)
}

// aeadSeal is the encryption counterpart of decryptPayload, used by tests
// to build a well-formed Initial packet without a second implementation.
func aeadSeal(key, nonce, additionalData, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		hi := hexNibble(s[i*2])
		lo := hexNibble(s[i*2+1])
		b[i] = hi<<4 | lo
	}
	return b
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
