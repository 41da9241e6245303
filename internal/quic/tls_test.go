package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildClientHelloWithSNI(t *testing.T, name string) []byte {
	t.Helper()

	nameBytes := []byte(name)
	serverName := append([]byte{serverNameTypeHostName}, uint16ToBytes(uint16(len(nameBytes)))...)
	serverName = append(serverName, nameBytes...)

	serverNameList := append(uint16ToBytes(uint16(len(serverName))), serverName...)

	ext := append(uint16ToBytes(extensionServerName), uint16ToBytes(uint16(len(serverNameList)))...)
	ext = append(ext, serverNameList...)

	body := []byte{0x03, 0x03} // legacy_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)   // session_id_len
	body = append(body, uint16ToBytes(2)...)
	body = append(body, 0x13, 0x01) // TLS_AES_128_GCM_SHA256
	body = append(body, 0x01, 0x00) // compression methods
	body = append(body, uint16ToBytes(uint16(len(ext)))...)
	body = append(body, ext...)

	msg := []byte{handshakeTypeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	msg = append(msg, body...)
	return msg
}

func uint16ToBytes(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func TestExtractSNI_ValidHostname(t *testing.T) {
	msg := buildClientHelloWithSNI(t, "www.google.com")
	name, err := extractSNI(msg)
	require.NoError(t, err)
	assert.Equal(t, "www.google.com", name)
}

func TestExtractSNI_RejectsInvalidCharacters(t *testing.T) {
	for _, bad := range []string{"exa mple.com", "exa%6dple.com", "exämple.com"} {
		msg := buildClientHelloWithSNI(t, bad)
		_, err := extractSNI(msg)
		assert.Error(t, err, bad)
	}
}

func TestExtractSNI_NoExtensions(t *testing.T) {
	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, uint16ToBytes(0)...)
	body = append(body, 0x01, 0x00)
	// no extensions length/data at all
	msg := []byte{handshakeTypeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	msg = append(msg, body...)

	_, err := extractSNI(msg)
	assert.Error(t, err)
}
