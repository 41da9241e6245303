package socks5

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatagramHeader_RoundTripIPv4(t *testing.T) {
	addr := net.IPv4(203, 0, 113, 9)
	payload := []byte("hello upstream")

	header := BuildDatagramHeader(ATYPIPv4, addr, "", 53)
	packet := append(append([]byte{}, header...), payload...)

	got, gotPayload, err := ParseDatagramHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got.Frag)
	assert.Equal(t, ATYPIPv4, got.AddrType)
	assert.True(t, addr.Equal(got.Addr))
	assert.Equal(t, uint16(53), got.Port)
	assert.Equal(t, payload, gotPayload)
}

func TestDatagramHeader_RoundTripDomain(t *testing.T) {
	payload := []byte("query")
	header := BuildDatagramHeader(ATYPDomain, nil, "example.com", 443)
	packet := append(append([]byte{}, header...), payload...)

	got, gotPayload, err := ParseDatagramHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, uint16(443), got.Port)
	assert.Equal(t, payload, gotPayload)
}

func TestDatagramHeader_FragmentedDropped(t *testing.T) {
	packet := []byte{0, 0, 1, ATYPIPv4, 1, 2, 3, 4, 0, 53}
	_, _, err := ParseDatagramHeader(packet)
	assert.ErrorIs(t, err, ErrFragmented)
}

func TestDatagramHeader_TooShortRejected(t *testing.T) {
	_, _, err := ParseDatagramHeader([]byte{0, 0, 0})
	assert.Error(t, err)
}
