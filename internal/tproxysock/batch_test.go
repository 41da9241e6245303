//go:build linux

package tproxysock

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestPortByteOrderRoundTrip(t *testing.T) {
	var raw uint16
	setRawPort(&raw, 51820)
	assert.Equal(t, 51820, portFromRaw(raw))
}

func TestPortByteOrderIsBigEndian(t *testing.T) {
	var raw uint16
	setRawPort(&raw, 0x0102)
	b := (*[2]byte)(unsafe.Pointer(&raw))
	assert.Equal(t, byte(0x01), b[0])
	assert.Equal(t, byte(0x02), b[1])
}
