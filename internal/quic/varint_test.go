package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeVarint(t *testing.T) {
	cases := []struct {
		name  string
		data  []byte
		value uint64
		n     int
	}{
		{"1-byte zero", []byte{0x00}, 0, 1},
		{"2-byte", []byte{0x40, 0x47}, 71, 2},
		{"4-byte", []byte{0x80, 0x00, 0x40, 0x47}, 16455, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, n, ok := decodeVarint(c.data)
			assert.True(t, ok)
			assert.Equal(t, c.value, v)
			assert.Equal(t, c.n, n)
		})
	}
}

func TestDecodeVarint_TooShort(t *testing.T) {
	_, _, ok := decodeVarint([]byte{0x80, 0x00})
	assert.False(t, ok)
}
