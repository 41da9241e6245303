//go:build linux

package sockdiag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawTCPInfo_Unpack(t *testing.T) {
	var packed RawTCPInfo
	packed.state = 1
	packed.retransmits = 2
	packed.rtt = 1234
	packed.rttvar = 56
	packed.lost = 3
	packed.total_retrans = 4

	info := packed.unpack()
	assert.Equal(t, uint8(1), info.State)
	assert.Equal(t, uint8(2), info.Retransmits)
	assert.Equal(t, uint32(1234), info.RTT)
	assert.Equal(t, uint32(56), info.RTTVar)
	assert.Equal(t, uint32(3), info.Lost)
	assert.Equal(t, uint32(4), info.TotalRetrans)
}
