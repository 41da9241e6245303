package tproxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nullrouted/udptproxy/internal/tproxysock"
)

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestGroupPackets_GroupsBySourceAndDestination(t *testing.T) {
	packets := []tproxysock.Packet{
		{Src: udpAddr("10.0.0.1", 1111), Dst: udpAddr("1.1.1.1", 53), Payload: []byte("a")},
		{Src: udpAddr("10.0.0.1", 1111), Dst: udpAddr("1.1.1.1", 53), Payload: []byte("b")},
		{Src: udpAddr("10.0.0.2", 2222), Dst: udpAddr("1.1.1.1", 53), Payload: []byte("c")},
	}

	groups := groupPackets(packets)
	assert.Len(t, groups, 2)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, groups[0].Payloads)
	assert.Equal(t, [][]byte{[]byte("c")}, groups[1].Payloads)
}

func TestGroupPackets_DropsMissingAddresses(t *testing.T) {
	packets := []tproxysock.Packet{
		{Src: udpAddr("10.0.0.1", 1111), Dst: nil, Payload: []byte("a")},
		{Src: nil, Dst: udpAddr("1.1.1.1", 53), Payload: []byte("b")},
	}
	assert.Empty(t, groupPackets(packets))
}

func TestCanonicalize_CollapsesIPv4MappedIPv6(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.ParseIP("::ffff:192.0.2.1"), Port: 5000}
	got := canonicalize(mapped)
	assert.Equal(t, "192.0.2.1", got.IP.String())
	assert.Equal(t, 5000, got.Port)
}
