package socks5

import (
	"fmt"
	"net"
)

// Target is the destination a UDP session's relayed datagrams are
// addressed to, per spec §4.6: an IPv4 socket, an IPv6 socket, or a
// remote-DNS name plus port.
type Target struct {
	V4     *net.UDPAddr // set when kind is V4
	V6     *net.UDPAddr // set when kind is V6
	Name   string       // set when kind is Name
	Port   uint16       // set when kind is Name
	isName bool
}

func TargetV4(addr *net.UDPAddr) Target { return Target{V4: addr} }
func TargetV6(addr *net.UDPAddr) Target { return Target{V6: addr} }
func TargetName(name string, port uint16) Target {
	return Target{Name: name, Port: port, isName: true}
}

// header returns the pre-encoded SOCKSv5 UDP header bytes for this target.
func (t Target) header() []byte {
	switch {
	case t.isName:
		return BuildDatagramHeader(ATYPDomain, nil, t.Name, t.Port)
	case t.V6 != nil:
		return BuildDatagramHeader(ATYPIPv6, t.V6.IP, "", uint16(t.V6.Port))
	default:
		return BuildDatagramHeader(ATYPIPv4, t.V4.IP, "", uint16(t.V4.Port))
	}
}

func (t Target) String() string {
	switch {
	case t.isName:
		return fmt.Sprintf("%s:%d", t.Name, t.Port)
	case t.V6 != nil:
		return t.V6.String()
	default:
		return t.V4.String()
	}
}
