package upstream

import "sync/atomic"

// InnerProto is the IP family an upstream relay is known to be capable of
// reaching, as discovered by the dual-stack ping probe in internal/ping.
type InnerProto int32

const (
	Unspecified InnerProto = iota
	IPv4
	IPv6
	Inet
)

func (p InnerProto) String() string {
	switch p {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case Inet:
		return "inet"
	default:
		return "unspecified"
	}
}

// ParseInnerProto parses the TOML `inner_proto` field. "auto" and "" map
// to Unspecified, deferring the decision to the dual-stack probe.
func ParseInnerProto(s string) InnerProto {
	switch s {
	case "ipv4":
		return IPv4
	case "ipv6":
		return IPv6
	case "inet":
		return Inet
	default:
		return Unspecified
	}
}

// Target is the IP family of a flow's destination, derived from the
// client's remote address or from a QUIC-SNI-driven remote-DNS name.
type Target int32

const (
	TargetIPv4 Target = iota
	TargetIPv6
	TargetAny
)

// capable implements the matrix in spec §4.5: Unspecified and Inet are
// wildcards, IPv4/IPv6 only satisfy their own family or TargetAny.
func (p InnerProto) capable(t Target) bool {
	switch p {
	case Unspecified, Inet:
		return true
	case IPv4:
		return t == TargetIPv4 || t == TargetAny
	case IPv6:
		return t == TargetIPv6 || t == TargetAny
	default:
		return true
	}
}

// AtomicInnerProto is the atomically-settable inner protocol field an
// Upstream carries, per the data model in spec §3.
type AtomicInnerProto struct {
	v atomic.Int32
}

func (a *AtomicInnerProto) Load() InnerProto      { return InnerProto(a.v.Load()) }
func (a *AtomicInnerProto) Store(p InnerProto)    { a.v.Store(int32(p)) }
func (a *AtomicInnerProto) CapableOf(t Target) bool { return a.Load().capable(t) }
