package ping

import (
	"context"

	"github.com/nullrouted/udptproxy/internal/upstream"
)

// probeRounds/probePingsPerRound implement spec §4.5's "N=3 rounds of R=3
// pings"; any round with at least one non-lost ping marks the family
// capable.
const (
	probeRounds        = 3
	probePingsPerRound = 3
)

// ProbeInnerProto classifies an upstream's reachable address families by
// running the probe independently over an IPv4-bound and an IPv6-bound
// SOCKSv5 UDP session. Either conn may be nil when the corresponding DNS
// target was not configured, in which case that family is never capable.
func ProbeInnerProto(ctx context.Context, v4Conn, v6Conn Conn) upstream.InnerProto {
	v4ok := probeFamily(ctx, v4Conn)
	v6ok := probeFamily(ctx, v6Conn)

	switch {
	case v4ok && v6ok:
		return upstream.Inet
	case v4ok:
		return upstream.IPv4
	case v6ok:
		return upstream.IPv6
	default:
		return upstream.Unspecified
	}
}

func probeFamily(ctx context.Context, conn Conn) bool {
	if conn == nil {
		return false
	}
	for round := 0; round < probeRounds; round++ {
		scratch := upstream.NewPingHistory()
		if err := RunBatch(ctx, conn, probePingsPerRound, scratch); err != nil {
			continue
		}
		if scratch.LossPercent() < 100 {
			return true
		}
	}
	return false
}
