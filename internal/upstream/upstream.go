// Package upstream models the upstream relay pool: per-upstream ping
// history, traffic meter, and health flag (spec §3, §4.4), combined into a
// score used by the flow dispatcher's selection (spec §4.9).
package upstream

import (
	"net"
	"sync/atomic"
)

// Protocol is how an Upstream's UDP relay endpoint was learned.
type Protocol int

const (
	ProtocolSocks5UDP Protocol = iota // direct --socks5-udp endpoint
	ProtocolSocks5TCP                 // learned via the referrer's UDP ASSOCIATE
)

// Upstream is one candidate SOCKSv5 UDP relay. Long-lived and shared
// (by pointer) across the dispatcher, sessions, and checking service.
type Upstream struct {
	Name     string
	Addr     *net.UDPAddr
	Protocol Protocol

	InnerProto AtomicInnerProto
	Ping       *PingHistory
	Traffic    *TrafficMeter
	Health     *HealthFlag

	// cumulative usage counters, updated by the flow dispatcher as it
	// forwards and receives payloads; sampled (not reset) by TrafficMeter.Sample.
	txBytes atomic.Uint64
	rxBytes atomic.Uint64

	// probeInProgress deduplicates concurrent health-probe spawns from
	// the ping and meter-sampling paths (spec §9's FIXME).
	probeInProgress atomic.Bool
}

// New creates an Upstream with fresh, empty ping/traffic/health state.
func New(name string, addr *net.UDPAddr, proto Protocol, inner InnerProto) *Upstream {
	u := &Upstream{
		Name:     name,
		Addr:     addr,
		Protocol: proto,
		Ping:     NewPingHistory(),
		Traffic:  NewTrafficMeter(),
		Health:   newHealthFlag(name),
	}
	u.InnerProto.Store(inner)
	return u
}

// AddTx/AddRx accumulate usage counters; called by the flow dispatcher
// for every payload it sends to or drains from a session.
func (u *Upstream) AddTx(n uint64) { u.txBytes.Add(n) }
func (u *Upstream) AddRx(n uint64) { u.rxBytes.Add(n) }

// CumulativeBytes returns the running totals TrafficMeter.Sample snapshots.
func (u *Upstream) CumulativeBytes() (tx, rx uint64) {
	return u.txBytes.Load(), u.rxBytes.Load()
}

// Score reports the upstream's current ranking value (lower is better).
func (u *Upstream) Score() int16 { return u.Ping.Score() }

// TryBeginProbe claims the "probe in progress" flag; returns false if a
// probe is already running, so the ping and meter-sampling paths never
// spawn duplicate health probes for the same upstream.
func (u *Upstream) TryBeginProbe() bool {
	return u.probeInProgress.CompareAndSwap(false, true)
}

// EndProbe releases the "probe in progress" flag.
func (u *Upstream) EndProbe() {
	u.probeInProgress.Store(false)
}
