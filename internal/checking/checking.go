// Package checking implements the checking service of spec §4.10: three
// concurrent periodic tasks (ping_all, meter_sampling_all,
// health_check_all) that keep each Upstream's health model current.
// Grounded on the teacher pack's ticker-driven background-task style
// (runZeroInc-sockstats' periodic tcp_info polling loop).
package checking

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/ping"
	"github.com/nullrouted/udptproxy/internal/socks5"
	"github.com/nullrouted/udptproxy/internal/upstream"
)

// Defaults for the checking service's three tasks, per spec §6/§4.10.
const (
	DefaultCheckInterval  = 30 * time.Second
	MeterSamplingInterval = 1 * time.Second
	HealthCheckInterval   = 1 * time.Second
	healthCheckOffset     = 500 * time.Millisecond

	// defaultPingCount is the batch size ping_all uses; spec §4.5 leaves
	// the count caller-configurable. health_check_all's one-shot probe
	// sends a single ping instead.
	defaultPingCount = 3
)

// Checker runs the three periodic tasks against every upstream in pool.
type Checker struct {
	pool          *upstream.Pool
	checkInterval time.Duration
	dnsV4         *net.UDPAddr
	dnsV6         *net.UDPAddr

	mu      sync.Mutex
	probed  map[string]*atomic.Bool // per-upstream: has an Unspecified upstream's inner proto been probed yet
}

// New constructs a Checker. dnsV4/dnsV6 are the configured ping targets
// (--check-dns-server-v4/v6).
func New(pool *upstream.Pool, checkInterval time.Duration, dnsV4, dnsV6 *net.UDPAddr) *Checker {
	return &Checker{
		pool:          pool,
		checkInterval: checkInterval,
		dnsV4:         dnsV4,
		dnsV6:         dnsV6,
		probed:        make(map[string]*atomic.Bool),
	}
}

// Run starts all three periodic tasks and blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); c.runPingAll(ctx) }()
	go func() { defer wg.Done(); c.runMeterSamplingAll(ctx) }()
	go func() { defer wg.Done(); c.runHealthCheckAll(ctx) }()

	wg.Wait()
}

func (c *Checker) runPingAll(ctx context.Context) {
	t := time.NewTicker(c.checkInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.pingAll(ctx)
		}
	}
}

func (c *Checker) runMeterSamplingAll(ctx context.Context) {
	t := time.NewTicker(MeterSamplingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.meterSamplingAll()
		}
	}
}

func (c *Checker) runHealthCheckAll(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(healthCheckOffset):
	}
	t := time.NewTicker(HealthCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.healthCheckAll()
		}
	}
}

// pingAll implements spec §4.10's ping_all: a probe per upstream, fanned
// out concurrently, followed by a re-sort once every probe has settled.
func (c *Checker) pingAll(ctx context.Context) {
	snapshot := c.pool.Snapshot()
	var wg sync.WaitGroup
	wg.Add(len(snapshot))
	for _, up := range snapshot {
		up := up
		go func() {
			defer wg.Done()
			c.pingOne(ctx, up)
		}()
	}
	wg.Wait()
	c.pool.Resort()
}

func (c *Checker) pingOne(ctx context.Context, up *upstream.Upstream) {
	if !up.TryBeginProbe() {
		return
	}
	defer up.EndProbe()

	switch up.InnerProto.Load() {
	case upstream.IPv4, upstream.Inet:
		c.pingFamily(ctx, up, c.dnsV4, socks5.TargetV4(c.dnsV4))
	case upstream.IPv6:
		c.pingFamily(ctx, up, c.dnsV6, socks5.TargetV6(c.dnsV6))
	default:
		c.pingUnspecified(ctx, up)
	}
}

// pingFamily runs a ping batch against one DNS target and marks the
// upstream in-trouble on hard error or zero successes.
func (c *Checker) pingFamily(ctx context.Context, up *upstream.Upstream, dns *net.UDPAddr, target socks5.Target) bool {
	sess, err := socks5.Bind(up.Addr, target)
	if err != nil {
		up.Health.SetTrouble("ping bind failed")
		return false
	}
	defer sess.Close()

	before := up.Ping.Len()
	if err := ping.RunBatch(ctx, sess, defaultPingCount, up.Ping); err != nil {
		if ctx.Err() != nil {
			return false // cancelled (e.g. lost a race), not a failure
		}
		up.Health.SetTrouble("ping unreachable")
		return false
	}
	if up.Ping.Len() == before {
		up.Health.SetTrouble("ping: zero successes")
		return false
	}
	return true
}

// pingUnspecified races v4 and v6 probes, taking whichever completes
// first, and on a successful first probe runs full inner-protocol
// discovery so future pings skip the race.
func (c *Checker) pingUnspecified(ctx context.Context, up *upstream.Upstream) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct{ ok bool }
	results := make(chan result, 2)

	go func() { results <- result{c.pingFamily(raceCtx, up, c.dnsV4, socks5.TargetV4(c.dnsV4))} }()
	go func() { results <- result{c.pingFamily(raceCtx, up, c.dnsV6, socks5.TargetV6(c.dnsV6))} }()

	first := <-results
	if !first.ok {
		second := <-results
		if !second.ok {
			up.Health.SetTrouble("ping unreachable")
			return
		}
	}
	cancel()

	if c.shouldProbeInnerProto(up.Name) {
		v4Sess, err4 := socks5.Bind(up.Addr, socks5.TargetV4(c.dnsV4))
		v6Sess, err6 := socks5.Bind(up.Addr, socks5.TargetV6(c.dnsV6))
		if err4 == nil && err6 == nil {
			inner := ping.ProbeInnerProto(ctx, v4Sess, v6Sess)
			up.InnerProto.Store(inner)
			logrus.WithFields(logrus.Fields{"upstream": up.Name, "inner_proto": inner}).Info("inner protocol discovered")
		}
		if v4Sess != nil {
			v4Sess.Close()
		}
		if v6Sess != nil {
			v6Sess.Close()
		}
	}
}

// shouldProbeInnerProto reports whether up has not yet had its inner
// protocol discovered, and claims that work for the caller if so.
func (c *Checker) shouldProbeInnerProto(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.probed[name]
	if !ok {
		flag = &atomic.Bool{}
		c.probed[name] = flag
	}
	return flag.CompareAndSwap(false, true)
}

// meterSamplingAll implements spec §4.10's meter_sampling_all: snapshot
// cumulative traffic into each upstream's ring, clearing in-trouble on
// any observed rx delta.
func (c *Checker) meterSamplingAll() {
	for _, up := range c.pool.Snapshot() {
		tx, rx := up.CumulativeBytes()
		rxDelta := up.Traffic.Sample(tx, rx)
		if rxDelta > 0 {
			up.Health.ClearTrouble("rx observed")
		}
	}
}

// healthCheckAll implements spec §4.10's health_check_all: for each
// healthy upstream whose meter shows TX-only, run a one-shot probe and
// mark in-trouble if it still looks TX-only afterward.
func (c *Checker) healthCheckAll() {
	for _, up := range c.pool.Snapshot() {
		if up.Health.InTrouble() || !up.Traffic.TXOnly() {
			continue
		}
		if !up.TryBeginProbe() {
			continue
		}
		c.probeOneShot(up)
	}
}

func (c *Checker) probeOneShot(up *upstream.Upstream) {
	defer up.EndProbe()

	target := socks5.TargetV4(c.dnsV4)
	if up.InnerProto.Load() == upstream.IPv6 {
		target = socks5.TargetV6(c.dnsV6)
	}

	sess, err := socks5.Bind(up.Addr, target)
	if err != nil {
		if up.Traffic.TXOnly() {
			up.Health.SetTrouble("health probe failed")
		}
		return
	}
	defer sess.Close()

	before := up.Ping.Len()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ping.RunBatch(ctx, sess, 1, up.Ping); err != nil || up.Ping.Len() == before {
		if up.Traffic.TXOnly() {
			up.Health.SetTrouble("health probe failed")
		}
	}
}
