package checking

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrouted/udptproxy/internal/upstream"
)

func newCheckerFixture(t *testing.T) (*Checker, *upstream.Upstream) {
	t.Helper()
	pool := upstream.NewPool()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:39999")
	require.NoError(t, err)
	up := upstream.New("fixture", addr, upstream.ProtocolSocks5UDP, upstream.Inet)
	pool.Add(up)

	dnsV4, _ := net.ResolveUDPAddr("udp", "1.1.1.1:53")
	dnsV6, _ := net.ResolveUDPAddr("udp", "[2606:4700:4700::1111]:53")
	return New(pool, DefaultCheckInterval, dnsV4, dnsV6), up
}

func TestMeterSamplingAll_ClearsTroubleOnRxObserved(t *testing.T) {
	c, up := newCheckerFixture(t)
	up.Health.SetTrouble("test setup")

	up.AddTx(100)
	c.meterSamplingAll() // primes the meter's baseline sample
	up.AddRx(50)
	c.meterSamplingAll()

	assert.False(t, up.Health.InTrouble())
}

func TestShouldProbeInnerProto_FiresOnce(t *testing.T) {
	c, up := newCheckerFixture(t)
	assert.True(t, c.shouldProbeInnerProto(up.Name))
	assert.False(t, c.shouldProbeInnerProto(up.Name))
}

func TestHealthCheckAll_SkipsHealthyUpstreamsWithoutTXOnly(t *testing.T) {
	c, up := newCheckerFixture(t)
	// Fresh TrafficMeter has no samples yet, so TXOnly is false and
	// healthCheckAll must not attempt a probe (which would dial out).
	c.healthCheckAll()
	assert.False(t, up.Health.InTrouble())
}
