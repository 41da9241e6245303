package dispatcher

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrouted/udptproxy/internal/socks5"
	"github.com/nullrouted/udptproxy/internal/tproxy"
	"github.com/nullrouted/udptproxy/internal/upstream"
)

func newTestUpstream(t *testing.T, name string, inner upstream.InnerProto) *upstream.Upstream {
	t.Helper()
	// The fake relay is a loopback listener that never answers. A closed
	// port would not do: the kernel's ICMP port-unreachable makes the
	// session's next write on its connected socket fail with ECONNREFUSED.
	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { relay.Close() })
	return upstream.New(name, relay.LocalAddr().(*net.UDPAddr), upstream.ProtocolSocks5UDP, inner)
}

func groupFor(client, remote string) tproxy.Group {
	c, _ := net.ResolveUDPAddr("udp", client)
	r, _ := net.ResolveUDPAddr("udp", remote)
	return tproxy.Group{ClientAddr: c, RemoteAddr: r, Payloads: [][]byte{[]byte("hello")}}
}

func TestDispatch_SelectsFirstCapableHealthyUpstream(t *testing.T) {
	pool := upstream.NewPool()
	pool.Add(newTestUpstream(t, "a", upstream.Inet))
	pool.Add(newTestUpstream(t, "b", upstream.Inet))

	d := New(pool, tproxy.NewSenderPool(), DefaultIdleTimeout, DefaultMaxEntries, false)
	err := d.Dispatch(groupFor("10.0.0.5:1234", "93.184.216.34:443"))
	require.NoError(t, err)

	key := flowKey{client: "10.0.0.5:1234", remote: "93.184.216.34:443"}
	conn, ok := d.lru.Get(key)
	require.True(t, ok)
	assert.Equal(t, "a", conn.upstream.Name)
}

func TestDispatch_NoAvailableProxyWhenAllUnhealthy(t *testing.T) {
	pool := upstream.NewPool()
	u := newTestUpstream(t, "only", upstream.Inet)
	u.Health.SetTrouble("test")
	pool.Add(u)

	d := New(pool, tproxy.NewSenderPool(), DefaultIdleTimeout, DefaultMaxEntries, false)
	err := d.Dispatch(groupFor("10.0.0.5:1234", "93.184.216.34:443"))
	assert.Error(t, err)
}

func TestDispatch_SkipsIncapableInnerProto(t *testing.T) {
	pool := upstream.NewPool()
	pool.Add(newTestUpstream(t, "v4only", upstream.IPv4))
	pool.Add(newTestUpstream(t, "v6only", upstream.IPv6))

	d := New(pool, tproxy.NewSenderPool(), DefaultIdleTimeout, DefaultMaxEntries, false)
	// Remote is IPv6, so only the v6-capable upstream qualifies.
	err := d.Dispatch(groupFor("[::1]:1234", "[2001:db8::1]:443"))
	require.NoError(t, err)

	key := flowKey{client: "[::1]:1234", remote: "[2001:db8::1]:443"}
	conn, ok := d.lru.Get(key)
	require.True(t, ok)
	assert.Equal(t, "v6only", conn.upstream.Name)
}

func TestDispatch_MigratesOffUnhealthyUpstream(t *testing.T) {
	pool := upstream.NewPool()
	a := newTestUpstream(t, "a", upstream.Inet)
	b := newTestUpstream(t, "b", upstream.Inet)
	pool.Add(a)
	pool.Add(b)

	d := New(pool, tproxy.NewSenderPool(), DefaultIdleTimeout, DefaultMaxEntries, false)
	group := groupFor("10.0.0.5:1234", "93.184.216.34:443")

	require.NoError(t, d.Dispatch(group))
	key := flowKey{client: "10.0.0.5:1234", remote: "93.184.216.34:443"}
	conn, _ := d.lru.Get(key)
	require.Equal(t, "a", conn.upstream.Name)

	a.Health.SetTrouble("simulated failure")
	require.NoError(t, d.Dispatch(group))

	conn, _ = d.lru.Get(key)
	assert.Equal(t, "b", conn.upstream.Name)
}

func TestDispatch_ReusesExistingSessionWhenHealthy(t *testing.T) {
	pool := upstream.NewPool()
	pool.Add(newTestUpstream(t, "a", upstream.Inet))

	d := New(pool, tproxy.NewSenderPool(), DefaultIdleTimeout, DefaultMaxEntries, false)
	group := groupFor("10.0.0.5:1234", "93.184.216.34:443")

	require.NoError(t, d.Dispatch(group))
	key := flowKey{client: "10.0.0.5:1234", remote: "93.184.216.34:443"}
	first, _ := d.lru.Get(key)
	firstSession := first.session

	require.NoError(t, d.Dispatch(group))
	second, _ := d.lru.Get(key)
	assert.Same(t, firstSession, second.session)
}

func TestDispatch_TargetDerivation(t *testing.T) {
	d := &Dispatcher{}
	conn := &QuicConn{remoteAddr: &net.UDPAddr{IP: net.ParseIP("93.184.216.34"), Port: 443}}
	target, want := d.target(conn)
	assert.Equal(t, upstream.TargetIPv4, want)
	assert.Equal(t, socks5.TargetV4(&net.UDPAddr{IP: net.ParseIP("93.184.216.34").To4(), Port: 443}), target)
}
