// Package dispatcher implements the flow dispatcher of spec §4.9: an LRU
// of in-flight (ClientAddr, RemoteAddr) flows, each bound to an upstream
// SOCKSv5 UDP session, with QUIC-SNI-aware upstream selection and
// migration on upstream trouble. Grounded on the teacher pack's
// connection-table style (runZeroInc-sockstats' per-socket goroutine
// bookkeeping) plus the hashicorp/golang-lru expirable cache used
// elsewhere in the pack for TTL'd keyed state.
package dispatcher

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/quic"
	"github.com/nullrouted/udptproxy/internal/socks5"
	"github.com/nullrouted/udptproxy/internal/tproxy"
	"github.com/nullrouted/udptproxy/internal/upstream"
)

// DefaultIdleTimeout and DefaultMaxEntries are spec §4.9's LRU defaults.
const (
	DefaultIdleTimeout = 90 * time.Second
	DefaultMaxEntries  = 512
)

// minQUICInitialSize gates SNI-decode attempts per spec §4.8: only a
// flow's first packet, and only if it is at least this large, is worth
// trying.
const minQUICInitialSize = 1200

// flowKey is the LRU key: a flow is identified by client and original
// destination address, per spec §4.9.
type flowKey struct {
	client string
	remote string
}

// QuicConn is one tracked flow's state: the server name (if SNI decoding
// succeeded), and the bound session/upstream pair, if any.
type QuicConn struct {
	mu sync.Mutex

	clientAddr *net.UDPAddr
	remoteAddr *net.UDPAddr

	sniAttempted bool
	serverName   string

	session  *socks5.Session
	upstream *upstream.Upstream
}

// Dispatcher owns the flow LRU and the logic that binds, migrates, and
// drains SOCKSv5 UDP sessions on behalf of each tracked flow.
type Dispatcher struct {
	lru       *expirable.LRU[flowKey, *QuicConn]
	pool      *upstream.Pool
	senders   *tproxy.SenderPool
	remoteDNS bool
}

// New constructs a Dispatcher. remoteDNS gates the QUIC-SNI decode step
// of spec §4.8/§4.9 (the --remote-dns CLI flag).
func New(pool *upstream.Pool, senders *tproxy.SenderPool, idleTimeout time.Duration, maxEntries int, remoteDNS bool) *Dispatcher {
	d := &Dispatcher{pool: pool, senders: senders, remoteDNS: remoteDNS}
	d.lru = expirable.NewLRU[flowKey, *QuicConn](maxEntries, d.onEvict, idleTimeout)
	return d
}

func (d *Dispatcher) onEvict(key flowKey, conn *QuicConn) {
	conn.mu.Lock()
	sess := conn.session
	conn.session = nil
	conn.mu.Unlock()
	if sess != nil {
		logrus.WithFields(logrus.Fields{"client": key.client, "remote": key.remote}).Debug("flow idle, evicting")
		sess.Close()
	}
}

// Dispatch implements spec §4.9's per-group handling: look up or create
// the flow, reselect an upstream on migration or first bind, and forward
// the group's payloads to the bound session.
func (d *Dispatcher) Dispatch(group tproxy.Group) error {
	key := flowKey{client: group.ClientAddr.String(), remote: group.RemoteAddr.String()}

	conn, existed := d.lru.Get(key)
	if !existed {
		conn = &QuicConn{clientAddr: group.ClientAddr, remoteAddr: group.RemoteAddr}
		d.lru.Add(key, conn)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if !conn.sniAttempted {
		conn.sniAttempted = true
		if d.remoteDNS && len(group.Payloads) > 0 && len(group.Payloads[0]) >= minQUICInitialSize {
			if name, err := quic.ParseClientHelloSNI(group.Payloads[0]); err == nil {
				conn.serverName = name
			}
		}
	}

	if conn.session != nil && conn.upstream.Health.InTrouble() {
		logrus.WithFields(logrus.Fields{"upstream": conn.upstream.Name, "client": key.client}).Info("flow migrating off unhealthy upstream")
		conn.session.Close()
		conn.session = nil
		conn.upstream = nil
	}

	if conn.session == nil {
		sess, up, err := d.bind(conn)
		if err != nil {
			return err
		}
		conn.session = sess
		conn.upstream = up
		d.startDrain(key, conn, sess, up)
	}

	for _, payload := range group.Payloads {
		if err := conn.session.Send(payload); err != nil {
			conn.upstream.Health.SetTrouble("send error")
			return fmt.Errorf("dispatcher: send to relay: %w", err)
		}
		conn.upstream.AddTx(uint64(len(payload)))
	}
	return nil
}

// bind implements spec §4.9 step 3: pick the first healthy, capable
// upstream and open a SOCKSv5 UDP session to it for this flow's target.
func (d *Dispatcher) bind(conn *QuicConn) (*socks5.Session, *upstream.Upstream, error) {
	target, want := d.target(conn)

	for _, up := range d.pool.Snapshot() {
		if up.Health.InTrouble() {
			continue
		}
		if !up.InnerProto.CapableOf(want) {
			continue
		}
		sess, err := socks5.Bind(up.Addr, target)
		if err != nil {
			continue
		}
		return sess, up, nil
	}
	return nil, nil, fmt.Errorf("dispatcher: no available proxy for %s", conn.remoteAddr)
}

func (d *Dispatcher) target(conn *QuicConn) (socks5.Target, upstream.Target) {
	if conn.serverName != "" {
		return socks5.TargetName(conn.serverName, uint16(conn.remoteAddr.Port)), upstream.TargetAny
	}
	if v4 := conn.remoteAddr.IP.To4(); v4 != nil {
		return socks5.TargetV4(&net.UDPAddr{IP: v4, Port: conn.remoteAddr.Port}), upstream.TargetIPv4
	}
	return socks5.TargetV6(conn.remoteAddr), upstream.TargetIPv6
}

// startDrain spawns the per-session background task of spec §4.9 step 4:
// read the session's incoming() stream and forward each batch to the
// TProxy sender owning the flow's remote endpoint.
func (d *Dispatcher) startDrain(key flowKey, conn *QuicConn, sess *socks5.Session, up *upstream.Upstream) {
	go func() {
		for payload := range sess.Incoming() {
			up.AddRx(uint64(len(payload)))
			sender, err := d.senders.GetOrCreate(conn.remoteAddr)
			if err != nil {
				logrus.WithError(err).Warn("dispatcher: failed to acquire tproxy sender")
				continue
			}
			if err := sender.Send(conn.clientAddr, [][]byte{payload}); err != nil {
				up.Health.SetTrouble("send error")
				logrus.WithFields(logrus.Fields{"upstream": up.Name, "client": key.client}).Warn("dispatcher: return send failed")
				return
			}
		}
	}()
}
