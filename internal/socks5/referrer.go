package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/sockdiag"
	"github.com/nullrouted/udptproxy/internal/upstream"
)

const (
	handshakeTimeout = 5 * time.Second
	reconnectBackoff = 5 * time.Second
)

// Referrer is the external-collaborator subsystem of spec §4.7: a
// long-lived TCP control connection to a SOCKSv5 server, executing the
// no-auth handshake and a UDP ASSOCIATE request to learn (and keep
// learning, across reconnects) a UDP relay endpoint. Its only contract
// with the core is producing/retiring Upstream entries in pool.
type Referrer struct {
	name       string
	serverAddr string
	pool       *upstream.Pool
}

// NewReferrer creates a referrer that will maintain one Upstream entry
// named name in pool, backed by serverAddr's UDP ASSOCIATE endpoint.
func NewReferrer(name, serverAddr string, pool *upstream.Pool) *Referrer {
	return &Referrer{name: name, serverAddr: serverAddr, pool: pool}
}

// Run maintains the control connection until ctx is cancelled,
// reconnecting with a fixed backoff and retiring the Upstream entry from
// the pool for the duration of any outage.
func (r *Referrer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.connectOnce(ctx); err != nil {
			logrus.WithFields(logrus.Fields{"server": r.serverAddr, "error": err}).Warn("socks5 referrer disconnected")
		}
		r.pool.Remove(r.name)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (r *Referrer) connectOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: handshakeTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", r.serverAddr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn := sockdiag.WrapConn(raw, func(info *sockdiag.TCPInfo, state string) {
		logrus.WithFields(logrus.Fields{
			"server": r.serverAddr, "state": state, "rtt_us": info.RTT, "retransmits": info.Retransmits,
		}).Debug("socks5 referrer control connection tcp_info")
	})
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := noAuthHandshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	relayAddr, err := udpAssociate(conn)
	if err != nil {
		return fmt.Errorf("udp associate: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	logrus.WithFields(logrus.Fields{"server": r.serverAddr, "relay": relayAddr}).Info("socks5 referrer learned udp relay endpoint")
	r.pool.Add(upstream.New(r.name, relayAddr, upstream.ProtocolSocks5TCP, upstream.Unspecified))

	// The control connection's only remaining job is staying open: the
	// SOCKSv5 server tears down the UDP association when it sees the TCP
	// connection close. Block until the peer does, or ctx is cancelled.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return errors.New("control connection closed by server")
	}
}

// noAuthHandshake performs RFC 1928 §3's version identifier/method
// selection exchange, requesting and requiring "no authentication".
func noAuthHandshake(conn net.Conn) error {
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return err
	}
	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil {
		return err
	}
	if reply[0] != 0x05 {
		return fmt.Errorf("unexpected socks version %d", reply[0])
	}
	if reply[1] != 0x00 {
		return fmt.Errorf("server rejected no-auth, method=%d", reply[1])
	}
	return nil
}

// udpAssociate sends RFC 1928 §4's UDP ASSOCIATE request (DST.ADDR/PORT
// all-zero, since we don't restrict the client address) and parses the
// reply's BND.ADDR/BND.PORT as the UDP relay endpoint.
func udpAssociate(conn net.Conn) (*net.UDPAddr, error) {
	req := []byte{0x05, 0x03, 0x00, ATYPIPv4, 0, 0, 0, 0, 0, 0}
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		return nil, err
	}
	if header[0] != 0x05 {
		return nil, fmt.Errorf("unexpected socks version %d", header[0])
	}
	if header[1] != 0x00 {
		return nil, fmt.Errorf("udp associate failed, reply code %d", header[1])
	}

	var ip net.IP
	switch header[3] {
	case ATYPIPv4:
		b := make([]byte, 4)
		if _, err := readFull(conn, b); err != nil {
			return nil, err
		}
		ip = net.IP(b)
	case ATYPIPv6:
		b := make([]byte, 16)
		if _, err := readFull(conn, b); err != nil {
			return nil, err
		}
		ip = net.IP(b)
	case ATYPDomain:
		lenBuf := make([]byte, 1)
		if _, err := readFull(conn, lenBuf); err != nil {
			return nil, err
		}
		name := make([]byte, lenBuf[0])
		if _, err := readFull(conn, name); err != nil {
			return nil, err
		}
		resolved, err := net.ResolveIPAddr("ip", string(name))
		if err != nil {
			return nil, err
		}
		ip = resolved.IP
	default:
		return nil, fmt.Errorf("unsupported bound address type %d", header[3])
	}

	portBuf := make([]byte, 2)
	if _, err := readFull(conn, portBuf); err != nil {
		return nil, err
	}
	port := binary.BigEndian.Uint16(portBuf)

	// BND.ADDR of 0.0.0.0 means "same host you connected to" per RFC 1928.
	if ip.IsUnspecified() {
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err == nil {
			ip = net.ParseIP(host)
		}
	}

	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
