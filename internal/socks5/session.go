package socks5

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// incomingBuffer is sized for the largest UDP payload a relay can carry.
const incomingBuffer = 65535

// Session is a bound SOCKSv5 UDP relay session (spec §4.6): a UDP socket
// connected to one upstream relay endpoint, associated with a pre-encoded
// header addressing one fixed target. Concurrency-safe for one writer and
// the session's own read loop; Incoming is the sole reader-side API.
type Session struct {
	conn       *net.UDPConn
	target     Target
	header     []byte
	incoming   chan []byte
	closed     atomic.Bool
	done       chan struct{}
	openedAt   time.Time
	txBytes    atomic.Uint64
	rxBytes    atomic.Uint64
}

// Bind connects a fresh UDP socket to relayAddr and remembers the
// pre-encoded SOCKSv5 UDP header for target, per spec §4.6's bind().
func Bind(relayAddr *net.UDPAddr, target Target) (*Session, error) {
	conn, err := net.DialUDP("udp", nil, relayAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5: dial relay %s: %w", relayAddr, err)
	}

	s := &Session{
		conn:     conn,
		target:   target,
		header:   target.header(),
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
		openedAt: time.Now(),
	}
	go s.readLoop()

	logrus.WithFields(logrus.Fields{"relay": relayAddr, "target": target}).Debug("socks5 udp session open")
	return s, nil
}

// Send implements spec §4.6's send_to_remote for a single payload: queues
// header+payload as one write to the connected relay socket.
func (s *Session) Send(payload []byte) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	buf := make([]byte, 0, len(s.header)+len(payload))
	buf = append(buf, s.header...)
	buf = append(buf, payload...)

	n, err := s.conn.Write(buf)
	if err != nil {
		return err
	}
	s.txBytes.Add(uint64(n))
	return nil
}

// Incoming is the lazy sequence of spec §4.6: decoded payloads arriving
// from the relay; fragmented (FRAG != 0) and malformed datagrams are
// dropped, not reassembled. Closed when the session is closed.
func (s *Session) Incoming() <-chan []byte { return s.incoming }

func (s *Session) readLoop() {
	defer close(s.incoming)
	buf := make([]byte, incomingBuffer)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return // socket closed, or closing
		}
		s.rxBytes.Add(uint64(n))

		hdr, payload, err := ParseDatagramHeader(buf[:n])
		if err != nil {
			logrus.WithError(err).Debug("socks5 udp session: dropped malformed/fragmented datagram")
			continue
		}
		_ = hdr // only FRAG/ATYP/address/port validation is required; payload is what matters

		owned := make([]byte, len(payload))
		copy(owned, payload)

		select {
		case s.incoming <- owned:
		case <-s.done:
			return
		}
	}
}

// Close tears down the session, logging elapsed time and accumulated
// byte counters as spec §4.6 requires.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	err := s.conn.Close()

	logrus.WithFields(logrus.Fields{
		"target":   s.target,
		"elapsed":  time.Since(s.openedAt),
		"tx_bytes": s.txBytes.Load(),
		"rx_bytes": s.rxBytes.Load(),
	}).Debug("socks5 udp session closed")
	return err
}

// Bytes reports the cumulative tx/rx byte counters, sampled by the
// upstream's TrafficMeter.
func (s *Session) Bytes() (tx, rx uint64) {
	return s.txBytes.Load(), s.rxBytes.Load()
}
