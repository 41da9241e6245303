//go:build linux

// Package tproxysock is the batched datagram socket of spec §4.1: a thin
// layer over non-blocking UDP sockets offering TPROXY-aware binds and
// recvmmsg/sendmmsg-driven batch I/O, grounded on the teacher pack's raw
// socket-syscall style (runZeroInc-sockstats' tcp_info getsockopt) and the
// awg-proxy batch_linux.go example's recvmmsg/sendmmsg wrapping.
package tproxysock

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// MaxBatch is the maximum number of messages one batch_recv/batch_send
// syscall handles, matching the awg-proxy example's batchSize.
const MaxBatch = 32

// MaxDatagramSize bounds a single payload's pinned receive buffer.
const MaxDatagramSize = 65535

// Packet is one decoded result of batch_recv: a received payload plus its
// source and, for TPROXY sockets, original destination address.
type Packet struct {
	Src     *net.UDPAddr
	Dst     *net.UDPAddr // nil on a non-TPROXY socket or a message missing ancillary data
	Payload []byte
}

// SendRecord is one queued message for batch_send: a payload addressed to
// Dst (nil when the underlying socket is connected, so the kernel's
// default destination applies).
type SendRecord struct {
	Dst     *net.UDPAddr
	Payload []byte
}

// Socket wraps a non-blocking UDP socket plus the pinned buffers batch_recv
// and batch_send need. Not safe for concurrent batch_recv/batch_send calls
// from multiple goroutines on the same direction; the receiver and sender
// pool each own one Socket exclusively.
type Socket struct {
	conn   *net.UDPConn
	raw    rawConnDoer
	origDst bool

	recv *recvBatchState
	send *sendBatchState
}

type rawConnDoer interface {
	Read(f func(fd uintptr) (done bool)) error
	Write(f func(fd uintptr) (done bool)) error
}

// BindTProxy implements spec §4.1's bind_tproxy: SO_REUSEADDR,
// IP_TRANSPARENT, and IP_RECVORIGDSTADDR/IPV6_RECVORIGDSTADDR so every
// received message's control data carries the packet's original
// destination.
func BindTProxy(laddr *net.UDPAddr) (*Socket, error) {
	return bind(laddr, true, true)
}

// BindNonlocal implements spec §4.1's bind_nonlocal: SO_REUSEADDR and
// IP_TRANSPARENT (to source return traffic from a non-local address),
// without IP_RECVORIGDSTADDR.
func BindNonlocal(laddr *net.UDPAddr) (*Socket, error) {
	return bind(laddr, true, false)
}

func bind(laddr *net.UDPAddr, transparent, origDst bool) (*Socket, error) {
	var sockErr error
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
					return
				}
				if transparent {
					if err := unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
						sockErr = fmt.Errorf("IP_TRANSPARENT: %w", err)
						return
					}
					if laddr.IP.To4() == nil {
						if err := unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1); err != nil {
							sockErr = fmt.Errorf("IPV6_TRANSPARENT: %w", err)
							return
						}
					}
				}
				if origDst {
					if err := unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_RECVORIGDSTADDR, 1); err != nil {
						sockErr = fmt.Errorf("IP_RECVORIGDSTADDR: %w", err)
						return
					}
					if laddr.IP.To4() == nil {
						if err := unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_RECVORIGDSTADDR, 1); err != nil {
							sockErr = fmt.Errorf("IPV6_RECVORIGDSTADDR: %w", err)
							return
						}
					}
				}
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, err
	}
	if sockErr != nil {
		pc.Close()
		return nil, sockErr
	}

	conn := pc.(*net.UDPConn)
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Socket{conn: conn, raw: raw, origDst: origDst}
	s.recv = newRecvBatchState(origDst)
	s.send = newSendBatchState()
	return s, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

// Close releases the underlying socket.
func (s *Socket) Close() error { return s.conn.Close() }
