// Package tproxy implements spec §4.2's TProxy receiver and §4.3's TProxy
// sender pool atop internal/tproxysock's batched socket, grounded on the
// teacher pack's background-loop-plus-channel style (runZeroInc-sockstats'
// tcp_info polling loops) and the awg-proxy example's recvmmsg consumer.
package tproxy

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/tproxysock"
)

// Group is one batch_recv result grouped by (source, destination): the
// client address, the original destination the client sent to, and every
// payload received for that pair in the current batch.
type Group struct {
	ClientAddr *net.UDPAddr
	RemoteAddr *net.UDPAddr
	Payloads   [][]byte
}

// groupChanCapacity bounds the receiver's downstream channel, per spec
// §4.2: a slow dispatcher applies backpressure rather than growing
// unbounded.
const groupChanCapacity = 16

// Receiver owns one TPROXY-bound socket and republishes batch_recv results
// as address-grouped Groups on a bounded channel.
type Receiver struct {
	sock   *tproxysock.Socket
	groups chan Group
}

// NewReceiver binds a TPROXY socket at laddr and returns a Receiver ready
// for Run.
func NewReceiver(laddr *net.UDPAddr) (*Receiver, error) {
	sock, err := tproxysock.BindTProxy(laddr)
	if err != nil {
		return nil, err
	}
	return &Receiver{sock: sock, groups: make(chan Group, groupChanCapacity)}, nil
}

// Groups returns the channel of address-grouped received payloads.
func (r *Receiver) Groups() <-chan Group { return r.groups }

// LocalAddr returns the receiver's bound TPROXY address.
func (r *Receiver) LocalAddr() *net.UDPAddr { return r.sock.LocalAddr() }

// Close releases the underlying socket.
func (r *Receiver) Close() error { return r.sock.Close() }

// Run loops batch_recv until ctx is cancelled, grouping each batch by
// (source, destination) and publishing groups to the Groups channel.
// Messages missing either address are discarded and logged.
func (r *Receiver) Run(ctx context.Context) error {
	defer close(r.groups)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		packets, err := r.sock.BatchRecv()
		if err != nil {
			return err
		}

		for _, g := range groupPackets(packets) {
			select {
			case r.groups <- g:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// groupPackets implements spec §4.2 step 2: group a batch_recv result by
// (source, destination), discarding messages missing either address.
func groupPackets(packets []tproxysock.Packet) []Group {
	index := make(map[[2]string]int)
	var groups []Group

	for _, p := range packets {
		if p.Src == nil || p.Dst == nil {
			logrus.Debug("tproxy receiver: dropped message missing source or destination")
			continue
		}
		src := canonicalize(p.Src)
		dst := canonicalize(p.Dst)
		key := [2]string{src.String(), dst.String()}

		if i, ok := index[key]; ok {
			groups[i].Payloads = append(groups[i].Payloads, p.Payload)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, Group{ClientAddr: src, RemoteAddr: dst, Payloads: [][]byte{p.Payload}})
	}
	return groups
}

// canonicalize collapses an IPv4-mapped IPv6 address to plain IPv4, per
// spec §4.2, so the same client reached over either family groups
// together.
func canonicalize(addr *net.UDPAddr) *net.UDPAddr {
	if v4 := addr.IP.To4(); v4 != nil {
		return &net.UDPAddr{IP: v4, Port: addr.Port}
	}
	return addr
}
