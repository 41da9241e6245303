//go:build linux

package tproxysock

import (
	"errors"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmsghdr mirrors struct mmsghdr from linux/socket.h: one msghdr plus the
// byte count the kernel fills in or consumes for that message. Go's
// natural struct alignment matches the C layout here since msg_len is a
// trailing uint32 requiring no inserted padding either side.
type mmsghdr struct {
	Hdr unix.Msghdr
	Len uint32
}

// controlBufSize comfortably holds one cmsg carrying IP_ORIGDSTADDR
// (sockaddr_in, 16 bytes) or IPV6_ORIGDSTADDR (sockaddr_in6, 28 bytes).
const controlBufSize = 64

type recvBatchState struct {
	bufs    [MaxBatch][MaxDatagramSize]byte
	names   [MaxBatch]unix.RawSockaddrAny
	ctrls   [MaxBatch][controlBufSize]byte
	iovecs  [MaxBatch]unix.Iovec
	msgs    [MaxBatch]mmsghdr
	origDst bool
}

func newRecvBatchState(origDst bool) *recvBatchState {
	bs := &recvBatchState{origDst: origDst}
	for i := range bs.msgs {
		bs.iovecs[i].Base = &bs.bufs[i][0]
		bs.iovecs[i].SetLen(len(bs.bufs[i]))
		bs.msgs[i].Hdr.Iov = &bs.iovecs[i]
		bs.msgs[i].Hdr.SetIovlen(1)
		bs.msgs[i].Hdr.Name = (*byte)(unsafe.Pointer(&bs.names[i]))
		bs.msgs[i].Hdr.Namelen = uint32(unsafe.Sizeof(bs.names[i]))
		if origDst {
			bs.msgs[i].Hdr.Control = &bs.ctrls[i][0]
			bs.msgs[i].Hdr.SetControllen(controlBufSize)
		}
	}
	return bs
}

type sendBatchState struct {
	names  [MaxBatch]unix.RawSockaddrAny
	iovecs [MaxBatch]unix.Iovec
	msgs   [MaxBatch]mmsghdr
}

func newSendBatchState() *sendBatchState {
	return &sendBatchState{}
}

// BatchRecv implements spec §4.1's batch_recv: one recvmmsg(2) call
// filling up to MaxBatch messages, decoded into Packets. EWOULDBLOCK is
// never returned: the call waits for readiness and retries internally;
// any other errno is returned as-is.
func (s *Socket) BatchRecv() ([]Packet, error) {
	bs := s.recv
	var n int
	var sysErr error

	err := s.raw.Read(func(fd uintptr) bool {
		r, _, errno := unix.Syscall6(
			unix.SYS_RECVMMSG,
			fd,
			uintptr(unsafe.Pointer(&bs.msgs[0])),
			uintptr(MaxBatch),
			uintptr(unix.MSG_WAITFORONE),
			0, 0,
		)
		if errno != 0 {
			if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK {
				return false
			}
			sysErr = errno
			return true
		}
		n = int(r)
		return true
	})
	if sysErr != nil {
		return nil, sysErr
	}
	if err != nil {
		return nil, err
	}

	out := make([]Packet, 0, n)
	for i := 0; i < n; i++ {
		length := int(bs.msgs[i].Len)
		if length <= 0 {
			continue
		}
		payload := make([]byte, length)
		copy(payload, bs.bufs[i][:length])

		pkt := Packet{Payload: payload, Src: sockaddrToUDPAddr(&bs.names[i])}
		if bs.origDst {
			if addr, ok := parseOrigDst(bs.ctrls[i][:bs.msgs[i].Hdr.Controllen]); ok {
				pkt.Dst = addr
			}
		}
		out = append(out, pkt)
	}
	return out, nil
}

// BatchSend implements spec §4.1's batch_send: one or more sendmmsg(2)
// calls until every record in records is accepted, advancing past
// partial sends and retrying the remainder.
func (s *Socket) BatchSend(records []SendRecord) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxBatch {
		return errors.New("tproxysock: batch_send exceeds MaxBatch, split the call")
	}

	bs := s.send
	for i, rec := range records {
		bs.iovecs[i].Base = &rec.Payload[0]
		bs.iovecs[i].SetLen(len(rec.Payload))
		bs.msgs[i].Hdr.Iov = &bs.iovecs[i]
		bs.msgs[i].Hdr.SetIovlen(1)
		bs.msgs[i].Hdr.Control = nil
		bs.msgs[i].Hdr.SetControllen(0)

		if rec.Dst != nil {
			udpAddrToSockaddr(rec.Dst, &bs.names[i])
			bs.msgs[i].Hdr.Name = (*byte)(unsafe.Pointer(&bs.names[i]))
			bs.msgs[i].Hdr.Namelen = sockaddrLen(rec.Dst)
		} else {
			bs.msgs[i].Hdr.Name = nil
			bs.msgs[i].Hdr.Namelen = 0
		}
	}

	total := 0
	for total < len(records) {
		var n int
		var sysErr error

		err := s.raw.Write(func(fd uintptr) bool {
			r, _, errno := unix.Syscall6(
				unix.SYS_SENDMMSG,
				fd,
				uintptr(unsafe.Pointer(&bs.msgs[total])),
				uintptr(len(records)-total),
				0, 0, 0,
			)
			if errno != 0 {
				if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK {
					return false
				}
				sysErr = errno
				return true
			}
			n = int(r)
			return true
		})
		if sysErr != nil {
			return sysErr
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("tproxysock: sendmmsg accepted 0 messages")
		}
		total += n
	}
	return nil
}

// portFromRaw reads a RawSockaddrInet{4,6}.Port field as the network
// (big-endian) byte order the kernel actually writes there, bypassing the
// field's misleadingly host-endian uint16 Go type.
func portFromRaw(port uint16) int {
	b := (*[2]byte)(unsafe.Pointer(&port))
	return int(b[0])<<8 | int(b[1])
}

func setRawPort(port *uint16, value int) {
	b := (*[2]byte)(unsafe.Pointer(port))
	b[0] = byte(value >> 8)
	b[1] = byte(value)
}

func sockaddrToUDPAddr(raw *unix.RawSockaddrAny) *net.UDPAddr {
	switch raw.Addr.Family {
	case unix.AF_INET:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(raw))
		return &net.UDPAddr{IP: append(net.IP{}, sa.Addr[:]...), Port: portFromRaw(sa.Port)}
	case unix.AF_INET6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(raw))
		return &net.UDPAddr{IP: append(net.IP{}, sa.Addr[:]...), Port: portFromRaw(sa.Port), Zone: zoneFromScope(sa.Scope_id)}
	default:
		return nil
	}
}

func zoneFromScope(id uint32) string {
	if id == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(id)); err == nil {
		return iface.Name
	}
	return ""
}

func udpAddrToSockaddr(addr *net.UDPAddr, raw *unix.RawSockaddrAny) {
	*raw = unix.RawSockaddrAny{}
	if v4 := addr.IP.To4(); v4 != nil {
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(raw))
		sa.Family = unix.AF_INET
		setRawPort(&sa.Port, addr.Port)
		copy(sa.Addr[:], v4)
		return
	}
	sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(raw))
	sa.Family = unix.AF_INET6
	setRawPort(&sa.Port, addr.Port)
	copy(sa.Addr[:], addr.IP.To16())
}

func sockaddrLen(addr *net.UDPAddr) uint32 {
	if addr.IP.To4() != nil {
		return uint32(unsafe.Sizeof(unix.RawSockaddrInet4{}))
	}
	return uint32(unsafe.Sizeof(unix.RawSockaddrInet6{}))
}

// parseOrigDst decodes the IP_ORIGDSTADDR/IPV6_ORIGDSTADDR ancillary
// message the kernel attaches when IP(V6)_RECVORIGDSTADDR is set.
func parseOrigDst(control []byte) (*net.UDPAddr, bool) {
	msgs, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return nil, false
	}
	for _, m := range msgs {
		sa, err := unix.ParseOrigDstAddr(&m)
		if err != nil {
			continue
		}
		switch s := sa.(type) {
		case *unix.SockaddrInet4:
			return &net.UDPAddr{IP: append(net.IP{}, s.Addr[:]...), Port: s.Port}, true
		case *unix.SockaddrInet6:
			return &net.UDPAddr{IP: append(net.IP{}, s.Addr[:]...), Port: s.Port}, true
		}
	}
	return nil, false
}
