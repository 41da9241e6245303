//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * Portions are derived from of Linux's tcp.h, used under the syscall exception
 * (see https://spdx.org/licenses/Linux-syscall-note.html).
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package sockdiag gathers struct tcp_info diagnostics (RTT, retransmits,
// congestion window) from the long-lived TCP control connection the
// SOCKSv5 referrer loop holds open, so trouble on that connection shows up
// in logs before the referrer loop itself times out.
package sockdiag

import (
	"errors"
	"syscall"
	"unsafe"

	"github.com/nullrouted/udptproxy/internal/kernel"
)

// RawTCPInfo has identical memory layout to the Linux kernel's tcp_info
// struct (current as of kernel 6.7.0). bitfield0 packs the two window
// scale nibbles; bitfield1 packs two flags added in 4.9 and 5.5.
type RawTCPInfo struct {
	state                uint8
	ca_state             uint8
	retransmits          uint8
	probes               uint8
	backoff              uint8
	options              uint8
	bitfield0            uint8
	bitfield1            uint8
	rto                  uint32
	ato                  uint32
	snd_mss              uint32
	rcv_mss              uint32
	unacked              uint32
	sacked               uint32
	lost                 uint32
	retrans              uint32
	fackets              uint32
	last_data_sent       uint32
	last_ack_sent        uint32
	last_data_recv       uint32
	last_ack_recv        uint32
	pmtu                 uint32
	rcv_ssthresh         uint32
	rtt                  uint32
	rttvar               uint32
	snd_ssthresh         uint32
	snd_cwnd             uint32
	advmss               uint32
	reordering           uint32
	rcv_rtt              uint32
	rcv_space            uint32
	total_retrans        uint32
	pacing_rate          uint64
	max_pacing_rate      uint64
	bytes_acked          uint64
	bytes_received       uint64
	segs_out             uint32
	segs_in              uint32
	notsent_bytes        uint32
	min_rtt              uint32
	data_segs_in         uint32
	data_segs_out        uint32
	delivery_rate        uint64
	busy_time            uint64
	rwnd_limited         uint64
	sndbuf_limited       uint64
	delivered            uint32
	delivered_ce         uint32
	bytes_sent           uint64
	bytes_retrans        uint64
	dsack_dups           uint32
	reord_seen           uint32
	rcv_ooopack          uint32
	snd_wnd              uint32
	rcv_wnd              uint32
	rehash               uint32
	total_rto            uint16
	total_rto_recoveries uint16
	total_rto_time       uint32
}

// TCPInfo is the subset of tcp_info this proxy logs for the referrer's
// control connection: enough to notice a sick link without carrying the
// full per-kernel-version field table the teacher's generic exporter did.
type TCPInfo struct {
	State        uint8
	Retransmits  uint8
	RTT          uint32 // microseconds
	RTTVar       uint32 // microseconds
	Lost         uint32
	TotalRetrans uint32
}

func (packed *RawTCPInfo) unpack() *TCPInfo {
	return &TCPInfo{
		State:        packed.state,
		Retransmits:  packed.retransmits,
		RTT:          packed.rtt,
		RTTVar:       packed.rttvar,
		Lost:         packed.lost,
		TotalRetrans: packed.total_retrans,
	}
}

// Errors from the syscall package are private; mirror the ones callers
// commonly branch on.
var (
	ErrAgain        error = syscall.EAGAIN
	ErrInval        error = syscall.EINVAL
	ErrNoSuchSocket error = syscall.ENOENT
)

var ErrKernelTooOld = errors.New("tcp_info unavailable on this kernel")

// GetTCPInfo calls getsockopt(2) to retrieve tcp_info for the given fd.
func GetTCPInfo(fd uintptr) (*TCPInfo, error) {
	size := kernel.SizeOfTCPInfo()
	if size == 0 {
		return nil, ErrKernelTooOld
	}

	var value RawTCPInfo
	length := uint32(size)

	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		fd,
		uintptr(syscall.SOL_TCP),
		uintptr(syscall.TCP_INFO),
		uintptr(unsafe.Pointer(&value)),
		uintptr(unsafe.Pointer(&length)),
		0,
	)
	if errno != 0 {
		switch errno {
		case syscall.EAGAIN:
			return nil, ErrAgain
		case syscall.EINVAL:
			return nil, ErrInval
		case syscall.ENOENT:
			return nil, ErrNoSuchSocket
		}
		return nil, errno
	}

	return value.unpack(), nil
}
