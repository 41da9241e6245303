// Package kernel gates features that depend on the running Linux kernel's
// age: TPROXY/IP_TRANSPARENT, recvmmsg/sendmmsg batching, and the size of
// the tcp_info struct returned by getsockopt(TCP_INFO).
//
// Adapted from the teacher's pkg/linux/init.go, which used the same
// docker/docker kernel-version comparator to size a different kernel ABI
// struct (tcp_info) by release. Here the same comparator gates the
// features this proxy actually depends on.
package kernel

import (
	"fmt"
	"sync"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// Minimum versions for the facilities this proxy requires.
var (
	minTProxy   = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 28}
	minRecvmmsg = kernel.VersionInfo{Kernel: 3, Major: 0, Minor: 0}
)

// tcpInfoSize describes a versioned struct tcp_info length, mirroring the
// teacher's VersionedStructSize table in pkg/linux/init.go.
type tcpInfoSize struct {
	version kernel.VersionInfo
	size    int
}

// tcpInfoSizes is ordered oldest-first; SizeOfTCPInfo picks the last entry
// not newer than the running kernel.
var tcpInfoSizes = []tcpInfoSize{
	{kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}, 104},
	{kernel.VersionInfo{Kernel: 3, Major: 15, Minor: 0}, 120},
	{kernel.VersionInfo{Kernel: 4, Major: 1, Minor: 0}, 136},
	{kernel.VersionInfo{Kernel: 4, Major: 2, Minor: 0}, 144},
	{kernel.VersionInfo{Kernel: 4, Major: 6, Minor: 0}, 160},
	{kernel.VersionInfo{Kernel: 4, Major: 9, Minor: 0}, 168},
	{kernel.VersionInfo{Kernel: 4, Major: 10, Minor: 0}, 192},
	{kernel.VersionInfo{Kernel: 4, Major: 18, Minor: 0}, 200},
	{kernel.VersionInfo{Kernel: 4, Major: 19, Minor: 0}, 224},
	{kernel.VersionInfo{Kernel: 5, Major: 4, Minor: 0}, 232},
	{kernel.VersionInfo{Kernel: 6, Major: 2, Minor: 0}, 240},
	{kernel.VersionInfo{Kernel: 6, Major: 7, Minor: 0}, 248},
}

var (
	once    sync.Once
	current *kernel.VersionInfo
	initErr error
)

func detect() {
	current, initErr = kernel.GetKernelVersion()
}

// Current returns the running kernel version, detecting it on first call.
func Current() (*kernel.VersionInfo, error) {
	once.Do(detect)
	return current, initErr
}

// RequireTProxyAndBatching fails startup (per spec §6's non-zero exit code
// rule) if the running kernel predates IP_TRANSPARENT or recvmmsg/sendmmsg.
func RequireTProxyAndBatching() error {
	v, err := Current()
	if err != nil {
		return fmt.Errorf("detect kernel version: %w", err)
	}
	if kernel.CompareKernelVersion(*v, minTProxy) < 0 {
		return fmt.Errorf("kernel %d.%d.%d predates IP_TRANSPARENT support (need >= %d.%d.%d)",
			v.Kernel, v.Major, v.Minor, minTProxy.Kernel, minTProxy.Major, minTProxy.Minor)
	}
	if kernel.CompareKernelVersion(*v, minRecvmmsg) < 0 {
		return fmt.Errorf("kernel %d.%d.%d predates recvmmsg/sendmmsg support (need >= %d.%d.%d)",
			v.Kernel, v.Major, v.Minor, minRecvmmsg.Kernel, minRecvmmsg.Major, minRecvmmsg.Minor)
	}
	return nil
}

// SizeOfTCPInfo returns the length of struct tcp_info on the running
// kernel, for getsockopt(TCP_INFO) callers that must pass an exact
// optlen. Returns 0 if the kernel predates tcp_info entirely.
func SizeOfTCPInfo() int {
	v, err := Current()
	if err != nil {
		return 0
	}
	size := 0
	for _, s := range tcpInfoSizes {
		if kernel.CompareKernelVersion(*v, s.version) >= 0 {
			size = s.size
		}
	}
	return size
}
