package sockdiag

import (
	"net"
	"time"
)

// ReportFn receives a diagnostic snapshot at connection open and close.
type ReportFn func(info *TCPInfo, state string)

// Conn wraps the referrer's TCP control connection, gathering tcp_info at
// open and close so a degrading link to the SOCKSv5 server shows up in
// logs before the connection actually drops.
//
// Adapted from the teacher's wrap.go (package conniver): same open/close
// gather-and-report shape, trimmed to the fields the referrer loop cares
// about and pointed at this package's RawTCPInfo instead of a generic
// TCPInfo/SysInfo pair.
type Conn struct {
	net.Conn
	report   ReportFn
	OpenedAt time.Time
	ClosedAt time.Time
	TxBytes  int64
	RxBytes  int64
}

// WrapConn wraps ncon, reports its tcp_info immediately, and arranges for
// a second report on Close.
func WrapConn(ncon net.Conn, report ReportFn) *Conn {
	w := &Conn{
		Conn:     ncon,
		report:   report,
		OpenedAt: time.Now(),
	}
	w.gatherAndReport("open")
	return w
}

func (w *Conn) gatherAndReport(state string) {
	if w.report == nil {
		return
	}
	tcpConn, ok := w.Conn.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}
	var info *TCPInfo
	var infoErr error
	if err := rawConn.Control(func(fd uintptr) {
		info, infoErr = GetTCPInfo(fd)
	}); err != nil || infoErr != nil {
		return
	}
	w.report(info, state)
}

// Close reports a final tcp_info snapshot before closing the connection.
func (w *Conn) Close() error {
	w.ClosedAt = time.Now()
	w.gatherAndReport("close")
	return w.Conn.Close()
}

func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	w.RxBytes += int64(n)
	return n, err
}

func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	w.TxBytes += int64(n)
	return n, err
}
