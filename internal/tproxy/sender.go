package tproxy

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"weak"

	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/tproxysock"
)

// Sender is a bind_nonlocal socket sourcing return traffic as one remote
// endpoint (spec §4.3): the apparent original destination the client sent
// its forward packets to.
type Sender struct {
	sock   *tproxysock.Socket
	remote *net.UDPAddr
}

func newSender(remote *net.UDPAddr) (*Sender, error) {
	sock, err := tproxysock.BindNonlocal(remote)
	if err != nil {
		return nil, fmt.Errorf("tproxy: bind_nonlocal %s: %w", remote, err)
	}
	return &Sender{sock: sock, remote: remote}, nil
}

// Send batch_sends payloads to client in one sendmmsg call, per spec
// §4.3's "one sendmmsg for the whole flow's return packets".
func (s *Sender) Send(client *net.UDPAddr, payloads [][]byte) error {
	records := make([]tproxysock.SendRecord, len(payloads))
	for i, p := range payloads {
		records[i] = tproxysock.SendRecord{Dst: client, Payload: p}
	}
	return s.sock.BatchSend(records)
}

func (s *Sender) close() error { return s.sock.Close() }

// SenderPool is the keyed pool of §4.3: one Sender per remote endpoint,
// held by a weak reference so an idle flow's bind_nonlocal socket is
// released once the dispatcher drops its last strong handle. A cleanup
// attached to each Sender pushes its key onto bin when the Sender becomes
// unreachable; the pool drains bin opportunistically before every insert.
type SenderPool struct {
	mu      sync.Mutex
	entries map[string]weak.Pointer[Sender]
	bin     binChan
}

// binChan is the drop-sentinel "bin" of spec §4.3: a named channel type so
// its trySend cleanup can be registered directly with runtime.AddCleanup.
type binChan chan string

// NewSenderPool constructs an empty pool. The bin channel's buffer bounds
// how many dead entries can queue for eviction before a cleanup's
// non-blocking send starts deferring; spec §4.3 does not fix a number, a
// modest buffer avoids unbounded growth between drains.
func NewSenderPool() *SenderPool {
	return &SenderPool{
		entries: make(map[string]weak.Pointer[Sender]),
		bin:     make(binChan, 256),
	}
}

// GetOrCreate returns the live Sender for remote, reusing a strong handle
// reached through the weak reference if one still exists, otherwise
// binding a fresh nonlocal socket and installing its weak reference.
func (p *SenderPool) GetOrCreate(remote *net.UDPAddr) (*Sender, error) {
	key := remote.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.drainBin()

	if wp, ok := p.entries[key]; ok {
		if s := wp.Value(); s != nil {
			return s, nil
		}
		delete(p.entries, key)
	}

	s, err := newSender(remote)
	if err != nil {
		return nil, err
	}
	p.entries[key] = weak.Make(s)
	runtime.AddCleanup(s, p.bin.trySend, key)
	return s, nil
}

// trySend is the cleanup callback: a non-blocking send so a GC cycle
// never stalls on a full bin, at the cost of (rare) deferred eviction
// until the next drain finds room.
func (c binChan) trySend(key string) {
	select {
	case c <- key:
	default:
		logrus.WithField("remote", key).Debug("tproxy sender pool: bin full, deferring eviction")
	}
}

// drainBin evicts every pending dead key. Must be called with p.mu held.
func (p *SenderPool) drainBin() {
	for {
		select {
		case key := <-p.bin:
			if wp, ok := p.entries[key]; ok && wp.Value() == nil {
				delete(p.entries, key)
			}
		default:
			return
		}
	}
}

// Len reports the number of live entries, including ones not yet reaped
// from the map by a drain. Exposed for tests and metrics.
func (p *SenderPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
