package upstream

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool is the single RW-locked ordered vector of upstreams described in
// spec §5: writes are rare (checker resort, referrer add/remove); readers
// take a clone under the read lock and operate on the clone.
type Pool struct {
	mu        sync.RWMutex
	upstreams []*Upstream
	best      string // name of the current best upstream, for switch logging
}

func NewPool() *Pool {
	return &Pool{}
}

// Snapshot returns a shallow copy of the current ordered upstream list.
// Safe to range over without holding any lock.
func (p *Pool) Snapshot() []*Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Upstream, len(p.upstreams))
	copy(out, p.upstreams)
	return out
}

// Add appends a newly-discovered upstream (from static config or the
// referrer loop). Order is re-established on the next Resort.
func (p *Pool) Add(u *Upstream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upstreams = append(p.upstreams, u)
}

// Remove drops an upstream the referrer loop reports as disconnected.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, u := range p.upstreams {
		if u.Name == name {
			p.upstreams = append(p.upstreams[:i], p.upstreams[i+1:]...)
			return
		}
	}
}

// Resort re-sorts the pool ascending by score (lower is better) and logs
// when the best upstream changes.
func (p *Pool) Resort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	sort.SliceStable(p.upstreams, func(i, j int) bool {
		return p.upstreams[i].Score() < p.upstreams[j].Score()
	})
	if len(p.upstreams) == 0 {
		return
	}
	best := p.upstreams[0].Name
	if best != p.best {
		logrus.WithFields(logrus.Fields{"from": p.best, "to": best}).Info("best upstream changed")
		p.best = best
	}
}

// Len reports the number of upstreams currently in the pool.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.upstreams)
}
