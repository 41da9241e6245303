package upstream

import (
	"sync"
	"time"
)

const trafficMeterCapacity = 6

// trafficSample is one 1-second tick: the delta in cumulative tx/rx bytes
// observed since the previous tick, and when it was taken.
type trafficSample struct {
	at       time.Time
	txDelta  uint64
	rxDelta  uint64
}

// TrafficMeter records a bounded ring of per-tick traffic deltas, sampled
// at 1-second intervals by the checking service's meter_sampling_all task.
// Owned by its Upstream; mutated only by that task.
type TrafficMeter struct {
	mu      sync.Mutex
	samples [trafficMeterCapacity]trafficSample
	count   int // number of ticks recorded, saturates at capacity
	next    int
	prevTx  uint64
	prevRx  uint64
	primed  bool
}

func NewTrafficMeter() *TrafficMeter {
	return &TrafficMeter{}
}

// Sample records one tick given the upstream's current cumulative tx/rx
// byte counters. Returns the rx delta observed, so callers can clear
// in-trouble immediately on any positive value (spec §4.4.3).
func (m *TrafficMeter) Sample(cumTx, cumRx uint64) (rxDelta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txDelta uint64
	if m.primed {
		if cumTx > m.prevTx {
			txDelta = cumTx - m.prevTx
		}
		if cumRx > m.prevRx {
			rxDelta = cumRx - m.prevRx
		}
	}
	m.prevTx, m.prevRx, m.primed = cumTx, cumRx, true

	m.samples[m.next] = trafficSample{at: time.Now(), txDelta: txDelta, rxDelta: rxDelta}
	m.next = (m.next + 1) % trafficMeterCapacity
	if m.count < trafficMeterCapacity {
		m.count++
	}
	return rxDelta
}

func (m *TrafficMeter) window() []trafficSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count < trafficMeterCapacity {
		out := make([]trafficSample, m.count)
		copy(out, m.samples[:m.count])
		return out
	}
	out := make([]trafficSample, trafficMeterCapacity)
	copy(out, m.samples[m.next:])
	copy(out[trafficMeterCapacity-m.next:], m.samples[:m.next])
	return out
}

// TXOnly implements the heuristic in spec §4.4.2: with a full 6-sample
// window, true when the first half shows positive tx deltas throughout
// while the full window shows zero rx deltas throughout. Fewer than 6
// samples always returns false.
func (m *TrafficMeter) TXOnly() bool {
	w := m.window()
	if len(w) < trafficMeterCapacity {
		return false
	}
	half := trafficMeterCapacity / 2
	for i := 0; i < half; i++ {
		if w[i].txDelta == 0 {
			return false
		}
	}
	for i := range w {
		if w[i].rxDelta != 0 {
			return false
		}
	}
	return true
}
