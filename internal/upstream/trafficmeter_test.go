package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrafficMeter_TXOnly(t *testing.T) {
	m := NewTrafficMeter()
	var tx uint64 = 100
	m.Sample(0, 0) // primes the baseline; this delta rolls off the 6-deep ring below
	for i := 0; i < 3; i++ {
		tx += 10
		m.Sample(tx, 0)
	}
	for i := 0; i < 3; i++ {
		m.Sample(tx, 0) // no further tx growth, still no rx
	}
	assert.True(t, m.TXOnly())
}

func TestTrafficMeter_AnyRxClearsTXOnly(t *testing.T) {
	m := NewTrafficMeter()
	m.Sample(0, 0)
	m.Sample(10, 0)
	m.Sample(20, 0)
	m.Sample(30, 0) // priming sample rolls off: the first half is all tx
	m.Sample(30, 5) // rx delta observed here
	m.Sample(30, 5)
	m.Sample(30, 5)
	assert.False(t, m.TXOnly())
}

func TestTrafficMeter_FewerThanSixIsFalse(t *testing.T) {
	m := NewTrafficMeter()
	m.Sample(0, 0)
	m.Sample(10, 0)
	assert.False(t, m.TXOnly())
}

func TestTrafficMeter_RxDeltaReturnedFromSample(t *testing.T) {
	m := NewTrafficMeter()
	m.Sample(0, 0)
	rx := m.Sample(0, 42)
	assert.Equal(t, uint64(42), rx)
}
