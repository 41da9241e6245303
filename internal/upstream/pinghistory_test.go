package upstream

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingHistory_EmptyScoresMax(t *testing.T) {
	h := NewPingHistory()
	assert.Equal(t, int16(math.MaxInt16), h.Score())
	assert.Nil(t, h.AverageDelay())
}

func TestPingHistory_ScoreMonotonicInLoss(t *testing.T) {
	low := NewPingHistory()
	high := NewPingHistory()
	for i := 0; i < 10; i++ {
		low.RecordDelay(50 * time.Millisecond)
		high.RecordDelay(50 * time.Millisecond)
	}
	high.RecordLoss()
	high.RecordLoss()
	assert.LessOrEqual(t, low.Score(), high.Score())
}

func TestPingHistory_ScoreMonotonicInDelay(t *testing.T) {
	fast := NewPingHistory()
	slow := NewPingHistory()
	for i := 0; i < 10; i++ {
		fast.RecordDelay(20 * time.Millisecond)
		slow.RecordDelay(500 * time.Millisecond)
	}
	assert.Less(t, fast.Score(), slow.Score())
}

func TestPingHistory_QuantileRequiresThreeSamples(t *testing.T) {
	h := NewPingHistory()
	h.RecordDelay(50 * time.Millisecond)
	h.RecordDelay(60 * time.Millisecond)
	assert.Nil(t, h.QuantileDelay(0.8))

	h.RecordDelay(55 * time.Millisecond)
	q := h.QuantileDelay(0.8)
	require.NotNil(t, q)
	assert.Greater(t, *q, time.Duration(0))
}

func TestDelay_RoundTripTolerance(t *testing.T) {
	for _, ms := range []int{1, 5, 20, 100, 500, 1000, 5000, 20000} {
		d := time.Duration(ms) * time.Millisecond
		got := DelayFromDuration(d).Duration()
		diff := math.Abs(float64(got-d)) / float64(d)
		assert.LessOrEqualf(t, diff, 0.20, "d=%v got=%v diff=%v", d, got, diff)
	}
}

func TestPingHistory_BoundedAt100(t *testing.T) {
	h := NewPingHistory()
	for i := 0; i < 150; i++ {
		h.RecordDelay(10 * time.Millisecond)
	}
	assert.Equal(t, 100, h.Len())
}

func TestPingHistory_LossPercent(t *testing.T) {
	h := NewPingHistory()
	for i := 0; i < 5; i++ {
		h.RecordDelay(10 * time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		h.RecordLoss()
	}
	assert.Equal(t, 50, h.LossPercent())
}
