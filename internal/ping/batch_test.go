package ping

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrouted/udptproxy/internal/upstream"
)

// fakeConn is an in-memory Conn that echoes every sent query back as a
// reply, optionally with a fixed delay or not at all (to exercise timeout).
type fakeConn struct {
	incoming chan []byte
	respond  func(query []byte) (reply []byte, send bool, delay time.Duration)
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (c *fakeConn) Send(payload []byte) error {
	if c.respond == nil {
		return nil
	}
	reply, send, delay := c.respond(payload)
	if !send {
		return nil
	}
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		c.incoming <- reply
	}()
	return nil
}

func (c *fakeConn) Incoming() <-chan []byte { return c.incoming }

func echoID(data []byte) uint16 {
	var m dns.Msg
	_ = m.Unpack(data)
	return m.Id
}

func TestRunBatch_ImmediateReplyRecordsDelay(t *testing.T) {
	conn := newFakeConn()
	conn.respond = func(q []byte) ([]byte, bool, time.Duration) {
		id := echoID(q)
		m := new(dns.Msg)
		m.Id = id
		m.Response = true
		reply, err := m.Pack()
		require.NoError(t, err)
		return reply, true, 5 * time.Millisecond
	}

	hist := upstream.NewPingHistory()
	err := RunBatch(context.Background(), conn, 3, hist)
	require.NoError(t, err)
	assert.Equal(t, 1, hist.Len())
	assert.Equal(t, 0, hist.LossPercent())
}

func TestRunBatch_TimeoutRecordsAllLoss(t *testing.T) {
	conn := newFakeConn() // no respond func: never replies
	hist := upstream.NewPingHistory()

	err := RunBatch(context.Background(), conn, 3, hist)
	require.NoError(t, err)
	assert.Equal(t, 3, hist.Len())
	assert.Equal(t, 100, hist.LossPercent())
}

func TestRunBatch_ShortReplyDropped(t *testing.T) {
	conn := newFakeConn()
	replied := false
	conn.respond = func(q []byte) ([]byte, bool, time.Duration) {
		if !replied {
			replied = true
			return []byte{1, 2, 3}, true, 0 // shorter than 12 bytes, dropped
		}
		id := echoID(q)
		m := new(dns.Msg)
		m.Id = id
		m.Response = true
		reply, _ := m.Pack()
		return reply, true, 0
	}

	hist := upstream.NewPingHistory()
	err := RunBatch(context.Background(), conn, 1, hist)
	require.NoError(t, err)
	// the short reply was dropped silently; deadline still catches this
	// single-query batch as loss since nothing valid ever answered it.
	assert.Equal(t, 1, hist.Len())
	assert.Equal(t, 100, hist.LossPercent())
}

func TestBuildQuery_PadsToTargetSize(t *testing.T) {
	q, err := buildQuery(42)
	require.NoError(t, err)
	assert.InDelta(t, targetPacketSize, len(q), 4)

	var m dns.Msg
	require.NoError(t, m.Unpack(q))
	assert.Equal(t, uint16(42), m.Id)
}
