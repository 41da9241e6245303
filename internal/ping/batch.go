// Package ping implements the synthetic DNS ping protocol of spec §4.5:
// a batch of staggered, transaction-id-tagged DNS queries sent through a
// SOCKSv5 UDP session, whose first matching reply (or deadline) is
// recorded into the target Upstream's PingHistory.
package ping

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nullrouted/udptproxy/internal/upstream"
)

// shortReplyThreshold: replies below this size cannot be a DNS header and
// are dropped outright.
const shortReplyThreshold = 12

// warnReplyThreshold: replies below this size are unusually small for the
// padded query size and are logged, but still counted as a valid match.
const warnReplyThreshold = 400

const (
	defaultWaitSend = 200 * time.Millisecond
	minWaitLast     = 500 * time.Millisecond
	defaultWaitLast = 2 * time.Second
)

// Conn is the minimal contract RunBatch needs from a SOCKSv5 UDP session
// (internal/socks5.Session satisfies it): send a raw payload to the bound
// target, and receive raw payloads as they arrive.
type Conn interface {
	Send(payload []byte) error
	Incoming() <-chan []byte
}

// RunBatch sends count staggered pings over conn and records the outcome
// into hist: either one delay sample (on the first matching reply, with
// the n queries sent before it recorded as loss) or count loss samples
// (on deadline). wait_send/wait_last are derived from hist's own quantile
// delay when enough history exists, falling back to the spec's defaults.
func RunBatch(ctx context.Context, conn Conn, count int, hist *upstream.PingHistory) error {
	waitSend := defaultWaitSend
	if q := hist.QuantileDelay(0.80); q != nil {
		waitSend = *q
	}
	waitLast := defaultWaitLast
	if q := hist.QuantileDelay(0.95); q != nil {
		waitLast = max(*q, minWaitLast)
	}

	tids := make([]uint16, count)
	outstanding := make(map[uint16]int, count)
	for n := 0; n < count; n++ {
		tids[n] = randomTID()
		outstanding[tids[n]] = n
	}

	start := time.Now()

	deadline := time.NewTimer(waitLast)
	defer deadline.Stop()

	sendTimer := time.NewTimer(0)
	defer sendTimer.Stop()
	nextSend := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sendTimer.C:
			payload, err := buildQuery(tids[nextSend])
			if err != nil {
				return err
			}
			if err := conn.Send(payload); err != nil {
				return err
			}
			nextSend++
			if nextSend < count {
				sendTimer.Reset(waitSend)
			}

		case data := <-conn.Incoming():
			if len(data) < shortReplyThreshold {
				logrus.Debug("ping reply too short, dropped")
				continue
			}
			if len(data) < warnReplyThreshold {
				logrus.WithField("size", len(data)).Warn("ping reply smaller than expected")
			}
			id, ok := parseReplyID(data)
			if !ok {
				logrus.Debug("ping reply failed to parse, dropped")
				continue
			}
			n, known := outstanding[id]
			if !known {
				continue
			}

			elapsed := time.Since(start)
			delay := elapsed - time.Duration(n)*waitSend
			if delay < 0 {
				delay = 0
			}
			for i := 0; i < n; i++ {
				hist.RecordLoss()
			}
			hist.RecordDelay(delay)
			return nil

		case <-deadline.C:
			for range tids {
				hist.RecordLoss()
			}
			return nil
		}
	}
}
