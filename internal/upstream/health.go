package upstream

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// HealthFlag is the one-bit in_trouble state an Upstream carries. Spec
// §3 requires every transition to be logged exactly once, so Set/Clear
// compare-and-swap rather than blindly store.
type HealthFlag struct {
	inTrouble atomic.Bool
	name      string
}

func newHealthFlag(name string) *HealthFlag {
	return &HealthFlag{name: name}
}

func (h *HealthFlag) InTrouble() bool { return h.inTrouble.Load() }

// SetTrouble marks the upstream unhealthy, logging once per transition.
func (h *HealthFlag) SetTrouble(reason string) {
	if h.inTrouble.CompareAndSwap(false, true) {
		logrus.WithFields(logrus.Fields{"upstream": h.name, "reason": reason}).Warn("upstream entered trouble")
	}
}

// ClearTrouble marks the upstream healthy again, logging once per
// transition.
func (h *HealthFlag) ClearTrouble(reason string) {
	if h.inTrouble.CompareAndSwap(true, false) {
		logrus.WithFields(logrus.Fields{"upstream": h.name, "reason": reason}).Info("upstream recovered")
	}
}
