package lifecycle

import (
	"time"

	"github.com/mentat25/Metrix/pkg/run"
)

// ShouldEscalate reports whether s meets the composite HANG rule given the
// time since each telemetry source was last modified.
func ShouldEscalate(s *run.Summary, sourceAges []time.Duration) bool {
	if s.HasFinished || s.State.Absorbing() {
		return false
	}

	if s.ParseErrors < run.EscalationParseErrors ||
		s.CurrentCycle <= run.EscalationMinCycle {
		return false
	}

	if s.PairedTurnPending {
		return false
	}

	return allSilent(sourceAges, run.InactivityTimeout)
}

func allSilent(ages []time.Duration, threshold time.Duration) bool {
	if len(ages) == 0 {
		return false
	}

	for _, age := range ages {
		if age < threshold {
			return false
		}
	}

	return true
}
