// Package lifecycle decides which lifecycle state a sequencing run is in.
//
// The Machine holds no per-run state: every method takes the caller-owned
// summary, mutates it in place and reports what happened. Callers are
// expected to work on a copy and persist it as a single write.
package lifecycle

import (
	"time"

	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
)

// EventKind identifies a notable lifecycle transition.
type EventKind string

// Event kinds raised by the machine.
const (
	EventStarted     EventKind = "started"
	EventTurnPending EventKind = "turn_pending"
	EventTurnNotify  EventKind = "turn_notify"
	EventTurned      EventKind = "turned"
	EventHang        EventKind = "hang"
	EventFinished    EventKind = "finished"
)

// Event describes a transition raised while advancing a run.
type Event struct {
	Kind  EventKind `json:"kind"`
	From  run.State `json:"from"`
	To    run.State `json:"to"`
	Cycle int       `json:"cycle"`
}

// Machine is the run lifecycle transition function.
type Machine struct {
	log logrus.FieldLogger
}

// NewMachine creates a new state machine.
func NewMachine(log logrus.FieldLogger) *Machine {
	return &Machine{
		log: log.WithField("component", "lifecycle"),
	}
}

// MetadataLoaded records a successful metadata parse. A run still in INIT
// moves to RUNNING.
func (m *Machine) MetadataLoaded(s *run.Summary) []Event {
	if s.HasFinished {
		return nil
	}

	s.MetadataLoaded = true

	if s.State != run.StateInit {
		return nil
	}

	s.State = run.StateRunning

	return []Event{m.raise(s, EventStarted, run.StateInit, run.StateRunning, s.CurrentCycle)}
}

// Finish latches the run as finished. It is a no-op for a finished run.
func (m *Machine) Finish(s *run.Summary) []Event {
	if s.HasFinished {
		return nil
	}

	from := s.State
	s.State = run.StateFinished
	s.HasFinished = true

	return []Event{m.raise(s, EventFinished, from, run.StateFinished, s.CurrentCycle)}
}

// Hang forces the run into HANG unless it has already finished.
func (m *Machine) Hang(s *run.Summary) []Event {
	if s.HasFinished || s.State == run.StateHang {
		return nil
	}

	from := s.State
	s.State = run.StateHang

	return []Event{m.raise(s, EventHang, from, run.StateHang, s.CurrentCycle)}
}

// Escalate applies the composite failure rule: a run that keeps failing to
// decode, is past the first cycles and whose every telemetry source has
// been silent for the inactivity timeout is forced into HANG. A run waiting
// for its flowcell to be turned is exempt. No events means the rule did not
// fire.
func (m *Machine) Escalate(s *run.Summary, sourceAges []time.Duration) []Event {
	if !ShouldEscalate(s, sourceAges) {
		return nil
	}

	return m.Hang(s)
}

// Advance applies one routine poll: the cycle observed in telemetry and the
// state proposed by the caller. Special rules take precedence over the
// proposal; absorbing states and runs without metadata are left untouched.
func (m *Machine) Advance(s *run.Summary, proposed run.State, cycle int) []Event {
	if s.HasFinished || s.State.Absorbing() || !s.MetadataLoaded {
		return nil
	}

	var (
		events []Event
		from   = s.State
		state  = s.State
		ruled  bool
	)

	if state == run.StateInit {
		state = run.StateRunning
	}

	if s.IsPairedEnd() && !s.HasTurned {
		switch {
		case state == run.StateRunning && cycle == s.TurnCycle:
			state = run.StateTurn
			s.PairedTurnPending = true
			ruled = true

			events = append(events, m.raise(s, EventTurnPending, from, run.StateTurn, cycle))
		case (state == run.StateRunning || state == run.StateTurn) && cycle > s.TurnCycle:
			// Also covers a poll that never observed the turn cycle itself.
			state = run.StateRunning
			s.HasTurned = true
			s.PairedTurnPending = false
			ruled = true

			events = append(events, m.raise(s, EventTurned, from, run.StateRunning, cycle))
		case state == run.StateTurn:
			ruled = true
		}

		if state == run.StateTurn && s.PairedTurnPending && !s.TurnNotified {
			s.TurnNotified = true

			events = append(events, m.raise(s, EventTurnNotify, from, run.StateTurn, cycle))
		}
	}

	if !ruled {
		state = adopt(state, proposed)
	}

	if state != from {
		m.log.WithFields(logrus.Fields{
			"run_id": s.RunID,
			"from":   from,
			"to":     state,
			"cycle":  cycle,
		}).Debug("Run state changed")
	}

	s.State = state

	return events
}

// adopt returns the caller's proposal when it is a state routine polling
// may enter.
func adopt(current, proposed run.State) run.State {
	switch proposed {
	case run.StateRunning, run.StateTurn, run.StateHang:
		return proposed
	default:
		return current
	}
}

func (m *Machine) raise(s *run.Summary, kind EventKind, from, to run.State, cycle int) Event {
	m.log.WithFields(logrus.Fields{
		"run_id": s.RunID,
		"event":  kind,
		"from":   from,
		"to":     to,
		"cycle":  cycle,
	}).Info("Run lifecycle event")

	return Event{Kind: kind, From: from, To: to, Cycle: cycle}
}
