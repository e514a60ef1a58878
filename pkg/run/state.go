package run

import "fmt"

// State is the lifecycle state of a sequencing run.
type State string

// Lifecycle states.
const (
	StateInit     State = "init"
	StateRunning  State = "running"
	StateTurn     State = "turn"
	StateHang     State = "hang"
	StateFinished State = "finished"
)

// validStates is the set of states a caller may propose.
var validStates = map[State]struct{}{
	StateInit:     {},
	StateRunning:  {},
	StateTurn:     {},
	StateHang:     {},
	StateFinished: {},
}

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	_, ok := validStates[s]

	return ok
}

// Absorbing reports whether routine polling must leave s untouched.
func (s State) Absorbing() bool {
	return s == StateHang || s == StateFinished
}

// ParseState converts a user-supplied string into a State.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunState, v)
	}

	return s, nil
}

// RunType distinguishes single-end from paired-end runs.
type RunType string

// Run types.
const (
	RunTypeUnknown   RunType = ""
	RunTypeSingleEnd RunType = "single_end"
	RunTypePairedEnd RunType = "paired_end"
)
