package ingest

import (
	"github.com/mentat25/Metrix/pkg/lifecycle"
	"github.com/mentat25/Metrix/pkg/run"
)

// Request is one poll of one run.
type Request struct {
	// RunDirectory is the run directory or its InterOp subdirectory.
	RunDirectory string
	// Proposed is the state the caller expects the run to be in. StateFinished
	// asks for the run to be finished. Empty leaves the decision to the
	// telemetry.
	Proposed run.State
	// QuickLoad returns the stored summary without reading telemetry or
	// writing anything.
	QuickLoad bool
}

// Outcome summarizes what a poll did.
type Outcome string

// Poll outcomes.
const (
	OutcomeQuickLoad       Outcome = "quick_load"
	OutcomeMetadataPending Outcome = "metadata_pending"
	OutcomeInitialized     Outcome = "initialized"
	OutcomeUpdated         Outcome = "updated"
	OutcomeHang            Outcome = "hang"
	OutcomeFinished        Outcome = "finished"
	OutcomeNoop            Outcome = "noop"
)

// Persisted reports whether a poll with this outcome writes the summary.
func (o Outcome) Persisted() bool {
	return o != OutcomeQuickLoad && o != OutcomeNoop
}

// Result is the outcome of a poll.
type Result struct {
	// Summary is the record after the poll. When persisting fails it is the
	// record as it was before the poll.
	Summary *run.Summary
	Outcome Outcome
	Events  []lifecycle.Event
	// Issues are the recoverable failures met during the poll, such as
	// unreadable telemetry or metadata and failed post-processing.
	Issues []error
}
