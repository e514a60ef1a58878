package run

import "time"

const (
	// InterOpDir is the directory holding the instrument telemetry files.
	InterOpDir = "InterOp"

	// CompletionMarker is written by the instrument when a run has completed.
	CompletionMarker = "RTAComplete.txt"

	// RunInfoFile holds the run metadata.
	RunInfoFile = "RunInfo.xml"

	// RunParametersFile holds the instrument run parameters.
	RunParametersFile = "RunParameters.xml"

	// InactivityTimeout is how long telemetry may stay unmodified before a
	// run is considered stale.
	InactivityTimeout = 24 * time.Hour

	// EscalationParseErrors is the parse-error count at which a stalled run
	// is escalated to HANG.
	EscalationParseErrors = 20

	// EscalationMinCycle is the cycle a run must be past before it can be
	// escalated to HANG.
	EscalationMinCycle = 20
)
