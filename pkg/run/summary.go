package run

import (
	"path/filepath"
	"time"
)

// Summary is the persisted state of one sequencing run.
type Summary struct {
	// ID orders records in storage. Zero until the first insert.
	ID uint `gorm:"primaryKey" json:"id"`

	RunID        string `gorm:"not null;uniqueIndex" json:"run_id"`
	RunDirectory string `gorm:"not null;uniqueIndex" json:"run_directory"`

	State   State   `gorm:"not null;index" json:"state"`
	RunType RunType `json:"run_type"`

	CurrentCycle int `json:"current_cycle"`
	TotalCycles  int `json:"total_cycles"`
	TurnCycle    int `json:"turn_cycle"`
	ParseErrors  int `json:"parse_errors"`

	MetadataLoaded    bool `json:"metadata_loaded"`
	PairedTurnPending bool `json:"paired_turn_pending"`
	TurnNotified      bool `json:"turn_notified"`
	HasTurned         bool `json:"has_turned"`
	HasFinished       bool `json:"has_finished"`

	// Run-info metadata.
	Flowcell   string `json:"flowcell,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	RunNumber  int    `json:"run_number,omitempty"`
	RunDate    string `json:"run_date,omitempty"`
	Reads      int    `json:"reads,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSummary returns the default record for a run directory that has not
// been seen before.
func NewSummary(runDir string) *Summary {
	return &Summary{
		RunID:        RunIDFromDirectory(runDir),
		RunDirectory: runDir,
		State:        StateInit,
	}
}

// RootDirectory returns the top of a run directory. A path pointing at the
// InterOp directory resolves to its parent.
func RootDirectory(runDir string) string {
	clean := filepath.Clean(runDir)
	if filepath.Base(clean) == InterOpDir {
		return filepath.Dir(clean)
	}

	return clean
}

// RunIDFromDirectory derives the run identifier from the run directory name.
func RunIDFromDirectory(runDir string) string {
	return filepath.Base(RootDirectory(runDir))
}

// Clone returns a copy of s that can be mutated independently.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}

	c := *s

	return &c
}

// IsPairedEnd reports whether the run turns its flowcell at TurnCycle.
func (s *Summary) IsPairedEnd() bool {
	return s.RunType == RunTypePairedEnd && s.TurnCycle > 0
}

// Persisted reports whether the record has been written at least once.
func (s *Summary) Persisted() bool {
	return s.ID != 0
}

// TableName sets the table the summary is stored in.
func (Summary) TableName() string {
	return "run_summaries"
}
