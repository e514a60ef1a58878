package run

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to match them through wrapping.
var (
	ErrMetadataParse   = errors.New("run metadata could not be parsed")
	ErrTelemetryDecode = errors.New("telemetry source could not be decoded")
	ErrPersistence     = errors.New("run summary could not be persisted")
	ErrInvalidRunState = errors.New("invalid run state")
	ErrRunNotFound     = errors.New("run not found")
	ErrDuplicateRunID  = errors.New("run id already stored for another directory")
)

// MetadataParseError reports a run-info file that is missing or malformed.
type MetadataParseError struct {
	Path string
	Err  error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("parsing run metadata %s: %v", e.Path, e.Err)
}

// Unwrap allows errors.Is to match both ErrMetadataParse and the cause.
func (e *MetadataParseError) Unwrap() []error {
	return []error{ErrMetadataParse, e.Err}
}

// TelemetryDecodeError reports a telemetry source that could not be read.
type TelemetryDecodeError struct {
	Source string
	Path   string
	Err    error
}

func (e *TelemetryDecodeError) Error() string {
	return fmt.Sprintf("decoding %s telemetry %s: %v", e.Source, e.Path, e.Err)
}

// Unwrap allows errors.Is to match both ErrTelemetryDecode and the cause.
func (e *TelemetryDecodeError) Unwrap() []error {
	return []error{ErrTelemetryDecode, e.Err}
}

// PersistenceError reports a failed read or write against the backend.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s run summary: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is to match both ErrPersistence and the cause.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
