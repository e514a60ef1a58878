package interop

import (
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/mentat25/Metrix/pkg/run"
)

// Never is reported as the age of a source whose file does not exist.
const Never = time.Duration(math.MaxInt64)

// Source is one telemetry stream of a run.
type Source interface {
	// Kind returns which stream this is.
	Kind() Kind
	// Path returns the backing file.
	Path() string
	// CurrentCycle returns the highest cycle recorded so far. A missing or
	// partially written file yields a best-effort value.
	CurrentCycle() (int, error)
	// SinceModified returns the time since the backing file was last
	// written, or Never when it does not exist.
	SinceModified() time.Duration
	// Close releases the backing file.
	Close() error
}

// Opener opens the telemetry sources of a run for the duration of one poll.
type Opener interface {
	Open(runDir string) []Source
}

// FileOpener opens sources from the InterOp directory on disk.
type FileOpener struct {
	now func() time.Time
}

// Ensure interface compliance.
var (
	_ Opener = (*FileOpener)(nil)
	_ Source = (*fileSource)(nil)
)

// NewFileOpener creates an opener. A nil clock uses time.Now.
func NewFileOpener(now func() time.Time) *FileOpener {
	if now == nil {
		now = time.Now
	}

	return &FileOpener{now: now}
}

// Open opens every source kind. Failures to open are reported by the
// source's CurrentCycle so one bad file never prevents reading the others.
func (o *FileOpener) Open(runDir string) []Source {
	sources := make([]Source, 0, len(Kinds))

	for _, k := range Kinds {
		sources = append(sources, openFile(k, Path(runDir, k), o.now))
	}

	return sources
}

type fileSource struct {
	kind    Kind
	path    string
	file    *os.File
	modTime time.Time
	exists  bool
	openErr error
	now     func() time.Time
}

func openFile(kind Kind, path string, now func() time.Time) *fileSource {
	src := &fileSource{kind: kind, path: path, now: now}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			src.openErr = err
		}

		return src
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		src.openErr = err

		return src
	}

	src.file = f
	src.modTime = info.ModTime()
	src.exists = true

	return src
}

func (s *fileSource) Kind() Kind {
	return s.kind
}

func (s *fileSource) Path() string {
	return s.path
}

func (s *fileSource) CurrentCycle() (int, error) {
	if s.openErr != nil {
		return 0, &run.TelemetryDecodeError{Source: string(s.kind), Path: s.path, Err: s.openErr}
	}

	if s.file == nil {
		return 0, nil
	}

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, &run.TelemetryDecodeError{Source: string(s.kind), Path: s.path, Err: err}
	}

	cycle, err := maxCycle(s.kind, s.file)
	if err != nil {
		return cycle, &run.TelemetryDecodeError{Source: string(s.kind), Path: s.path, Err: err}
	}

	return cycle, nil
}

func (s *fileSource) SinceModified() time.Duration {
	if !s.exists {
		return Never
	}

	return s.now().Sub(s.modTime)
}

func (s *fileSource) Close() error {
	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	return err
}
