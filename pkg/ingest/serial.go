package ingest

import (
	"context"
	"sync"

	"github.com/mentat25/Metrix/pkg/run"
)

// Poller polls runs.
type Poller interface {
	Poll(ctx context.Context, req Request) (*Result, error)
	Finish(ctx context.Context, runDir string) (*Result, error)
}

// Serial wraps a Poller so that at most one poll per run is in flight.
// Polls of different runs proceed in parallel.
type Serial struct {
	next Poller

	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// Ensure interface compliance.
var _ Poller = (*Serial)(nil)

// NewSerial wraps next with per-run serialization.
func NewSerial(next Poller) *Serial {
	return &Serial{
		next:  next,
		locks: make(map[string]*runLock, 64),
	}
}

func (s *Serial) Poll(ctx context.Context, req Request) (*Result, error) {
	unlock := s.lock(req.RunDirectory)
	defer unlock()

	return s.next.Poll(ctx, req)
}

func (s *Serial) Finish(ctx context.Context, runDir string) (*Result, error) {
	unlock := s.lock(runDir)
	defer unlock()

	return s.next.Finish(ctx, runDir)
}

// lock blocks until the caller holds the lock for the run and returns the
// function releasing it. Entries are dropped once nobody holds or waits.
func (s *Serial) lock(runDir string) func() {
	key := run.RootDirectory(runDir)

	s.mu.Lock()

	entry, exists := s.locks[key]
	if !exists {
		entry = &runLock{}
		s.locks[key] = entry
	}

	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()

		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, key)
		}
	}
}

// held returns the number of runs with an active or waiting poll.
func (s *Serial) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.locks)
}
