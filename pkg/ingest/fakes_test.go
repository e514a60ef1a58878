package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mentat25/Metrix/pkg/interop"
	"github.com/mentat25/Metrix/pkg/lifecycle"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/mentat25/Metrix/pkg/runinfo"
)

type fakeGateway struct {
	mu        sync.Mutex
	records   map[string]*run.Summary
	nextID    uint
	inserts   int
	updates   int
	calls     int
	upsertErr error
}

func newFakeGateway(records ...*run.Summary) *fakeGateway {
	g := &fakeGateway{records: make(map[string]*run.Summary, len(records))}

	for _, r := range records {
		g.nextID++
		c := r.Clone()
		c.ID = g.nextID
		g.records[c.RunDirectory] = c
	}

	return g
}

func (g *fakeGateway) Exists(_ context.Context, runDir string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	_, ok := g.records[runDir]

	return ok, nil
}

func (g *fakeGateway) Get(_ context.Context, runDir string) (*run.Summary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++

	r, ok := g.records[runDir]
	if !ok {
		return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, runDir)
	}

	return r.Clone(), nil
}

func (g *fakeGateway) Upsert(_ context.Context, s *run.Summary) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++

	if g.upsertErr != nil {
		return &run.PersistenceError{Op: "updating", Err: g.upsertErr}
	}

	if existing, ok := g.records[s.RunDirectory]; ok {
		s.ID = existing.ID
		g.updates++
	} else {
		g.nextID++
		s.ID = g.nextID
		g.inserts++
	}

	g.records[s.RunDirectory] = s.Clone()

	return nil
}

func (g *fakeGateway) stored(runDir string) *run.Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.records[runDir].Clone()
}

type fakeMetadata struct {
	info  *runinfo.Info
	err   error
	calls int
}

func (m *fakeMetadata) Parse(runDir string) (*runinfo.Info, error) {
	m.calls++

	if m.err != nil {
		return nil, &run.MetadataParseError{Path: runDir, Err: m.err}
	}

	return m.info, nil
}

func pairedInfo() *runinfo.Info {
	return &runinfo.Info{
		Flowcell:    "AFLOW",
		RunType:     run.RunTypePairedEnd,
		TotalCycles: 152,
		TurnCycle:   76,
		Reads: []runinfo.Read{
			{Number: 1, Cycles: 70},
			{Number: 2, Cycles: 6, IsIndex: true},
			{Number: 3, Cycles: 76},
		},
	}
}

type fakeSource struct {
	kind   interop.Kind
	cycle  int
	err    error
	age    time.Duration
	closed bool
}

func (s *fakeSource) Kind() interop.Kind { return s.kind }
func (s *fakeSource) Path() string { return string(s.kind) }

func (s *fakeSource) CurrentCycle() (int, error) {
	if s.err != nil {
		return 0, &run.TelemetryDecodeError{Source: string(s.kind), Path: s.Path(), Err: s.err}
	}

	return s.cycle, nil
}

func (s *fakeSource) SinceModified() time.Duration { return s.age }

func (s *fakeSource) Close() error {
	s.closed = true

	return nil
}

// fakeMetrics serves the same readings for every run.
type fakeMetrics struct {
	extraction, tile, quality fakeSource
	opened                    [][]interop.Source
}

func newFakeMetrics(cycle int, age time.Duration) *fakeMetrics {
	return &fakeMetrics{
		extraction: fakeSource{kind: interop.KindExtraction, cycle: cycle, age: age},
		tile:       fakeSource{kind: interop.KindTile, age: age},
		quality:    fakeSource{kind: interop.KindQuality, cycle: cycle, age: age},
	}
}

func (m *fakeMetrics) Open(string) []interop.Source {
	e, t, q := m.extraction, m.tile, m.quality
	sources := []interop.Source{&e, &t, &q}
	m.opened = append(m.opened, sources)

	return sources
}

func (m *fakeMetrics) setCycle(cycle int) {
	m.extraction.cycle = cycle
	m.quality.cycle = cycle
}

type recordingNotifier struct {
	events []lifecycle.Event
}

func (n *recordingNotifier) Notify(_ context.Context, _ *run.Summary, ev lifecycle.Event) error {
	n.events = append(n.events, ev)

	return nil
}

func (n *recordingNotifier) count(kind lifecycle.EventKind) int {
	var c int

	for _, ev := range n.events {
		if ev.Kind == kind {
			c++
		}
	}

	return c
}

type fakeTrigger struct {
	runs []*run.Summary
	err  error
}

func (t *fakeTrigger) Name() string { return "fake" }

func (t *fakeTrigger) Run(_ context.Context, s *run.Summary) error {
	t.runs = append(t.runs, s)

	return t.err
}

var errBoom = errors.New("boom")
