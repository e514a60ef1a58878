// Package ingest runs the per-poll pipeline of a sequencing run: it loads
// the stored summary, gates on metadata, detects hangs, reads telemetry,
// advances the lifecycle and persists the result in a single write.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/mentat25/Metrix/pkg/fsutil"
	"github.com/mentat25/Metrix/pkg/interop"
	"github.com/mentat25/Metrix/pkg/lifecycle"
	"github.com/mentat25/Metrix/pkg/postprocess"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/mentat25/Metrix/pkg/runinfo"
	"github.com/sirupsen/logrus"
)

// Gateway is the persistence the orchestrator needs.
type Gateway interface {
	Exists(ctx context.Context, runDir string) (bool, error)
	Get(ctx context.Context, runDir string) (*run.Summary, error)
	Upsert(ctx context.Context, s *run.Summary) error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Gateway  Gateway
	Metadata runinfo.Reader
	Metrics  interop.Opener
	Notifier Notifier

	// PostProcessing gates Trigger. When false nothing runs on finish.
	PostProcessing bool
	Trigger        postprocess.Trigger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator polls runs.
type Orchestrator struct {
	log       logrus.FieldLogger
	opts      Options
	now       func() time.Time
	machine   *lifecycle.Machine
	staleness *lifecycle.StalenessDetector
}

// Ensure interface compliance.
var _ Poller = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator. Gateway, Metadata and Metrics are
// required.
func NewOrchestrator(log logrus.FieldLogger, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(log)
	}

	return &Orchestrator{
		log:       log.WithField("component", "ingest"),
		opts:      opts,
		now:       now,
		machine:   lifecycle.NewMachine(log),
		staleness: lifecycle.NewStalenessDetector(log, now),
	}
}

// Finish finishes a run regardless of its telemetry. It also clears HANG.
func (o *Orchestrator) Finish(ctx context.Context, runDir string) (*Result, error) {
	return o.Poll(ctx, Request{RunDirectory: runDir, Proposed: run.StateFinished})
}

// Poll runs one poll of a run. Recoverable failures are reported in
// Result.Issues; an error is returned only for an invalid request or when
// the summary could not be loaded or persisted.
func (o *Orchestrator) Poll(ctx context.Context, req Request) (*Result, error) {
	if req.RunDirectory == "" {
		return nil, errors.New("run directory is required")
	}

	if req.Proposed != "" && !req.Proposed.Valid() {
		return nil, fmt.Errorf("%w: %q", run.ErrInvalidRunState, req.Proposed)
	}

	dir := run.RootDirectory(req.RunDirectory)

	if req.QuickLoad {
		summary, err := o.opts.Gateway.Get(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("loading run summary: %w", err)
		}

		return &Result{Summary: summary, Outcome: OutcomeQuickLoad}, nil
	}

	current, err := o.load(ctx, dir)
	if err != nil {
		return nil, err
	}

	if current.HasFinished {
		return &Result{Summary: current, Outcome: OutcomeNoop}, nil
	}

	finishing := req.Proposed == run.StateFinished || o.completed(dir)

	// HANG is left only by finishing.
	if current.State == run.StateHang && !finishing {
		return &Result{Summary: current, Outcome: OutcomeNoop}, nil
	}

	p := &poll{
		log:  o.log.WithFields(logrus.Fields{"run_id": current.RunID, "run_dir": dir}),
		prev: current,
		next: current.Clone(),
	}

	if !p.next.MetadataLoaded {
		info, err := o.opts.Metadata.Parse(dir)

		switch {
		case err != nil:
			p.log.WithError(err).Warn("Run metadata not available yet")
			p.issue(err)

			// Finishing does not wait for metadata.
			if !finishing {
				return o.commit(ctx, p, OutcomeMetadataPending)
			}
		default:
			applyMetadata(p.next, info)
			p.events(o.machine.MetadataLoaded(p.next))

			p.log.WithFields(logrus.Fields{
				"run_type":     p.next.RunType,
				"total_cycles": p.next.TotalCycles,
				"turn_cycle":   p.next.TurnCycle,
			}).Info("Loaded run metadata")

			if !finishing {
				return o.commit(ctx, p, OutcomeInitialized)
			}
		}
	}

	sources := o.opts.Metrics.Open(dir)
	defer closeSources(p.log, sources)

	if finishing {
		p.next.CurrentCycle = o.readCycle(p, sources)
		p.events(o.machine.Finish(p.next))

		res, err := o.commit(ctx, p, OutcomeFinished)
		if err != nil {
			return res, err
		}

		o.postProcess(ctx, res)

		return res, nil
	}

	ages := sourceAges(sources)

	if evs := o.machine.Escalate(p.next, ages); len(evs) > 0 {
		p.events(evs)
		p.log.WithFields(logrus.Fields{
			"parse_errors": p.next.ParseErrors,
			"silent_for":   units.HumanDuration(minAge(ages)),
		}).Warn("Escalating run to hang, telemetry unreadable and silent")

		return o.commit(ctx, p, OutcomeHang)
	}

	if o.staleness.IsStale(interop.Dir(dir), p.next.State) {
		p.events(o.machine.Hang(p.next))

		return o.commit(ctx, p, OutcomeHang)
	}

	cycle := o.readCycle(p, sources)
	p.events(o.machine.Advance(p.next, req.Proposed, cycle))
	p.next.CurrentCycle = cycle

	p.log.WithFields(logrus.Fields{
		"state":      p.next.State,
		"cycle":      cycle,
		"last_write": units.HumanDuration(minAge(ages)),
	}).Debug("Polled run")

	return o.commit(ctx, p, OutcomeUpdated)
}

// poll is the working state of one poll. next is a private copy so a failed
// write leaves prev untouched.
type poll struct {
	log    logrus.FieldLogger
	prev   *run.Summary
	next   *run.Summary
	raised []lifecycle.Event
	issues []error
}

func (p *poll) events(evs []lifecycle.Event) {
	p.raised = append(p.raised, evs...)
}

func (p *poll) issue(err error) {
	p.issues = append(p.issues, err)
}

// load returns the stored summary for dir, or a new one when the run has
// not been seen before.
func (o *Orchestrator) load(ctx context.Context, dir string) (*run.Summary, error) {
	exists, err := o.opts.Gateway.Exists(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("looking up run summary: %w", err)
	}

	if !exists {
		return run.NewSummary(dir), nil
	}

	summary, err := o.opts.Gateway.Get(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("loading run summary: %w", err)
	}

	return summary, nil
}

func (o *Orchestrator) completed(dir string) bool {
	return fsutil.IsFile(filepath.Join(dir, run.CompletionMarker))
}

// commit persists the poll's copy in one write. Notifications go out only
// once the write has succeeded.
func (o *Orchestrator) commit(ctx context.Context, p *poll, outcome Outcome) (*Result, error) {
	p.next.LastUpdated = o.now()

	if err := o.opts.Gateway.Upsert(ctx, p.next); err != nil {
		p.log.WithError(err).Error("Failed to persist run summary")

		return &Result{
			Summary: p.prev,
			Outcome: outcome,
			Issues:  p.issues,
		}, fmt.Errorf("persisting run %s: %w", p.next.RunID, err)
	}

	for _, ev := range p.raised {
		if err := o.opts.Notifier.Notify(ctx, p.next, ev); err != nil {
			p.log.WithError(err).WithField("event", ev.Kind).Warn("Failed to send notification")
			p.issue(err)
		}
	}

	return &Result{
		Summary: p.next,
		Outcome: outcome,
		Events:  p.raised,
		Issues:  p.issues,
	}, nil
}

// readCycle returns the run's progress. Extraction metrics are
// authoritative; the other sources are used when extraction has nothing.
// Every unreadable source counts as a parse error. When no source yields a
// cycle the previous value is kept.
func (o *Orchestrator) readCycle(p *poll, sources []interop.Source) int {
	var extraction, fallback int

	for _, src := range sources {
		cycle, err := src.CurrentCycle()
		if err != nil {
			p.next.ParseErrors++
			p.issue(err)
			p.log.WithError(err).WithField("source", src.Kind()).Warn("Failed to decode telemetry")

			continue
		}

		if src.Kind() == interop.KindExtraction {
			extraction = cycle
		} else if cycle > fallback {
			fallback = cycle
		}
	}

	switch {
	case extraction > 0:
		return extraction
	case fallback > 0:
		return fallback
	default:
		return p.next.CurrentCycle
	}
}

func (o *Orchestrator) postProcess(ctx context.Context, res *Result) {
	if !o.opts.PostProcessing || o.opts.Trigger == nil {
		return
	}

	log := o.log.WithFields(logrus.Fields{
		"run_id":  res.Summary.RunID,
		"trigger": o.opts.Trigger.Name(),
	})

	if err := o.opts.Trigger.Run(ctx, res.Summary.Clone()); err != nil {
		log.WithError(err).Error("Post-processing failed")
		res.Issues = append(res.Issues, err)

		return
	}

	log.Info("Post-processing completed")
}

func applyMetadata(s *run.Summary, info *runinfo.Info) {
	s.RunType = info.RunType
	s.TotalCycles = info.TotalCycles
	s.TurnCycle = info.TurnCycle
	s.Flowcell = info.Flowcell
	s.Instrument = info.Instrument
	s.RunNumber = info.RunNumber
	s.RunDate = info.Date
	s.Reads = len(info.Reads)
}

func sourceAges(sources []interop.Source) []time.Duration {
	ages := make([]time.Duration, 0, len(sources))
	for _, src := range sources {
		ages = append(ages, src.SinceModified())
	}

	return ages
}

func minAge(ages []time.Duration) time.Duration {
	if len(ages) == 0 {
		return 0
	}

	m := ages[0]
	for _, a := range ages[1:] {
		m = min(m, a)
	}

	return m
}

func closeSources(log logrus.FieldLogger, sources []interop.Source) {
	for _, src := range sources {
		if err := src.Close(); err != nil {
			log.WithError(err).WithField("source", src.Kind()).Debug("Failed to close telemetry source")
		}
	}
}
