// Package watcher is the scheduler that polls every run found under the
// configured roots on a fixed interval.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mentat25/Metrix/pkg/ingest"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// defaultConcurrency is the number of runs polled in parallel when no
// explicit concurrency value is configured.
const defaultConcurrency = 4

// Watcher periodically discovers and polls runs.
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
	// Pass runs a single discovery and polling pass.
	Pass(ctx context.Context) (*PassStats, error)
}

// Options configures a Watcher.
type Options struct {
	Roots       []string
	Interval    time.Duration
	Concurrency int
	// PollsPerSecond throttles polls across all runs. Zero disables it.
	PollsPerSecond float64
}

// PassStats counts what one pass did.
type PassStats struct {
	Discovered int
	Polled     int
	Skipped    int
	Failed     int
	Outcomes   map[ingest.Outcome]int
}

// Compile-time interface check.
var _ Watcher = (*watcher)(nil)

type watcher struct {
	log     logrus.FieldLogger
	poller  ingest.Poller
	opts    Options
	limiter *rate.Limiter
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher that polls through poller.
func New(log logrus.FieldLogger, poller ingest.Poller, opts Options) Watcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	var limiter *rate.Limiter
	if opts.PollsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.PollsPerSecond), 1)
	}

	return &watcher{
		log:     log.WithField("component", "watcher"),
		poller:  poller,
		opts:    opts,
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate pass and
// then one pass per interval.
func (w *watcher) Start(ctx context.Context) error {
	if w.opts.Interval <= 0 {
		return fmt.Errorf("invalid watch interval: %s", w.opts.Interval)
	}

	w.log.WithFields(logrus.Fields{
		"roots":       w.opts.Roots,
		"interval":    w.opts.Interval.String(),
		"concurrency": w.opts.Concurrency,
	}).Info("Starting watcher")

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		w.runPass(ctx)

		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runPass(ctx)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the watcher goroutine to stop and waits for the current
// pass to finish.
func (w *watcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.log.Info("Watcher stopped")

	return nil
}

func (w *watcher) runPass(ctx context.Context) {
	start := time.Now()

	stats, err := w.Pass(ctx)
	if err != nil {
		w.log.WithError(err).Warn("Watch pass failed")

		return
	}

	w.log.WithFields(logrus.Fields{
		"discovered": stats.Discovered,
		"polled":     stats.Polled,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("Watch pass completed")
}

// Pass discovers runs under every root and polls each once with bounded
// parallelism.
func (w *watcher) Pass(ctx context.Context) (*PassStats, error) {
	var dirs []string

	for _, root := range w.opts.Roots {
		found, err := discover(root)
		if err != nil {
			w.log.WithError(err).WithField("root", root).Warn("Failed to scan watch root")

			continue
		}

		dirs = append(dirs, found...)
	}

	var (
		polled, skipped, failed atomic.Int64
		outcomesMu              sync.Mutex
		outcomes                = make(map[ingest.Outcome]int, 8)
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)

	for _, dir := range dirs {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-w.done:
				return nil
			default:
			}

			res, err := w.pollRun(gCtx, dir)

			switch {
			case errors.Is(err, errSkipped):
				skipped.Add(1)
			case err != nil:
				if gCtx.Err() != nil {
					return gCtx.Err()
				}

				failed.Add(1)
				w.log.WithError(err).WithField("run_dir", dir).Warn("Failed to poll run")
			default:
				polled.Add(1)

				outcomesMu.Lock()
				outcomes[res.Outcome]++
				outcomesMu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("polling runs: %w", err)
	}

	return &PassStats{
		Discovered: len(dirs),
		Polled:     int(polled.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
		Outcomes:   outcomes,
	}, nil
}

var errSkipped = errors.New("run needs no polling")

// pollRun proposes INIT for runs seen for the first time and the stored
// state otherwise. Finished runs are not polled again.
func (w *watcher) pollRun(ctx context.Context, dir string) (*ingest.Result, error) {
	proposed := run.StateInit

	known, err := w.poller.Poll(ctx, ingest.Request{RunDirectory: dir, QuickLoad: true})

	switch {
	case errors.Is(err, run.ErrRunNotFound):
	case err != nil:
		return nil, err
	case known.Summary.HasFinished:
		return nil, errSkipped
	default:
		proposed = known.Summary.State
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return w.poller.Poll(ctx, ingest.Request{RunDirectory: dir, Proposed: proposed})
}
