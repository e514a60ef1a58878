package main

import (
	"context"
	"fmt"

	"github.com/mentat25/Metrix/pkg/config"
	"github.com/mentat25/Metrix/pkg/ingest"
	"github.com/mentat25/Metrix/pkg/interop"
	"github.com/mentat25/Metrix/pkg/postprocess"
	"github.com/mentat25/Metrix/pkg/runinfo"
	"github.com/mentat25/Metrix/pkg/store"
	"github.com/sirupsen/logrus"
)

// engine is the wired poller shared by every command.
type engine struct {
	store   store.Store
	trigger postprocess.Trigger
	poller  *ingest.Serial
}

// openEngine starts the store and wires the orchestrator around it. The
// caller must call close.
func openEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	var trigger postprocess.Trigger

	if cfg.PostProcessing.Enabled {
		t, err := postprocess.New(log, &cfg.PostProcessing)
		if err != nil {
			return nil, fmt.Errorf("building post-processing: %w", err)
		}

		trigger = t
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	orchestrator := ingest.NewOrchestrator(log, ingest.Options{
		Gateway:        st,
		Metadata:       runinfo.NewFileReader(),
		Metrics:        interop.NewFileOpener(nil),
		PostProcessing: cfg.PostProcessing.Enabled,
		Trigger:        trigger,
	})

	return &engine{
		store:   st,
		trigger: trigger,
		poller:  ingest.NewSerial(orchestrator),
	}, nil
}

func (e *engine) close() {
	if err := e.store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop store")
	}
}

// logResult reports one poll at info level.
func logResult(res *ingest.Result) {
	s := res.Summary

	entry := log.WithFields(logrus.Fields{
		"run_id":        s.RunID,
		"run_dir":       s.RunDirectory,
		"state":         s.State,
		"outcome":       res.Outcome,
		"cycle":         s.CurrentCycle,
		"total_cycles":  s.TotalCycles,
		"parse_errors":  s.ParseErrors,
		"has_finished":  s.HasFinished,
		"turn_notified": s.TurnNotified,
	})

	for _, ev := range res.Events {
		entry.WithField("event", ev.Kind).WithField("event_cycle", ev.Cycle).Info("Lifecycle event")
	}

	for _, issue := range res.Issues {
		entry.WithError(issue).Warn("Poll issue")
	}

	entry.Info("Run polled")
}
