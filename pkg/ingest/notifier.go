package ingest

import (
	"context"

	"github.com/mentat25/Metrix/pkg/lifecycle"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
)

// Notifier is told about lifecycle events after they have been persisted.
type Notifier interface {
	Notify(ctx context.Context, s *run.Summary, ev lifecycle.Event) error
}

// LogNotifier reports lifecycle events to the log.
type LogNotifier struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that logs events.
func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log.WithField("component", "notifier")}
}

// Notify logs ev. Turn notifications and hangs need operator attention and
// are logged as warnings.
func (n *LogNotifier) Notify(_ context.Context, s *run.Summary, ev lifecycle.Event) error {
	log := n.log.WithFields(logrus.Fields{
		"run_id": s.RunID,
		"cycle":  ev.Cycle,
		"state":  ev.To,
	})

	switch ev.Kind {
	case lifecycle.EventTurnNotify:
		log.WithField("turn_cycle", s.TurnCycle).Warn("Flowcell has to be turned")
	case lifecycle.EventHang:
		log.Warn("Run appears to have hung")
	case lifecycle.EventTurned:
		log.Info("Flowcell turned, sequencing the second read")
	case lifecycle.EventFinished:
		log.Info("Run finished")
	default:
		log.WithField("event", ev.Kind).Debug("Run lifecycle event")
	}

	return nil
}
