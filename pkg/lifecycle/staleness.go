package lifecycle

import (
	"errors"
	"io/fs"
	"time"

	"github.com/docker/go-units"
	"github.com/mentat25/Metrix/pkg/fsutil"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
)

// StalenessDetector decides whether a running run's directory has gone quiet
// for longer than the inactivity timeout.
type StalenessDetector struct {
	log       logrus.FieldLogger
	now       func() time.Time
	threshold time.Duration
}

// NewStalenessDetector creates a detector. A nil clock uses time.Now.
func NewStalenessDetector(log logrus.FieldLogger, now func() time.Time) *StalenessDetector {
	if now == nil {
		now = time.Now
	}

	return &StalenessDetector{
		log:       log.WithField("component", "staleness"),
		now:       now,
		threshold: run.InactivityTimeout,
	}
}

// IsStale reports whether dir has not been written to within the inactivity
// timeout while the run is RUNNING. Finished runs are never stale, and a
// missing or empty directory is not treated as a failure.
func (d *StalenessDetector) IsStale(dir string, state run.State) bool {
	if state == run.StateFinished {
		return false
	}

	log := d.log.WithField("dir", dir)

	latest, ok, err := fsutil.LatestModTime(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("Telemetry directory does not exist")
		} else {
			log.WithError(err).Warn("Failed to inspect telemetry directory")
		}

		return false
	}

	if !ok {
		log.Warn("Telemetry directory is empty")

		return false
	}

	age := d.now().Sub(latest)
	if age <= d.threshold || state != run.StateRunning {
		return false
	}

	log.WithField("silent_for", units.HumanDuration(age)).
		Info("Run has timed out, no telemetry received within the inactivity timeout")

	return true
}
