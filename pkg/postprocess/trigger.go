// Package postprocess runs the end-of-run actions for finished runs.
package postprocess

import (
	"context"
	"errors"
	"fmt"

	"github.com/mentat25/Metrix/pkg/run"
)

// Trigger is invoked once when a run transitions into FINISHED.
type Trigger interface {
	Name() string
	Run(ctx context.Context, s *run.Summary) error
}

// Multi runs several triggers in order. A failing trigger does not stop
// the ones after it.
type Multi []Trigger

// Ensure interface compliance.
var _ Trigger = (Multi)(nil)

func (m Multi) Name() string {
	return "multi"
}

func (m Multi) Run(ctx context.Context, s *run.Summary) error {
	var errs []error

	for _, t := range m {
		if err := t.Run(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Preflighter is implemented by triggers that can check their destination
// before any run finishes.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// Preflight runs the preflight check of t and, for a Multi, of every
// trigger in it. Triggers without a check are skipped.
func Preflight(ctx context.Context, t Trigger) error {
	switch v := t.(type) {
	case nil:
		return nil
	case Multi:
		var errs []error

		for _, inner := range v {
			if err := Preflight(ctx, inner); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	case Preflighter:
		if err := v.Preflight(ctx); err != nil {
			return fmt.Errorf("%s preflight: %w", t.Name(), err)
		}
	}

	return nil
}
