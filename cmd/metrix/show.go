package main

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/mentat25/Metrix/pkg/ingest"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	showRunID  string
	showState  string
	showSearch string
)

var showCmd = &cobra.Command{
	Use:   "show [run-directory]",
	Short: "Show stored run summaries",
	Long: `Show stored summaries without touching the run directories. With a
run directory the stored summary of that run is shown; otherwise runs are
selected by --run-id, --state or --search, or all runs are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().StringVar(&showRunID, "run-id", "", "show the run with this id")
	showCmd.Flags().StringVar(&showState, "state", "", "list runs in this state")
	showCmd.Flags().StringVar(&showSearch, "search", "", "list runs whose id contains this text")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	summaries, err := selectRuns(ctx, e, args)
	if err != nil {
		return err
	}

	for i := range summaries {
		logSummary(&summaries[i])
	}

	log.WithField("count", len(summaries)).Info("Runs shown")

	return nil
}

func selectRuns(ctx context.Context, e *engine, args []string) ([]run.Summary, error) {
	switch {
	case len(args) == 1:
		res, err := e.poller.Poll(ctx, ingest.Request{RunDirectory: args[0], QuickLoad: true})
		if err != nil {
			return nil, err
		}

		return []run.Summary{*res.Summary}, nil
	case showRunID != "":
		s, err := e.store.GetByRunID(ctx, showRunID)
		if err != nil {
			return nil, err
		}

		return []run.Summary{*s}, nil
	case showState != "":
		state, err := run.ParseState(showState)
		if err != nil {
			return nil, err
		}

		return e.store.ListByState(ctx, state)
	case showSearch != "":
		return e.store.Search(ctx, showSearch)
	default:
		return e.store.ListAll(ctx)
	}
}

func logSummary(s *run.Summary) {
	log.WithFields(logrus.Fields{
		"run_id":       s.RunID,
		"run_dir":      s.RunDirectory,
		"state":        s.State,
		"run_type":     s.RunType,
		"cycle":        fmt.Sprintf("%d/%d", s.CurrentCycle, s.TotalCycles),
		"turn_cycle":   s.TurnCycle,
		"parse_errors": s.ParseErrors,
		"flowcell":     s.Flowcell,
		"updated":      units.HumanDuration(time.Since(s.LastUpdated)) + " ago",
	}).Info("Run")
}
