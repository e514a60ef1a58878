package main

import (
	"context"
	"fmt"

	"github.com/mentat25/Metrix/pkg/ingest"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/spf13/cobra"
)

var proposedState string

var pollCmd = &cobra.Command{
	Use:   "poll <run-directory>...",
	Short: "Poll runs once",
	Long: `Poll each run directory once: load or create its summary, read the
InterOp telemetry, advance the lifecycle and persist the result.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPoll,
}

var finishCmd = &cobra.Command{
	Use:   "finish <run-directory>...",
	Short: "Finish runs",
	Long: `Mark runs as finished regardless of their telemetry. This also
clears HANG and triggers post-processing when it is enabled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFinish,
}

func init() {
	rootCmd.AddCommand(pollCmd, finishCmd)

	pollCmd.Flags().StringVar(&proposedState, "state", "",
		"state the run is expected to be in (init, running, turn, hang)")
}

func runPoll(cmd *cobra.Command, args []string) error {
	var proposed run.State

	if proposedState != "" {
		s, err := run.ParseState(proposedState)
		if err != nil {
			return err
		}

		if s == run.StateFinished {
			return fmt.Errorf("use the finish command to finish a run")
		}

		proposed = s
	}

	return eachRun(cmd.Context(), args, func(ctx context.Context, e *engine, dir string) (*ingest.Result, error) {
		return e.poller.Poll(ctx, ingest.Request{RunDirectory: dir, Proposed: proposed})
	})
}

func runFinish(cmd *cobra.Command, args []string) error {
	return eachRun(cmd.Context(), args, func(ctx context.Context, e *engine, dir string) (*ingest.Result, error) {
		return e.poller.Finish(ctx, dir)
	})
}

// eachRun applies fn to every directory, logging each result. It keeps
// going after a failure and reports how many failed.
func eachRun(
	ctx context.Context,
	dirs []string,
	fn func(ctx context.Context, e *engine, dir string) (*ingest.Result, error),
) error {
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

	var failed int

	for _, dir := range dirs {
		res, err := fn(ctx, e, dir)
		if err != nil {
			failed++

			log.WithError(err).WithField("run_dir", dir).Error("Poll failed")

			continue
		}

		logResult(res)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(dirs))
	}

	return nil
}
