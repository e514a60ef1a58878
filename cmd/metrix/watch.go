package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mentat25/Metrix/pkg/api"
	"github.com/mentat25/Metrix/pkg/postprocess"
	"github.com/mentat25/Metrix/pkg/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var watchOnce bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll every run under the watch roots",
	Long: `Discover run directories under watch.roots and poll each of them on
every tick. The operator API is served alongside when api.enabled is set.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single pass and exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(cfg.Watch.Roots) == 0 {
		return fmt.Errorf("watch.roots must list at least one directory")
	}

	interval, err := cfg.Watch.IntervalDuration()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	if err := postprocess.Preflight(ctx, e.trigger); err != nil {
		return fmt.Errorf("checking post-processing: %w", err)
	}

	w := watcher.New(log, e.poller, watcher.Options{
		Roots:          cfg.Watch.Roots,
		Interval:       interval,
		Concurrency:    cfg.Watch.Concurrency,
		PollsPerSecond: cfg.Watch.PollsPerSecond,
	})

	if watchOnce {
		stats, err := w.Pass(ctx)
		if err != nil {
			return fmt.Errorf("running pass: %w", err)
		}

		log.WithFields(logrus.Fields{
			"discovered": stats.Discovered,
			"polled":     stats.Polled,
			"skipped":    stats.Skipped,
			"failed":     stats.Failed,
		}).Info("Pass complete")

		return nil
	}

	var srv api.Server

	if cfg.API.Enabled {
		srv = api.NewServer(log, &cfg.API, e.poller, e.store)

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting api server: %w", err)
		}
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := w.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop watcher")
	}

	if srv != nil {
		if err := srv.Stop(); err != nil {
			return fmt.Errorf("stopping api server: %w", err)
		}
	}

	return nil
}
