package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/basket/wrangler/internal/config"
	"github.com/basket/wrangler/internal/sweeper"
)

func runReconcileCommand(ctx context.Context, args []string) int {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	sw, err := sweeper.New(sweeper.Config{
		Registry: a.registry,
		Backends: a.backends,
		Bus:      a.bus,
		Logger:   a.logger,
		Schedule: a.cfg.SweepSchedule,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}

	swept, err := sw.Sweep(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	a.metrics.ReconcileSwept.Add(ctx, int64(len(swept)))

	if len(swept) == 0 {
		fmt.Println("nothing to reconcile")
		return exitOK
	}
	for _, rec := range swept {
		fmt.Printf("swept %s (session %s exited)\n", rec.ID, rec.TransportHandle)
	}
	return exitOK
}

func runWatchCommand(ctx context.Context, args []string) int {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	sw, err := sweeper.New(sweeper.Config{
		Registry: a.registry,
		Backends: a.backends,
		Bus:      a.bus,
		Logger:   a.logger,
		Schedule: a.cfg.SweepSchedule,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	sw.Start(ctx)
	defer sw.Stop()

	watcher := config.NewWatcher(a.cfg.HomeDir, a.logger)
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}

	next, _ := sweeper.NextRunTime(a.cfg.SweepSchedule, time.Now())
	fmt.Printf("watching (schedule %s, next sweep %s); Ctrl-C to stop\n",
		a.cfg.SweepSchedule, next.Format("15:04:05"))

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nstopping")
			return exitOK
		case ev, ok := <-watcher.Events():
			if !ok {
				return exitOK
			}
			cfg, err := config.Load()
			if err != nil {
				a.logger.Error("config reload failed", "path", ev.Path, "error", err)
				continue
			}
			a.logger.Info("config reloaded", "fingerprint", cfg.Fingerprint())
			if cfg.SweepSchedule != a.cfg.SweepSchedule {
				// Schedule changes need a sweeper restart.
				sw.Stop()
				replacement, err := sweeper.New(sweeper.Config{
					Registry: a.registry,
					Backends: a.backends,
					Bus:      a.bus,
					Logger:   a.logger,
					Schedule: cfg.SweepSchedule,
				})
				if err != nil {
					a.logger.Error("new sweep schedule rejected", "schedule", cfg.SweepSchedule, "error", err)
					sw.Start(ctx)
					continue
				}
				sw = replacement
				sw.Start(ctx)
			}
			a.cfg = cfg
		}
	}
}
