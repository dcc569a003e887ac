// Package sweeper runs scheduled reconcile sweeps: registry records whose
// terminal session has exited without reporting completion are moved to
// completed. HTTP-session transports are not pollable and are never swept.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/bus"
	"github.com/basket/wrangler/internal/registry"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the sweeper.
type Config struct {
	Registry *registry.Store
	Backends backend.Set
	Bus      *bus.Bus // optional
	Logger   *slog.Logger
	Schedule string        // cron expression, e.g. "*/5 * * * *"
	Interval time.Duration // dueness check cadence; defaults to 30s
}

// Sweeper periodically reconciles the registry against live transport
// handles.
type Sweeper struct {
	cfg     Config
	nextRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := cronParser.Parse(cfg.Schedule); err != nil {
		return nil, err
	}
	return &Sweeper{cfg: cfg}, nil
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	next, _ := NextRunTime(s.cfg.Schedule, time.Now())
	s.nextRun = next
	s.wg.Add(1)
	go s.loop(ctx)
	s.cfg.Logger.Info("sweeper started", "schedule", s.cfg.Schedule, "next_run", s.nextRun)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.cfg.Logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if now.Before(s.nextRun) {
				continue
			}
			if _, err := s.Sweep(ctx); err != nil {
				s.cfg.Logger.Error("reconcile sweep failed", "error", err)
			}
			next, err := NextRunTime(s.cfg.Schedule, now)
			if err != nil {
				s.cfg.Logger.Error("bad sweep schedule", "schedule", s.cfg.Schedule, "error", err)
				return
			}
			s.nextRun = next
		}
	}
}

// Sweep runs one reconcile pass and returns the swept records. Also used
// directly by the reconcile CLI verb.
//
// A failed liveness poll aborts the whole sweep. Reconcile treats absence
// from the live set as proof the session exited; a poll error proves
// nothing, and sweeping on it would complete agents that are still
// running. Drivers report the legitimate no-server case as an empty map,
// not an error.
func (s *Sweeper) Sweep(ctx context.Context) ([]registry.AgentRecord, error) {
	live := map[string]bool{}
	for kind, be := range s.cfg.Backends {
		poller, ok := be.(backend.LivenessPoller)
		if !ok {
			continue
		}
		handles, err := poller.LiveHandles(ctx)
		if err != nil {
			return nil, fmt.Errorf("sweeper: liveness poll for %s: %w", kind, err)
		}
		for h := range handles {
			live[h] = true
		}
	}

	swept, err := s.cfg.Registry.Reconcile(ctx, live)
	if err != nil {
		return nil, err
	}
	for _, rec := range swept {
		s.cfg.Logger.Info("swept exited agent", "agent", rec.ID, "handle", rec.TransportHandle)
		if s.cfg.Bus != nil {
			s.cfg.Bus.Publish(bus.TopicAgentReconciled, bus.AgentEvent{
				AgentID:   rec.ID,
				IssueID:   rec.ExternalIssueID,
				Transport: string(rec.Transport),
				Status:    string(rec.Status),
			})
		}
	}
	return swept, nil
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
