package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/wrangler/internal/complete"
	"github.com/basket/wrangler/internal/knowledge"
	otelPkg "github.com/basket/wrangler/internal/otel"
	"github.com/basket/wrangler/internal/registry"
)

func runCompleteCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	reason := fs.String("reason", "", "close reason for the issue tracker")
	ackReview := fs.Bool("ack-review", false, "acknowledge a required review gate")
	if err := fs.Parse(args); err != nil {
		return exitVerification
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "complete requires exactly one key (agent id or issue id)")
		return exitVerification
	}
	key := fs.Arg(0)

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot resolve working directory: %v\n", err)
		return exitVerification
	}

	knowledgePath := a.cfg.Tracker.KnowledgeLog
	if knowledgePath != "" && !filepath.IsAbs(knowledgePath) {
		knowledgePath = filepath.Join(workDir, knowledgePath)
	}

	pipe, err := complete.New(complete.Config{
		Registry:   a.registry,
		Backends:   a.backends,
		Tracker:    a.tracker,
		TrackerFor: a.trackerFor,
		Profiles:   a.profiles,
		VCS:        a.vcs,
		Knowledge:  knowledge.NewReader(knowledgePath, a.logger),
		Bus:        a.bus,
		Logger:     a.logger,
		WorkDir:    workDir,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}

	start := time.Now()
	ctx, span := otelPkg.StartSpan(ctx, a.otel.Tracer, "wrangler.complete",
		otelPkg.AttrAgentID.String(key))
	defer span.End()

	res, err := pipe.Run(ctx, complete.Request{Key: key, Reason: *reason, ReviewAck: *ackReview})
	if err != nil {
		// One stage-tagged line, e.g.
		// VERIFYING_PHASE failed: phase not "Complete" (current: Implementing)
		fmt.Fprintln(os.Stderr, err)
		span.RecordError(err)
		var se *complete.StageError
		if errors.As(err, &se) {
			span.SetAttributes(otelPkg.AttrStage.String(se.Stage))
			a.metrics.CompletionFailures.Add(ctx, 1)
		}
		if errors.Is(err, registry.ErrLockTimeout) {
			a.metrics.LockTimeouts.Add(ctx, 1)
		}
		return exitCodeFor(err)
	}
	a.metrics.CompletionsTotal.Add(ctx, 1)
	a.metrics.CompleteDuration.Record(ctx, time.Since(start).Seconds())

	if res.AlreadyDone {
		fmt.Printf("%s is already %s, nothing to do\n", res.Record.ID, res.Record.Status)
		return exitOK
	}
	a.metrics.ActiveAgents.Add(ctx, -1)
	if res.ClosedIssue != "" {
		fmt.Printf("completed %s, closed %s\n", res.Record.ID, res.ClosedIssue)
	} else {
		fmt.Printf("completed %s\n", res.Record.ID)
	}
	return exitOK
}
