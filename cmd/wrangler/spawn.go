package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	otelPkg "github.com/basket/wrangler/internal/otel"
	"github.com/basket/wrangler/internal/registry"
	"github.com/basket/wrangler/internal/spawn"
)

func runSpawnCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("spawn", flag.ContinueOnError)
	profileName := fs.String("profile", "", "behavioral profile name (required)")
	task := fs.String("task", "", "task description (required)")
	backendName := fs.String("backend", "", "transport: terminal or http_session")
	model := fs.String("model", "", "logical model name")
	issue := fs.String("issue", "", "external issue id")
	dbPath := fs.String("db", "", "non-default tracker database path")
	dir := fs.String("dir", "", "project directory (default: current)")
	instructions := fs.String("instructions", "", "initial instruction payload")
	if err := fs.Parse(args); err != nil {
		return exitVerification
	}
	if *profileName == "" || *task == "" {
		fmt.Fprintln(os.Stderr, "spawn requires -profile and -task")
		return exitVerification
	}

	projectDir := *dir
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot resolve working directory: %v\n", err)
			return exitVerification
		}
		projectDir = wd
	}

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	coord, err := spawn.New(spawn.Config{
		Registry:       a.registry,
		Backends:       a.backends,
		Profiles:       a.profiles,
		Bus:            a.bus,
		Logger:         a.logger,
		DefaultBackend: registry.TransportKind(a.cfg.DefaultBackend),
		DefaultModel:   a.cfg.Models.Default,
		ModelAliases:   a.cfg.Models.Aliases,
		ReadyTimeout:   time.Duration(a.cfg.Tmux.ReadyTimeoutSeconds) * time.Second,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}

	start := time.Now()
	ctx, span := otelPkg.StartSpan(ctx, a.otel.Tracer, "wrangler.spawn",
		otelPkg.AttrProfile.String(*profileName))
	defer span.End()

	rec, err := coord.Spawn(ctx, spawn.Request{
		Profile:      *profileName,
		Task:         *task,
		Backend:      registry.TransportKind(*backendName),
		Model:        *model,
		IssueID:      *issue,
		DBPath:       *dbPath,
		ProjectDir:   projectDir,
		Instructions: *instructions,
	})
	if err != nil {
		span.RecordError(err)
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	span.SetAttributes(
		otelPkg.AttrAgentID.String(rec.ID),
		otelPkg.AttrTransport.String(string(rec.Transport)),
		otelPkg.AttrModel.String(rec.Model),
	)
	a.metrics.SpawnsTotal.Add(ctx, 1)
	a.metrics.SpawnDuration.Record(ctx, time.Since(start).Seconds())
	a.metrics.ActiveAgents.Add(ctx, 1)

	fmt.Printf("spawned %s (%s via %s, handle %s)\n", rec.ID, rec.Model, rec.Transport, rec.TransportHandle)
	return exitOK
}
