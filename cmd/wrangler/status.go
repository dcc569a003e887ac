package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/registry"
	"github.com/basket/wrangler/internal/spawn"
)

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "status requires exactly one key (agent id or issue id)")
		return exitVerification
	}
	key := args[0]

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	rec, err := a.registry.Find(ctx, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "no agent matches %q\n", key)
		return exitNotFound
	}

	fmt.Printf("agent:     %s\n", rec.ID)
	fmt.Printf("status:    %s\n", rec.Status)
	fmt.Printf("transport: %s (%s)\n", rec.Transport, rec.TransportHandle)
	if rec.SkillName != "" {
		fmt.Printf("profile:   %s\n", rec.SkillName)
	}
	if rec.Model != "" {
		fmt.Printf("model:     %s\n", rec.Model)
	}
	if rec.ExternalIssueID != "" {
		fmt.Printf("issue:     %s", rec.ExternalIssueID)
		if rec.ExternalDBPath != "" {
			fmt.Printf(" (db %s)", rec.ExternalDBPath)
		}
		fmt.Println()
	}
	if rec.ProjectDir != "" {
		fmt.Printf("dir:       %s\n", rec.ProjectDir)
	}
	fmt.Printf("spawned:   %s (%s ago)\n", rec.SpawnedAt.Format(time.RFC3339), time.Since(rec.SpawnedAt).Round(time.Second))
	fmt.Printf("updated:   %s\n", rec.UpdatedAt.Format(time.RFC3339))
	return exitOK
}

func runLsCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	statusFilter := fs.String("status", "", "only show records with this status")
	all := fs.Bool("all", false, "include terminal-state records")
	if err := fs.Parse(args); err != nil {
		return exitVerification
	}

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	records, err := a.registry.List(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}

	var shown []registry.AgentRecord
	for _, rec := range records {
		if *statusFilter != "" {
			if !strings.EqualFold(string(rec.Status), *statusFilter) {
				continue
			}
		} else if !*all && rec.Status != registry.StatusActive {
			continue
		}
		shown = append(shown, rec)
	}
	sort.Slice(shown, func(i, j int) bool {
		return shown[i].SpawnedAt.Before(shown[j].SpawnedAt)
	})

	if len(shown) == 0 {
		if stdoutIsTTY() {
			fmt.Println("no agents")
		}
		return exitOK
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tTRANSPORT\tISSUE\tAGE")
	for _, rec := range shown {
		issue := rec.ExternalIssueID
		if issue == "" {
			issue = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Status, rec.Transport, issue,
			time.Since(rec.SpawnedAt).Round(time.Second))
	}
	w.Flush()
	return exitOK
}

func runAbandonCommand(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "abandon requires exactly one key (agent id or issue id)")
		return exitVerification
	}
	key := args[0]

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	coord, err := spawn.New(spawn.Config{
		Registry:     a.registry,
		Backends:     a.backends,
		Profiles:     a.profiles,
		Bus:          a.bus,
		Logger:       a.logger,
		DefaultModel: a.cfg.Models.Default,
		ModelAliases: a.cfg.Models.Aliases,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}

	rec, err := coord.Abandon(ctx, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	a.metrics.ActiveAgents.Add(ctx, -1)
	fmt.Printf("abandoned %s\n", rec.ID)
	return exitOK
}

func runPeekCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("peek", flag.ContinueOnError)
	lines := fs.Int("lines", 40, "number of trailing pane lines to show")
	if err := fs.Parse(args); err != nil {
		return exitVerification
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "peek requires exactly one key (agent id or issue id)")
		return exitVerification
	}
	key := fs.Arg(0)

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitVerification
	}
	defer a.Close()

	rec, err := a.registry.Find(ctx, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "no agent matches %q\n", key)
		return exitNotFound
	}

	be, err := a.backends.For(rec.Transport)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	capturer, ok := be.(backend.PaneCapturer)
	if !ok {
		fmt.Fprintf(os.Stderr, "transport %s does not support peek\n", rec.Transport)
		return exitVerification
	}

	out, err := capturer.Peek(ctx, backend.Handle(rec.TransportHandle), *lines)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return exitOK
}
