package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/basket/wrangler/internal/run"
)

type scriptedRunner struct {
	result run.Result
	err    error
	calls  [][]string
}

func (s *scriptedRunner) Run(ctx context.Context, name string, args []string, opts run.Opts) (run.Result, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.result, s.err
}

func TestGetIssue_ParsesJSON(t *testing.T) {
	r := &scriptedRunner{result: run.Result{
		Stdout: `{"id":"bd-42","title":"Fix cache","status":"open","phase_comments":["Phase: Complete"]}`,
	}}
	c := NewClient(Config{Runner: r, Command: "bd"})

	issue, err := c.GetIssue(context.Background(), "bd-42")
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if issue.Title != "Fix cache" || issue.Status != "open" {
		t.Fatalf("unexpected issue %+v", issue)
	}
	call := strings.Join(r.calls[0], " ")
	if !strings.Contains(call, "show bd-42 --json") {
		t.Fatalf("unexpected invocation %q", call)
	}
}

func TestGetIssue_NonZeroExitIsTrackerError(t *testing.T) {
	r := &scriptedRunner{result: run.Result{ExitCode: 1, Stderr: "no such issue"}}
	c := NewClient(Config{Runner: r})

	_, err := c.GetIssue(context.Background(), "bd-404")
	if !errors.Is(err, ErrIssueTracker) {
		t.Fatalf("expected ErrIssueTracker, got %v", err)
	}
	// Error must carry enough context for manual recovery.
	for _, want := range []string{"bd-404", "show"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
}

func TestGetIssue_UnparsableOutputIsTrackerError(t *testing.T) {
	r := &scriptedRunner{result: run.Result{Stdout: "definitely not json"}}
	c := NewClient(Config{Runner: r})

	_, err := c.GetIssue(context.Background(), "bd-1")
	if !errors.Is(err, ErrIssueTracker) {
		t.Fatalf("expected ErrIssueTracker, got %v", err)
	}
}

func TestCloseIssue_PassesReason(t *testing.T) {
	r := &scriptedRunner{}
	c := NewClient(Config{Runner: r})

	if err := c.CloseIssue(context.Background(), "bd-7", "agent completed"); err != nil {
		t.Fatalf("close: %v", err)
	}
	call := strings.Join(r.calls[0], " ")
	if !strings.Contains(call, "close bd-7 --reason agent completed") {
		t.Fatalf("unexpected invocation %q", call)
	}
}

func TestWithDB_AppendsDBFlag(t *testing.T) {
	r := &scriptedRunner{}
	c := NewClient(Config{Runner: r}).WithDB("/other/repo/.tracker/issues.db")

	_ = c.Comment(context.Background(), "bd-9", "note")
	call := strings.Join(r.calls[0], " ")
	if !strings.Contains(call, "--db /other/repo/.tracker/issues.db") {
		t.Fatalf("expected --db flag in %q", call)
	}
}
