package vcs

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/wrangler/internal/run"
)

type gitRunner struct {
	statusOut string
	topLevels map[string]string
}

func (g *gitRunner) Run(ctx context.Context, name string, args []string, opts run.Opts) (run.Result, error) {
	switch args[0] {
	case "status":
		return run.Result{Stdout: g.statusOut}, nil
	case "rev-parse":
		return run.Result{Stdout: g.topLevels[opts.Dir] + "\n"}, nil
	}
	return run.Result{ExitCode: 2, Stderr: "unexpected git call"}, nil
}

func TestCheck_ExcludedPathsAreClean(t *testing.T) {
	g := &gitRunner{statusOut: strings.Join([]string{
		" M .tracker/issues.json",
		" M .knowledge/log.jsonl",
		"",
	}, "\n")}
	c := NewChecker(g, []string{".tracker/issues.json", ".knowledge/log.jsonl"})

	clean, paths, err := c.Clean(context.Background(), "/proj")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if !clean {
		t.Fatalf("expected clean with only excluded paths, dirty: %v", paths)
	}
}

func TestCheck_OtherPathsAreDirty(t *testing.T) {
	g := &gitRunner{statusOut: strings.Join([]string{
		" M .tracker/issues.json",
		" M src/main.go",
		"?? notes.txt",
		"",
	}, "\n")}
	c := NewChecker(g, []string{".tracker/issues.json"})

	clean, paths, err := c.Clean(context.Background(), "/proj")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if clean {
		t.Fatal("expected dirty")
	}
	if len(paths) != 2 || paths[0] != "src/main.go" || paths[1] != "notes.txt" {
		t.Fatalf("unexpected dirty paths %v", paths)
	}
}

func TestCheck_DirectoryExclusionCoversChildren(t *testing.T) {
	g := &gitRunner{statusOut: " M .knowledge/2026/03/entry.jsonl\n"}
	c := NewChecker(g, []string{".knowledge"})

	clean, _, err := c.Clean(context.Background(), "/proj")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if !clean {
		t.Fatal("directory exclusion should cover nested paths")
	}
}

func TestCheck_RenameUsesNewPath(t *testing.T) {
	g := &gitRunner{statusOut: "R  old/name.go -> new/name.go\n"}
	c := NewChecker(g, []string{"old"})

	clean, paths, err := c.Clean(context.Background(), "/proj")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if clean || len(paths) != 1 || paths[0] != "new/name.go" {
		t.Fatalf("rename handling wrong: clean=%v paths=%v", clean, paths)
	}
}

func TestSameRepo(t *testing.T) {
	g := &gitRunner{topLevels: map[string]string{
		"/proj/a": "/real/repo",
		"/proj/b": "/real/repo",
		"/other":  "/real/elsewhere",
	}}
	c := NewChecker(g, nil)

	same, err := c.SameRepo(context.Background(), "/proj/a", "/proj/b")
	if err != nil {
		t.Fatalf("same repo: %v", err)
	}
	if !same {
		t.Fatal("expected same repo")
	}
	same, err = c.SameRepo(context.Background(), "/proj/a", "/other")
	if err != nil {
		t.Fatalf("same repo: %v", err)
	}
	if same {
		t.Fatal("expected different repos")
	}
}
