// Package vcs validates working-tree cleanliness for the completion
// pipeline. Concurrently completing agents legitimately touch a small set
// of shared mutable files (the tracker ledger, the knowledge log); those
// are declared as an exclusion allow-list rather than synchronized
// against, because no lock can be taken on another process's writes.
package vcs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/basket/wrangler/internal/run"
)

// Checker runs git against a project directory.
type Checker struct {
	runner run.Runner

	// excluded are repo-relative paths (or path prefixes, for
	// directories) ignored when judging cleanliness.
	excluded []string
}

// NewChecker creates a Checker with the given exclusion allow-list.
func NewChecker(runner run.Runner, excluded []string) *Checker {
	if runner == nil {
		runner = run.OSRunner{}
	}
	norm := make([]string, 0, len(excluded))
	for _, p := range excluded {
		if p = filepath.ToSlash(strings.TrimSpace(p)); p != "" {
			norm = append(norm, p)
		}
	}
	return &Checker{runner: runner, excluded: norm}
}

// Dirty holds the non-excluded paths that make a tree dirty.
type Dirty struct {
	Paths []string
}

// Check returns the dirty state of dir. A tree whose only modifications
// are excluded shared paths counts as clean.
func (c *Checker) Check(ctx context.Context, dir string) (*Dirty, error) {
	res, err := c.runner.Run(ctx, "git", []string{"status", "--porcelain", "--untracked-files=all"}, run.Opts{Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("git status failed (exit=%d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var dirty Dirty
	for _, line := range strings.Split(res.Stdout, "\n") {
		if len(line) < 4 {
			continue
		}
		// Porcelain format: XY <path>, with rename as "old -> new".
		path := strings.TrimSpace(line[3:])
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		path = strings.Trim(path, `"`)
		if c.isExcluded(path) {
			continue
		}
		dirty.Paths = append(dirty.Paths, path)
	}
	return &dirty, nil
}

// Clean is a convenience wrapper: true when nothing outside the exclusion
// set is modified.
func (c *Checker) Clean(ctx context.Context, dir string) (bool, []string, error) {
	d, err := c.Check(ctx, dir)
	if err != nil {
		return false, nil, err
	}
	return len(d.Paths) == 0, d.Paths, nil
}

// RepoRoot resolves the repository top level of dir with symlinks
// resolved, for comparing against an agent's recorded project directory.
func (c *Checker) RepoRoot(ctx context.Context, dir string) (string, error) {
	res, err := c.runner.Run(ctx, "git", []string{"rev-parse", "--show-toplevel"}, run.Opts{Dir: dir})
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git rev-parse failed (exit=%d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	root := strings.TrimSpace(res.Stdout)
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		// The root came from git; a resolution failure just means we
		// compare the unresolved form.
		return root, nil
	}
	return resolved, nil
}

// SameRepo reports whether two directories resolve to the same repository
// root. Symlinks are resolved on both sides so /var vs /private/var style
// aliases do not produce false mismatches.
func (c *Checker) SameRepo(ctx context.Context, a, b string) (bool, error) {
	rootA, err := c.RepoRoot(ctx, a)
	if err != nil {
		return false, err
	}
	rootB, err := c.RepoRoot(ctx, b)
	if err != nil {
		return false, err
	}
	return rootA == rootB, nil
}

func (c *Checker) isExcluded(path string) bool {
	p := filepath.ToSlash(path)
	for _, ex := range c.excluded {
		if p == ex || strings.HasPrefix(p, ex+"/") {
			return true
		}
	}
	return false
}
