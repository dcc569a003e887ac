// Package run wraps subprocess execution behind an interface so transport
// drivers and tracker clients can be tested without the external binaries
// installed.
package run

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Opts adjusts a single subprocess invocation.
type Opts struct {
	// Dir is the working directory; empty inherits the caller's.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// Stdin is written to the child's standard input when non-empty.
	Stdin string
}

// Result is the outcome of a completed subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command and reports its result. A non-zero exit code
// is a Result, not an error; err is reserved for failures to execute at
// all (binary missing, context canceled).
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts Opts) (Result, error)
}

// OSRunner is the production Runner backed by os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args []string, opts Opts) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
