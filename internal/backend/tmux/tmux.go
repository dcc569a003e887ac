// Package tmux implements the terminal transport: worker sessions hosted
// in detached tmux sessions, driven by keystroke injection and observed by
// pane capture. There is no structured acknowledgment anywhere in this
// transport; readiness and liveness are inferred from pane content and
// session existence.
package tmux

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/registry"
	"github.com/basket/wrangler/internal/run"
)

// maxStderrLen caps stderr included in error messages.
const maxStderrLen = 4096

// Config holds the terminal driver's dependencies and tuning.
type Config struct {
	Runner run.Runner
	Logger *slog.Logger

	// WorkerCommand is the argv launched inside each new session. The
	// resolved model is appended as "--model <id>" when non-empty.
	WorkerCommand []string

	// PromptMarker in captured pane output signals an idle input state.
	PromptMarker string

	// SendDelay separates message keystrokes from the activating Enter.
	SendDelay time.Duration

	// PollInterval is the WaitReady capture cadence.
	PollInterval time.Duration

	// GracefulWait bounds how long a graceful Shutdown waits for the
	// session to end itself before escalating to kill-session.
	GracefulWait time.Duration
}

// Driver is the terminal transport backend.
type Driver struct {
	runner       run.Runner
	logger       *slog.Logger
	workerCmd    []string
	promptMarker string
	sendDelay    time.Duration
	pollInterval time.Duration
	gracefulWait time.Duration
}

// New creates the terminal driver.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = run.OSRunner{}
	}
	sendDelay := cfg.SendDelay
	if sendDelay <= 0 {
		sendDelay = 500 * time.Millisecond
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	gracefulWait := cfg.GracefulWait
	if gracefulWait <= 0 {
		gracefulWait = 15 * time.Second
	}
	marker := cfg.PromptMarker
	if marker == "" {
		marker = ">"
	}
	return &Driver{
		runner:       runner,
		logger:       logger,
		workerCmd:    cfg.WorkerCommand,
		promptMarker: marker,
		sendDelay:    sendDelay,
		pollInterval: pollInterval,
		gracefulWait: gracefulWait,
	}
}

func (d *Driver) Kind() registry.TransportKind {
	return registry.TransportTerminal
}

// SessionName derives the tmux session name from an agent id. tmux
// rejects "." and ":" in target names.
func SessionName(agentID string) string {
	r := strings.NewReplacer(".", "-", ":", "-", " ", "-")
	return r.Replace(agentID)
}

// Spawn creates a detached session running the worker command. If the
// session starts but is not visible afterwards, the partial session is
// killed and Spawn fails cleanly so the caller writes no registry record.
func (d *Driver) Spawn(ctx context.Context, spec backend.SpawnSpec) (backend.Handle, error) {
	if len(d.workerCmd) == 0 {
		return "", fmt.Errorf("tmux: no worker command configured")
	}
	name := SessionName(spec.AgentID)

	argv := append([]string{}, d.workerCmd...)
	if spec.Model != "" {
		argv = append(argv, "--model", spec.Model)
	}

	args := []string{"new-session", "-d", "-s", name, "-c", spec.ProjectDir, "--"}
	args = append(args, argv...)
	res, err := d.runner.Run(ctx, "tmux", args, run.Opts{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	if res.ExitCode != 0 {
		return "", tmuxError("new-session", res)
	}

	// Handshake: the session must be visible before we hand the handle
	// back. A vanished session here means the worker command died on
	// startup.
	alive, err := d.hasSession(ctx, name)
	if err != nil {
		return "", err
	}
	if !alive {
		return "", fmt.Errorf("tmux: session %q exited immediately after spawn", name)
	}
	d.logger.Debug("tmux session spawned", "session", name, "dir", spec.ProjectDir)
	return backend.Handle(name), nil
}

// WaitReady polls pane capture until the prompt marker appears or the
// timeout elapses. Returns (false, nil) on timeout: not-ready is an
// outcome, not an error.
func (d *Driver) WaitReady(ctx context.Context, h backend.Handle, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		out, err := d.Peek(ctx, h, 5)
		if err == nil && strings.Contains(out, d.promptMarker) {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

// Send injects the message as literal keystrokes, pauses for the terminal
// buffer to settle, then sends the activating Enter. If the session is
// mid-execution of a prior instruction the text lands in its input buffer
// with no delivery guarantee; callers must only Send when the session is
// independently known to be idle.
func (d *Driver) Send(ctx context.Context, h backend.Handle, message string) error {
	res, err := d.runner.Run(ctx, "tmux", []string{"send-keys", "-t", string(h), "-l", message}, run.Opts{})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	if res.ExitCode != 0 {
		return tmuxError("send-keys", res)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.sendDelay):
	}

	res, err = d.runner.Run(ctx, "tmux", []string{"send-keys", "-t", string(h), "Enter"}, run.Opts{})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	if res.ExitCode != 0 {
		return tmuxError("send-keys", res)
	}
	return nil
}

// Shutdown ends the session. Graceful sends Ctrl-C and waits for the
// session to end itself within the configured bound, then escalates to
// kill-session. Both paths are no-ops on an already-gone handle.
func (d *Driver) Shutdown(ctx context.Context, h backend.Handle, graceful bool) error {
	alive, err := d.hasSession(ctx, string(h))
	if err != nil {
		return err
	}
	if !alive {
		return nil
	}

	if graceful {
		res, err := d.runner.Run(ctx, "tmux", []string{"send-keys", "-t", string(h), "C-c"}, run.Opts{})
		if err == nil && res.ExitCode == 0 {
			deadline := time.Now().Add(d.gracefulWait)
			for time.Now().Before(deadline) {
				alive, err := d.hasSession(ctx, string(h))
				if err != nil {
					return err
				}
				if !alive {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d.pollInterval):
				}
			}
		}
	}

	res, err := d.runner.Run(ctx, "tmux", []string{"kill-session", "-t", string(h)}, run.Opts{})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	// Exit 1 here means the session died between our check and the kill.
	if res.ExitCode != 0 && res.ExitCode != 1 {
		return tmuxError("kill-session", res)
	}
	return nil
}

// LiveHandles enumerates running session names. A missing tmux server
// means no live sessions, not an error.
func (d *Driver) LiveHandles(ctx context.Context) (map[string]bool, error) {
	res, err := d.runner.Run(ctx, "tmux", []string{"list-sessions", "-F", "#{session_name}"}, run.Opts{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	live := make(map[string]bool)
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "no server running") || strings.Contains(res.Stderr, "No such file or directory") {
			return live, nil
		}
		return nil, tmuxError("list-sessions", res)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			live[name] = true
		}
	}
	return live, nil
}

// Peek captures the last lines of the session's active pane.
func (d *Driver) Peek(ctx context.Context, h backend.Handle, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", string(h), "-S", fmt.Sprintf("-%d", lines)}
	res, err := d.runner.Run(ctx, "tmux", args, run.Opts{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	if res.ExitCode != 0 {
		return "", tmuxError("capture-pane", res)
	}
	return res.Stdout, nil
}

func (d *Driver) hasSession(ctx context.Context, name string) (bool, error) {
	res, err := d.runner.Run(ctx, "tmux", []string{"has-session", "-t", name}, run.Opts{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, tmuxError("has-session", res)
	}
}

func tmuxError(subcmd string, res run.Result) error {
	trimmed := strings.TrimSpace(res.Stderr)
	if len(trimmed) > maxStderrLen {
		trimmed = trimmed[:maxStderrLen] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("tmux %s failed (exit=%d)", subcmd, res.ExitCode)
	}
	return fmt.Errorf("tmux %s failed (exit=%d): %s", subcmd, res.ExitCode, trimmed)
}
