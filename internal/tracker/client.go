// Package tracker consumes the external issue tracker through its CLI/JSON
// contract. The tracker owns its own on-disk ledger; this package only
// issues atomic single-issue operations against it and never locks or
// writes the ledger file directly.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/wrangler/internal/run"
	"github.com/basket/wrangler/internal/shared"
)

// ErrIssueTracker wraps every subprocess or JSON failure from the tracker
// CLI. Recoverable: the orchestrator reports it with enough context for
// manual recovery and keeps running.
var ErrIssueTracker = errors.New("issue tracker error")

// Issue is the tracker's JSON view of a single issue.
type Issue struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Status        string          `json:"status"`
	PhaseComments []string        `json:"phase_comments"`
	NotesJSON     json.RawMessage `json:"notes_json"`
}

// Config holds the tracker client's dependencies.
type Config struct {
	Runner run.Runner
	Logger *slog.Logger

	// Command is the tracker CLI binary.
	Command string

	// DBPath selects a non-default tracker database (cross-repository
	// case). Empty uses the tracker's default resolution.
	DBPath string
}

// Client shells out to the tracker CLI.
type Client struct {
	runner  run.Runner
	logger  *slog.Logger
	command string
	dbPath  string
}

// NewClient creates a tracker client.
func NewClient(cfg Config) *Client {
	runner := cfg.Runner
	if runner == nil {
		runner = run.OSRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	command := cfg.Command
	if command == "" {
		command = "bd"
	}
	return &Client{runner: runner, logger: logger, command: command, dbPath: cfg.DBPath}
}

// WithDB returns a client addressing a specific tracker database.
func (c *Client) WithDB(dbPath string) *Client {
	if dbPath == "" {
		return c
	}
	clone := *c
	clone.dbPath = dbPath
	return &clone
}

// GetIssue fetches one issue as JSON.
func (c *Client) GetIssue(ctx context.Context, id string) (*Issue, error) {
	out, err := c.invoke(ctx, id, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		return nil, c.wrap(id, "show", fmt.Errorf("unparsable output: %w", err))
	}
	if issue.ID == "" {
		issue.ID = id
	}
	return &issue, nil
}

// CloseIssue closes the issue with a reason string.
func (c *Client) CloseIssue(ctx context.Context, id, reason string) error {
	_, err := c.invoke(ctx, id, "close", id, "--reason", reason)
	return err
}

// Comment appends a comment to the issue.
func (c *Client) Comment(ctx context.Context, id, text string) error {
	_, err := c.invoke(ctx, id, "comment", id, "-m", text)
	return err
}

func (c *Client) invoke(ctx context.Context, issueID string, args ...string) (string, error) {
	if c.dbPath != "" {
		args = append(args, "--db", c.dbPath)
	}
	log := c.logger.With("issue", issueID, "subcmd", args[0])
	if agent := shared.AgentID(ctx); agent != "" {
		log = log.With("agent", agent)
	}
	res, err := c.runner.Run(ctx, c.command, args, run.Opts{})
	if err != nil {
		log.Warn("tracker invocation failed", "error", err)
		return "", c.wrap(issueID, args[0], err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		log.Warn("tracker command rejected", "exit", res.ExitCode, "detail", detail)
		return "", c.wrap(issueID, args[0], fmt.Errorf("exit=%d: %s", res.ExitCode, detail))
	}
	return res.Stdout, nil
}

// wrap builds the stage-agnostic tracker error carrying the issue id and
// the command attempted, per the manual-recovery reporting contract.
func (c *Client) wrap(issueID, subcmd string, err error) error {
	return fmt.Errorf("%w: %s %s (issue %s): %v", ErrIssueTracker, c.command, subcmd, issueID, err)
}
