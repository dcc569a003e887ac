// Package audit keeps an append-only trail of lifecycle decisions: spawns,
// pipeline stage outcomes, issue closes, reconcile sweeps. Every event goes
// to a JSONL file and is mirrored into a SQLite table for querying.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/wrangler/internal/bus"
	"github.com/basket/wrangler/internal/shared"
)

// Event is one audit record.
type Event struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	AgentID   string `json:"agent_id,omitempty"`
	IssueID   string `json:"issue_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Trail is an open audit sink. Safe for concurrent use.
type Trail struct {
	mu   sync.Mutex
	file *os.File
	db   *sql.DB
	now  func() time.Time
}

// Open creates (or appends to) the audit trail under homeDir.
func Open(homeDir string) (*Trail, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", filepath.Join(logDir, "audit.db"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Trail{file: f, db: db, now: time.Now}
	if err := t.migrate(context.Background()); err != nil {
		f.Close()
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Trail) migrate(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			kind TEXT NOT NULL,
			agent_id TEXT,
			issue_id TEXT,
			stage TEXT,
			detail TEXT
		);`,
		"CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_id);",
	}
	for _, q := range stmts {
		if _, err := t.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("audit schema %q: %w", q, err)
		}
	}
	return nil
}

// Record persists one event. Secrets are redacted before anything touches
// disk. Persistence failures are best-effort; the trail never blocks a
// lifecycle operation.
func (t *Trail) Record(ev Event) {
	ev.Timestamp = t.now().UTC().Format(time.RFC3339Nano)
	ev.Detail = shared.Redact(ev.Detail)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		if b, err := json.Marshal(ev); err == nil {
			_, _ = t.file.Write(append(b, '\n'))
		}
	}
	if t.db != nil {
		_, _ = t.db.ExecContext(context.Background(), `
			INSERT INTO audit_log (timestamp, kind, agent_id, issue_id, stage, detail)
			VALUES (?, ?, ?, ?, ?, ?);
		`, ev.Timestamp, ev.Kind, ev.AgentID, ev.IssueID, ev.Stage, ev.Detail)
	}
}

// Recent returns the newest n events from the SQLite mirror, newest first.
func (t *Trail) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT timestamp, kind, COALESCE(agent_id,''), COALESCE(issue_id,''), COALESCE(stage,''), COALESCE(detail,'')
		FROM audit_log ORDER BY id DESC LIMIT ?;
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Timestamp, &ev.Kind, &ev.AgentID, &ev.IssueID, &ev.Stage, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	if t.file != nil {
		if err := t.file.Close(); err != nil {
			first = err
		}
		t.file = nil
	}
	if t.db != nil {
		if err := t.db.Close(); err != nil && first == nil {
			first = err
		}
		t.db = nil
	}
	return first
}

// AttachBus mirrors lifecycle and pipeline events from the bus into the
// trail until the context is canceled.
func (t *Trail) AttachBus(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe("")
	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				t.Record(fromBusEvent(ev))
			}
		}
	}()
}

func fromBusEvent(ev bus.Event) Event {
	out := Event{Kind: ev.Topic}
	switch p := ev.Payload.(type) {
	case bus.AgentEvent:
		out.AgentID = p.AgentID
		out.IssueID = p.IssueID
		out.Detail = p.Status
	case bus.StageEvent:
		out.AgentID = p.AgentID
		out.Stage = p.Stage
		out.Detail = p.Error
	default:
		out.Detail = fmt.Sprintf("%v", ev.Payload)
	}
	return out
}
