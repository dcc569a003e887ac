package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/wrangler/internal/bus"
)

func openTrail(t *testing.T) (*Trail, string) {
	t.Helper()
	home := t.TempDir()
	trail, err := Open(home)
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	t.Cleanup(func() { trail.Close() })
	return trail, home
}

func readJSONL(t *testing.T, home string) []Event {
	t.Helper()
	f, err := os.Open(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()
	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad jsonl line: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestRecord_WritesBothSinks(t *testing.T) {
	trail, home := openTrail(t)

	trail.Record(Event{Kind: "agent.spawned", AgentID: "agent-1", IssueID: "bd-42"})
	trail.Record(Event{Kind: "pipeline.failed", AgentID: "agent-1", Stage: "VERIFYING_PHASE", Detail: "phase not complete"})

	lines := readJSONL(t, home)
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", len(lines))
	}
	if lines[0].Kind != "agent.spawned" || lines[0].AgentID != "agent-1" {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].Timestamp == "" {
		t.Fatal("timestamp not set")
	}

	events, err := trail.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 db rows, got %d", len(events))
	}
	// Newest first.
	if events[0].Stage != "VERIFYING_PHASE" {
		t.Fatalf("unexpected order %+v", events)
	}
}

func TestRecord_RedactsSecrets(t *testing.T) {
	trail, home := openTrail(t)

	trail.Record(Event{Kind: "pipeline.failed", Detail: "request had auth_token: sk-ant-REDACTED"})

	lines := readJSONL(t, home)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if got := lines[0].Detail; got == "" || strings.Contains(got, "sk-ant-REDACTED") {
		t.Fatalf("detail not redacted: %q", got)
	}
}

func TestAttachBus_MirrorsEvents(t *testing.T) {
	trail, _ := openTrail(t)
	b := bus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trail.AttachBus(ctx, b)

	b.Publish(bus.TopicAgentSpawned, bus.AgentEvent{AgentID: "agent-1", Status: "active"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := trail.Recent(context.Background(), 5)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(events) == 1 {
			if events[0].Kind != bus.TopicAgentSpawned || events[0].AgentID != "agent-1" {
				t.Fatalf("unexpected event %+v", events[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("bus event never reached the trail")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
