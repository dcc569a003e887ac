// Package knowledge reads the shared append-only knowledge log. The log
// is owned by an external tool; this package never writes it.
package knowledge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Entry is one knowledge-log line. Fields beyond these are preserved in
// Raw for callers that need tool-specific payloads.
type Entry struct {
	Timestamp time.Time       `json:"ts"`
	Kind      string          `json:"kind"`
	AgentID   string          `json:"agent_id,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Reader reads entries from a knowledge log file.
type Reader struct {
	path   string
	logger *slog.Logger
}

func NewReader(path string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{path: path, logger: logger}
}

// Since returns entries with a timestamp strictly after the session-start
// marker. A missing log file yields no entries; the log is optional.
// Malformed lines are skipped with a warning, not treated as fatal, since
// the file is append-mostly and a torn tail line is expected under
// concurrent writers.
func (r *Reader) Since(marker time.Time) ([]Entry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open knowledge log: %w", err)
	}
	defer f.Close()
	return r.scan(f, marker)
}

func (r *Reader) scan(src io.Reader, marker time.Time) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			r.logger.Warn("skipping malformed knowledge entry", "path", r.path, "line", line, "error", err)
			continue
		}
		if !e.Timestamp.After(marker) {
			continue
		}
		e.Raw = append(json.RawMessage(nil), raw...)
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read knowledge log: %w", err)
	}
	return entries, nil
}
