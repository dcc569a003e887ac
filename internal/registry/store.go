package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// fileVersion is bumped when the on-disk layout changes shape.
const fileVersion = 1

// registryFile is the on-disk document: one JSON object holding every
// AgentRecord, tombstones included.
type registryFile struct {
	Version int           `json:"version"`
	Agents  []AgentRecord `json:"agents"`
}

// Config holds the dependencies for a Store.
type Config struct {
	// Path is the registry JSON file. The sidecar lock file lives next
	// to it as Path + ".lock".
	Path string

	// LockTimeout bounds flock acquisition. Defaults to 10s if zero.
	LockTimeout time.Duration

	Logger *slog.Logger

	// Now is the clock, injectable for deterministic tests.
	Now func() time.Time
}

// Store is the file-backed agent registry. A Store is cheap; every
// operation opens, locks, merges, and releases; no state is held between
// calls beyond the merge working set.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	// working is this process's last merged view, folded into each
	// read-modify-write so in-flight mutations survive concurrent
	// writers (merge rule: greater updated_at wins, ties favor disk).
	working map[string]AgentRecord
}

// NewStore creates a Store for the registry file at cfg.Path.
func NewStore(cfg Config) *Store {
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		path:        cfg.Path,
		lockPath:    cfg.Path + ".lock",
		lockTimeout: timeout,
		logger:      logger,
		now:         now,
		working:     make(map[string]AgentRecord),
	}
}

// Register writes a new active record. Fails with ErrDuplicateHandle if an
// active record already holds the transport handle, and ErrDuplicateID if
// the id exists at all, tombstones included. Ids are never reused.
func (s *Store) Register(ctx context.Context, rec AgentRecord) (AgentRecord, error) {
	if rec.ID == "" {
		return AgentRecord{}, fmt.Errorf("registry: record id must not be empty")
	}
	if !rec.Transport.Valid() {
		return AgentRecord{}, fmt.Errorf("registry: unknown transport kind %q", rec.Transport)
	}
	var out AgentRecord
	err := s.retryOnce(ctx, func() error {
		return s.mutate(ctx, func(set map[string]AgentRecord) error {
			if _, exists := set[rec.ID]; exists {
				return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
			}
			for _, other := range set {
				if other.Status == StatusActive && other.TransportHandle == rec.TransportHandle {
					return fmt.Errorf("%w: %s (held by %s)", ErrDuplicateHandle, rec.TransportHandle, other.ID)
				}
			}
			ts := s.now().UTC()
			rec.Status = StatusActive
			rec.SpawnedAt = ts
			rec.UpdatedAt = ts
			set[rec.ID] = rec
			out = rec
			return nil
		})
	})
	if err != nil {
		return AgentRecord{}, err
	}
	return out, nil
}

// Find resolves key to a record, trying agent id first, then external
// issue id. Returns (nil, nil) when nothing matches; the caller decides
// whether absence is an error.
func (s *Store) Find(ctx context.Context, key string) (*AgentRecord, error) {
	var out *AgentRecord
	err := s.retryOnce(ctx, func() error {
		out = nil
		return s.view(ctx, func(set map[string]AgentRecord) {
			if rec, ok := set[key]; ok {
				out = &rec
				return
			}
			for _, rec := range set {
				if rec.ExternalIssueID != "" && rec.ExternalIssueID == key {
					r := rec
					out = &r
					return
				}
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies mutator to the record under an exclusive lock and bumps
// updated_at so the result strictly supersedes both the prior disk and
// in-memory copies. Status changes are validated against the lifecycle
// graph.
func (s *Store) Update(ctx context.Context, id string, mutator func(*AgentRecord)) (AgentRecord, error) {
	var out AgentRecord
	err := s.retryOnce(ctx, func() error {
		return s.mutate(ctx, func(set map[string]AgentRecord) error {
			rec, ok := set[id]
			if !ok {
				return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
			}
			prev := rec
			mutator(&rec)
			rec.ID = prev.ID             // immutable
			rec.SpawnedAt = prev.SpawnedAt // immutable
			if rec.Status != prev.Status && !CanTransition(prev.Status, rec.Status) {
				return fmt.Errorf("%w: %s → %s (agent %s)", ErrBadTransition, prev.Status, rec.Status, id)
			}
			rec.UpdatedAt = s.bump(prev.UpdatedAt)
			set[id] = rec
			out = rec
			return nil
		})
	})
	if err != nil {
		return AgentRecord{}, err
	}
	return out, nil
}

// Reconcile transitions every active record on a live-pollable transport
// whose handle is absent from live to completed. HTTP-session records are
// excluded: their lifecycle is owned by the completion pipeline. Returns
// the records swept.
func (s *Store) Reconcile(ctx context.Context, live map[string]bool) ([]AgentRecord, error) {
	var swept []AgentRecord
	err := s.retryOnce(ctx, func() error {
		swept = swept[:0]
		return s.mutate(ctx, func(set map[string]AgentRecord) error {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				rec := set[id]
				if rec.Status != StatusActive || !rec.Transport.LivePollable() {
					continue
				}
				if live[rec.TransportHandle] {
					continue
				}
				rec.Status = StatusCompleted
				rec.UpdatedAt = s.bump(rec.UpdatedAt)
				set[id] = rec
				swept = append(swept, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

// Remove tombstones the record: status → deleted, row retained forever so
// a stale concurrent writer cannot re-insert it. A second Remove is a
// no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.retryOnce(ctx, func() error {
		return s.mutate(ctx, func(set map[string]AgentRecord) error {
			rec, ok := set[id]
			if !ok {
				return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
			}
			if rec.Status == StatusDeleted {
				return nil
			}
			rec.Status = StatusDeleted
			rec.UpdatedAt = s.bump(rec.UpdatedAt)
			set[id] = rec
			return nil
		})
	})
}

// List returns all records, tombstones included, sorted by spawn time.
func (s *Store) List(ctx context.Context) ([]AgentRecord, error) {
	var out []AgentRecord
	err := s.retryOnce(ctx, func() error {
		out = out[:0]
		return s.view(ctx, func(set map[string]AgentRecord) {
			for _, rec := range set {
				out = append(out, rec)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpawnedAt.Equal(out[j].SpawnedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SpawnedAt.Before(out[j].SpawnedAt)
	})
	return out, nil
}

// bump returns a timestamp strictly greater than prev. The strict
// increase is what makes merge commutative under concurrent writers.
func (s *Store) bump(prev time.Time) time.Time {
	ts := s.now().UTC()
	if !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	return ts
}

// mutate runs fn against the merged record set under the exclusive lock,
// then persists atomically. The sequence is the full read-modify-write
// protocol: lock, re-read disk, merge with the working set on updated_at,
// apply, write-temp-then-rename, unlock.
func (s *Store) mutate(ctx context.Context, fn func(set map[string]AgentRecord) error) error {
	lock, err := acquireLock(ctx, s.lockPath, s.lockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = lock.release() }()

	disk := s.loadLocked()
	merged := s.merge(disk, s.working)

	if err := fn(merged); err != nil {
		return err
	}
	if err := s.storeLocked(merged); err != nil {
		return err
	}
	s.working = merged
	return nil
}

// view runs fn against a merged read-only snapshot under the lock.
func (s *Store) view(ctx context.Context, fn func(set map[string]AgentRecord)) error {
	lock, err := acquireLock(ctx, s.lockPath, s.lockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = lock.release() }()

	merged := s.merge(s.loadLocked(), s.working)
	s.working = merged
	fn(merged)
	return nil
}

// merge folds the in-memory working set into the freshly read disk state.
// Per record the strictly greater updated_at wins; ties favor the disk
// copy so re-merging is idempotent. Comparing spawned_at here would be
// wrong: it never changes, so disk would always win and concurrent status
// updates would vanish.
func (s *Store) merge(disk, mem map[string]AgentRecord) map[string]AgentRecord {
	out := make(map[string]AgentRecord, len(disk)+len(mem))
	for id, rec := range disk {
		out[id] = rec
	}
	for id, rec := range mem {
		cur, ok := out[id]
		if !ok || rec.UpdatedAt.After(cur.UpdatedAt) {
			out[id] = rec
		}
	}
	return out
}

// loadLocked reads the on-disk document. Malformed content is treated as
// an empty store with a logged warning: the registry is a cache of truth
// that lives primarily in the issue tracker for completed work.
func (s *Store) loadLocked() map[string]AgentRecord {
	set := make(map[string]AgentRecord)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("registry unreadable, treating as empty", "path", s.path, "error", err)
		}
		return set
	}
	if len(data) == 0 {
		return set
	}
	var doc registryFile
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("registry malformed, treating as empty", "path", s.path, "error", err)
		return set
	}
	for _, rec := range doc.Agents {
		if rec.ID == "" {
			continue
		}
		set[rec.ID] = rec
	}
	return set
}

// storeLocked writes the document via temp file + rename so readers never
// observe a partial write.
func (s *Store) storeLocked(set map[string]AgentRecord) error {
	doc := registryFile{Version: fileVersion}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc.Agents = append(doc.Agents, set[id])
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agents-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// retryOnce re-runs f once after a short backoff when it fails with a
// retryable registry error. Verification failures are never retried here;
// only lock contention and handle races get a second chance.
func (s *Store) retryOnce(ctx context.Context, f func() error) error {
	err := f()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrLockTimeout) && !errors.Is(err, ErrDuplicateHandle) {
		return err
	}
	s.logger.Debug("registry operation retrying", "error", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(lockPollInterval * 4):
	}
	return f()
}
