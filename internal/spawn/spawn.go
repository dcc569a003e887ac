// Package spawn starts new agents: it allocates a workspace identity,
// picks the transport driver, brings the session up, and only then writes
// the registry record. A handshake failure tears the session back down
// and leaves no record behind.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/bus"
	"github.com/basket/wrangler/internal/profile"
	"github.com/basket/wrangler/internal/registry"
)

var ErrNotReady = errors.New("session did not become ready")

// ProfileLoader resolves a profile name to its parsed manifest.
type ProfileLoader interface {
	Load(name string) (*profile.Profile, error)
}

type Config struct {
	Registry *registry.Store
	Backends backend.Set
	Profiles ProfileLoader
	Bus      *bus.Bus // optional
	Logger   *slog.Logger

	DefaultBackend registry.TransportKind
	DefaultModel   string
	ModelAliases   map[string]string
	ReadyTimeout   time.Duration
}

// Request describes one agent to start.
type Request struct {
	Profile      string
	Task         string
	Backend      registry.TransportKind // empty selects the default
	Model        string                 // logical name, resolved via aliases
	IssueID      string
	DBPath       string // non-default tracker database (cross-repo)
	ProjectDir   string
	Instructions string
}

type Coordinator struct {
	cfg Config
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("spawn: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	return &Coordinator{cfg: cfg}, nil
}

// Spawn starts a session and registers the agent. The registry write
// happens last: an orphaned record is worse than an orphaned session,
// because reconcile can sweep the latter.
func (c *Coordinator) Spawn(ctx context.Context, req Request) (registry.AgentRecord, error) {
	prof, err := c.cfg.Profiles.Load(req.Profile)
	if err != nil {
		return registry.AgentRecord{}, fmt.Errorf("spawn: %w", err)
	}

	kind := req.Backend
	if kind == "" {
		kind = c.cfg.DefaultBackend
	}
	be, err := c.cfg.Backends.For(kind)
	if err != nil {
		return registry.AgentRecord{}, fmt.Errorf("spawn: %w", err)
	}

	id, err := c.allocateID(ctx, prof.Category, req.Task)
	if err != nil {
		return registry.AgentRecord{}, err
	}
	model := backend.ResolveModel(req.Model, c.cfg.ModelAliases, c.cfg.DefaultModel)
	log := c.cfg.Logger.With("agent", id, "transport", kind, "model", model)

	h, err := be.Spawn(ctx, backend.SpawnSpec{
		AgentID:      id,
		ProjectDir:   req.ProjectDir,
		Model:        model,
		Instructions: req.Instructions,
	})
	if err != nil {
		return registry.AgentRecord{}, fmt.Errorf("spawn %s: %w", id, err)
	}

	ready, err := be.WaitReady(ctx, h, c.cfg.ReadyTimeout)
	if err == nil && !ready {
		err = fmt.Errorf("%w within %s", ErrNotReady, c.cfg.ReadyTimeout)
	}
	if err != nil {
		log.Warn("handshake failed, tearing session down", "error", err)
		if derr := be.Shutdown(ctx, h, false); derr != nil {
			log.Warn("teardown after failed handshake", "error", derr)
		}
		return registry.AgentRecord{}, fmt.Errorf("spawn %s: %w", id, err)
	}

	// The terminal driver cannot carry the instruction payload through
	// session creation; it goes in as the first message once the prompt
	// is up. The HTTP driver delivered it with the create request.
	if kind == registry.TransportTerminal && req.Instructions != "" {
		if err := be.Send(ctx, h, req.Instructions); err != nil {
			if derr := be.Shutdown(ctx, h, false); derr != nil {
				log.Warn("teardown after failed send", "error", derr)
			}
			return registry.AgentRecord{}, fmt.Errorf("spawn %s: deliver instructions: %w", id, err)
		}
	}

	rec, err := c.cfg.Registry.Register(ctx, registry.AgentRecord{
		ID:              id,
		ExternalIssueID: req.IssueID,
		ExternalDBPath:  req.DBPath,
		Transport:       kind,
		TransportHandle: string(h),
		ProjectDir:      req.ProjectDir,
		SkillName:       prof.Name,
		Model:           model,
	})
	if err != nil {
		log.Error("registry write failed, tearing session down", "error", err)
		if derr := be.Shutdown(ctx, h, false); derr != nil {
			log.Warn("teardown after failed register", "error", derr)
		}
		return registry.AgentRecord{}, fmt.Errorf("spawn %s: %w", id, err)
	}

	log.Info("agent spawned", "handle", rec.TransportHandle, "issue", rec.ExternalIssueID)
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(bus.TopicAgentSpawned, bus.AgentEvent{
			AgentID:   rec.ID,
			IssueID:   rec.ExternalIssueID,
			Transport: string(rec.Transport),
			Status:    string(rec.Status),
		})
	}
	return rec, nil
}

// Abandon marks an agent abandoned and forcibly releases its transport.
// Verification is deliberately skipped; abandoning is the operator's
// escape hatch.
func (c *Coordinator) Abandon(ctx context.Context, key string) (registry.AgentRecord, error) {
	rec, err := c.cfg.Registry.Find(ctx, key)
	if err != nil {
		return registry.AgentRecord{}, err
	}
	if rec == nil {
		return registry.AgentRecord{}, fmt.Errorf("%w: %q", registry.ErrAgentNotFound, key)
	}
	if rec.Status != registry.StatusActive {
		return *rec, nil
	}
	if be, err := c.cfg.Backends.For(rec.Transport); err == nil {
		if derr := be.Shutdown(ctx, backend.Handle(rec.TransportHandle), false); derr != nil {
			c.cfg.Logger.Warn("transport teardown on abandon", "agent", rec.ID, "error", derr)
		}
	}
	out, err := c.cfg.Registry.Update(ctx, rec.ID, func(r *registry.AgentRecord) {
		r.Status = registry.StatusAbandoned
	})
	if err != nil {
		return registry.AgentRecord{}, err
	}
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(bus.TopicAgentAbandoned, bus.AgentEvent{
			AgentID:   out.ID,
			IssueID:   out.ExternalIssueID,
			Transport: string(out.Transport),
			Status:    string(out.Status),
		})
	}
	return out, nil
}

// allocateID derives a stable human-readable identity from the profile
// category and the task, with a random suffix only on collision.
func (c *Coordinator) allocateID(ctx context.Context, category, task string) (string, error) {
	id := category + "-" + slugify(task)
	existing, err := c.cfg.Registry.Find(ctx, id)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return id, nil
	}
	return id + "-" + uuid.NewString()[:8], nil
}

const maxSlugLen = 40

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
