// Package complete runs the completion and verification pipeline: resolve
// the agent, verify its deliverables and phase signal, validate the
// working tree, close the external issue, release the transport.
//
// Verification failures surface immediately with the failed stage named.
// No stage is retried here: silently retrying a verification risks
// closing an issue prematurely.
package complete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/bus"
	"github.com/basket/wrangler/internal/knowledge"
	"github.com/basket/wrangler/internal/profile"
	"github.com/basket/wrangler/internal/registry"
	"github.com/basket/wrangler/internal/shared"
	"github.com/basket/wrangler/internal/tracker"
)

// IssueTracker is the slice of the tracker client the pipeline needs.
type IssueTracker interface {
	GetIssue(ctx context.Context, id string) (*tracker.Issue, error)
	CloseIssue(ctx context.Context, id, reason string) error
	Comment(ctx context.Context, id, text string) error
}

// ProfileLoader resolves a profile name to its parsed manifest.
type ProfileLoader interface {
	Load(name string) (*profile.Profile, error)
}

// VCS is the slice of the git checker the pipeline needs.
type VCS interface {
	Clean(ctx context.Context, dir string) (bool, []string, error)
	SameRepo(ctx context.Context, a, b string) (bool, error)
}

type Config struct {
	Registry *registry.Store
	Backends backend.Set
	Tracker  IssueTracker

	// TrackerFor returns a tracker bound to a non-default database, for
	// agents spawned against another repository's ledger. Defaults to
	// ignoring the path and using Tracker.
	TrackerFor func(dbPath string) IssueTracker

	Profiles  ProfileLoader
	VCS       VCS
	Knowledge *knowledge.Reader // optional
	Bus       *bus.Bus          // optional
	Logger    *slog.Logger

	// WorkDir is the directory the completion was invoked from, compared
	// against the record's project_dir to catch cross-repository mistakes.
	// Empty disables the check.
	WorkDir string
}

// Request is one completion attempt.
type Request struct {
	Key       string // agent id or external issue id
	Reason    string // close reason for the issue tracker
	ReviewAck bool   // operator acknowledged a required review gate
}

// Result reports a finished run.
type Result struct {
	Record      registry.AgentRecord
	AlreadyDone bool
	ClosedIssue string
}

type Pipeline struct {
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("complete: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TrackerFor == nil {
		base := cfg.Tracker
		cfg.TrackerFor = func(string) IssueTracker { return base }
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run drives a completion request through the stage machine. The returned
// error, when non-nil, is always a *StageError.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	log := p.cfg.Logger.With("key", req.Key)
	log.Info("completion requested")
	p.stage(req.Key, StageRequested, nil)

	rec, err := p.resolve(ctx, req.Key)
	if err != nil {
		return nil, p.fail(req.Key, err)
	}
	if rec.Status == registry.StatusCompleted || rec.Status == registry.StatusDeleted {
		// Callers retry after fixing a verification failure; a second run
		// against finished work must not touch the tracker again.
		log.Info("already finished, nothing to do", "agent", rec.ID, "status", rec.Status)
		return &Result{Record: *rec, AlreadyDone: true}, nil
	}
	p.stage(rec.ID, StageResolvingAgent, nil)
	log = log.With("agent", rec.ID)
	ctx = shared.WithAgentID(ctx, rec.ID)
	if rec.ExternalIssueID != "" {
		ctx = shared.WithIssueID(ctx, rec.ExternalIssueID)
	}

	prof, err := p.loadProfile(rec)
	if err != nil {
		return nil, p.fail(rec.ID, err)
	}

	if err := p.verifyDeliverables(rec, prof); err != nil {
		return nil, p.fail(rec.ID, err)
	}
	p.stage(rec.ID, StageVerifyingDeliverables, nil)

	trk := p.cfg.TrackerFor(rec.ExternalDBPath)
	if err := p.verifyPhase(ctx, trk, rec); err != nil {
		return nil, p.fail(rec.ID, err)
	}
	p.stage(rec.ID, StageVerifyingPhase, nil)

	if err := p.validateVCS(ctx, rec); err != nil {
		return nil, p.fail(rec.ID, err)
	}
	p.stage(rec.ID, StageValidatingVCS, nil)

	closed, err := p.closeIssue(ctx, trk, rec, prof, req)
	if err != nil {
		return nil, p.fail(rec.ID, err)
	}
	p.stage(rec.ID, StageClosingIssue, nil)

	final, err := p.releaseTransport(ctx, rec)
	if err != nil {
		return nil, p.fail(rec.ID, err)
	}
	p.stage(rec.ID, StageReleasingTransport, nil)

	log.Info("completion done", "issue", closed)
	if p.cfg.Bus != nil {
		p.cfg.Bus.Publish(bus.TopicPipelineDone, bus.StageEvent{AgentID: rec.ID, Stage: StageDone})
	}
	return &Result{Record: final, ClosedIssue: closed}, nil
}

func (p *Pipeline) resolve(ctx context.Context, key string) (*registry.AgentRecord, error) {
	rec, err := p.cfg.Registry.Find(ctx, key)
	if err != nil {
		return nil, stageErr(StageResolvingAgent, err)
	}
	if rec == nil {
		return nil, stageErr(StageResolvingAgent, fmt.Errorf("%w: %q", registry.ErrAgentNotFound, key))
	}
	if rec.Status == registry.StatusTerminated || rec.Status == registry.StatusAbandoned {
		return nil, stageErr(StageResolvingAgent, fmt.Errorf("agent %s is %s and cannot be completed", rec.ID, rec.Status))
	}
	return rec, nil
}

func (p *Pipeline) loadProfile(rec *registry.AgentRecord) (*profile.Profile, error) {
	if rec.SkillName == "" || p.cfg.Profiles == nil {
		return nil, nil
	}
	prof, err := p.cfg.Profiles.Load(rec.SkillName)
	if err != nil {
		return nil, stageErr(StageVerifyingDeliverables, fmt.Errorf("load profile %q: %w", rec.SkillName, err))
	}
	return prof, nil
}

func (p *Pipeline) verifyDeliverables(rec *registry.AgentRecord, prof *profile.Profile) error {
	if prof == nil {
		return nil
	}
	for _, d := range prof.RequiredDeliverables() {
		if d.Path != "" {
			if _, err := os.Stat(filepath.Join(rec.ProjectDir, d.Path)); err != nil {
				return stageErr(StageVerifyingDeliverables,
					fmt.Errorf("%w: %q expected at %s", ErrDeliverableMissing, d.Name, d.Path))
			}
			continue
		}
		// Free-form artifact: no declared location, fall back to a keyword
		// search over files touched since spawn.
		tokens := keywordTokens(rec.ID, prof.Category)
		path, ok := searchRecentFiles(rec.ProjectDir, tokens, rec.SpawnedAt)
		if !ok {
			return stageErr(StageVerifyingDeliverables,
				fmt.Errorf("%w: %q not found by keyword search (tokens: %s)",
					ErrDeliverableMissing, d.Name, strings.Join(tokens, ", ")))
		}
		p.cfg.Logger.Debug("deliverable located by keyword search", "deliverable", d.Name, "path", path)
	}
	return nil
}

func (p *Pipeline) verifyPhase(ctx context.Context, trk IssueTracker, rec *registry.AgentRecord) error {
	if rec.ExternalIssueID == "" {
		p.cfg.Logger.Debug("no external issue, skipping phase check", "agent", rec.ID)
		return nil
	}
	if trk == nil {
		return stageErr(StageVerifyingPhase, fmt.Errorf("no issue tracker configured"))
	}
	issue, err := trk.GetIssue(ctx, rec.ExternalIssueID)
	if err != nil {
		return stageErr(StageVerifyingPhase, err)
	}
	phase, ok := tracker.ExtractPhase(issue)
	if !ok {
		return stageErr(StageVerifyingPhase, fmt.Errorf("%w: no phase signal on %s", ErrPhaseNotComplete, rec.ExternalIssueID))
	}
	if !tracker.IsComplete(phase) {
		return stageErr(StageVerifyingPhase, fmt.Errorf("%w: phase not %q (current: %s)", ErrPhaseNotComplete, tracker.PhaseComplete, phase))
	}
	return nil
}

func (p *Pipeline) validateVCS(ctx context.Context, rec *registry.AgentRecord) error {
	if p.cfg.VCS == nil {
		return nil
	}
	if p.cfg.WorkDir != "" {
		same, err := p.cfg.VCS.SameRepo(ctx, p.cfg.WorkDir, rec.ProjectDir)
		if err != nil {
			return stageErr(StageValidatingVCS, err)
		}
		if !same {
			return stageErr(StageValidatingVCS,
				fmt.Errorf("%w: record says %s", ErrRepoMismatch, rec.ProjectDir))
		}
	}
	clean, dirty, err := p.cfg.VCS.Clean(ctx, rec.ProjectDir)
	if err != nil {
		return stageErr(StageValidatingVCS, err)
	}
	if !clean {
		return stageErr(StageValidatingVCS,
			fmt.Errorf("%w: %s", ErrVcsDirty, strings.Join(dirty, ", ")))
	}
	return nil
}

func (p *Pipeline) closeIssue(ctx context.Context, trk IssueTracker, rec *registry.AgentRecord, prof *profile.Profile, req Request) (string, error) {
	if rec.ExternalIssueID == "" {
		return "", nil
	}
	if prof != nil {
		switch prof.ReviewGate {
		case profile.GateRequired:
			if !req.ReviewAck {
				return "", stageErr(StageClosingIssue,
					fmt.Errorf("%w: profile %q gates closing on review", ErrReviewRequired, prof.Name))
			}
		case profile.GateOptional:
			p.cfg.Logger.Warn("closing without review", "agent", rec.ID, "profile", prof.Name)
		}
	}
	if summary := p.knowledgeSummary(rec); summary != "" {
		if err := trk.Comment(ctx, rec.ExternalIssueID, summary); err != nil {
			// The comment is informational; a failure to attach it must
			// not block the close.
			p.cfg.Logger.Warn("knowledge comment failed", "agent", rec.ID, "error", err)
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("completed by agent %s", rec.ID)
	}
	if err := trk.CloseIssue(ctx, rec.ExternalIssueID, reason); err != nil {
		return "", stageErr(StageClosingIssue, err)
	}
	return rec.ExternalIssueID, nil
}

// knowledgeSummary reports how much the agent wrote to the shared
// knowledge log during its session, attached to the issue before close.
func (p *Pipeline) knowledgeSummary(rec *registry.AgentRecord) string {
	if p.cfg.Knowledge == nil {
		return ""
	}
	entries, err := p.cfg.Knowledge.Since(rec.SpawnedAt)
	if err != nil {
		p.cfg.Logger.Warn("knowledge log unreadable", "error", err)
		return ""
	}
	count := 0
	for _, e := range entries {
		if e.AgentID == "" || e.AgentID == rec.ID {
			count++
		}
	}
	if count == 0 {
		return ""
	}
	return fmt.Sprintf("session recorded %d knowledge entries since %s", count, rec.SpawnedAt.Format(time.RFC3339))
}

func (p *Pipeline) releaseTransport(ctx context.Context, rec *registry.AgentRecord) (registry.AgentRecord, error) {
	be, err := p.cfg.Backends.For(rec.Transport)
	if err != nil {
		return registry.AgentRecord{}, stageErr(StageReleasingTransport, err)
	}
	h := backend.Handle(rec.TransportHandle)
	if err := be.Shutdown(ctx, h, true); err != nil {
		p.cfg.Logger.Warn("graceful shutdown failed, forcing", "agent", rec.ID, "error", err)
		if err := be.Shutdown(ctx, h, false); err != nil {
			return registry.AgentRecord{}, stageErr(StageReleasingTransport, err)
		}
	}
	final, err := p.cfg.Registry.Update(ctx, rec.ID, func(r *registry.AgentRecord) {
		r.Status = registry.StatusCompleted
	})
	if err != nil {
		return registry.AgentRecord{}, stageErr(StageReleasingTransport, err)
	}
	return final, nil
}

func (p *Pipeline) stage(agentID, stage string, err error) {
	if p.cfg.Bus == nil {
		return
	}
	ev := bus.StageEvent{AgentID: agentID, Stage: stage}
	if err != nil {
		ev.Error = err.Error()
		p.cfg.Bus.Publish(bus.TopicPipelineFailed, ev)
		return
	}
	p.cfg.Bus.Publish(bus.TopicPipelineStage, ev)
}

// fail publishes the failure and normalizes the error to a *StageError.
func (p *Pipeline) fail(agentID string, err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		se = stageErr(StageRequested, err)
	}
	p.cfg.Logger.Error("completion failed", "agent", agentID, "stage", se.Stage, "error", se.Err)
	p.stage(agentID, se.Stage, se.Err)
	return se
}
