// Package registry persists agent lifecycle records in a single JSON file
// shared by every concurrently running wrangler process. All mutations go
// through an exclusive advisory lock with read-merge-write semantics, so a
// completion in one process never clobbers a status change in another.
package registry

import "time"

// TransportKind names the driver that owns an agent's session.
type TransportKind string

const (
	// TransportTerminal is keystroke injection into a tmux pane.
	TransportTerminal TransportKind = "terminal"

	// TransportHTTPSession is the HTTP+SSE session API.
	TransportHTTPSession TransportKind = "http_session"
)

// LivePollable reports whether the transport supports liveness polling.
// Reconcile sweeps only touch pollable transports; HTTP sessions expose no
// liveness contract and are driven exclusively by the completion pipeline.
func (k TransportKind) LivePollable() bool {
	return k == TransportTerminal
}

// Valid reports whether k is a known transport kind.
func (k TransportKind) Valid() bool {
	return k == TransportTerminal || k == TransportHTTPSession
}

// Status is an agent's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
	StatusAbandoned  Status = "abandoned"
	StatusDeleted    Status = "deleted"
)

// Terminal reports whether s is a terminal state. No transition re-enters
// active from a terminal state.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// CanTransition reports whether from → to is a legal move along the
// monotonic lifecycle graph.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusActive:
		return to == StatusCompleted || to == StatusTerminated || to == StatusAbandoned || to == StatusDeleted
	case StatusCompleted, StatusTerminated, StatusAbandoned:
		return to == StatusDeleted
	case StatusDeleted:
		return false
	}
	return false
}

// AgentRecord is one spawned agent's registry entry. The id is immutable
// and never reused; deleted records remain as tombstones.
type AgentRecord struct {
	ID              string        `json:"id"`
	ExternalIssueID string        `json:"external_issue_id,omitempty"`
	ExternalDBPath  string        `json:"external_db_path,omitempty"`
	Transport       TransportKind `json:"transport_kind"`
	TransportHandle string        `json:"transport_handle"`
	ProjectDir      string        `json:"project_dir"`
	Status          Status        `json:"status"`
	SkillName       string        `json:"skill_name,omitempty"`
	Model           string        `json:"model,omitempty"`

	SpawnedAt time.Time `json:"spawned_at"`

	// UpdatedAt is refreshed on every mutation and is the sole basis for
	// merge conflict resolution. SpawnedAt never changes after creation,
	// so comparing on it would always favor the disk copy and silently
	// drop concurrent status updates.
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether key addresses this record, by agent id first,
// then by external issue id.
func (r AgentRecord) Matches(key string) bool {
	return r.ID == key || (r.ExternalIssueID != "" && r.ExternalIssueID == key)
}
