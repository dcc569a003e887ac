// Package backend defines the uniform spawn/communicate/monitor contract
// implemented once per transport kind. Drivers are selected by the explicit
// transport_kind tag on the registry record, never by runtime introspection.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/wrangler/internal/registry"
)

// ErrTransportUnavailable is returned when a driver cannot reach its
// underlying transport (tmux server gone, no session server responding).
var ErrTransportUnavailable = errors.New("backend: transport unavailable")

// Handle is a driver-specific addressable session handle: a tmux session
// name for the terminal driver, a session id for the HTTP driver. It is
// meaningless once the owning record leaves active.
type Handle string

// SpawnSpec carries everything a driver needs to start a worker session.
type SpawnSpec struct {
	// AgentID names the agent; terminal drivers derive the session name
	// from it.
	AgentID string

	// ProjectDir is the working directory the worker runs in.
	ProjectDir string

	// Model is the concrete model identifier, already resolved through
	// the alias table.
	Model string

	// Instructions is the initial instruction payload delivered at
	// session start.
	Instructions string
}

// Backend is the transport driver contract.
//
// Spawn must be idempotent against partial failure: if the underlying
// process starts but the handshake fails, Spawn fails cleanly and the
// caller writes no registry record.
//
// Send delivers a message into a running session. For the terminal driver
// this is keystroke injection and is inherently racy unless the session is
// independently known to be idle; the HTTP driver returns a structured
// acknowledgment instead.
//
// Shutdown with graceful=true asks the session to end itself and waits a
// bounded period; graceful=false tears the session down. Both are no-ops
// on an already-gone handle.
type Backend interface {
	Kind() registry.TransportKind
	Spawn(ctx context.Context, spec SpawnSpec) (Handle, error)
	WaitReady(ctx context.Context, h Handle, timeout time.Duration) (bool, error)
	Send(ctx context.Context, h Handle, message string) error
	Shutdown(ctx context.Context, h Handle, graceful bool) error
}

// LivenessPoller is the optional capability backing registry reconcile.
// Only drivers whose transport can enumerate live sessions implement it;
// HTTP-session lifecycles are owned by the completion pipeline.
type LivenessPoller interface {
	LiveHandles(ctx context.Context) (map[string]bool, error)
}

// PaneCapturer is the optional capability of reading recent session
// output, used by readiness detection and the peek command.
type PaneCapturer interface {
	Peek(ctx context.Context, h Handle, lines int) (string, error)
}

// Set holds the registered drivers keyed by transport kind.
type Set map[registry.TransportKind]Backend

// For returns the driver owning the given transport kind.
func (s Set) For(kind registry.TransportKind) (Backend, error) {
	b, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no driver for transport %q", ErrTransportUnavailable, kind)
	}
	return b, nil
}
