// Package httpapi implements the HTTP+SSE session transport. Sessions are
// created and messaged through a JSON API addressed by session id; events
// stream back over Server-Sent Events. The API is eventually consistent: a
// freshly created session may not be visible to reads for a short window,
// so spawn settles and polls until the session appears before declaring
// success.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/registry"
	"github.com/basket/wrangler/internal/run"
)

// Config holds the HTTP driver's dependencies and tuning.
type Config struct {
	Client *http.Client
	Logger *slog.Logger
	Runner run.Runner

	// Ports is the ordered loopback probe list.
	Ports []int

	// ServerCommand starts a session server when no port answers.
	ServerCommand []string

	// SettleDelay is the pause after session creation before the first
	// visibility poll.
	SettleDelay time.Duration

	// ReadyTimeout bounds poll-until-visible and server autostart.
	ReadyTimeout time.Duration

	// GracefulWait bounds how long a graceful Shutdown waits for the
	// session to drain before forcing deletion.
	GracefulWait time.Duration
}

// Driver is the HTTP-session transport backend.
type Driver struct {
	client       *http.Client
	logger       *slog.Logger
	runner       run.Runner
	ports        []int
	serverCmd    []string
	settleDelay  time.Duration
	readyTimeout time.Duration
	gracefulWait time.Duration

	mu      sync.Mutex
	baseURL string
}

// New creates the HTTP-session driver.
func New(cfg Config) *Driver {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = run.OSRunner{}
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}
	ready := cfg.ReadyTimeout
	if ready <= 0 {
		ready = 30 * time.Second
	}
	graceful := cfg.GracefulWait
	if graceful <= 0 {
		graceful = 15 * time.Second
	}
	return &Driver{
		client:       client,
		logger:       logger,
		runner:       runner,
		ports:        cfg.Ports,
		serverCmd:    cfg.ServerCommand,
		settleDelay:  settle,
		readyTimeout: ready,
		gracefulWait: graceful,
	}
}

func (d *Driver) Kind() registry.TransportKind {
	return registry.TransportHTTPSession
}

type createSessionRequest struct {
	SessionID    string `json:"session_id"`
	Model        string `json:"model,omitempty"`
	WorkDir      string `json:"work_dir,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id"`
}

// Spawn creates a session, waits out the settle delay, then polls until
// the session is visible to reads. If the session never becomes visible
// within the bound, spawn deletes it and fails cleanly so the caller
// writes no registry record.
func (d *Driver) Spawn(ctx context.Context, spec backend.SpawnSpec) (backend.Handle, error) {
	base, err := d.discover(ctx)
	if err != nil {
		return "", err
	}

	reqBody := createSessionRequest{
		SessionID:    uuid.NewString(),
		Model:        spec.Model,
		WorkDir:      spec.ProjectDir,
		Instructions: spec.Instructions,
	}
	var created sessionResponse
	if err := d.postJSON(ctx, base+"/api/v1/sessions", reqBody, &created); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	id := created.SessionID
	if id == "" {
		id = reqBody.SessionID
	}

	// The session API is eventually consistent; give it a moment before
	// the first read instead of burning the poll budget on guaranteed
	// misses.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(d.settleDelay):
	}

	visible, err := d.pollVisible(ctx, base, id, d.readyTimeout)
	if err != nil {
		return "", err
	}
	if !visible {
		// Clean up the half-created session; the caller must not end up
		// with an orphaned registry record.
		_ = d.deleteSession(ctx, base, id)
		return "", fmt.Errorf("session %s never became visible", id)
	}
	d.logger.Debug("http session spawned", "session", id, "base", base)
	return backend.Handle(id), nil
}

// WaitReady polls the session resource until it reports a ready status or
// the timeout elapses.
func (d *Driver) WaitReady(ctx context.Context, h backend.Handle, timeout time.Duration) (bool, error) {
	base, err := d.discover(ctx)
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)
	for {
		sess, ok, err := d.getSession(ctx, base, string(h))
		if err != nil {
			return false, err
		}
		if ok && (sess.Status == "ready" || sess.Status == "idle") {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Send posts a message into the session and requires a structured delivery
// acknowledgment, which keystroke injection cannot offer.
func (d *Driver) Send(ctx context.Context, h backend.Handle, message string) error {
	base, err := d.discover(ctx)
	if err != nil {
		return err
	}
	var ack sendMessageResponse
	url := fmt.Sprintf("%s/api/v1/sessions/%s/messages", base, h)
	if err := d.postJSON(ctx, url, sendMessageRequest{Content: message}, &ack); err != nil {
		return fmt.Errorf("send to session %s: %w", h, err)
	}
	if !ack.Delivered {
		return fmt.Errorf("session %s did not acknowledge delivery", h)
	}
	return nil
}

// Shutdown ends the session. Graceful requests a drain and waits for the
// session to disappear within the bound before forcing deletion. Deleting
// an already-gone session is a no-op.
func (d *Driver) Shutdown(ctx context.Context, h backend.Handle, graceful bool) error {
	base, err := d.discover(ctx)
	if err != nil {
		return err
	}
	if graceful {
		url := fmt.Sprintf("%s/api/v1/sessions/%s/stop", base, h)
		if err := d.postJSON(ctx, url, struct{}{}, nil); err == nil {
			deadline := time.Now().Add(d.gracefulWait)
			for time.Now().Before(deadline) {
				_, ok, err := d.getSession(ctx, base, string(h))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
			}
		}
	}
	return d.deleteSession(ctx, base, string(h))
}

// Event is one SSE frame from a session's event stream.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Follow streams session events over SSE until ctx is canceled or the
// server closes the stream. The returned channel closes on stream end.
func (d *Driver) Follow(ctx context.Context, h backend.Handle) (<-chan Event, error) {
	base, err := d.discover(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v1/sessions/%s/events", base, h)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream for %s: status %d", h, resp.StatusCode)
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		for ev := range readSSE(resp.Body) {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// pollVisible polls GET session until it exists.
func (d *Driver) pollVisible(ctx context.Context, base, id string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		_, ok, err := d.getSession(ctx, base, id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (d *Driver) getSession(ctx context.Context, base, id string) (sessionResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/sessions/%s", base, id), nil)
	if err != nil {
		return sessionResponse{}, false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return sessionResponse{}, false, fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		var sess sessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			return sessionResponse{}, false, fmt.Errorf("decode session %s: %w", id, err)
		}
		return sess, true, nil
	case http.StatusNotFound:
		return sessionResponse{}, false, nil
	default:
		return sessionResponse{}, false, fmt.Errorf("get session %s: status %d", id, resp.StatusCode)
	}
}

func (d *Driver) deleteSession(ctx context.Context, base, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/api/v1/sessions/%s", base, id), nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	// 404 means the session is already gone, which is the goal.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete session %s: status %d", id, resp.StatusCode)
	}
	return nil
}

func (d *Driver) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("POST %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
